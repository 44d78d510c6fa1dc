/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package worker implements the per-process worker state machine (C7): it
// accepts connections from the shared listener set, runs each request
// through the C4/C5 pipeline and the application callable, reports liveness
// ticks to the master over the control channel, and reacts to graceful and
// hard stop requests.
//
// A worker serves at most one request at a time: the accept goroutines
// (one per listener, leaning on Go's netpoller the way the runtime already
// multiplexes blocking Accept calls) feed a single unbuffered channel that
// the control loop drains serially, matching the "only one in-flight
// request" assumption the liveness tick and graceful-stop contract are
// built on.
package worker

import (
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nabbar/reforkd/logger"
	"github.com/nabbar/reforkd/reforkserver/control"
	liberr "github.com/nabbar/reforkd/errors"
	"github.com/nabbar/reforkd/reforkserver/listener"
	"github.com/nabbar/reforkd/reforkserver/request"
	"github.com/nabbar/reforkd/reforkserver/response"
)

// Application is the callable every parsed request is handed to: env in,
// a status/headers/body Result (or an error treated as an AppError) out.
type Application func(env *request.Environment) (response.Result, error)

// Hooks are the lifecycle callables invoked synchronously around a
// worker's life, matching the master's hook contract for the child side.
type Hooks struct {
	AfterFork        func()
	AfterWorkerReady func()
	AfterPromotion   func()
}

// Config configures one worker process.
type Config struct {
	Slot       int
	Generation int

	Listeners *listener.Set
	Control   net.Conn

	Timeout time.Duration
	Reader  request.Config

	AlwaysFullResponsePrefix bool

	App   Application
	Hooks Hooks

	Log logger.FuncLog
}

// Worker runs the accept/serve loop for one process.
type Worker struct {
	cfg Config
	log logger.Logger

	lastTick     atomic.Int64
	requestCount atomic.Int64
	stopping     atomic.Bool
	stopOnce     atomic.Bool
	stopCh       chan struct{}

	enc *control.Encoder
}

// New returns a Worker ready to Run.
func New(cfg Config) *Worker {
	w := &Worker{cfg: cfg, stopCh: make(chan struct{})}
	if cfg.Log != nil {
		w.log = cfg.Log()
	}
	if cfg.Control != nil {
		w.enc = control.NewEncoder(cfg.Control)
	}
	w.touch()
	return w
}

// Stop requests a graceful stop: the listener set is closed immediately so
// Accept returns in every accept goroutine, and the control loop exits once
// any in-flight request finishes. Safe to call more than once.
func (w *Worker) Stop() {
	if w.stopOnce.CompareAndSwap(false, true) {
		w.stopping.Store(true)
		if err := w.cfg.Listeners.CloseAll(); err != nil && w.log != nil {
			w.log.Warning("closing listener set on graceful stop", err)
		}
		close(w.stopCh)
	}
}

// Tick returns the time of the worker's last recorded liveness update. The
// master does not read it; its timeout check uses the time it last received
// a control message from the worker.
func (w *Worker) Tick() time.Time {
	return time.Unix(0, w.lastTick.Load())
}

func (w *Worker) touch() {
	w.lastTick.Store(time.Now().UnixNano())
}

// Run executes the Init/Serving/Waiting/Graceful-Stop state machine until
// the worker is told to stop (SIGQUIT or Stop). An accept error ends only
// that listener's accept goroutine; Run keeps serving the others. It returns
// only once the worker should exit.
func (w *Worker) Run() liberr.Error {
	if w.cfg.Listeners == nil || w.cfg.App == nil {
		return ErrorParamsEmpty.Error()
	}

	w.installHardStopHandlers()

	if w.cfg.Hooks.AfterFork != nil {
		w.cfg.Hooks.AfterFork()
	}

	conns := make(chan net.Conn)
	for _, e := range w.cfg.Listeners.Entries() {
		go w.acceptLoop(e.Listener(), conns)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGQUIT)
	defer signal.Stop(quit)

	if w.enc != nil && w.cfg.Control != nil {
		go func() {
			_ = control.NewDecoder(w.cfg.Control, 0, w.handleControl).Run()
		}()
		_ = w.enc.Send(control.Message{Kind: control.KindSpawnReport, Slot: w.cfg.Slot, Generation: w.cfg.Generation, PID: os.Getpid()})
	}

	stopTick := w.startTickReporter()
	defer stopTick()

	if w.cfg.Hooks.AfterWorkerReady != nil {
		w.cfg.Hooks.AfterWorkerReady()
	}

	for {
		select {
		case <-quit:
			w.Stop()
			return nil
		case <-w.stopCh:
			return nil
		case conn := <-conns:
			w.touch()
			w.serve(conn)
			w.touch()
		}
	}
}

// acceptLoop blocks on Accept until the listener is closed (graceful stop)
// or a transient error occurs, forwarding every accepted connection.
func (w *Worker) acceptLoop(ln net.Listener, out chan<- net.Conn) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		out <- conn
	}
}

func (w *Worker) serve(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	defer w.requestCount.Add(1)

	reader := request.NewReader(w.cfg.Reader)
	env, rerr := reader.Read(conn)
	wr := response.NewWriter(conn, w.cfg.AlwaysFullResponsePrefix)

	if rerr != nil {
		w.writeReadError(wr, rerr)
		return
	}

	if w.cfg.Reader.EarlyHints {
		env.EarlyHints = func(headers map[string][]string) error {
			if err := wr.WriteEarlyHints(headers); err != nil {
				return err
			}
			return nil
		}
	}

	result, aerr := w.cfg.App(env)
	if aerr != nil {
		if w.log != nil {
			w.log.Error("application callable failed", aerr)
		}
		if !wr.IsHijacked() {
			_ = wr.WriteStatus(500, "Internal Server Error", nil, nil, 0)
		}
		env.RunAfterReply()
		return
	}

	if result.Status == response.StatusContinue {
		if err := wr.WriteContinue(); err != nil {
			env.RunAfterReply()
			return
		}
		result, aerr = w.cfg.App(env)
		if aerr != nil {
			if !wr.IsHijacked() {
				_ = wr.WriteStatus(500, "Internal Server Error", nil, nil, 0)
			}
			env.RunAfterReply()
			return
		}
	}

	if env.Hijacked {
		env.RunAfterReply()
		return
	}

	_ = wr.WriteStatus(result.Status, result.Reason, result.Headers, result.Body, result.ContentLength)
	env.RunAfterReply()
}

func (w *Worker) writeReadError(wr *response.Writer, rerr liberr.Error) {
	switch rerr.GetCode() {
	case request.ErrorRequestURITooLong:
		_ = wr.WriteStatus(414, "URI Too Long", nil, nil, 0)
	case request.ErrorRequestEntityTooLarge:
		_ = wr.WriteStatus(413, "Request Entity Too Large", nil, nil, 0)
	case request.ErrorClientDisconnect:
		// no response possible; client is gone.
	default:
		_ = wr.WriteStatus(400, "Bad Request", nil, nil, 0)
	}
}

// installHardStopHandlers implements the Init-time contract: TERM/INT
// before the accept loop begins exit immediately. Once Run's own loop is
// active, QUIT is handled cooperatively instead (see Run); TERM/INT remain
// a hard stop for the whole lifetime of the process, matching "exit!(0)
// until the accept loop begins" generalized to the simpler Go idiom of one
// signal.Notify for the process's entire run.
func (w *Worker) installHardStopHandlers() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-ch
		os.Exit(0)
	}()
}

func (w *Worker) startTickReporter() (stop func()) {
	interval := w.cfg.Timeout / 2
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				w.touch()
				if w.enc != nil {
					_ = w.enc.Send(control.Message{Kind: control.KindTick, Slot: w.cfg.Slot, Generation: w.cfg.Generation, PID: os.Getpid(), Requests: int(w.requestCount.Load())})
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		t.Stop()
		close(done)
	}
}

func (w *Worker) handleControl(msg control.Message) {
	switch msg.Kind {
	case control.KindGracefulStop:
		w.Stop()
	case control.KindPromote:
		if w.cfg.Hooks.AfterPromotion != nil {
			w.cfg.Hooks.AfterPromotion()
		}
	}
}
