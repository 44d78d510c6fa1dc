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

// Package master implements the Master / Supervisor (C8): the control
// loop that reaps children, drains the signal queue, murders lazy
// workers, maintains the worker count, and invokes the refork policy
// (C9, via the mold package) every iteration.
package master

import (
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	liberr "github.com/nabbar/reforkd/errors"
	"github.com/nabbar/reforkd/ioutils/fileDescriptor"
	"github.com/nabbar/reforkd/logger"
	"github.com/nabbar/reforkd/reforkserver/control"
	"github.com/nabbar/reforkd/reforkserver/listener"
	"github.com/nabbar/reforkd/reforkserver/mold"
	"github.com/nabbar/reforkd/reforkserver/procutil"
)

// Hooks are the master-side lifecycle callables.
type Hooks struct {
	BeforeFork     func(slot int)
	AfterWorkerExit func(slot, pid int, status int)
}

// Config configures a Master.
type Config struct {
	WorkerProcesses int
	Timeout         time.Duration
	ReforkAfter     []int

	SockPath   string
	BinaryPath string
	BaseEnv    []string

	// MaxFileDescriptors raises the process's open-file soft limit before the
	// worker pool starts accepting, so WorkerProcesses workers each holding
	// many connections don't exhaust RLIMIT_NOFILE. Left at 0, the system
	// default limit applies.
	MaxFileDescriptors int

	Selector mold.Selector
	Hooks    Hooks
	Log      logger.FuncLog
}

// Master runs the control loop for one reforkd process tree.
type Master struct {
	cfg       Config
	log       logger.Logger
	listeners *listener.Set
	table     *Table
	spawner   *Spawner
	rendez    *control.Rendezvous
	policy    mold.Policy

	generation   atomic.Int32
	moldPID      atomic.Int32
	shuttingDown atomic.Bool
}

// New returns a Master bound to listeners (already bound or inherited by
// the caller) and cfg.
func New(listeners *listener.Set, cfg Config) (*Master, liberr.Error) {
	if listeners == nil || cfg.BinaryPath == "" {
		return nil, ErrorParamsEmpty.Error()
	}

	rendez, err := control.Listen(cfg.SockPath)
	if err != nil {
		return nil, ErrorRendezvousInit.Error(err)
	}

	selector := cfg.Selector
	if selector == nil {
		selector = mold.DefaultSelector
	}
	cfg.Selector = selector

	m := &Master{
		cfg:       cfg,
		listeners: listeners,
		table:     NewTable(),
		rendez:    rendez,
		policy:    mold.Policy{Thresholds: cfg.ReforkAfter},
		spawner: &Spawner{
			BinaryPath: cfg.BinaryPath,
			BaseEnv:    cfg.BaseEnv,
			Listeners:  listeners,
			SockPath:   rendez.Path(),
		},
	}
	if cfg.Log != nil {
		m.log = cfg.Log()
	}
	m.moldPID.Store(int32(os.Getpid()))

	if cfg.MaxFileDescriptors > 0 {
		cur, max, ferr := fileDescriptor.SystemFileDescriptor(cfg.MaxFileDescriptors)
		if m.log != nil {
			if ferr != nil {
				m.log.Warning("raising file descriptor limit failed", ferr)
			} else {
				m.log.Debug("file descriptor limit raised", nil, "current", cur, "max", max)
			}
		}
	}

	return m, nil
}

// Run executes the control loop until a QUIT/TERM/INT shutdown completes.
// It blocks the calling goroutine for the lifetime of the master process.
func (m *Master) Run() liberr.Error {
	go m.acceptRendezvous()

	sq := procutil.NewSignalQueue(64)
	pipe, perr := procutil.NewSelfPipe()
	if perr != nil {
		return perr
	}
	defer pipe.Close()

	stopWatch := procutil.Watch(sq, pipe,
		syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT,
		syscall.SIGUSR1, syscall.SIGUSR2,
		syscall.SIGTTIN, syscall.SIGTTOU,
		syscall.SIGCHLD,
	)
	defer stopWatch()

	waiter, werr := procutil.NewWaiter([]int{pipe.ReadFD()})
	if werr != nil {
		return ErrorWaiterInit.Error(werr)
	}
	defer waiter.Close()

	if err := m.maintainWorkerCount(); err != nil && m.log != nil {
		m.log.Error("initial worker spawn failed", err)
	}
	m.notifyReady()

	for {
		m.reap()

		if sig, ok := sq.Pop(); ok {
			if m.handleSignal(sig) {
				m.shutdown(sig == syscall.SIGQUIT)
				return nil
			}
		}

		m.murderLazyWorkers()

		if err := m.maintainWorkerCount(); err != nil && m.log != nil {
			m.log.Error("maintain_worker_count failed", err)
		}

		m.checkReforkPolicy()
		m.reportMetrics()

		bound := m.sleepBound()
		if _, err := waiter.Wait(bound); err != nil && m.log != nil {
			m.log.Error("self-pipe wait failed", err)
		}
		pipe.Drain()
	}
}

// handleSignal applies one signal's effect and reports whether the master
// should begin shutting down.
func (m *Master) handleSignal(sig os.Signal) bool {
	switch sig {
	case syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT:
		return true
	case syscall.SIGUSR1:
		m.rotateLogs()
	case syscall.SIGUSR2:
		m.promote()
	case syscall.SIGTTIN:
		m.cfg.WorkerProcesses++
	case syscall.SIGTTOU:
		if m.cfg.WorkerProcesses > 0 {
			m.cfg.WorkerProcesses--
		}
	case syscall.SIGCHLD:
		// handled by reap() every iteration regardless.
	}
	return false
}

func (m *Master) rotateLogs() {
	for _, rec := range m.table.Snapshot() {
		if rec.Enc != nil {
			_ = rec.Enc.Send(control.Message{Kind: control.KindTick, Reason: "reopen"})
		}
	}
}

// reap collects every terminated child without blocking, dropping it from
// the worker table and invoking AfterWorkerExit. It does not respawn:
// maintainWorkerCount fills the emptied slot on a later loop iteration.
func (m *Master) reap() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}

		rec := m.table.Remove(pid)
		if rec == nil {
			continue
		}

		if m.cfg.Hooks.AfterWorkerExit != nil {
			m.cfg.Hooks.AfterWorkerExit(rec.Slot, pid, status.ExitStatus())
		}
		if rec.Conn != nil {
			_ = rec.Conn.Close()
		}

		if int32(pid) == m.moldPID.Load() {
			m.moldPID.Store(int32(os.Getpid()))
		}
	}
}

// murderLazyWorkers SIGKILLs any worker whose LastTick is older than Timeout
// as measured against one time.Now() sample. It does not check whether the
// master loop itself was stalled, so after a host suspend/resume every
// worker past Timeout is killed.
func (m *Master) murderLazyWorkers() {
	if m.cfg.Timeout <= 0 {
		return
	}
	now := time.Now()
	for _, rec := range m.table.Snapshot() {
		if rec.LastTick.IsZero() {
			continue
		}
		if now.Sub(rec.LastTick) > m.cfg.Timeout {
			_ = syscall.Kill(rec.PID, syscall.SIGKILL)
		}
	}
}

// maintainWorkerCount soft-kills workers whose slot is beyond the current
// WorkerProcesses target and spawns any slot below it that is empty.
func (m *Master) maintainWorkerCount() liberr.Error {
	gen := int(m.generation.Load())

	for _, rec := range m.table.Snapshot() {
		if rec.Slot >= m.cfg.WorkerProcesses && !rec.Draining {
			m.softKill(rec)
		}
	}

	for slot := 0; slot < m.cfg.WorkerProcesses; slot++ {
		if _, ok := m.table.BySlot(slot); ok {
			continue
		}
		if m.cfg.Hooks.BeforeFork != nil {
			m.cfg.Hooks.BeforeFork(slot)
		}
		proc, err := m.spawner.Spawn(slot, gen)
		if err != nil {
			return err
		}
		m.table.Add(&WorkerRecord{Slot: slot, PID: proc.Pid, Generation: gen, StartedAt: time.Now(), LastTick: time.Now()})
	}
	return nil
}

func (m *Master) softKill(rec *WorkerRecord) {
	rec.Draining = true
	if rec.Enc != nil {
		_ = rec.Enc.Send(control.Message{Kind: control.KindGracefulStop, Slot: rec.Slot})
		return
	}
	_ = syscall.Kill(rec.PID, syscall.SIGQUIT)
}

// checkReforkPolicy fires the C9 promotion sequence once any worker in the
// current generation crosses its threshold.
func (m *Master) checkReforkPolicy() {
	gen := int(m.generation.Load())
	for _, rec := range m.table.Snapshot() {
		if rec.Generation != gen {
			continue
		}
		if m.policy.Crossed(gen, rec.Requests) {
			m.promote()
			return
		}
	}
}

// promote runs the C9 promotion sequence: pick a candidate, soft-kill the
// previous generation, advance the generation counter, and let
// maintain_worker_count refill the new generation's slots next iteration.
func (m *Master) promote() {
	candidates := make([]mold.Candidate, 0)
	oldGen := int(m.generation.Load())

	for _, rec := range m.table.Snapshot() {
		if rec.Generation != oldGen {
			continue
		}
		candidates = append(candidates, mold.Candidate{Slot: rec.Slot, PID: rec.PID, Generation: rec.Generation, RSSBytes: rec.RSSBytes})
	}

	chosen, err := m.cfg.Selector(candidates)
	if err != nil {
		if m.log != nil {
			m.log.Error("mold selection failed", err)
		}
		return
	}

	if rec, ok := m.table.ByPID(chosen.PID); ok && rec.Enc != nil {
		_ = rec.Enc.Send(control.Message{Kind: control.KindPromote, Slot: rec.Slot, Generation: rec.Generation})
	}
	// moldPID records which worker was picked as this generation's mold
	// candidate for observability only: Spawner always execs a fresh worker
	// directly from the master (see spawn.go), so the chosen worker does
	// not keep running as a live forking parent -- it is soft-killed below
	// with the rest of the old generation like every other slot, and its
	// slot is respawned at the new generation by maintainWorkerCount once
	// reap() clears the table entry.
	m.moldPID.Store(int32(chosen.PID))

	for _, rec := range m.table.Snapshot() {
		if rec.Generation == oldGen {
			m.softKill(rec)
		}
	}

	m.generation.Store(int32(oldGen + 1))
	metricReforks.Inc()
}

// sleepBound computes how long the master may block on the self-pipe:
// half the timeout, or the earliest upcoming murder deadline if sooner.
func (m *Master) sleepBound() time.Duration {
	if m.cfg.Timeout <= 0 {
		return 5 * time.Second
	}

	bound := m.cfg.Timeout / 2
	now := time.Now()
	for _, rec := range m.table.Snapshot() {
		if rec.LastTick.IsZero() {
			continue
		}
		deadline := rec.LastTick.Add(m.cfg.Timeout)
		if left := deadline.Sub(now); left > 0 && left < bound {
			bound = left
		}
	}
	return bound
}

// shutdown implements QUIT (graceful: soft-kill then wait up to Timeout
// before KILL) versus TERM/INT (immediate TERM to every worker).
func (m *Master) shutdown(graceful bool) {
	m.shuttingDown.Store(true)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	for _, rec := range m.table.Snapshot() {
		if graceful {
			m.softKill(rec)
		} else {
			_ = syscall.Kill(rec.PID, syscall.SIGTERM)
		}
	}

	if !graceful {
		m.rendez.Close()
		return
	}

	deadline := time.Now().Add(m.cfg.Timeout)
	for time.Now().Before(deadline) && m.table.Len() > 0 {
		m.reap()
		time.Sleep(100 * time.Millisecond)
	}
	for _, rec := range m.table.Snapshot() {
		_ = syscall.Kill(rec.PID, syscall.SIGKILL)
	}
	m.rendez.Close()
}

// notifyReady tells systemd (if NOTIFY_SOCKET is set) that the worker table
// has stabilized and enables the watchdog ping, if the unit requests one.
// A no-op outside a systemd unit with Type=notify.
func (m *Master) notifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go m.watchdogLoop(interval / 2)
	}
}

func (m *Master) watchdogLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for range t.C {
		if m.shuttingDown.Load() {
			return
		}
		_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	}
}

// acceptRendezvous accepts worker/mold control connections for the
// lifetime of the master, correlating each to its WorkerRecord by the pid
// carried in its first message.
func (m *Master) acceptRendezvous() {
	for {
		conn, err := m.rendez.Accept()
		if err != nil {
			return
		}
		go m.serveControlConn(conn)
	}
}

func (m *Master) serveControlConn(conn net.Conn) {
	enc := control.NewEncoder(conn)
	dec := control.NewDecoder(conn, 0, func(msg control.Message) {
		switch msg.Kind {
		case control.KindSpawnReport, control.KindHello:
			m.table.AttachConn(msg.PID, conn, enc)
		case control.KindTick:
			m.table.UpdateFromTick(msg.PID, msg.Requests, msg.RSSBytes)
		case control.KindMemoryReport:
			m.table.UpdateFromTick(msg.PID, -1, msg.RSSBytes)
		case control.KindPromoted:
			m.moldPID.Store(int32(msg.PID))
		}
	})
	_ = dec.Run()
}
