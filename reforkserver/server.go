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

package reforkserver

import (
	"fmt"
	"os"
	"path/filepath"

	liberr "github.com/nabbar/reforkd/errors"
	"github.com/nabbar/reforkd/logger"
	"github.com/nabbar/reforkd/reforkserver/control"
	"github.com/nabbar/reforkd/reforkserver/listener"
	"github.com/nabbar/reforkd/reforkserver/master"
	"github.com/nabbar/reforkd/reforkserver/procutil"
	"github.com/nabbar/reforkd/reforkserver/worker"
)

// Server is the top-level facade: given a Config it either binds the
// listener set and becomes the master, or -- when REFORKD_ROLE names it a
// worker -- dials the control rendezvous and becomes one. Exactly one of
// these two paths runs per process; cmd/reforkd's main is the thin wrapper
// that calls Run and exits with its result.
type Server struct {
	cfg  Config
	log  logger.FuncLog
	boot procutil.BootstrapEnv
}

// New validates cfg and returns a Server ready to Run. The bootstrap
// environment is read once here so role dispatch in Run is deterministic for
// the lifetime of the process.
func New(cfg Config, log logger.FuncLog) (*Server, liberr.Error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.ControlSockPath == "" {
		cfg.ControlSockPath = filepath.Join(os.TempDir(), fmt.Sprintf("reforkd-%d.sock", os.Getpid()))
	}

	return &Server{cfg: cfg, log: log, boot: procutil.ReadBootstrapEnv()}, nil
}

// Run dispatches to the master or worker state machine according to the
// process's bootstrap role and blocks until that role's lifecycle ends.
func (s *Server) Run() liberr.Error {
	switch s.boot.Role {
	case procutil.RoleWorker, procutil.RoleMold:
		return s.runWorker()
	default:
		return s.runMaster()
	}
}

func (s *Server) runMaster() liberr.Error {
	set := listener.NewSet()
	for _, lc := range s.cfg.Listeners {
		addr, aerr := listener.ParseAddress(lc.Address)
		if aerr != nil {
			return ErrorListenerBind.Error(aerr)
		}
		opts := lc.Options
		if opts == (listener.Options{}) {
			opts = listener.DefaultOptions()
		}
		if _, berr := set.BindListen(addr, opts); berr != nil {
			return ErrorListenerBind.Error(berr)
		}
	}

	self, err := os.Executable()
	if err != nil {
		return ErrorMasterInit.Error(err)
	}

	m, merr := master.New(set, master.Config{
		WorkerProcesses:    s.cfg.WorkerProcesses,
		Timeout:            s.cfg.Timeout,
		ReforkAfter:        s.cfg.ReforkAfter,
		SockPath:           s.cfg.ControlSockPath,
		BinaryPath:         self,
		BaseEnv:            os.Environ(),
		MaxFileDescriptors: s.cfg.MaxFileDescriptors,
		Selector:           s.cfg.Selector,
		Hooks: master.Hooks{
			BeforeFork:      s.cfg.Hooks.BeforeFork,
			AfterWorkerExit: s.cfg.Hooks.AfterWorkerExit,
		},
		Log: s.log,
	})
	if merr != nil {
		return ErrorMasterInit.Error(merr)
	}

	return m.Run()
}

func (s *Server) runWorker() liberr.Error {
	set := listener.NewSet()
	addrs := make([]listener.Address, 0, len(s.cfg.Listeners))
	for _, lc := range s.cfg.Listeners {
		addr, aerr := listener.ParseAddress(lc.Address)
		if aerr != nil {
			return ErrorListenerBind.Error(aerr)
		}
		addrs = append(addrs, addr)
	}
	if ierr := set.InheritFromEnv(addrs); ierr != nil {
		return ErrorWorkerInit.Error(ierr)
	}

	conn, cerr := control.Dial(s.boot.ControlSock)
	if cerr != nil {
		return ErrorWorkerInit.Error(cerr)
	}

	w := worker.New(worker.Config{
		Slot:                     s.boot.Slot,
		Generation:               s.boot.Generation,
		Listeners:                set,
		Control:                  conn,
		Timeout:                  s.cfg.Timeout,
		Reader:                   s.cfg.requestConfig(),
		AlwaysFullResponsePrefix: s.cfg.AlwaysFullResponsePrefix,
		App:                      s.cfg.App,
		Hooks: worker.Hooks{
			AfterFork:        s.cfg.Hooks.AfterFork,
			AfterWorkerReady: s.cfg.Hooks.AfterWorkerReady,
			AfterPromotion:   s.cfg.Hooks.AfterPromotion,
		},
		Log: s.log,
	})

	return w.Run()
}
