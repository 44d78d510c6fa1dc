/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
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

// Package startstop wraps a long-running function in a Start/Stop lifecycle:
// Start launches it in its own goroutine, Stop cancels it and waits for exit.
package startstop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start when called on a StartStop whose
// function is already running.
var ErrAlreadyRunning = errors.New("startstop: already running")

const maxErrors = 32

// RunFunc is the long-running body a StartStop drives. It must return once
// ctx is cancelled.
type RunFunc func(ctx context.Context) error

// CloseFunc runs once after RunFunc has returned, to release whatever
// RunFunc allocated.
type CloseFunc func(ctx context.Context) error

// StartStop is the lifecycle contract a background processing loop exposes:
// begin running, stop and wait for exit, and report basic health.
type StartStop interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	Uptime() time.Duration
	ErrorsLast() error
	ErrorsList() []error
}

// New returns a StartStop that runs fn in its own goroutine on Start, and
// invokes onClose once fn has returned on Stop. onClose may be nil.
func New(fn RunFunc, onClose CloseFunc) StartStop {
	return &runner{run: fn, close: onClose}
}

type runner struct {
	run   RunFunc
	close CloseFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan error
	running bool
	started time.Time

	errMu sync.Mutex
	errs  []error
}

func (r *runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	if ctx == nil {
		ctx = context.Background()
	}

	cctx, cancel := context.WithCancel(ctx)

	r.cancel = cancel
	r.done = make(chan error, 1)
	r.running = true
	r.started = time.Now()
	done := r.done
	r.mu.Unlock()

	go func() {
		done <- r.run(cctx)
	}()

	return nil
}

func (r *runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cancel()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		runErr = ctx.Err()
	}
	if runErr != nil {
		r.addError(runErr)
	}

	var closeErr error
	if r.close != nil {
		if closeErr = r.close(ctx); closeErr != nil {
			r.addError(closeErr)
		}
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	if closeErr != nil {
		return closeErr
	}
	return runErr
}

func (r *runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *runner) Uptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return 0
	}
	return time.Since(r.started)
}

func (r *runner) addError(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	r.errs = append(r.errs, err)
	if len(r.errs) > maxErrors {
		r.errs = r.errs[len(r.errs)-maxErrors:]
	}
}

func (r *runner) ErrorsLast() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

func (r *runner) ErrorsList() []error {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}
