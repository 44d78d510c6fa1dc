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

// Package semaphore bounds how many goroutines a caller lets run at once,
// with both a blocking and a try-acquire entry point.
package semaphore

import (
	"context"
	"sync"
)

// Semaphore bounds concurrent workers. A zero or negative max passed to New
// means unbounded: NewWorker and NewWorkerTry never block or fail, and the
// context is not consulted.
type Semaphore interface {
	// NewWorker blocks until a slot is free or ctx is done.
	NewWorker() error

	// NewWorkerTry acquires a slot without blocking, reporting failure
	// immediately if none is free.
	NewWorkerTry() bool

	// DeferWorker releases a slot acquired by NewWorker/NewWorkerTry; call it
	// via defer in the worker goroutine.
	DeferWorker()

	// DeferMain waits for every outstanding worker to call DeferWorker. Call
	// it from the owning goroutine when shutting down, to avoid leaking
	// in-flight workers.
	DeferMain()

	// WaitAll waits for every outstanding worker and returns ctx's error, if
	// any, once they have all finished.
	WaitAll() error
}

type sem struct {
	ctx context.Context
	tok chan struct{}
	wg  sync.WaitGroup
}

// New returns a Semaphore limiting concurrency to max. blocking is accepted
// for call-site symmetry with NewWorker/NewWorkerTry but does not change
// New's own behavior: callers choose blocking vs try semantics per-call.
func New(ctx context.Context, max int, blocking bool) Semaphore {
	return newSemaphore(ctx, max)
}

// NewSemaphoreWithContext is an alias of New kept for call sites that don't
// need the blocking flag.
func NewSemaphoreWithContext(ctx context.Context, max int) Semaphore {
	return newSemaphore(ctx, max)
}

func newSemaphore(ctx context.Context, max int) *sem {
	if ctx == nil {
		ctx = context.Background()
	}

	s := &sem{ctx: ctx}
	if max > 0 {
		s.tok = make(chan struct{}, max)
	}

	return s
}

func (s *sem) NewWorker() error {
	if s.tok == nil {
		s.wg.Add(1)
		return nil
	}

	select {
	case s.tok <- struct{}{}:
		s.wg.Add(1)
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *sem) NewWorkerTry() bool {
	if s.tok == nil {
		s.wg.Add(1)
		return true
	}

	select {
	case s.tok <- struct{}{}:
		s.wg.Add(1)
		return true
	default:
		return false
	}
}

func (s *sem) DeferWorker() {
	if s.tok != nil {
		<-s.tok
	}
	s.wg.Done()
}

func (s *sem) DeferMain() {
	s.wg.Wait()
}

func (s *sem) WaitAll() error {
	s.wg.Wait()
	return s.ctx.Err()
}
