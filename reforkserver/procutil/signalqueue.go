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

package procutil

import (
	"os"
	"os/signal"
	"sync"
)

// SignalQueue is a bounded FIFO of signal tokens, drained in order by a
// control loop. Signals are dropped (not blocked) when the queue is
// saturated; the self-pipe byte is still written so the loop wakes (reaping
// and the next real signal cover for the drop).
type SignalQueue struct {
	mu    sync.Mutex
	items []os.Signal
	cap   int
}

// NewSignalQueue returns a SignalQueue bounded to capacity (default 64).
func NewSignalQueue(capacity int) *SignalQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &SignalQueue{cap: capacity}
}

// Push enqueues sig, dropping it silently if the queue is already full.
func (q *SignalQueue) Push(sig os.Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		return
	}
	q.items = append(q.items, sig)
}

// Pop removes and returns the oldest queued signal, and whether one was
// present.
func (q *SignalQueue) Pop() (os.Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	sig := q.items[0]
	q.items = q.items[1:]
	return sig, true
}

// Len reports the number of signals currently queued.
func (q *SignalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Watch registers the OS signal channel for sigs and funnels every delivery
// both into q and into pipe's wake byte -- the self-pipe pattern applied to
// Go's own signal-to-channel delivery, which already does the handler-side
// work of "write one byte and return" for us. Call the returned function to
// stop watching and release the channel.
func Watch(q *SignalQueue, pipe *SelfPipe, sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 8)
	done := make(chan struct{})

	signal.Notify(ch, sigs...)

	go func() {
		for {
			select {
			case sig := <-ch:
				q.Push(sig)
				pipe.Notify()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
