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

// Package procutil gathers the low-level process primitives shared by the
// master and worker: the self-pipe trick for turning signal delivery into a
// selectable event, a bounded FIFO signal queue, an epoll-backed Waiter, and
// the environment-variable plumbing used to hand listener/control file
// descriptors across an exec boundary.
package procutil

import (
	"os"

	"golang.org/x/sys/unix"

	liberr "github.com/nabbar/reforkd/errors"
)

// SelfPipe is a pipe whose read end is selected on by a control loop and
// whose write end is written by a signal handler: the textbook trick for
// making asynchronous signal delivery observable by epoll/select.
type SelfPipe struct {
	r *os.File
	w *os.File
}

// NewSelfPipe creates the pipe and marks both ends non-blocking so a signal
// handler's write (and the loop's drain read) never stall.
func NewSelfPipe() (*SelfPipe, liberr.Error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, ErrorSelfPipeCreate.Error(err)
	}

	for _, f := range []*os.File{r, w} {
		if serr := unix.SetNonblock(int(f.Fd()), true); serr != nil {
			_ = r.Close()
			_ = w.Close()
			return nil, ErrorSelfPipeCreate.Error(serr)
		}
	}

	return &SelfPipe{r: r, w: w}, nil
}

// Notify writes exactly one byte to the pipe, as a signal handler must:
// no other work may be done here. Safe to call more than the reader drains;
// excess writes are simply coalesced.
func (p *SelfPipe) Notify() {
	_, _ = p.w.Write([]byte{1})
}

// ReadFD returns the descriptor a Waiter should register for readability.
func (p *SelfPipe) ReadFD() int { return int(p.r.Fd()) }

// Drain consumes every pending byte so the next Wait blocks again.
func (p *SelfPipe) Drain() {
	buf := make([]byte, 512)
	for {
		n, err := p.r.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}

// Close releases both ends of the pipe.
func (p *SelfPipe) Close() {
	_ = p.r.Close()
	_ = p.w.Close()
}
