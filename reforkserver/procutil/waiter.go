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
	"time"

	"golang.org/x/sys/unix"

	liberr "github.com/nabbar/reforkd/errors"
)

// Waiter blocks a worker or the master until one of a fixed set of file
// descriptors becomes readable, or a timeout elapses. It is epoll-backed on
// Linux, matching the default path named in the component design; a
// select-based fallback is out of scope for this core (the retrieval pack
// carries no BSD/kqueue reference to ground one on).
type Waiter struct {
	epfd int
	fds  []int
}

// NewWaiter creates an epoll instance and registers fds for readability.
func NewWaiter(fds []int) (*Waiter, liberr.Error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, ErrorEpollCreate.Error(err)
	}

	w := &Waiter{epfd: epfd, fds: append([]int(nil), fds...)}
	for _, fd := range fds {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if cerr := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); cerr != nil {
			_ = unix.Close(epfd)
			return nil, ErrorEpollCtl.Error(cerr)
		}
	}
	return w, nil
}

// Wait blocks until a registered fd is readable or timeout elapses (<=0
// means block indefinitely). It returns the ready fds, in no particular
// order.
func (w *Waiter) Wait(timeout time.Duration) ([]int, liberr.Error) {
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
	}

	events := make([]unix.EpollEvent, len(w.fds))
	n, err := unix.EpollWait(w.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, ErrorEpollWait.Error(err)
	}

	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ready = append(ready, int(events[i].Fd))
	}
	return ready, nil
}

// Close releases the epoll instance. It does not close the watched fds.
func (w *Waiter) Close() {
	_ = unix.Close(w.epfd)
}
