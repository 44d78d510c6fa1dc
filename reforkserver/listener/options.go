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

package listener

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/nabbar/reforkd/file/perm"
)

// Options are the per-address socket tunables named in the data model:
// backlog, rcvbuf, sndbuf, tcp_nodelay, tcp_nopush, ipv6only, reuseport,
// umask (UNIX only) and tcp_defer_accept.
type Options struct {
	Backlog        int
	RcvBuf         int
	SndBuf         int
	TCPNoDelay     bool
	TCPNoPush      bool
	IPv6Only       bool
	ReusePort      bool
	TCPDeferAccept bool
	Umask          perm.Perm
}

// DefaultOptions mirrors common preforking-server defaults.
func DefaultOptions() Options {
	return Options{
		Backlog:    1024,
		TCPNoDelay: true,
		Umask:      perm.ParseFileMode(0177),
	}
}

// apply sets socket options on rawConn at bind time, via the net.ListenConfig
// Control hook so options land before the kernel completes the bind/listen.
func (o Options) apply(network string, rawConn syscall.RawConn) error {
	var setErr error

	err := rawConn.Control(func(fd uintptr) {
		sysfd := int(fd)

		if o.ReusePort {
			if e := unix.SetsockoptInt(sysfd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
				setErr = e
				return
			}
		}
		if o.RcvBuf > 0 {
			if e := unix.SetsockoptInt(sysfd, unix.SOL_SOCKET, unix.SO_RCVBUF, o.RcvBuf); e != nil {
				setErr = e
				return
			}
		}
		if o.SndBuf > 0 {
			if e := unix.SetsockoptInt(sysfd, unix.SOL_SOCKET, unix.SO_SNDBUF, o.SndBuf); e != nil {
				setErr = e
				return
			}
		}
		if network == "tcp" || network == "tcp4" || network == "tcp6" {
			if o.TCPNoDelay {
				if e := unix.SetsockoptInt(sysfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
					setErr = e
					return
				}
			}
			if o.IPv6Only && network == "tcp6" {
				if e := unix.SetsockoptInt(sysfd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); e != nil {
					setErr = e
					return
				}
			}
			if o.TCPNoPush {
				// TCP_CORK is Linux's analogue of BSD's TCP_NOPUSH.
				if e := unix.SetsockoptInt(sysfd, unix.IPPROTO_TCP, unix.TCP_CORK, 1); e != nil {
					setErr = e
					return
				}
			}
			applyTCPDeferAccept(sysfd, o)
		}
	})
	if err != nil {
		return err
	}
	return setErr
}

// applyTCPDeferAccept sets TCP_DEFER_ACCEPT (Linux) so the kernel withholds
// the accept() completion until data has actually arrived, reducing the
// number of workers woken for connections that never send a byte.
func applyTCPDeferAccept(sysfd int, o Options) {
	if !o.TCPDeferAccept {
		return
	}
	_ = unix.SetsockoptInt(sysfd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 1)
}
