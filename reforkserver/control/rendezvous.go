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

package control

import (
	"net"
	"os"
	"time"

	liberr "github.com/nabbar/reforkd/errors"
)

// Rendezvous is the master's long-lived control socket: every process it
// execs (worker or mold, generation 0 or later) dials back to this single
// address rather than inheriting a pre-connected file descriptor across
// exec, which keeps the spawn path identical regardless of who performed
// the exec (the master directly, or a mold acting on its behalf).
type Rendezvous struct {
	ln   net.Listener
	path string
}

// Listen binds a UNIX control socket at path, removing a stale socket file
// first (the same path is reused across master re-execs).
func Listen(path string) (*Rendezvous, liberr.Error) {
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, ErrorParamsEmpty.Error(err)
	}
	return &Rendezvous{ln: ln, path: path}, nil
}

// Path returns the socket path, suitable for BootstrapEnv.ControlSock.
func (r *Rendezvous) Path() string { return r.path }

// Accept blocks for the next worker/mold connection.
func (r *Rendezvous) Accept() (net.Conn, error) {
	return r.ln.Accept()
}

// Close releases the socket and removes the backing file.
func (r *Rendezvous) Close() {
	_ = r.ln.Close()
	_ = os.Remove(r.path)
}

// Dial connects to a Rendezvous at path, retrying briefly: a freshly
// exec'd child may win the race against the master's Listen call only in
// pathological startup orderings, but the retry costs nothing in the
// common case where the socket already exists.
func Dial(path string) (net.Conn, liberr.Error) {
	var (
		conn net.Conn
		err  error
	)

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err = net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrorParamsEmpty.Error(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
