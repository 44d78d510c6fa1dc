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
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/v22/activation"

	liberr "github.com/nabbar/reforkd/errors"
	errpool "github.com/nabbar/reforkd/errors/pool"
)

// EnvInheritFDs is the private environment variable carrying the
// comma-separated inherited fd list across a master re-exec.
const EnvInheritFDs = "REFORKD_INHERIT_FDS"

// Entry is one bound listener: its address, the socket options last applied
// to it, and the live net.Listener.
type Entry struct {
	Addr Address
	Opts Options
	ln   net.Listener
}

// Listener returns the underlying net.Listener, usable directly by a
// worker's accept loop.
func (e *Entry) Listener() net.Listener { return e.ln }

// File returns a duplicated *os.File for the entry's socket, suitable for
// ExtraFiles inheritance across exec. The caller owns the returned file.
func (e *Entry) File() (*os.File, error) {
	switch l := e.ln.(type) {
	case *net.TCPListener:
		return l.File()
	case *net.UnixListener:
		return l.File()
	default:
		return nil, ErrorKindMismatch.Error()
	}
}

// Set is the Listener Set (C6): the collection of bound/inherited listeners
// shared read-only with every worker.
type Set struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{entries: make(map[string]*Entry)}
}

// BindListen is idempotent: given an already-bound listener of the correct
// kind for addr it is returned unchanged after opts are re-applied to its
// socket (an option the kernel refuses on a bound socket is skipped). A UNIX
// socket path left behind by a dead socket is unlinked first; a path that
// exists but is not a socket is reported as ErrorUnlinkStale and left alone.
func (s *Set) BindListen(addr Address, opts Options) (*Entry, liberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addr.Canonical()
	if e, ok := s.entries[key]; ok {
		if e.Addr.Kind != addr.Kind {
			return nil, ErrorKindMismatch.Error()
		}
		if sc, ok := e.ln.(syscall.Conn); ok {
			if rc, rerr := sc.SyscallConn(); rerr == nil {
				_ = opts.apply(addr.Network(), rc)
			}
		}
		e.Opts = opts
		return e, nil
	}

	if addr.Kind == KindUnix {
		if err := unlinkStaleSocket(addr.Path); err != nil {
			return nil, err
		}
	}

	ln, err := listenWithOptions(addr, opts)
	if err != nil {
		return nil, ErrorBind.Error(err)
	}

	if addr.Kind == KindUnix && opts.Umask.Uint() != 0 {
		_ = os.Chmod(addr.Path, os.FileMode(0777)&^opts.Umask.FileMode())
	}

	e := &Entry{Addr: addr, Opts: opts, ln: ln}
	s.entries[key] = e
	return e, nil
}

// Entries returns a snapshot of the live listener set.
func (s *Set) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// CloseAll closes every listener in the set, unblocking any goroutine
// parked in Accept on them. Used by a worker entering graceful stop. Close
// errors from individual listeners are collected rather than discarded; the
// caller decides whether a partial close failure is worth logging.
func (s *Set) CloseAll() liberr.Error {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()

	p := errpool.New()
	for _, e := range entries {
		p.Add(e.ln.Close())
	}

	if err := p.Error(); err != nil {
		return ErrorListenerClose.Error(err)
	}
	return nil
}

// Names returns the canonical addresses of every live listener.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// Reconcile diffs desired against the current set: listeners not named in
// desired are closed, listeners named in desired are bound (or have their
// options re-applied if already bound).
func (s *Set) Reconcile(desired map[string]Options) liberr.Error {
	s.mu.Lock()
	toClose := make([]string, 0)
	for key := range s.entries {
		if _, keep := desired[key]; !keep {
			toClose = append(toClose, key)
		}
	}
	s.mu.Unlock()

	p := errpool.New()
	for _, key := range toClose {
		s.mu.Lock()
		e := s.entries[key]
		delete(s.entries, key)
		s.mu.Unlock()
		if e != nil {
			p.Add(e.ln.Close())
		}
	}

	for key, opts := range desired {
		addr, err := addressFromCanonical(key)
		if err != nil {
			return err
		}
		if _, err := s.BindListen(addr, opts); err != nil {
			return err
		}
	}

	if err := p.Error(); err != nil {
		return ErrorListenerClose.Error(err)
	}
	return nil
}

// InheritFromEnv adopts file descriptors listed in EnvInheritFDs (written by
// the master before a re-exec) as typed listeners, without rebinding.
func (s *Set) InheritFromEnv(addrs []Address) liberr.Error {
	raw := os.Getenv(EnvInheritFDs)
	if raw == "" {
		return nil
	}

	fields := strings.Split(raw, ",")
	if len(fields) != len(addrs) {
		return ErrorInherit.Error()
	}

	for i, f := range fields {
		fd, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return ErrorInherit.Error(err)
		}
		if err := s.adopt(uintptr(fd), addrs[i]); err != nil {
			return err
		}
	}
	return nil
}

// InheritFromSystemd adopts sockets passed via LISTEN_FDS/LISTEN_PID
// (systemd socket activation), assigning them to addrs in fd order (fds
// 3..3+N).
func (s *Set) InheritFromSystemd(addrs []Address) liberr.Error {
	files := activation.Files(true)
	if len(files) == 0 {
		return nil
	}
	if len(files) != len(addrs) {
		return ErrorInherit.Error()
	}

	for i, f := range files {
		entry, err := fileToEntry(addrs[i], f)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.entries[addrs[i].Canonical()] = entry
		s.mu.Unlock()
	}
	return nil
}

// EncodeFDEnv returns the comma-separated fd list and the ExtraFiles slice
// to hand to exec.Cmd when the master re-execs itself or spawns a worker,
// preserving the listener set across the exec boundary.
func (s *Set) EncodeFDEnv() (string, []*os.File, liberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}

	files := make([]*os.File, 0, len(keys))
	fds := make([]string, 0, len(keys))

	for i, k := range keys {
		f, err := s.entries[k].File()
		if err != nil {
			return "", nil, ErrorInherit.Error(err)
		}
		files = append(files, f)
		fds = append(fds, strconv.Itoa(3+i))
	}

	return strings.Join(fds, ","), files, nil
}

func (s *Set) adopt(fd uintptr, addr Address) liberr.Error {
	f := os.NewFile(fd, addr.Canonical())
	if f == nil {
		return ErrorInherit.Error()
	}
	e, err := fileToEntry(addr, f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[addr.Canonical()] = e
	s.mu.Unlock()
	return nil
}

func fileToEntry(addr Address, f *os.File) (*Entry, liberr.Error) {
	ln, err := net.FileListener(f)
	_ = f.Close()
	if err != nil {
		return nil, ErrorInherit.Error(err)
	}
	return &Entry{Addr: addr, ln: ln}, nil
}

func unlinkStaleSocket(path string) liberr.Error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if info.Mode()&os.ModeSocket == 0 {
		return ErrorUnlinkStale.Error()
	}
	if _, derr := net.Dial("unix", path); derr == nil {
		return nil
	}
	if rerr := os.Remove(path); rerr != nil {
		return ErrorUnlinkStale.Error(rerr)
	}
	return nil
}

func addressFromCanonical(key string) (Address, liberr.Error) {
	if strings.HasPrefix(key, "unix:") {
		return Address{Kind: KindUnix, Path: strings.TrimPrefix(key, "unix:")}, nil
	}
	return ParseAddress(key)
}

func listenWithOptions(addr Address, opts Options) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, rawConn syscall.RawConn) error {
			return opts.apply(network, rawConn)
		},
	}

	switch addr.Kind {
	case KindUnix:
		return lc.Listen(context.Background(), "unix", addr.Path)
	default:
		host := addr.Host
		return lc.Listen(context.Background(), "tcp", net.JoinHostPort(host, strconv.Itoa(addr.Port)))
	}
}
