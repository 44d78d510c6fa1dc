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

// Package listener implements the Listener Set (C6): binding and inheriting
// TCP and UNIX sockets, applying per-address socket options, and idempotent
// rebind/diff against a desired set.
package listener

import (
	"strconv"
	"strings"

	liberr "github.com/nabbar/reforkd/errors"
)

// Kind distinguishes the two socket families the core binds.
type Kind uint8

const (
	KindTCP Kind = iota
	KindUnix
)

func (k Kind) String() string {
	if k == KindUnix {
		return "unix"
	}
	return "tcp"
}

// Address is a parsed listener address: PORT, HOST:PORT (IPv4 or bracketed
// IPv6), or a filesystem path (plain or "unix:"-prefixed) for a UNIX
// socket.
type Address struct {
	Kind Kind
	Host string
	Port int
	Path string
}

// Canonical returns the normalized string form used as the Set's diff key.
func (a Address) Canonical() string {
	if a.Kind == KindUnix {
		return "unix:" + a.Path
	}
	return a.Host + ":" + strconv.Itoa(a.Port)
}

func (a Address) Network() string {
	if a.Kind == KindUnix {
		return "unix"
	}
	return "tcp"
}

// ParseAddress accepts the three syntaxes named in the external interface:
// an integer PORT, HOST:PORT, or a UNIX socket path (bare or "unix:"
// prefixed).
func ParseAddress(s string) (Address, liberr.Error) {
	if s == "" {
		return Address{}, ErrorInvalidAddress.Error()
	}

	if strings.HasPrefix(s, "unix:") {
		return Address{Kind: KindUnix, Path: strings.TrimPrefix(s, "unix:")}, nil
	}

	if strings.HasPrefix(s, "/") {
		return Address{Kind: KindUnix, Path: s}, nil
	}

	if port, err := strconv.Atoi(s); err == nil {
		if port <= 0 || port > 65535 {
			return Address{}, ErrorInvalidAddress.Error()
		}
		return Address{Kind: KindTCP, Host: "", Port: port}, nil
	}

	host, portStr, err := splitHostPort(s)
	if err != nil {
		return Address{}, ErrorInvalidAddress.Error(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Address{}, ErrorInvalidAddress.Error(err)
	}

	return Address{Kind: KindTCP, Host: host, Port: port}, nil
}

func splitHostPort(s string) (string, string, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", "", strconvErrNoPort
	}
	host := s[:i]
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	return host, s[i+1:], nil
}

type noPortError struct{}

func (noPortError) Error() string { return "missing port in address" }

var strconvErrNoPort = noPortError{}
