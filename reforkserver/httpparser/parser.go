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

// Package httpparser implements the incremental, byte-wise HTTP/1.1
// request-line and header parser (C1). It is designed to be fed successive
// slices of a growing read buffer: Execute resumes from whatever state the
// previous call left it in and never blocks or allocates per byte.
package httpparser

import (
	"strconv"
	"strings"

	liberr "github.com/nabbar/reforkd/errors"
)

// DefaultMaxHeaderBytes is the hard cap on the cumulative size of the
// request-line plus header block, matching the historical 112 KiB limit.
const DefaultMaxHeaderBytes = 112 * 1024

// DefaultMaxURIBytes bounds the request-target alone, checked independently
// so that an oversized URI is reported as 414 rather than a generic 413.
const DefaultMaxURIBytes = 8 * 1024

type state uint8

const (
	stateMethod state = iota
	stateURI
	stateVersionH
	stateVersionMajor
	stateVersionMinor
	stateRequestLineCR
	stateRequestLineLF
	stateHeaderName
	stateHeaderValueLeadingWS
	stateHeaderValue
	stateHeaderLineCR
	stateHeaderLineLF
	stateHeadersAlmostDone
	stateDone
)

// Callbacks groups the callouts the parser fires while executing. Every
// field is optional; a nil callback is simply skipped.
type Callbacks struct {
	OnMethod          func(method string) error
	OnRequestURI      func(uri string) error
	OnQueryString     func(query string) error
	OnHTTPVersion     func(major, minor int) error
	OnHeaderField     func(name, value string) error
	OnHeaderDone      func(bodyStartOffset int) error
}

// Parser is a table-driven incremental HTTP/1.1 request parser. A zero value
// is not usable; construct with New.
type Parser struct {
	cb Callbacks

	st       state
	token    []byte
	headName string
	verMajor int

	headerBytes int
	uriBytes    int
	maxHeader   int
	maxURI      int

	nread    int
	finished bool
	errored  bool
}

// New returns a Parser that invokes cb as it recognizes request-line and
// header tokens. maxHeaderBytes and maxURIBytes of zero fall back to the
// package defaults.
func New(cb Callbacks, maxHeaderBytes, maxURIBytes int) *Parser {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}
	if maxURIBytes <= 0 {
		maxURIBytes = DefaultMaxURIBytes
	}

	return &Parser{
		cb:        cb,
		st:        stateMethod,
		token:     make([]byte, 0, 64),
		maxHeader: maxHeaderBytes,
		maxURI:    maxURIBytes,
	}
}

// Reset rearms the parser for a new request on the same connection.
func (p *Parser) Reset() {
	p.st = stateMethod
	p.token = p.token[:0]
	p.headName = ""
	p.verMajor = 0
	p.headerBytes = 0
	p.uriBytes = 0
	p.nread = 0
	p.finished = false
	p.errored = false
}

// IsFinished reports whether header_done has fired for the current request.
func (p *Parser) IsFinished() bool { return p.finished }

// HasError reports whether Execute has returned a terminal parse error.
func (p *Parser) HasError() bool { return p.errored }

// NRead returns the cumulative number of bytes consumed across all Execute
// calls for the current request.
func (p *Parser) NRead() int { return p.nread }

func isTokenChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		return true
	}
	return false
}

func isMethodChar(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

// Execute consumes data from the start of buf, resuming from the saved
// state of the previous call. It returns the number of bytes actually
// consumed (which may be less than len(buf) once headers finish) and a
// non-nil Error on any grammar violation -- after which the parse must be
// treated as unrecoverable for the connection. Calling Execute with no new
// bytes after IsFinished is a no-op.
func (p *Parser) Execute(buf []byte) (int, liberr.Error) {
	if p.errored {
		return 0, ErrorUnexpectedState.Error()
	}
	if p.finished {
		return 0, nil
	}

	var i int

	for i = 0; i < len(buf); i++ {
		c := buf[i]

		if p.st != stateDone {
			p.headerBytes++
			if p.headerBytes > p.maxHeader {
				p.errored = true
				p.nread += i + 1
				return i + 1, ErrorHeaderTooLarge.Error()
			}
		}

		switch p.st {
		case stateMethod:
			if c == ' ' {
				if len(p.token) == 0 {
					p.errored = true
					return i + 1, ErrorInvalidMethod.Error()
				}
				if p.cb.OnMethod != nil {
					if err := p.cb.OnMethod(string(p.token)); err != nil {
						p.errored = true
						return i + 1, ErrorCallbackRejected.Error(err)
					}
				}
				p.token = p.token[:0]
				p.st = stateURI
				continue
			}
			if !isMethodChar(c) || len(p.token) >= 20 {
				p.errored = true
				return i + 1, ErrorInvalidMethod.Error()
			}
			p.token = append(p.token, c)

		case stateURI:
			if c == ' ' {
				if len(p.token) == 0 {
					p.errored = true
					return i + 1, ErrorInvalidRequestURI.Error()
				}
				uri := string(p.token)
				if p.cb.OnRequestURI != nil {
					if err := p.cb.OnRequestURI(uri); err != nil {
						p.errored = true
						return i + 1, ErrorCallbackRejected.Error(err)
					}
				}
				if p.cb.OnQueryString != nil {
					qs := ""
					if qi := strings.IndexByte(uri, '?'); qi >= 0 {
						qs = uri[qi+1:]
					}
					if err := p.cb.OnQueryString(qs); err != nil {
						p.errored = true
						return i + 1, ErrorCallbackRejected.Error(err)
					}
				}
				p.token = p.token[:0]
				p.st = stateVersionH
				continue
			}
			if c == '\r' || c == '\n' {
				p.errored = true
				return i + 1, ErrorInvalidRequestURI.Error()
			}
			p.uriBytes++
			if p.uriBytes > p.maxURI {
				p.errored = true
				return i + 1, ErrorURITooLong.Error()
			}
			p.token = append(p.token, c)

		case stateVersionH:
			p.token = append(p.token, c)
			if len(p.token) == 5 {
				if string(p.token) != "HTTP/" {
					p.errored = true
					return i + 1, ErrorInvalidVersion.Error()
				}
				p.token = p.token[:0]
				p.st = stateVersionMajor
			}

		case stateVersionMajor:
			if c == '.' {
				if len(p.token) == 0 {
					p.errored = true
					return i + 1, ErrorInvalidVersion.Error()
				}
				p.verMajor, _ = strconv.Atoi(string(p.token))
				p.token = p.token[:0]
				p.st = stateVersionMinor
				continue
			}
			if c < '0' || c > '9' || len(p.token) >= 2 {
				p.errored = true
				return i + 1, ErrorInvalidVersion.Error()
			}
			p.token = append(p.token, c)

		case stateVersionMinor:
			if c == '\r' || c == '\n' {
				if len(p.token) == 0 {
					p.errored = true
					return i + 1, ErrorInvalidVersion.Error()
				}
				minor, _ := strconv.Atoi(string(p.token))
				p.st = stateRequestLineCR
				if p.cb.OnHTTPVersion != nil {
					if err := p.cb.OnHTTPVersion(p.verMajor, minor); err != nil {
						p.errored = true
						return i + 1, ErrorCallbackRejected.Error(err)
					}
				}
				p.token = p.token[:0]
				if c == '\n' {
					p.st = stateHeaderName
				}
				continue
			}
			if c < '0' || c > '9' || len(p.token) >= 2 {
				p.errored = true
				return i + 1, ErrorInvalidVersion.Error()
			}
			p.token = append(p.token, c)

		case stateRequestLineCR:
			if c != '\n' {
				p.errored = true
				return i + 1, ErrorInvalidVersion.Error()
			}
			p.st = stateHeaderName

		case stateHeaderName:
			if c == '\r' {
				p.st = stateHeadersAlmostDone
				continue
			}
			if c == ':' {
				if len(p.token) == 0 {
					p.errored = true
					return i + 1, ErrorInvalidHeaderField.Error()
				}
				p.headName = string(p.token)
				p.token = p.token[:0]
				p.st = stateHeaderValueLeadingWS
				continue
			}
			if !isTokenChar(c) {
				p.errored = true
				return i + 1, ErrorInvalidHeaderField.Error()
			}
			p.token = append(p.token, c)

		case stateHeaderValueLeadingWS:
			if c == ' ' || c == '\t' {
				continue
			}
			p.st = stateHeaderValue
			fallthrough

		case stateHeaderValue:
			if c == '\r' {
				if p.cb.OnHeaderField != nil {
					if err := p.cb.OnHeaderField(p.headName, strings.TrimRight(string(p.token), " \t")); err != nil {
						p.errored = true
						return i + 1, ErrorCallbackRejected.Error(err)
					}
				}
				p.token = p.token[:0]
				p.headName = ""
				p.st = stateHeaderLineCR
				continue
			}
			if c == '\n' {
				p.errored = true
				return i + 1, ErrorInvalidHeaderField.Error()
			}
			p.token = append(p.token, c)

		case stateHeaderLineCR:
			if c != '\n' {
				p.errored = true
				return i + 1, ErrorInvalidHeaderField.Error()
			}
			p.st = stateHeaderName

		case stateHeadersAlmostDone:
			if c != '\n' {
				p.errored = true
				return i + 1, ErrorInvalidHeaderField.Error()
			}
			p.st = stateDone
			p.nread += i + 1
			if p.cb.OnHeaderDone != nil {
				if err := p.cb.OnHeaderDone(i + 1); err != nil {
					p.errored = true
					return i + 1, ErrorCallbackRejected.Error(err)
				}
			}
			p.finished = true
			return i + 1, nil

		default:
			p.errored = true
			return i + 1, ErrorUnexpectedState.Error()
		}
	}

	p.nread += i
	return i, nil
}
