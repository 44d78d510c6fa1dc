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

// Package request implements the Request Reader (C4): it orchestrates the
// HTTP parser (httpparser), the chunked decoder (chunked) and the body
// staging pipeline (body) over a freshly accepted connection, producing a
// CGI-style request Environment for the application.
package request

import (
	"io"

	"github.com/nabbar/reforkd/reforkserver/body"
)

// Well-known Environment keys, mirroring the CGI/Rack convention the rest of
// the core is modeled on.
const (
	KeyRequestMethod = "REQUEST_METHOD"
	KeyRequestURI    = "REQUEST_URI"
	KeyPathInfo      = "PATH_INFO"
	KeyQueryString   = "QUERY_STRING"
	KeyHTTPVersion   = "HTTP_VERSION"
	KeyContentLength = "CONTENT_LENGTH"
	KeyContentType   = "CONTENT_TYPE"
	KeyServerSoft    = "SERVER_SOFTWARE"
	KeyRemoteAddr    = "REMOTE_ADDR"
	KeyScriptName    = "SCRIPT_NAME"
	KeyRackVersion   = "rack.version"
	KeyRackMultiproc = "rack.multiprocess"
	KeyRackMultithrd = "rack.multithread"
)

// EarlyHintsFunc emits a 103 Early Hints interim response carrying headers.
// It may be called zero or more times before the application returns its
// final status.
type EarlyHintsFunc func(headers map[string][]string) error

// Environment is the string-keyed request mapping populated by the reader
// and consumed by the application and the response writer.
type Environment struct {
	Values map[string]string

	// Headers carries every HTTP_* header both in Values (upper-snake-case,
	// CGI style) and here with original casing preserved, for
	// case-sensitive consumers.
	Headers map[string][]string

	// Body is the rewindable or forward-only request body reader (C3).
	Body body.Input

	// Errors is the rack.errors sink: failures the application wants
	// logged but that should not abort the response.
	Errors io.Writer

	// EarlyHints is the rack.early_hints callable, nil if disabled by
	// configuration.
	EarlyHints EarlyHintsFunc

	// AfterReply is a list of callbacks run once the response has been
	// fully written, regardless of outcome.
	AfterReply []func()

	// Hijacked is set by the application to signal it has taken over the
	// raw connection; the response writer makes no further writes once
	// true.
	Hijacked bool
}

// NewEnvironment returns an Environment with its maps initialized.
func NewEnvironment() *Environment {
	return &Environment{
		Values:  make(map[string]string, 32),
		Headers: make(map[string][]string, 16),
	}
}

// Get returns a CGI-style value, "" if absent.
func (e *Environment) Get(key string) string {
	return e.Values[key]
}

// Set stores a CGI-style value.
func (e *Environment) Set(key, value string) {
	e.Values[key] = value
}

// AddAfterReply registers a callback to run once the response completes.
func (e *Environment) AddAfterReply(fn func()) {
	e.AfterReply = append(e.AfterReply, fn)
}

// RunAfterReply invokes every registered AddAfterReply callback, in order.
func (e *Environment) RunAfterReply() {
	for _, fn := range e.AfterReply {
		if fn != nil {
			fn()
		}
	}
}
