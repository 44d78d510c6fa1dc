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

// Package response implements the Response Writer (C5): it serializes a
// status line, headers and body to the client connection, with support for
// 100 Continue / 103 Early Hints interim responses and hijacking.
package response

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"

	liberr "github.com/nabbar/reforkd/errors"
)

// Writer serializes exactly one HTTP/1.1 response (plus any interim
// responses that precede it) to a connection. A Writer is not reusable
// across requests.
type Writer struct {
	conn net.Conn
	bw   *bufio.Writer

	alwaysFullPrefix bool
	prefixPrimed     bool

	statusWritten bool
	hijacked      bool
}

// NewWriter wraps conn. alwaysFullPrefix disables the dangling-prefix
// micro-optimization for 103 Early Hints, re-emitting "HTTP/1.1 " on every
// line for deployments that prefer strict interop over the byte saving.
func NewWriter(conn net.Conn, alwaysFullPrefix bool) *Writer {
	return &Writer{
		conn:             conn,
		bw:               bufio.NewWriter(conn),
		alwaysFullPrefix: alwaysFullPrefix,
	}
}

// WriteContinue sends a 100 Continue interim response, used when the
// request carried Expect: 100-continue and the application has decided to
// read the body.
func (w *Writer) WriteContinue() liberr.Error {
	if w.hijacked {
		return ErrorHijacked.Error()
	}
	if _, err := w.bw.WriteString("HTTP/1.1 100 Continue\r\n\r\n"); err != nil {
		return ErrorWrite.Error(err)
	}
	return ErrorWrite.IfError(w.bw.Flush())
}

// WriteEarlyHints sends a 103 Early Hints interim response carrying
// headers. It may be invoked multiple times before the final status.
func (w *Writer) WriteEarlyHints(headers map[string][]string) liberr.Error {
	if w.hijacked {
		return ErrorHijacked.Error()
	}
	if w.statusWritten {
		return ErrorAlreadyWritten.Error()
	}

	if err := w.writeStatusPrefix(); err != nil {
		return err
	}
	if _, err := w.bw.WriteString("103 Early Hints\r\n"); err != nil {
		return ErrorWrite.Error(err)
	}
	if err := w.writeHeaders(headers); err != nil {
		return err
	}
	if _, err := w.bw.WriteString("\r\n"); err != nil {
		return ErrorWrite.Error(err)
	}

	if err := ErrorWrite.IfError(w.bw.Flush()); err != nil {
		return err
	}

	// Prime the dangling "HTTP/1.1 " prefix for the write that follows,
	// matching the wire micro-optimization described for repeated interim
	// responses: the bytes sit buffered, unflushed, until the next write.
	if !w.alwaysFullPrefix {
		if _, err := w.bw.WriteString("HTTP/1.1 "); err != nil {
			return ErrorWrite.Error(err)
		}
		w.prefixPrimed = true
	}
	return nil
}

// WriteStatus writes the final status line, headers and body. headers
// should not include Connection or Content-Length derived values; those are
// managed here: Connection: close is always sent, and Content-Length is
// emitted only when contentLength >= 0 (a negative value streams the body
// without a declared length, relying on connection close to delimit it).
func (w *Writer) WriteStatus(code int, reason string, headers map[string][]string, body io.Reader, contentLength int64) liberr.Error {
	if w.hijacked {
		return ErrorHijacked.Error()
	}
	if w.statusWritten {
		return ErrorAlreadyWritten.Error()
	}
	w.statusWritten = true

	if err := w.writeStatusPrefix(); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(strconv.Itoa(code) + " " + reason + "\r\n"); err != nil {
		return ErrorWrite.Error(err)
	}

	if contentLength >= 0 {
		if _, err := w.bw.WriteString("Content-Length: " + strconv.FormatInt(contentLength, 10) + "\r\n"); err != nil {
			return ErrorWrite.Error(err)
		}
	}
	if _, err := w.bw.WriteString("Connection: close\r\n"); err != nil {
		return ErrorWrite.Error(err)
	}
	if err := w.writeHeaders(headers); err != nil {
		return err
	}
	if _, err := w.bw.WriteString("\r\n"); err != nil {
		return ErrorWrite.Error(err)
	}

	if body != nil {
		if _, err := io.Copy(w.bw, body); err != nil {
			return ErrorWrite.Error(err)
		}
	}

	return ErrorWrite.IfError(w.bw.Flush())
}

// Hijack yields the raw connection to the application; the Writer makes no
// further writes once hijacked.
func (w *Writer) Hijack() (net.Conn, liberr.Error) {
	if w.statusWritten {
		return nil, ErrorAlreadyWritten.Error()
	}
	w.hijacked = true
	return w.conn, nil
}

// IsHijacked reports whether Hijack has been called.
func (w *Writer) IsHijacked() bool { return w.hijacked }

func (w *Writer) writeStatusPrefix() liberr.Error {
	if w.prefixPrimed {
		w.prefixPrimed = false
		return nil
	}
	if _, err := w.bw.WriteString("HTTP/1.1 "); err != nil {
		return ErrorWrite.Error(err)
	}
	return nil
}

func (w *Writer) writeHeaders(headers map[string][]string) liberr.Error {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, v := range headers[name] {
			if _, err := fmt.Fprintf(w.bw, "%s: %s\r\n", name, v); err != nil {
				return ErrorWrite.Error(err)
			}
		}
	}
	return nil
}
