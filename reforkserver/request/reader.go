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

package request

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"

	liberr "github.com/nabbar/reforkd/errors"
	"github.com/nabbar/reforkd/reforkserver/body"
	"github.com/nabbar/reforkd/reforkserver/chunked"
	"github.com/nabbar/reforkd/reforkserver/httpparser"
)

// ChunkSize is the amount read from the socket per parser feed iteration,
// matching the historical 16 KiB bootstrap read.
const ChunkSize = 16 * 1024

// Config configures a Reader. Zero values fall back to component defaults.
type Config struct {
	MaxHeaderBytes        int
	MaxURIBytes           int
	ClientBodyBufferSize  int
	RewindableInput       bool
	ServerSoftware        string
	EarlyHints            bool
	EarlyHintsOmitPrefix  bool
}

// Reader is the Request Reader (C4): from a freshly accepted connection it
// produces a request Environment, or an Error from the taxonomy in the
// package's error.go.
type Reader struct {
	cfg Config
}

// NewReader returns a Reader bound to cfg.
func NewReader(cfg Config) *Reader {
	return &Reader{cfg: cfg}
}

// Read parses the request line and headers from conn, wires up the body
// reader appropriate to the declared transfer encoding / content length, and
// returns the resulting Environment.
func (r *Reader) Read(conn net.Conn) (*Environment, liberr.Error) {
	br := bufio.NewReaderSize(conn, ChunkSize)
	env := NewEnvironment()

	var (
		method, uri, query, version string
		headerOrder                 []string
	)

	p := httpparser.New(httpparser.Callbacks{
		OnMethod:      func(m string) error { method = m; return nil },
		OnRequestURI:  func(u string) error { uri = u; return nil },
		OnQueryString: func(q string) error { query = q; return nil },
		OnHTTPVersion: func(major, minor int) error {
			version = "HTTP/" + strconv.Itoa(major) + "." + strconv.Itoa(minor)
			return nil
		},
		OnHeaderField: func(name, value string) error {
			env.Headers[name] = append(env.Headers[name], value)
			headerOrder = append(headerOrder, name)
			return nil
		},
	}, r.cfg.MaxHeaderBytes, r.cfg.MaxURIBytes)

	for !p.IsFinished() {
		if _, rerr := br.Peek(1); rerr != nil {
			return nil, ErrorClientDisconnect.Error(rerr)
		}
		data, _ := br.Peek(br.Buffered())
		consumed, perr := p.Execute(data)
		_, _ = br.Discard(consumed)
		if perr != nil {
			return nil, mapParseError(perr)
		}
	}

	env.Set(KeyRequestMethod, method)
	env.Set(KeyRequestURI, uri)
	env.Set(KeyQueryString, query)
	env.Set(KeyHTTPVersion, version)
	env.Set(KeyScriptName, "")
	env.Set(KeyRackVersion, "1.0")
	env.Set(KeyRackMultiproc, "true")
	env.Set(KeyRackMultithrd, "false")

	pathInfo := uri
	if qi := strings.IndexByte(pathInfo, '?'); qi >= 0 {
		pathInfo = pathInfo[:qi]
	}
	env.Set(KeyPathInfo, pathInfo)

	soft := r.cfg.ServerSoftware
	if soft == "" {
		soft = "reforkd"
	}
	env.Set(KeyServerSoft, soft)
	env.Set(KeyRemoteAddr, remoteAddr(conn))
	env.Set("HTTP_X_REQUEST_ID", uuid.NewString())

	for _, name := range headerOrder {
		values := env.Headers[name]
		if len(values) == 0 {
			continue
		}
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		env.Set(key, strings.Join(values, ", "))
	}
	if ct := env.Get("HTTP_CONTENT_TYPE"); ct != "" {
		env.Set(KeyContentType, ct)
	}

	upstream, contentLength, cerr := r.bodyUpstream(br, env)
	if cerr != nil {
		return nil, cerr
	}
	env.Set(KeyContentLength, strconv.FormatInt(contentLength, 10))

	threshold := r.cfg.ClientBodyBufferSize
	if r.cfg.RewindableInput {
		env.Body = body.NewTeeInput(upstream, threshold)
	} else {
		env.Body = body.NewStreamInput(upstream)
	}

	return env, nil
}

// bodyUpstream selects the chunked decoder or a content-length-bounded
// reader as the upstream source for the body pipeline. contentLength is -1
// when the body length is not known up front (chunked).
func (r *Reader) bodyUpstream(br *bufio.Reader, env *Environment) (io.Reader, int64, liberr.Error) {
	te := strings.ToLower(env.Get("HTTP_TRANSFER_ENCODING"))
	if strings.Contains(te, "chunked") {
		dec := chunked.New(br, func(name, value string) {
			env.Set("HTTP_"+strings.ToUpper(strings.ReplaceAll(name, "-", "_")), value)
		})
		return &chunkedAdapter{d: dec}, -1, nil
	}

	cl := env.Get("HTTP_CONTENT_LENGTH")
	if cl == "" {
		return io.LimitReader(br, 0), 0, nil
	}

	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || n < 0 {
		return nil, 0, ErrorMalformedContentLength.Error(err)
	}
	return io.LimitReader(br, n), n, nil
}

// chunkedAdapter satisfies io.Reader over a chunked.Decoder, whose
// ReadPartial returns the package's own Error type instead of error.
type chunkedAdapter struct {
	d *chunked.Decoder
}

func (a *chunkedAdapter) Read(p []byte) (int, error) {
	n, err := a.d.ReadPartial(p)
	if err != nil {
		return n, err
	}
	if n == 0 && a.d.IsDone() {
		return 0, io.EOF
	}
	return n, nil
}

func remoteAddr(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return "127.0.0.1"
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil && host != "" {
		return host
	}
	return "127.0.0.1"
}

func mapParseError(e liberr.Error) liberr.Error {
	if e == nil {
		return ErrorParse.Error()
	}

	switch e.GetCode() {
	case httpparser.ErrorURITooLong:
		return ErrorRequestURITooLong.Error(e)
	case httpparser.ErrorHeaderTooLarge:
		return ErrorRequestEntityTooLarge.Error(e)
	default:
		return ErrorParse.Error(e)
	}
}
