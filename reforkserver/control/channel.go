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
	"io"
	"sync"

	libcbr "github.com/fxamacker/cbor/v2"

	encmux "github.com/nabbar/reforkd/encoding/mux"
	liberr "github.com/nabbar/reforkd/errors"
)

// channelKey is the single logical mux channel every control Message rides
// on. A control pipe never needs more than one: the Kind field is the
// dispatch key on the receiving side, not the framing layer's.
const channelKey = 'c'

// delimiter separates successive multiplexed frames on the wire.
const delimiter = '\n'

// Encoder writes Messages to one end of a control pipe.
type Encoder struct {
	mu sync.Mutex
	ch io.Writer
}

// NewEncoder wraps w (typically one end of an os.Pipe or a UNIX socketpair)
// with the control wire framing.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{ch: encmux.NewMultiplexer(w, delimiter).NewChannel(channelKey)}
}

// Send marshals msg as CBOR and writes it as one framed mux message.
func (e *Encoder) Send(msg Message) liberr.Error {
	if e == nil || e.ch == nil {
		return ErrorParamsEmpty.Error()
	}

	p, err := libcbr.Marshal(&msg)
	if err != nil {
		return ErrorEncode.Error(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err = e.ch.Write(p); err != nil {
		return ErrorEncode.Error(err)
	}
	return nil
}

// Decoder reads Messages from one end of a control pipe and dispatches them
// to a handler, matching the demultiplexer's pull-based Copy model.
type Decoder struct {
	dmx     encmux.DeMultiplexer
	handler func(Message)
	decErr  error
}

// NewDecoder wraps r with the control wire framing and routes every decoded
// Message to handler. bufSize is the demultiplexer's read buffer (0 for an
// unbuffered bufio.Reader default).
func NewDecoder(r io.Reader, bufSize int, handler func(Message)) *Decoder {
	d := &Decoder{handler: handler}
	d.dmx = encmux.NewDeMultiplexer(r, delimiter, bufSize)
	d.dmx.NewChannel(channelKey, decodeWriter{d: d})
	return d
}

// Run blocks, decoding and dispatching messages until the underlying reader
// is closed or returns an error. It mirrors encmux.DeMultiplexer.Copy's
// io.EOF-is-not-an-error contract.
func (d *Decoder) Run() liberr.Error {
	if d == nil || d.dmx == nil {
		return ErrorParamsEmpty.Error()
	}
	if err := d.dmx.Copy(); err != nil {
		return ErrorDecode.Error(err)
	}
	if d.decErr != nil {
		return ErrorDecode.Error(d.decErr)
	}
	return nil
}

// decodeWriter adapts the demultiplexer's per-channel io.Writer contract
// into a single CBOR-decode-and-dispatch step.
type decodeWriter struct {
	d *Decoder
}

func (w decodeWriter) Write(p []byte) (int, error) {
	var msg Message
	if err := libcbr.Unmarshal(p, &msg); err != nil {
		w.d.decErr = err
		return 0, err
	}
	w.d.handler(msg)
	return len(p), nil
}
