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

// Package body implements the request-body staging pipeline (C3): a
// rewindable "tee" input that transparently spills to an unlinked temp file
// past a configurable memory threshold, and a thinner forward-only stream
// input for deployments that disable rewindable bodies.
package body

import (
	"io"
	"os"

	liberr "github.com/nabbar/reforkd/errors"
	"github.com/nabbar/reforkd/ioutils"
)

// DefaultBufferSize is the default in-memory threshold (client_body_buffer_size)
// past which a Tee spills to disk.
const DefaultBufferSize = 112 * 1024

// Input is the capability set the request reader and application need over
// a request body, regardless of whether it rewinds.
type Input interface {
	io.Reader
	// Size returns the total body length, forcing full consumption of the
	// upstream source if it has not been drained yet (e.g. chunked bodies).
	Size() (int64, liberr.Error)
	// Rewind seeks back to the first byte previously observed. Returns
	// ErrorRewindNotSupported for a forward-only StreamInput.
	Rewind() liberr.Error
	// Path returns the backing temp file path once spilled, or "" while the
	// body still lives entirely in memory.
	Path() string
	// Close releases any backing temp file. Safe to call multiple times.
	Close() liberr.Error
}

// TeeInput is the rewindable Input. Every byte read from the upstream
// source is also written to a backing store: a growable in-memory buffer up
// to threshold bytes, promoted to an unlinked temp file for the remainder.
type TeeInput struct {
	upstream io.Reader
	threshold int

	mem []byte

	spill     *os.File
	spillPath string
	spilled   bool

	written int64
	drained bool

	rewound bool
	readPos int64
}

// NewTeeInput wraps upstream (the connection, possibly already passed
// through a chunked.Decoder) with a rewindable tee. threshold <= 0 uses
// DefaultBufferSize.
func NewTeeInput(upstream io.Reader, threshold int) *TeeInput {
	if threshold <= 0 {
		threshold = DefaultBufferSize
	}
	return &TeeInput{
		upstream:  upstream,
		threshold: threshold,
		mem:       make([]byte, 0, 4096),
	}
}

// Read implements Input. Before Rewind has been called it pulls fresh bytes
// from upstream, tee-ing them into the backing store. After Rewind it
// serves strictly from the backing store.
func (t *TeeInput) Read(p []byte) (int, error) {
	if t.rewound {
		return t.readStore(p)
	}

	n, err := t.upstream.Read(p)
	if n > 0 {
		if werr := t.writeThrough(p[:n]); werr != nil {
			return n, werr
		}
	}
	if err == io.EOF {
		t.drained = true
	}
	return n, err
}

// Size forces full consumption of the upstream source (as chunked bodies
// have no declared length up front) and returns the total byte count
// observed.
func (t *TeeInput) Size() (int64, liberr.Error) {
	if !t.drained {
		if err := t.drainRemaining(); err != nil {
			return 0, err
		}
	}
	return t.written, nil
}

// Rewind drains any unread remainder of the body into the backing store and
// seeks back to its first byte. Subsequent Read calls replay the exact
// bytes previously observed, in order.
func (t *TeeInput) Rewind() liberr.Error {
	if !t.drained {
		if err := t.drainRemaining(); err != nil {
			return err
		}
	}

	if t.spilled {
		if _, err := t.spill.Seek(0, io.SeekStart); err != nil {
			return ErrorSpillSeek.Error(err)
		}
	}

	t.rewound = true
	t.readPos = 0
	return nil
}

// Path returns the unlinked temp file path once the body has spilled to
// disk, or "" if it still lives entirely in memory. The path never exists
// on disk (it is unlinked immediately after creation); it is exposed only
// as an opaque identifier some applications key telemetry on.
func (t *TeeInput) Path() string {
	if !t.spilled {
		return ""
	}
	return t.spillPath
}

// Close releases the backing temp file, if any. Safe to call multiple
// times and on a TeeInput that never spilled.
func (t *TeeInput) Close() liberr.Error {
	if !t.spilled || t.spill == nil {
		return nil
	}
	e := t.spill.Close()
	t.spill = nil
	return ErrorSpillClose.IfError(e)
}

func (t *TeeInput) drainRemaining() liberr.Error {
	buf := make([]byte, 32*1024)
	for {
		n, err := t.upstream.Read(buf)
		if n > 0 {
			if werr := t.writeThrough(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				t.drained = true
				return nil
			}
			return ErrorUpstreamRead.Error(err)
		}
	}
}

func (t *TeeInput) writeThrough(b []byte) liberr.Error {
	t.written += int64(len(b))

	if !t.spilled {
		t.mem = append(t.mem, b...)
		if len(t.mem) <= t.threshold {
			return nil
		}
		return t.spillNow()
	}

	if _, err := t.spill.Write(b); err != nil {
		return ErrorSpillWrite.Error(err)
	}
	return nil
}

func (t *TeeInput) spillNow() liberr.Error {
	f, ferr := ioutils.NewTempFile()
	if ferr != nil {
		return ErrorSpillCreate.Error(ferr)
	}

	path := ioutils.GetTempFilePath(f)
	_ = os.Remove(path)

	if _, err := f.Write(t.mem); err != nil {
		_ = f.Close()
		return ErrorSpillWrite.Error(err)
	}

	t.spill = f
	t.spillPath = path
	t.spilled = true
	t.mem = nil
	return nil
}

func (t *TeeInput) readStore(p []byte) (int, error) {
	if t.spilled {
		return t.spill.Read(p)
	}

	if t.readPos >= int64(len(t.mem)) {
		return 0, io.EOF
	}
	n := copy(p, t.mem[t.readPos:])
	t.readPos += int64(n)
	return n, nil
}
