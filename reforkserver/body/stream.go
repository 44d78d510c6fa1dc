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

package body

import (
	"io"

	liberr "github.com/nabbar/reforkd/errors"
)

// StreamInput is the forward-only Input used when rewindable_input is
// false: no backing store, no rewind, no size-forcing. The application must
// consume the body forward-only, exactly as it arrives from upstream.
type StreamInput struct {
	upstream io.Reader
	read     int64
}

// NewStreamInput wraps upstream with a thin forward-only Input.
func NewStreamInput(upstream io.Reader) *StreamInput {
	return &StreamInput{upstream: upstream}
}

// Read implements Input by delegating directly to the upstream source.
func (s *StreamInput) Read(p []byte) (int, error) {
	n, err := s.upstream.Read(p)
	s.read += int64(n)
	return n, err
}

// Size is not supported on a forward-only stream; it reports the number of
// bytes read so far rather than forcing consumption of the remainder.
func (s *StreamInput) Size() (int64, liberr.Error) {
	return s.read, nil
}

// Rewind always fails: a StreamInput keeps no backing store to rewind into.
func (s *StreamInput) Rewind() liberr.Error {
	return ErrorRewindNotSupported.Error()
}

// Path is always empty: a StreamInput never spills to disk.
func (s *StreamInput) Path() string {
	return ""
}

// Close is a no-op: a StreamInput owns no backing resource.
func (s *StreamInput) Close() liberr.Error {
	return nil
}

var (
	_ Input = (*TeeInput)(nil)
	_ Input = (*StreamInput)(nil)
)
