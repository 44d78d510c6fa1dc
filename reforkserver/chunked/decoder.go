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

// Package chunked implements a streaming RFC 7230 section 4.1
// Transfer-Encoding: chunked decoder (C2): hex chunk size, optional
// extensions (ignored), CRLF, chunk data, CRLF, repeated until a
// size-zero chunk, optional trailers, and a final CRLF.
package chunked

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	liberr "github.com/nabbar/reforkd/errors"
)

// MaxScratch bounds the buffer that holds chunk-size digits and trailer
// name/value bytes; growing it past this many bytes is reported as
// ErrorScratchOverflow rather than an unbounded read. Chunk-extension bytes
// are discarded as they are scanned and do not count against it.
const MaxScratch = 256

type state uint8

const (
	stateSize state = iota
	stateSizeExt
	stateSizeCR
	stateData
	stateDataCR
	stateDataLF
	stateTrailerName
	stateTrailerValue
	stateTrailerLineCR
	stateFinalCR
	stateDone
)

// OnTrailer is invoked once per trailer header field once the terminal
// chunk and its trailers have been fully read.
type OnTrailer func(name, value string)

// Decoder streams the decoded body of a chunked request out of src.
// It is not safe for concurrent use.
type Decoder struct {
	src *bufio.Reader
	cb  OnTrailer

	st        state
	remaining int64
	scratch   []byte
	trailName string
	done      bool
}

// New wraps src (the raw connection, already past the request headers) with
// a chunked decoder. cb may be nil if trailers are not of interest.
func New(src io.Reader, cb OnTrailer) *Decoder {
	br, ok := src.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(src)
	}
	return &Decoder{
		src:     br,
		cb:      cb,
		st:      stateSize,
		scratch: make([]byte, 0, MaxScratch),
	}
}

// ReadPartial returns at most len(p) bytes of decoded body, refilling its
// internal state from src as needed. Once the terminal chunk and trailers
// have been consumed it returns (0, nil) and IsDone reports true; any
// malformed input is reported as an Error from the chunked package's error
// taxonomy.
func (d *Decoder) ReadPartial(p []byte) (int, liberr.Error) {
	if d.done {
		return 0, nil
	}
	if len(p) == 0 {
		return 0, nil
	}

	var n int

	for n < len(p) {
		switch d.st {
		case stateSize:
			b, err := d.src.ReadByte()
			if err != nil {
				return n, ErrorPrematureEOF.Error(err)
			}
			if b == '\r' {
				d.st = stateSizeCR
				continue
			}
			if b == ';' {
				d.st = stateSizeExt
				continue
			}
			if !isHex(b) {
				return n, ErrorMalformedSize.Error()
			}
			if len(d.scratch) >= MaxScratch {
				return n, ErrorScratchOverflow.Error()
			}
			d.scratch = append(d.scratch, b)

		case stateSizeExt:
			b, err := d.src.ReadByte()
			if err != nil {
				return n, ErrorPrematureEOF.Error(err)
			}
			if b == '\r' {
				d.st = stateSizeCR
				continue
			}
			if len(d.scratch) >= MaxScratch {
				return n, ErrorScratchOverflow.Error()
			}

		case stateSizeCR:
			b, err := d.src.ReadByte()
			if err != nil {
				return n, ErrorPrematureEOF.Error(err)
			}
			if b != '\n' {
				return n, ErrorMalformedSize.Error()
			}
			sz, cerr := strconv.ParseInt(string(d.scratch), 16, 64)
			if cerr != nil {
				return n, ErrorMalformedSize.Error(cerr)
			}
			d.scratch = d.scratch[:0]
			d.remaining = sz
			if sz == 0 {
				d.st = stateTrailerName
			} else {
				d.st = stateData
			}

		case stateData:
			if d.remaining == 0 {
				d.st = stateDataCR
				continue
			}
			want := len(p) - n
			if int64(want) > d.remaining {
				want = int(d.remaining)
			}
			k, err := d.src.Read(p[n : n+want])
			n += k
			d.remaining -= int64(k)
			if err != nil && err != io.EOF {
				return n, ErrorPrematureEOF.Error(err)
			}
			if err == io.EOF && d.remaining > 0 {
				return n, ErrorPrematureEOF.Error(err)
			}
			if k == 0 && want > 0 {
				return n, ErrorPrematureEOF.Error(io.ErrUnexpectedEOF)
			}
			if d.remaining == 0 {
				continue
			}
			return n, nil

		case stateDataCR:
			b, err := d.src.ReadByte()
			if err != nil {
				return n, ErrorPrematureEOF.Error(err)
			}
			if b != '\r' {
				return n, ErrorMalformedSize.Error()
			}
			d.st = stateDataLF

		case stateDataLF:
			b, err := d.src.ReadByte()
			if err != nil {
				return n, ErrorPrematureEOF.Error(err)
			}
			if b != '\n' {
				return n, ErrorMalformedSize.Error()
			}
			d.st = stateSize

		case stateTrailerName:
			b, err := d.src.ReadByte()
			if err != nil {
				return n, ErrorPrematureEOF.Error(err)
			}
			if b == '\r' {
				d.st = stateFinalCR
				continue
			}
			if b == ':' {
				d.trailName = string(d.scratch)
				d.scratch = d.scratch[:0]
				d.st = stateTrailerValue
				continue
			}
			if len(d.scratch) >= MaxScratch {
				return n, ErrorScratchOverflow.Error()
			}
			d.scratch = append(d.scratch, b)

		case stateTrailerValue:
			b, err := d.src.ReadByte()
			if err != nil {
				return n, ErrorPrematureEOF.Error(err)
			}
			if b == '\r' {
				if d.cb != nil {
					d.cb(d.trailName, strings.TrimSpace(string(d.scratch)))
				}
				d.scratch = d.scratch[:0]
				d.trailName = ""
				d.st = stateTrailerLineCR
				continue
			}
			if len(d.scratch) >= MaxScratch {
				return n, ErrorScratchOverflow.Error()
			}
			d.scratch = append(d.scratch, b)

		case stateTrailerLineCR:
			b, err := d.src.ReadByte()
			if err != nil {
				return n, ErrorPrematureEOF.Error(err)
			}
			if b != '\n' {
				return n, ErrorMalformedTrailer.Error()
			}
			d.st = stateTrailerName

		case stateFinalCR:
			b, err := d.src.ReadByte()
			if err != nil {
				return n, ErrorPrematureEOF.Error(err)
			}
			if b != '\n' {
				return n, ErrorMalformedTrailer.Error()
			}
			d.st = stateDone
			d.done = true
			return n, nil

		case stateDone:
			return n, nil
		}
	}

	return n, nil
}

// IsDone reports whether the terminal chunk and trailers have been fully
// consumed.
func (d *Decoder) IsDone() bool { return d.done }

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
