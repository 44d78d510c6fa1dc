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

import "github.com/nabbar/reforkd/errors"

const (
	ErrorParamsEmpty errors.CodeError = iota + errors.MinPkgReforkBody
	ErrorSpillCreate
	ErrorSpillWrite
	ErrorSpillSeek
	ErrorSpillClose
	ErrorRewindNotSupported
	ErrorUpstreamRead
)

var isCodeError = false

func IsCodeError() bool {
	return isCodeError
}

func init() {
	isCodeError = errors.ExistInMapMessage(ErrorParamsEmpty)
	errors.RegisterIdFctMessage(ErrorParamsEmpty, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrorParamsEmpty:
		return "given parameters is empty"
	case ErrorSpillCreate:
		return "unable to create spill-to-disk temp file"
	case ErrorSpillWrite:
		return "unable to write to spill-to-disk temp file"
	case ErrorSpillSeek:
		return "unable to seek spill-to-disk temp file"
	case ErrorSpillClose:
		return "unable to close/unlink spill-to-disk temp file"
	case ErrorRewindNotSupported:
		return "rewind is not supported on a forward-only stream input"
	case ErrorUpstreamRead:
		return "error reading from upstream body source"
	}

	return ""
}
