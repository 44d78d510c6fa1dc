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

package listener

import "github.com/nabbar/reforkd/errors"

const (
	ErrorParamsEmpty errors.CodeError = iota + errors.MinPkgReforkListener
	ErrorInvalidAddress
	ErrorBind
	ErrorSocketOption
	ErrorUnlinkStale
	ErrorUmaskParse
	ErrorInherit
	ErrorKindMismatch
	ErrorListenerClose
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
	case ErrorInvalidAddress:
		return "invalid listener address syntax"
	case ErrorBind:
		return "unable to bind listener"
	case ErrorSocketOption:
		return "unable to apply socket option"
	case ErrorUnlinkStale:
		return "unable to unlink stale unix socket path"
	case ErrorUmaskParse:
		return "invalid umask permission value"
	case ErrorInherit:
		return "unable to adopt inherited file descriptor"
	case ErrorKindMismatch:
		return "inherited or existing listener kind does not match requested address"
	case ErrorListenerClose:
		return "one or more listeners failed to close"
	}

	return ""
}
