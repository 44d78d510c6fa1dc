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

package httpparser

import "github.com/nabbar/reforkd/errors"

const (
	ErrorParamsEmpty errors.CodeError = iota + errors.MinPkgReforkParser
	ErrorInvalidMethod
	ErrorInvalidRequestURI
	ErrorInvalidVersion
	ErrorInvalidHeaderField
	ErrorHeaderTooLarge
	ErrorURITooLong
	ErrorUnexpectedState
	ErrorCallbackRejected
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
	case ErrorInvalidMethod:
		return "invalid request method token"
	case ErrorInvalidRequestURI:
		return "invalid request-uri"
	case ErrorInvalidVersion:
		return "invalid http-version token"
	case ErrorInvalidHeaderField:
		return "invalid header field line"
	case ErrorHeaderTooLarge:
		return "request header fields too large"
	case ErrorURITooLong:
		return "request-uri too long"
	case ErrorUnexpectedState:
		return "parser reached an unexpected internal state"
	case ErrorCallbackRejected:
		return "caller rejected a parsed request-line or header field"
	}

	return ""
}
