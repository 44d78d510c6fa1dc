/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
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

// Package runner holds the small goroutine-lifecycle helpers shared by
// runner/startStop and by the logger hooks that run their own background
// writer goroutines.
package runner

import (
	"fmt"
	"os"
)

// RecoveryCaller logs a recovered panic to stderr tagged with the caller
// name, so a background goroutine's crash doesn't take the whole hook down
// silently. args are appended as free-form context (e.g. the log file path).
func RecoveryCaller(name string, recovered interface{}, args ...string) {
	if recovered == nil {
		return
	}

	msg := fmt.Sprintf("recovered panic in %s: %v", name, recovered)
	for _, a := range args {
		msg += " " + a
	}

	_, _ = fmt.Fprintln(os.Stderr, msg)
}
