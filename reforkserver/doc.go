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

// Package reforkserver implements a preforking HTTP/1.1 application server
// with a reforking lifecycle: workers accepted from a shared listener set can
// be promoted to a "mold" from which subsequent generations of workers are
// spawned, improving copy-on-write memory sharing as the application warms.
//
// The package is the facade over the sub-packages that implement each part
// of the core:
//
//   - httpparser  - incremental HTTP/1.1 request-line and header parser
//   - chunked     - Transfer-Encoding: chunked decoder
//   - body        - rewindable ("tee") and forward-only request body readers
//   - request     - request environment + request reader orchestration
//   - response    - response writer (status/headers/body, 100/103 interim)
//   - listener    - bind/inherit listener set shared across generations
//   - worker      - per-process accept loop and liveness ticking
//   - master      - supervisor: signal queue, worker table, reaping
//   - mold        - refork policy and mold selection
//   - control     - wire protocol over the master<->mold control channel
//   - procutil    - self-pipe, fd-passing and waiter primitives shared by master and worker
package reforkserver
