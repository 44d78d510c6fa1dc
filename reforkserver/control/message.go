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

// Package control implements the wire protocol spoken on the control pipe
// the master holds open to each worker/mold it spawns: a CBOR message per
// event, framed with encoding/mux so several logical message kinds can share
// the one descriptor without a length-prefix dance of our own.
package control

// Kind identifies what a Message carries.
type Kind string

const (
	// KindHello announces a freshly exec'd worker/mold. The master handles
	// it exactly like KindSpawnReport; the worker itself sends
	// KindSpawnReport.
	KindHello Kind = "hello"

	// KindTick is sent periodically by a worker to prove liveness to the
	// master's reaper.
	KindTick Kind = "tick"

	// KindPromote tells a worker it has been chosen as the mold. The
	// worker runs its AfterPromotion hook and keeps serving; it does not
	// quiesce, snapshot its heap, or send a reply.
	KindPromote Kind = "promote"

	// KindPromoted, when received by the master, records msg.PID as the
	// current mold. No worker in this package sends it.
	KindPromoted Kind = "promoted"

	// KindSpawnReport is sent by a worker/mold immediately after exec,
	// reporting its own pid so the master can populate its worker table
	// without relying on the exec.Cmd return value racing the child's
	// own startup.
	KindSpawnReport Kind = "spawn_report"

	// KindGracefulStop asks a worker to stop accepting new connections,
	// finish in-flight ones, and exit.
	KindGracefulStop Kind = "graceful_stop"

	// KindMemoryReport carries a worker's current RSS, used by the mold
	// selector to rank candidates.
	KindMemoryReport Kind = "memory_report"
)

// Message is the payload carried over the control channel's single CBOR
// channel, multiplexed by encoding/mux and keyed uniformly by channel 'c'.
type Message struct {
	Kind       Kind   `cbor:"k"`
	Slot       int    `cbor:"s,omitempty"`
	Generation int    `cbor:"g,omitempty"`
	PID        int    `cbor:"p,omitempty"`
	RSSBytes   int64  `cbor:"r,omitempty"`
	Requests   int    `cbor:"q,omitempty"`
	Reason     string `cbor:"m,omitempty"`
}
