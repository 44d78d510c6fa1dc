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

package master

import (
	"net"
	"sync"
	"time"

	"github.com/nabbar/reforkd/reforkserver/control"
)

// WorkerRecord is the master's bookkeeping for one live worker process.
type WorkerRecord struct {
	Slot       int
	PID        int
	Generation int
	StartedAt  time.Time
	LastTick   time.Time
	Requests   int
	RSSBytes   int64

	Conn net.Conn
	Enc  *control.Encoder

	// Draining marks a worker soft-killed by maintain_worker_count or a
	// generation change: it is expected to exit on its own, so
	// maintainWorkerCount does not signal it again. Its slot is refilled
	// like any other once it is reaped.
	Draining bool
}

// Table is the master's worker table, keyed both by slot (for
// maintain_worker_count) and by pid (for reap correlation).
type Table struct {
	mu     sync.Mutex
	bySlot map[int]*WorkerRecord
	byPID  map[int]*WorkerRecord
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		bySlot: make(map[int]*WorkerRecord),
		byPID:  make(map[int]*WorkerRecord),
	}
}

// Add registers a freshly spawned worker.
func (t *Table) Add(rec *WorkerRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bySlot[rec.Slot] = rec
	t.byPID[rec.PID] = rec
}

// Remove drops a worker from the table (after it has been reaped).
func (t *Table) Remove(pid int) *WorkerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.byPID[pid]
	if !ok {
		return nil
	}
	delete(t.byPID, pid)
	if t.bySlot[rec.Slot] == rec {
		delete(t.bySlot, rec.Slot)
	}
	return rec
}

// BySlot returns the worker currently occupying slot, if any.
func (t *Table) BySlot(slot int) (*WorkerRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.bySlot[slot]
	return rec, ok
}

// ByPID returns the worker with the given pid, if any.
func (t *Table) ByPID(pid int) (*WorkerRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.byPID[pid]
	return rec, ok
}

// Snapshot returns every live worker record, safe to range over without
// holding the table lock.
func (t *Table) Snapshot() []*WorkerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*WorkerRecord, 0, len(t.byPID))
	for _, rec := range t.byPID {
		out = append(out, rec)
	}
	return out
}

// Len returns the number of live workers.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPID)
}

// UpdateFromTick applies a worker's self-reported liveness and request
// count, matched by pid. A negative requests or non-positive rss leaves the
// stored value as it was.
func (t *Table) UpdateFromTick(pid int, requests int, rss int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.byPID[pid]; ok {
		rec.LastTick = time.Now()
		if requests >= 0 {
			rec.Requests = requests
		}
		if rss > 0 {
			rec.RSSBytes = rss
		}
	}
}

// AttachConn records the control connection a worker dialed back on, once
// its spawn report has named the pid.
func (t *Table) AttachConn(pid int, conn net.Conn, enc *control.Encoder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.byPID[pid]; ok {
		rec.Conn = conn
		rec.Enc = enc
		rec.LastTick = time.Now()
	}
}
