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

// Package mold implements the Mold Selector & Refork Policy (C9): picking
// which worker becomes the next generation's parent, and reading the
// resident memory statistics the default heuristic ranks candidates by.
package mold

import (
	"github.com/shirou/gopsutil/process"

	liberr "github.com/nabbar/reforkd/errors"
)

// Candidate is one worker's promotion-relevant state, snapshotted by the
// master immediately before the selector runs.
type Candidate struct {
	Slot       int
	PID        int
	Generation int
	RSSBytes   int64
}

// Selector picks one candidate to promote to mold. The default
// implementation ranks by the RSSBytes each Candidate carries and does not
// call MemoryStats; callers may supply their own.
type Selector func(candidates []Candidate) (Candidate, liberr.Error)

// DefaultSelector picks the candidate with the largest resident set size:
// the most warmed-up process is assumed to be the best copy-on-write parent
// for the next generation.
func DefaultSelector(candidates []Candidate) (Candidate, liberr.Error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrorNoCandidate.Error()
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.RSSBytes > best.RSSBytes {
			best = c
		}
	}
	return best, nil
}

// MemoryStats reports a process's resident set size. It is the Go
// implementation of the component's `Worker::memory_stats` interface,
// read through gopsutil's MemoryInfo().RSS, which abstracts the platform
// difference for us.
func MemoryStats(pid int) (int64, liberr.Error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, ErrorMemoryStats.Error(err)
	}

	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, ErrorMemoryStats.Error(err)
	}

	return int64(info.RSS), nil
}
