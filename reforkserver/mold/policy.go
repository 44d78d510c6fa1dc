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

package mold

// Policy holds the per-generation request thresholds (refork_after) that
// trigger a promotion. Thresholds[g] is the request count a generation-g
// worker must cross before the policy fires and generation g+1 begins.
type Policy struct {
	Thresholds []int
}

// ThresholdFor returns the threshold a worker of the given generation must
// cross to trigger the next promotion, and whether one is configured (an
// empty or exhausted Thresholds list disables reforking entirely).
func (p Policy) ThresholdFor(generation int) (int, bool) {
	if generation < 0 || generation >= len(p.Thresholds) {
		return 0, false
	}
	return p.Thresholds[generation], true
}

// Crossed reports whether a worker of the given generation, having served
// requestCount requests since the generation started, should trigger a
// promotion.
func (p Policy) Crossed(generation, requestCount int) bool {
	threshold, ok := p.ThresholdFor(generation)
	if !ok {
		return false
	}
	return requestCount >= threshold
}
