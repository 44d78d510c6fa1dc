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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are registered once per process against the default registry, not
// per Master instance: a reforkd process only ever runs one Master.
var (
	metricWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reforkd_workers",
		Help: "Current number of worker slots tracked by the master.",
	})

	metricGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reforkd_generation",
		Help: "Current worker generation counter.",
	})

	metricReforks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reforkd_reforks_total",
		Help: "Total number of mold promotions (generation advances) performed.",
	})
)

// reportMetrics refreshes the gauges from the worker table. Called once per
// control-loop iteration from Run.
func (m *Master) reportMetrics() {
	metricWorkers.Set(float64(m.table.Len()))
	metricGeneration.Set(float64(m.generation.Load()))
}
