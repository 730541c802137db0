// Copyright 2024 The Cryo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package promexport exposes a Coordinator's counters as Prometheus
// metrics.
//
// The collector reads the Coordinator on every scrape; nothing is sampled
// in between, so it costs nothing when no scraper is attached.
package promexport

import (
	"cryo.dev/cryo/pkg/cryo"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cryo"

// Collector implements prometheus.Collector over a Coordinator.
type Collector struct {
	coord *cryo.Coordinator

	resources        *prometheus.Desc
	attempts         *prometheus.Desc
	restored         *prometheus.Desc
	checkpointFailed *prometheus.Desc
	restoreFailed    *prometheus.Desc
	passDuration     *prometheus.Desc
}

// NewCollector returns a Collector reading from coord. Register it with a
// prometheus.Registry; it holds no state of its own.
func NewCollector(coord *cryo.Coordinator) *Collector {
	return &Collector{
		coord: coord,
		resources: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "registered_resources"),
			"Number of currently registered resources.",
			nil, nil),
		attempts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "checkpoint_attempts_total"),
			"Number of completed checkpoint passes, failed ones included.",
			nil, nil),
		restored: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "process_restored"),
			"Whether the current instance was reconstructed from an image (1) or has run since its original start (0).",
			nil, nil),
		checkpointFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "checkpoint_failures_total"),
			"Number of passes in which at least one resource refused to quiesce.",
			nil, nil),
		restoreFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "restore_failures_total"),
			"Number of passes in which at least one resource failed to come back.",
			nil, nil),
		passDuration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_pass_duration_seconds"),
			"Wall time of the most recent checkpoint/restore pass.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.Describe.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.resources
	ch <- c.attempts
	ch <- c.restored
	ch <- c.checkpointFailed
	ch <- c.restoreFailed
	ch <- c.passDuration
}

// Collect implements prometheus.Collector.Collect.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.coord.Stats()
	gen := c.coord.Generation()

	restored := 0.0
	if gen.Restored {
		restored = 1.0
	}

	ch <- prometheus.MustNewConstMetric(c.resources, prometheus.GaugeValue, float64(stats.Resources))
	ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.CounterValue, float64(gen.Count))
	ch <- prometheus.MustNewConstMetric(c.restored, prometheus.GaugeValue, restored)
	ch <- prometheus.MustNewConstMetric(c.checkpointFailed, prometheus.CounterValue, float64(stats.CheckpointFailures))
	ch <- prometheus.MustNewConstMetric(c.restoreFailed, prometheus.CounterValue, float64(stats.RestoreFailures))
	ch <- prometheus.MustNewConstMetric(c.passDuration, prometheus.GaugeValue, stats.LastPassDuration.Seconds())
}
