// Copyright 2018-2026 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package metrics exposes prometheus collectors for scans and quarantine
// actions.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sigscan"

// Metrics bundles the collectors of one sigscan process.
type Metrics struct {
	registry *prometheus.Registry

	FilesScanned      *prometheus.CounterVec
	DigestDuration    prometheus.Histogram
	DigestCacheHits   prometheus.Counter
	Quarantined       prometheus.Counter
	QuarantineFailed  *prometheus.CounterVec
	SignaturesLoaded  prometheus.Gauge
	LastScanTimestamp prometheus.Gauge
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FilesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_scanned_total",
			Help:      "Number of files scanned, partitioned by outcome.",
		}, []string{"result"}),
		DigestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "digest_duration_seconds",
			Help:      "Time spent computing file digests.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
		}),
		DigestCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digest_cache_hits_total",
			Help:      "Number of digests served from the digest cache.",
		}),
		Quarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quarantined_total",
			Help:      "Number of files moved into quarantine.",
		}),
		QuarantineFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quarantine_failures_total",
			Help:      "Number of failed quarantine attempts, partitioned by the failing step.",
		}, []string{"step"}),
		SignaturesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signatures_loaded",
			Help:      "Number of signatures in the active signature store.",
		}),
		LastScanTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scan_timestamp_seconds",
			Help:      "Unix time the last scan finished.",
		}),
	}
	m.registry.MustRegister(
		m.FilesScanned,
		m.DigestDuration,
		m.DigestCacheHits,
		m.Quarantined,
		m.QuarantineFailed,
		m.SignaturesLoaded,
		m.LastScanTimestamp,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFile counts a scanned file and how long digesting it took.
// A nil Metrics is a no-op so callers don't have to check.
func (m *Metrics) ObserveFile(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.FilesScanned.WithLabelValues(result).Inc()
	if took > 0 {
		m.DigestDuration.Observe(took.Seconds())
	}
}

// ObserveCacheHit counts a digest served from cache.
func (m *Metrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.DigestCacheHits.Inc()
}

// ObserveQuarantine counts a quarantine attempt. An empty step means success.
func (m *Metrics) ObserveQuarantine(failedStep string) {
	if m == nil {
		return
	}
	if failedStep == "" {
		m.Quarantined.Inc()
		return
	}
	m.QuarantineFailed.WithLabelValues(failedStep).Inc()
}

// ScanFinished records the end of a scan.
func (m *Metrics) ScanFinished(t time.Time) {
	if m == nil {
		return
	}
	m.LastScanTimestamp.Set(float64(t.Unix()))
}

// WriteTextfile writes all metrics in the text exposition format, ready to
// be picked up by the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrap(err, "metrics: error writing textfile")
	}
	return nil
}
