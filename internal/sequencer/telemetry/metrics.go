// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package telemetry exposes Prometheus metrics for the sequence generator.
//
// Metrics are owned by a *Metrics value instead of package globals so that
// several services (and tests) can live in one process. Every method is safe
// to call on a nil *Metrics, which turns instrumentation off.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	nextValueTotal   *prometheus.CounterVec
	nextValueSeconds *prometheus.HistogramVec
	templateLookups  *prometheus.CounterVec
	journalErrors    prometheus.Counter
	casConflicts     prometheus.Counter
	remoteBatches    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nextValueTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqgen_next_value_total",
			Help: "NextValue calls by counter kind and outcome (ok, not_found, invalid, backend_error)",
		}, []string{"kind", "outcome"}),
		nextValueSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seqgen_next_value_duration_seconds",
			Help:    "Latency of NextValue calls including the backend round trip",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"kind"}),
		templateLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqgen_template_cache_lookups_total",
			Help: "Statement template cache lookups by result (hit, miss)",
		}, []string{"result"}),
		journalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seqgen_journal_errors_total",
			Help: "Allocations that could not be published to the journal",
		}),
		casConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seqgen_cas_conflicts_total",
			Help: "Compare-and-swap attempts lost to a concurrent writer",
		}),
		remoteBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqgen_remote_batches_total",
			Help: "Statement batches served by the remote store by outcome",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.nextValueTotal, m.nextValueSeconds, m.templateLookups, m.journalErrors, m.casConflicts, m.remoteBatches)
	}
	return m
}

func (m *Metrics) ObserveNextValue(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.nextValueTotal.WithLabelValues(kind, outcome).Inc()
	m.nextValueSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) ObserveTemplateLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.templateLookups.WithLabelValues("hit").Inc()
		return
	}
	m.templateLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) ObserveJournalError() {
	if m == nil {
		return
	}
	m.journalErrors.Inc()
}

func (m *Metrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.casConflicts.Inc()
}

func (m *Metrics) ObserveRemoteBatch(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.remoteBatches.WithLabelValues("ok").Inc()
		return
	}
	m.remoteBatches.WithLabelValues("error").Inc()
}

// NewServer returns an HTTP server exposing /metrics for g on addr. The
// caller starts and stops it.
func NewServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
