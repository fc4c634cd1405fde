/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry wires real prometheus/client_golang collectors for
// the engine's ambient metrics surface, grounded on the dependency
// itself plus the chi-routed handler pattern this codebase otherwise
// uses for its HTTP surfaces.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_bufcache_hits_total",
		Help: "Buffer Cache hits.",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_bufcache_misses_total",
		Help: "Buffer Cache misses.",
	})
	CacheLoadErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_bufcache_load_errors_total",
		Help: "Buffer Cache load errors.",
	})
	CacheResidentEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_bufcache_resident_entries",
		Help: "Number of buffers currently resident in the cache.",
	})
	CrossfadeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_crossfade_duration_seconds",
		Help:    "Observed wall-clock duration of completed crossfades.",
		Buckets: prometheus.DefBuckets,
	})
	ActiveTransitions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_active_transitions",
		Help: "1 while a phase transition is in flight, else 0.",
	})
	LeaderElectionStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_session_leader_status",
		Help: "1 if this instance holds the session lease, else 0.",
	}, []string{"instance_id"})
	LeaderElectionChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_session_leader_changes_total",
		Help: "Count of leadership acquisitions/losses by instance.",
	}, []string{"instance_id", "event"})
)

func init() {
	prometheus.MustRegister(
		CacheHits, CacheMisses, CacheLoadErrors, CacheResidentEntries,
		CrossfadeDuration, ActiveTransitions, LeaderElectionStatus, LeaderElectionChanges,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
