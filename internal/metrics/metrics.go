// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package metrics exposes Prometheus instrumentation for the tracking
// pipeline: fix throughput, classifier transitions, visit outcomes,
// geocoding cache efficiency and outbox health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	FixesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_fixes_processed_total",
			Help: "Total number of location fixes consumed by the pipeline",
		},
	)

	FixesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_fixes_dropped_total",
			Help: "Total number of fixes dropped because the pipeline channel was full",
		},
	)

	// Classifier metrics
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_state_transitions_total",
			Help: "Total number of accepted movement state transitions",
		},
		[]string{"from", "to"},
	)

	CurrentMovementState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracker_movement_state",
			Help: "Current movement state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	// Visit metrics
	VisitsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_visits_finalized_total",
			Help: "Total number of finalized visits by type",
		},
		[]string{"type"},
	)

	VisitCandidatesDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_visit_candidates_discarded_total",
			Help: "Total number of visit candidates discarded before the minimum dwell time",
		},
	)

	// Geocoding metrics
	GeocodeCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_geocode_cache_hits_total",
			Help: "Total number of geocode lookups served from cache",
		},
	)

	GeocodeCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_geocode_cache_misses_total",
			Help: "Total number of geocode lookups that missed the cache",
		},
	)

	GeocodeLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_geocode_lookups_total",
			Help: "Total number of provider lookups by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// Outbox metrics
	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_outbox_depth",
			Help: "Current number of events awaiting delivery",
		},
	)

	OutboxDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_outbox_delivered_total",
			Help: "Total number of events delivered to the remote API",
		},
	)

	OutboxDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_outbox_dropped_total",
			Help: "Total number of events dropped by reason",
		},
		[]string{"reason"}, // "rejected", "retries_exhausted"
	)

	OutboxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_outbox_retries_total",
			Help: "Total number of delivery retries",
		},
	)
)

// SetMovementState sets the state gauge so exactly one label holds 1.
func SetMovementState(state string) {
	for _, s := range []string{"stationary", "slow_moving", "fast_moving"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		CurrentMovementState.WithLabelValues(s).Set(v)
	}
}
