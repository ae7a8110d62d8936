// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package models

import (
	"time"

	"github.com/google/uuid"
)

// VisitType classifies how much evidence backs a finalized visit.
type VisitType string

const (
	// VisitConfirmed: at least five minutes dwell with near-zero average speed.
	VisitConfirmed VisitType = "confirmed"

	// VisitPotential: at least two minutes dwell.
	VisitPotential VisitType = "potential"

	// VisitBrief: met the minimum duration but nothing more.
	VisitBrief VisitType = "brief"
)

// Confidence grades a visit or geocode result.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// LocationSample is one positional observation collected while a pending
// visit is open.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingVisit is the single in-progress visit candidate. At most one
// instance exists system-wide at any time; the visit engine owns its
// lifecycle (create, mutate, promote, cancel).
type PendingVisit struct {
	AnchorLat     float64          `json:"anchor_lat"`
	AnchorLon     float64          `json:"anchor_lon"`
	FirstSeenAt   time.Time        `json:"first_seen_at"`
	LastUpdatedAt time.Time        `json:"last_updated_at"`
	SpeedSamples  []SpeedSample    `json:"speed_samples"`
	Samples       []LocationSample `json:"location_samples"`
}

// Elapsed returns how long the candidate has been open as of now.
func (p *PendingVisit) Elapsed(now time.Time) time.Duration {
	return now.Sub(p.FirstSeenAt)
}

// SpeedStats aggregates the speed samples collected during a visit.
type SpeedStats struct {
	MaxKmh float64 `json:"max_kmh"`
	MinKmh float64 `json:"min_kmh"`
	AvgKmh float64 `json:"avg_kmh"`
}

// ComputeSpeedStats folds a sample slice into min/max/avg.
// Returns the zero value for an empty slice.
func ComputeSpeedStats(samples []SpeedSample) SpeedStats {
	if len(samples) == 0 {
		return SpeedStats{}
	}
	stats := SpeedStats{MinKmh: samples[0].SpeedKmh, MaxKmh: samples[0].SpeedKmh}
	var sum float64
	for _, s := range samples {
		if s.SpeedKmh > stats.MaxKmh {
			stats.MaxKmh = s.SpeedKmh
		}
		if s.SpeedKmh < stats.MinKmh {
			stats.MinKmh = s.SpeedKmh
		}
		sum += s.SpeedKmh
	}
	stats.AvgKmh = sum / float64(len(samples))
	return stats
}

// Visit is a finalized place visit. Immutable once created; queued for
// delivery to the remote API and appended to the bounded local history.
type Visit struct {
	ID            uuid.UUID  `json:"id"`
	Place         string     `json:"place"`
	Address       string     `json:"address"`
	CenterLat     float64    `json:"center_lat"`
	CenterLon     float64    `json:"center_lon"`
	ArrivalTime   time.Time  `json:"arrival_time"`
	DepartureTime time.Time  `json:"departure_time"`
	DurationMs    int64      `json:"duration_ms"`
	Confidence    Confidence `json:"confidence"`
	VisitType     VisitType  `json:"visit_type"`
	SpeedStats    SpeedStats `json:"speed_stats"`
}

// ClassifyVisit derives the visit type from dwell duration and average speed.
func ClassifyVisit(duration time.Duration, avgSpeedKmh float64) VisitType {
	switch {
	case duration >= 5*time.Minute && avgSpeedKmh < 0.5:
		return VisitConfirmed
	case duration >= 2*time.Minute:
		return VisitPotential
	default:
		return VisitBrief
	}
}

// VisitConfidence maps a visit type to the confidence grade reported upstream.
func VisitConfidence(t VisitType) Confidence {
	switch t {
	case VisitConfirmed:
		return ConfidenceHigh
	case VisitPotential:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
