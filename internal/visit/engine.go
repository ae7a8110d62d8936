// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package visit turns sequences of slow fixes into visits. A candidate
// opens when the device drops below walking pace, accumulates samples
// while positions stay inside the stationarity radius, and finalizes
// into a visit once the device leaves, provided it dwelled long enough.
package visit

import (
	"context"

	"github.com/google/uuid"

	"github.com/huyhuyhuy8s/journee-tracking/internal/config"
	"github.com/huyhuyhuy8s/journee-tracking/internal/geo"
	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/metrics"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
	"github.com/huyhuyhuy8s/journee-tracking/internal/store"
)

// Resolver maps coordinates to place information.
type Resolver interface {
	Resolve(ctx context.Context, lat, lon float64) models.GeocodeResult
}

// PendingStore persists the in-progress candidate so a restart mid-stay
// does not lose the visit.
type PendingStore interface {
	SavePendingVisit(models.PendingVisit) error
	LoadPendingVisit() (models.PendingVisit, error)
	ClearPendingVisit() error
}

// Engine detects visits from the fix stream. It is driven from the
// pipeline's single consumer goroutine and holds no locks of its own.
type Engine struct {
	cfg      config.VisitConfig
	resolver Resolver
	state    PendingStore

	pending    *models.PendingVisit
	lastSample *models.Fix
}

// New builds an engine, restoring any persisted candidate.
func New(cfg config.VisitConfig, resolver Resolver, st PendingStore) *Engine {
	e := &Engine{cfg: cfg, resolver: resolver, state: st}
	if st != nil {
		pv, err := st.LoadPendingVisit()
		switch {
		case err == nil:
			e.pending = &pv
			logging.Debug().
				Time("first_seen", pv.FirstSeenAt).
				Msg("pending visit restored")
		case err != store.ErrNotFound:
			logging.Warn().Err(err).Msg("load pending visit")
		}
	}
	return e
}

// Pending returns a copy of the current candidate, or nil.
func (e *Engine) Pending() *models.PendingVisit {
	if e.pending == nil {
		return nil
	}
	pv := *e.pending
	pv.Samples = append([]models.LocationSample(nil), e.pending.Samples...)
	pv.SpeedSamples = append([]models.SpeedSample(nil), e.pending.SpeedSamples...)
	return &pv
}

// ProcessFix folds one fix into visit detection and returns a finalized
// visit when this fix ends a stay, or nil. Duplicate fixes (same
// coordinates and timestamp as the previous one) are ignored.
func (e *Engine) ProcessFix(ctx context.Context, fix models.Fix, speedKmh float64) *models.Visit {
	if e.lastSample != nil && fix.SameSample(*e.lastSample) {
		return nil
	}
	e.lastSample = &fix

	slow := speedKmh <= e.cfg.SlowThresholdKmh

	if e.pending == nil {
		if slow {
			e.open(fix, speedKmh)
		}
		return nil
	}

	dist := geo.DistanceMeters(e.pending.AnchorLat, e.pending.AnchorLon, fix.Latitude, fix.Longitude)
	if dist > e.cfg.StationarityRadius {
		// Leaving the radius cancels the candidate outright; a finished
		// stay would already have finalized in place.
		e.cancel()
		if slow {
			// Still slow somewhere else, so a new stay starts here.
			e.open(fix, speedKmh)
		}
		return nil
	}

	if slow {
		e.extend(fix, speedKmh)
		if e.pending.LastUpdatedAt.Sub(e.pending.FirstSeenAt) >= e.cfg.MinDuration {
			return e.close(ctx)
		}
		return nil
	}

	// Movement resumed inside the radius: the stay is over.
	return e.close(ctx)
}

// Reset discards any candidate, used when tracking stops.
func (e *Engine) Reset() {
	e.pending = nil
	e.lastSample = nil
	e.clearPersisted()
}

func (e *Engine) open(fix models.Fix, speedKmh float64) {
	e.pending = &models.PendingVisit{
		AnchorLat:     fix.Latitude,
		AnchorLon:     fix.Longitude,
		FirstSeenAt:   fix.Timestamp,
		LastUpdatedAt: fix.Timestamp,
		Samples: []models.LocationSample{{
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
			Timestamp: fix.Timestamp,
		}},
		SpeedSamples: []models.SpeedSample{{SpeedKmh: speedKmh, Timestamp: fix.Timestamp}},
	}
	e.persist()
	logging.Debug().
		Float64("lat", fix.Latitude).
		Float64("lon", fix.Longitude).
		Msg("visit candidate opened")
}

func (e *Engine) extend(fix models.Fix, speedKmh float64) {
	e.pending.LastUpdatedAt = fix.Timestamp
	e.pending.Samples = append(e.pending.Samples, models.LocationSample{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Timestamp: fix.Timestamp,
	})
	e.pending.SpeedSamples = append(e.pending.SpeedSamples, models.SpeedSample{
		SpeedKmh:  speedKmh,
		Timestamp: fix.Timestamp,
	})
	e.persist()
}

// cancel discards the candidate without finalization, used when the
// device turns up outside the stationarity radius.
func (e *Engine) cancel() {
	e.pending = nil
	e.clearPersisted()
	metrics.VisitCandidatesDiscarded.Inc()
	logging.Debug().Msg("visit candidate cancelled, left the radius")
}

// close finalizes the candidate into a visit when the dwell time meets
// the minimum, otherwise discards it.
func (e *Engine) close(ctx context.Context) *models.Visit {
	pv := e.pending
	e.pending = nil
	e.clearPersisted()

	duration := pv.LastUpdatedAt.Sub(pv.FirstSeenAt)
	if duration < e.cfg.MinDuration {
		metrics.VisitCandidatesDiscarded.Inc()
		logging.Debug().
			Dur("duration", duration).
			Msg("visit candidate discarded, stay too short")
		return nil
	}

	points := make([]geo.Point, len(pv.Samples))
	for i, s := range pv.Samples {
		points[i] = geo.Point{Lat: s.Latitude, Lon: s.Longitude}
	}
	center := geo.Centroid(points)

	stats := models.ComputeSpeedStats(pv.SpeedSamples)
	visitType := models.ClassifyVisit(duration, stats.AvgKmh)

	place := e.resolver.Resolve(ctx, center.Lat, center.Lon)

	v := &models.Visit{
		ID:            uuid.New(),
		Place:         place.Place,
		Address:       place.FormattedAddress,
		CenterLat:     center.Lat,
		CenterLon:     center.Lon,
		ArrivalTime:   pv.FirstSeenAt,
		DepartureTime: pv.LastUpdatedAt,
		DurationMs:    duration.Milliseconds(),
		Confidence:    models.VisitConfidence(visitType),
		VisitType:     visitType,
		SpeedStats:    stats,
	}

	logging.Info().
		Str("place", v.Place).
		Str("type", string(v.VisitType)).
		Dur("duration", duration).
		Msg("visit finalized")
	return v
}

func (e *Engine) persist() {
	if e.state == nil {
		return
	}
	if err := e.state.SavePendingVisit(*e.pending); err != nil {
		logging.Warn().Err(err).Msg("persist pending visit")
	}
}

func (e *Engine) clearPersisted() {
	if e.state == nil {
		return
	}
	if err := e.state.ClearPendingVisit(); err != nil && err != store.ErrNotFound {
		logging.Warn().Err(err).Msg("clear pending visit")
	}
}

// Flush force-closes the candidate, used on shutdown so a long stay in
// progress still produces a visit. The departure time stays at the last
// observed sample.
func (e *Engine) Flush(ctx context.Context) *models.Visit {
	if e.pending == nil {
		return nil
	}
	return e.close(ctx)
}
