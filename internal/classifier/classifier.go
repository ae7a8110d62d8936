// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package classifier derives a movement state (stationary, slow_moving,
// fast_moving) from a rolling window of speed samples. Transitions use
// asymmetric enter/exit thresholds so a device hovering near a boundary
// does not flap between states, and a stability window throttles how
// often the state may change at all.
package classifier

import (
	"math"
	"sync"
	"time"

	"github.com/huyhuyhuy8s/journee-tracking/internal/config"
	"github.com/huyhuyhuy8s/journee-tracking/internal/geo"
	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
	"github.com/huyhuyhuy8s/journee-tracking/internal/store"
)

// StateStore persists classifier state across restarts.
type StateStore interface {
	SaveClassifierState(store.ClassifierState) error
	LoadClassifierState() (store.ClassifierState, error)
}

// Classifier is safe for concurrent use, though in practice all fixes
// arrive on the pipeline's single consumer goroutine.
type Classifier struct {
	cfg   config.ClassifierConfig
	state StateStore

	mu         sync.Mutex
	current    models.MovementState
	buffer     []models.SpeedSample
	lastChange models.StateChangeRecord
	lastFix    *models.Fix
}

// New builds a classifier, restoring any persisted state. A fresh
// classifier starts in fast_moving so the scheduler begins with the
// most responsive polling profile until real samples prove otherwise.
func New(cfg config.ClassifierConfig, st StateStore) *Classifier {
	c := &Classifier{
		cfg:     cfg,
		state:   st,
		current: models.DefaultMovementState,
		buffer:  make([]models.SpeedSample, 0, cfg.BufferSize),
	}
	if st != nil {
		persisted, err := st.LoadClassifierState()
		switch {
		case err == nil:
			restored, perr := models.ParseMovementState(string(persisted.State))
			if perr != nil {
				logging.Warn().Err(perr).Msg("persisted state invalid, using default")
			}
			c.current = restored
			c.buffer = append(c.buffer, persisted.Buffer...)
			c.lastChange = persisted.LastChange
			logging.Debug().
				Str("state", string(c.current)).
				Int("buffered_samples", len(c.buffer)).
				Msg("classifier state restored")
		case err != store.ErrNotFound:
			logging.Warn().Err(err).Msg("load classifier state, starting fresh")
		}
	}
	return c
}

// State returns the current movement state.
func (c *Classifier) State() models.MovementState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// LastChange returns the most recent accepted transition. The zero
// record means no transition has occurred yet.
func (c *Classifier) LastChange() models.StateChangeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastChange
}

// Observe folds a fix into the sample window and returns the resulting
// state, whether this fix caused a transition, and the effective speed
// used, which downstream visit detection reuses. The fix's own
// timestamp is the clock for all window math, keeping replayed traces
// deterministic.
func (c *Classifier) Observe(fix models.Fix) (models.MovementState, bool, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	speed := c.effectiveSpeed(fix)
	c.lastFix = &fix

	c.buffer = append(c.buffer, models.SpeedSample{SpeedKmh: speed, Timestamp: fix.Timestamp})
	if len(c.buffer) > c.cfg.BufferSize {
		c.buffer = c.buffer[len(c.buffer)-c.cfg.BufferSize:]
	}

	next, ok := c.evaluate(fix.Timestamp)
	if !ok {
		return c.current, false, speed
	}

	prev := c.current
	c.current = next
	c.lastChange = models.StateChangeRecord{From: prev, To: next, Timestamp: fix.Timestamp}
	c.buffer = c.buffer[:0]

	logging.Info().
		Str("from", string(prev)).
		Str("to", string(next)).
		Time("at", fix.Timestamp).
		Msg("movement state changed")

	c.persistLocked()
	return next, true, speed
}

// Reset returns the classifier to its initial state and clears the
// sample window, used when tracking stops.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = models.DefaultMovementState
	c.buffer = c.buffer[:0]
	c.lastChange = models.StateChangeRecord{}
	c.lastFix = nil
	c.persistLocked()
}

// effectiveSpeed picks the larger of the reported speed and the speed
// derived from displacement since the previous fix. GPS hardware often
// reports zero speed for slow walking while positions clearly drift, so
// trusting only the reported value would under-classify.
func (c *Classifier) effectiveSpeed(fix models.Fix) float64 {
	speed, reported := fix.SpeedKmh()
	if !reported {
		speed = 0
	}
	if c.lastFix != nil {
		dt := fix.Timestamp.Sub(c.lastFix.Timestamp).Seconds()
		if dt > 0 {
			dist := geo.DistanceMeters(c.lastFix.Latitude, c.lastFix.Longitude, fix.Latitude, fix.Longitude)
			derived := geo.SpeedKmh(dist, dt)
			if derived > speed {
				speed = derived
			}
		}
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed < 0 {
		logging.Warn().Float64("speed_kmh", speed).Msg("malformed speed sample clamped to zero")
		speed = 0
	}
	return speed
}

// evaluate applies the transition table to the current window. A state
// change requires a full-enough window and an elapsed stability period
// since the previous change.
func (c *Classifier) evaluate(now time.Time) (models.MovementState, bool) {
	if len(c.buffer) < c.cfg.MinSamples {
		return c.current, false
	}
	if !c.lastChange.Timestamp.IsZero() && now.Sub(c.lastChange.Timestamp) < c.cfg.StabilityWindow {
		return c.current, false
	}

	avg, min, max := windowStats(c.buffer)
	t := c.cfg

	switch c.current {
	case models.StateFastMoving:
		if avg < t.ToStationaryAvgMax && max < t.ToStationaryPeakMax {
			return models.StateStationary, true
		}
		if avg < t.FastToSlowAvgMax && max < t.FastToSlowPeakMax {
			return models.StateSlowMoving, true
		}
	case models.StateSlowMoving:
		if avg > t.SlowToFastAvgMin && min > t.SlowToFastFloorMin {
			return models.StateFastMoving, true
		}
		if avg < t.ToStationaryAvgMax && max < t.ToStationaryPeakMax {
			return models.StateStationary, true
		}
	case models.StateStationary:
		if avg > t.StationaryToFastAvgMin && min > t.StationaryToFastFloorMin {
			return models.StateFastMoving, true
		}
		if avg > t.StationaryToSlowAvgMin && min > t.StationaryToSlowFloorMin {
			return models.StateSlowMoving, true
		}
	}
	return c.current, false
}

func (c *Classifier) persistLocked() {
	if c.state == nil {
		return
	}
	snapshot := store.ClassifierState{
		State:      c.current,
		Buffer:     append([]models.SpeedSample(nil), c.buffer...),
		LastChange: c.lastChange,
	}
	if err := c.state.SaveClassifierState(snapshot); err != nil {
		logging.Warn().Err(err).Msg("persist classifier state, continuing in memory")
	}
}

func windowStats(samples []models.SpeedSample) (avg, min, max float64) {
	min = math.Inf(1)
	max = math.Inf(-1)
	var sum float64
	for _, s := range samples {
		sum += s.SpeedKmh
		if s.SpeedKmh < min {
			min = s.SpeedKmh
		}
		if s.SpeedKmh > max {
			max = s.SpeedKmh
		}
	}
	avg = sum / float64(len(samples))
	return avg, min, max
}
