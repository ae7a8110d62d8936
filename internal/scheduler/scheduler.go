// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package scheduler maps movement states to location polling profiles
// and reconciles the active subscription against the profile the
// current state demands. Stationary devices poll rarely at low
// accuracy; fast-moving devices poll every few seconds at high
// accuracy.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/huyhuyhuy8s/journee-tracking/internal/config"
	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
	"github.com/huyhuyhuy8s/journee-tracking/internal/store"
)

// ErrPermissionDenied is returned when the platform refuses location
// access. The existing subscription, if any, is left untouched.
var ErrPermissionDenied = errors.New("scheduler: location permission denied")

// TrackingConfig is the polling profile handed to a LocationSource.
type TrackingConfig struct {
	Interval    time.Duration
	MinDistance float64
	Accuracy    string
}

// Subscription is a live stream of fixes from a LocationSource.
type Subscription interface {
	Fixes() <-chan models.Fix
	Stop()
}

// LocationSource abstracts the platform location provider. StartUpdates
// must return ErrPermissionDenied (possibly wrapped) when access is
// refused.
type LocationSource interface {
	StartUpdates(cfg TrackingConfig) (Subscription, error)
	PermissionStatus() bool
	RequestPermission() error
}

// ConfigStore persists the last applied tracking configuration.
type ConfigStore interface {
	SaveSchedulerConfig(store.SchedulerConfig) error
	LoadSchedulerConfig() (store.SchedulerConfig, error)
}

// Scheduler owns the subscription lifecycle. OnFixes is invoked with
// every new subscription's channel so the pipeline can pump it.
type Scheduler struct {
	cfg    config.SchedulerConfig
	source LocationSource
	state  ConfigStore

	// OnFixes receives the fix channel of each newly started
	// subscription. Set before Start.
	OnFixes func(<-chan models.Fix)

	mu         sync.Mutex
	sub        Subscription
	active     *TrackingConfig
	pendingCfg *TrackingConfig
	running    bool
}

func New(cfg config.SchedulerConfig, source LocationSource, st ConfigStore) *Scheduler {
	return &Scheduler{cfg: cfg, source: source, state: st}
}

// ProfileFor returns the polling profile for a movement state.
func (s *Scheduler) ProfileFor(state models.MovementState) TrackingConfig {
	var p config.PollProfile
	switch state {
	case models.StateStationary:
		p = s.cfg.Stationary
	case models.StateSlowMoving:
		p = s.cfg.SlowMoving
	default:
		p = s.cfg.FastMoving
	}
	return TrackingConfig{Interval: p.Interval, MinDistance: p.MinDistance, Accuracy: p.Accuracy}
}

// Start begins tracking with the profile for the given state. Calling
// Start while already running is a no-op.
func (s *Scheduler) Start(state models.MovementState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	want := s.ProfileFor(state)
	if err := s.startLocked(want); err != nil {
		return err
	}
	s.running = true
	return nil
}

// Stop tears down the subscription. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.running = false
	s.active = nil
	s.pendingCfg = nil
}

// Running reports whether a subscription is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.sub != nil
}

// ActiveConfig returns the currently applied profile, or nil when no
// subscription is live.
func (s *Scheduler) ActiveConfig() *TrackingConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	c := *s.active
	return &c
}

// Reconcile brings the subscription in line with the profile the state
// demands. When the active profile already matches it does nothing, so
// repeated classifier outputs of the same state cost nothing.
func (s *Scheduler) Reconcile(state models.MovementState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	want := s.ProfileFor(state)
	if s.active != nil && *s.active == want && s.sub != nil {
		return nil
	}

	// Check permission before touching the live subscription. A revoked
	// permission must not cost us the stream we already hold.
	if !s.source.PermissionStatus() {
		if err := s.source.RequestPermission(); err != nil {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}

	s.stopLocked()
	// The platform source needs a beat to release its previous
	// request before accepting a new one.
	if s.cfg.SettleDelay > 0 {
		time.Sleep(s.cfg.SettleDelay)
	}

	if err := s.startLocked(want); err != nil {
		// Remember what we wanted so Resume can retry.
		s.pendingCfg = &want
		return err
	}
	s.pendingCfg = nil
	return nil
}

// Resume retries a restart that previously failed. No-op when nothing
// is pending.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.pendingCfg == nil || s.sub != nil {
		return nil
	}
	want := *s.pendingCfg
	if err := s.startLocked(want); err != nil {
		return err
	}
	s.pendingCfg = nil
	return nil
}

func (s *Scheduler) startLocked(want TrackingConfig) error {
	if !s.source.PermissionStatus() {
		if err := s.source.RequestPermission(); err != nil {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	sub, err := s.source.StartUpdates(want)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("start location updates: %w", err)
	}
	s.sub = sub
	s.active = &want

	if s.state != nil {
		persisted := store.SchedulerConfig{
			IntervalMs:        want.Interval.Milliseconds(),
			MinDistanceMeters: want.MinDistance,
			Accuracy:          want.Accuracy,
		}
		if err := s.state.SaveSchedulerConfig(persisted); err != nil {
			logging.Warn().Err(err).Msg("persist scheduler config")
		}
	}

	logging.Info().
		Dur("interval", want.Interval).
		Float64("min_distance_m", want.MinDistance).
		Str("accuracy", want.Accuracy).
		Msg("location updates started")

	if s.OnFixes != nil {
		s.OnFixes(sub.Fixes())
	}
	return nil
}

func (s *Scheduler) stopLocked() {
	if s.sub == nil {
		return
	}
	s.sub.Stop()
	s.sub = nil
	logging.Debug().Msg("location updates stopped")
}
