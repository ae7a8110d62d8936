// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package source provides LocationSource implementations for the
// daemon: a push source fed by the HTTP API and a replay source that
// streams recorded NDJSON traces, used for development and testing.
package source

import (
	"sync"

	"github.com/huyhuyhuy8s/journee-tracking/internal/geo"
	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
	"github.com/huyhuyhuy8s/journee-tracking/internal/scheduler"
)

// PushSource accepts fixes pushed from outside (the HTTP API) and
// forwards them to the active subscription, honoring the minimum
// distance filter of the current tracking profile.
type PushSource struct {
	mu      sync.Mutex
	sub     *pushSubscription
	cfg     scheduler.TrackingConfig
	lastFix *models.Fix
}

type pushSubscription struct {
	ch     chan models.Fix
	source *PushSource
	once   sync.Once
}

func (s *pushSubscription) Fixes() <-chan models.Fix { return s.ch }

func (s *pushSubscription) Stop() {
	s.once.Do(func() {
		s.source.detach(s)
		close(s.ch)
	})
}

func NewPushSource() *PushSource {
	return &PushSource{}
}

// StartUpdates opens a new subscription, replacing any previous one.
func (p *PushSource) StartUpdates(cfg scheduler.TrackingConfig) (scheduler.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub := &pushSubscription{ch: make(chan models.Fix, 64), source: p}
	p.sub = sub
	p.cfg = cfg
	p.lastFix = nil
	return sub, nil
}

// PermissionStatus always grants access; an operator pushing fixes over
// HTTP has already proven intent.
func (p *PushSource) PermissionStatus() bool { return true }

func (p *PushSource) RequestPermission() error { return nil }

// Push delivers a fix to the active subscription. It reports false when
// no subscription is live or the fix was filtered by the minimum
// distance threshold.
func (p *PushSource) Push(fix models.Fix) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub == nil {
		return false
	}
	if p.lastFix != nil && p.cfg.MinDistance > 0 {
		dist := geo.DistanceMeters(p.lastFix.Latitude, p.lastFix.Longitude, fix.Latitude, fix.Longitude)
		if dist < p.cfg.MinDistance {
			logging.Debug().Float64("distance_m", dist).Msg("fix under min distance, filtered")
			return false
		}
	}
	select {
	case p.sub.ch <- fix:
		p.lastFix = &fix
		return true
	default:
		return false
	}
}

func (p *PushSource) detach(sub *pushSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub == sub {
		p.sub = nil
	}
}
