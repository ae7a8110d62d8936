// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package source

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
	"github.com/huyhuyhuy8s/journee-tracking/internal/scheduler"
)

// ReplaySource streams a recorded NDJSON trace of fixes as if a device
// were producing them live. Each line is one models.Fix. Playback speed
// is controlled by tick: one fix is emitted per tick regardless of the
// recorded timestamps, which drive classification instead of the wall
// clock. The cursor survives subscription swaps so a profile change
// resumes mid-trace instead of restarting.
type ReplaySource struct {
	tick time.Duration

	mu    sync.Mutex
	fixes []models.Fix
	pos   int
	stop  chan struct{}
}

// LoadReplay reads an NDJSON trace from path.
func LoadReplay(path string, tick time.Duration) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	if tick <= 0 {
		tick = 100 * time.Millisecond
	}

	var fixes []models.Fix
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var fix models.Fix
		if err := json.Unmarshal(raw, &fix); err != nil {
			return nil, fmt.Errorf("parse trace line %d: %w", line, err)
		}
		fixes = append(fixes, fix)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	logging.Info().Str("path", path).Int("fixes", len(fixes)).Msg("replay trace loaded")
	return &ReplaySource{tick: tick, fixes: fixes}, nil
}

func (r *ReplaySource) PermissionStatus() bool   { return true }
func (r *ReplaySource) RequestPermission() error { return nil }

// StartUpdates begins (or resumes) playback into a new subscription.
func (r *ReplaySource) StartUpdates(cfg scheduler.TrackingConfig) (scheduler.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		close(r.stop)
	}
	stop := make(chan struct{})
	r.stop = stop

	ch := make(chan models.Fix, 64)
	go r.play(ch, stop)

	return &replaySubscription{source: r, stop: stop, ch: ch}, nil
}

func (r *ReplaySource) play(ch chan models.Fix, stop chan struct{}) {
	defer close(ch)
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.pos >= len(r.fixes) {
				r.mu.Unlock()
				return
			}
			fix := r.fixes[r.pos]
			r.pos++
			r.mu.Unlock()

			select {
			case ch <- fix:
			case <-stop:
				return
			}
		}
	}
}

type replaySubscription struct {
	source *ReplaySource
	stop   chan struct{}
	ch     chan models.Fix
	once   sync.Once
}

func (s *replaySubscription) Fixes() <-chan models.Fix { return s.ch }

func (s *replaySubscription) Stop() {
	s.once.Do(func() {
		s.source.mu.Lock()
		if s.source.stop == s.stop {
			s.source.stop = nil
			close(s.stop)
		}
		s.source.mu.Unlock()
	})
}
