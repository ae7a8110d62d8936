// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package pipeline wires the tracking components together: fixes flow
// from the scheduler's subscriptions through a bounded channel into a
// single consumer that runs classification, scheduling reconciliation,
// visit detection and outbound enqueueing in one deterministic order.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/huyhuyhuy8s/journee-tracking/internal/classifier"
	"github.com/huyhuyhuy8s/journee-tracking/internal/config"
	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/metrics"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
	"github.com/huyhuyhuy8s/journee-tracking/internal/outbox"
	"github.com/huyhuyhuy8s/journee-tracking/internal/scheduler"
	"github.com/huyhuyhuy8s/journee-tracking/internal/store"
	"github.com/huyhuyhuy8s/journee-tracking/internal/visit"
)

// fixChannelCapacity bounds the fix queue. A full channel drops the
// incoming fix rather than blocking the producer, so a slow geocode
// never stalls the platform location callback.
const fixChannelCapacity = 64

// ErrNotStarted is returned by StopTracking when tracking is inactive.
var ErrNotStarted = errors.New("pipeline: tracking not started")

// Tracker composes the tracking core. All mutation of classifier and
// visit state happens on the consumer goroutine or under mu.
type Tracker struct {
	cfg    *config.Config
	store  *store.Store
	class  *classifier.Classifier
	sched  *scheduler.Scheduler
	visits *visit.Engine
	outbox *outbox.Outbox

	fixes chan models.Fix

	mu     sync.Mutex
	active bool
}

// New assembles a tracker from already-constructed components.
func New(
	cfg *config.Config,
	st *store.Store,
	class *classifier.Classifier,
	sched *scheduler.Scheduler,
	visits *visit.Engine,
	ob *outbox.Outbox,
) *Tracker {
	t := &Tracker{
		cfg:    cfg,
		store:  st,
		class:  class,
		sched:  sched,
		visits: visits,
		outbox: ob,
		fixes:  make(chan models.Fix, fixChannelCapacity),
	}
	sched.OnFixes = t.pump
	return t
}

// pump forwards a subscription's fixes into the bounded channel,
// dropping when full. One pump goroutine runs per subscription and
// exits when the subscription's channel closes.
func (t *Tracker) pump(ch <-chan models.Fix) {
	go func() {
		for fix := range ch {
			select {
			case t.fixes <- fix:
			default:
				metrics.FixesDropped.Inc()
				logging.Debug().Msg("fix dropped, pipeline at capacity")
			}
		}
	}()
}

// StartTracking begins location updates using the current movement
// state's profile. Idempotent.
func (t *Tracker) StartTracking() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return nil
	}
	if err := t.sched.Start(t.class.State()); err != nil {
		return err
	}
	t.active = true
	if err := t.store.SetTrackingActive(true); err != nil {
		logging.Warn().Err(err).Msg("persist tracking flag")
	}
	logging.Info().Str("state", string(t.class.State())).Msg("tracking started")
	return nil
}

// StopTracking stops updates and clears all per-session state in one
// critical section so no partially-cancelled state is observable.
func (t *Tracker) StopTracking() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return ErrNotStarted
	}
	t.sched.Stop()
	t.class.Reset()
	t.visits.Reset()
	t.active = false
	if err := t.store.SetTrackingActive(false); err != nil {
		logging.Warn().Err(err).Msg("persist tracking flag")
	}
	logging.Info().Msg("tracking stopped")
	return nil
}

// TrackingActive reports whether tracking is running.
func (t *Tracker) TrackingActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// CurrentState returns the classifier's movement state.
func (t *Tracker) CurrentState() models.MovementState {
	return t.class.State()
}

// LastStateChange returns the most recent accepted transition.
func (t *Tracker) LastStateChange() models.StateChangeRecord {
	return t.class.LastChange()
}

// PendingVisit returns a copy of the in-progress visit candidate.
func (t *Tracker) PendingVisit() *models.PendingVisit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visits.Pending()
}

// RecentVisits returns up to limit visits arriving at or after since,
// most recent first. A zero since applies no time filter.
func (t *Tracker) RecentVisits(since time.Time, limit int) ([]models.Visit, error) {
	return t.store.RecentVisits(since, limit)
}

// PendingSyncCount returns the number of undelivered outbound events.
func (t *Tracker) PendingSyncCount() (int, error) {
	return t.outbox.PendingCount()
}

// FlushSync triggers an outbox flush. A concurrent flush already in
// progress counts as success.
func (t *Tracker) FlushSync(ctx context.Context) (outbox.FlushStats, error) {
	stats, err := t.outbox.Flush(ctx)
	if errors.Is(err, outbox.ErrFlushInProgress) {
		return stats, nil
	}
	return stats, err
}

// Run is the consumer loop. It first reconciles persisted tracking
// state with reality: a crash mid-stop can leave the active flag set
// with no live subscription, in which case tracking is resumed. Run
// blocks until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	t.recoverTrackingState()

	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			return ctx.Err()
		case fix := <-t.fixes:
			t.processFix(ctx, fix)
		}
	}
}

// recoverTrackingState corrects the partially-cancelled case on boot.
func (t *Tracker) recoverTrackingState() {
	persisted, err := t.store.TrackingActive()
	if err != nil {
		logging.Warn().Err(err).Msg("load tracking flag")
		return
	}
	if !persisted || t.sched.Running() {
		return
	}
	logging.Info().Msg("tracking was active before shutdown, resuming")
	if err := t.StartTracking(); err != nil {
		logging.Warn().Err(err).Msg("resume tracking, clearing persisted flag")
		if err := t.store.SetTrackingActive(false); err != nil {
			logging.Warn().Err(err).Msg("persist tracking flag")
		}
	}
}

// processFix runs the full per-fix sequence: validate, persist,
// classify, reconcile polling, detect visits, enqueue outbound events.
func (t *Tracker) processFix(ctx context.Context, fix models.Fix) {
	metrics.FixesProcessed.Inc()

	if err := fix.Validate(); err != nil {
		logging.Warn().Err(err).Msg("invalid fix skipped")
		return
	}
	if err := t.store.SaveLastFix(fix); err != nil {
		logging.Warn().Err(err).Msg("persist last fix")
	}

	state, changed, speed := t.class.Observe(fix)
	if changed {
		metrics.StateTransitions.WithLabelValues(
			string(t.class.LastChange().From), string(state)).Inc()
		metrics.SetMovementState(string(state))

		if err := t.sched.Reconcile(state); err != nil {
			logging.Warn().Err(err).Str("state", string(state)).Msg("reconcile polling profile")
		}

		update := &models.LocationUpdate{
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
			SpeedKmh:  speed,
			State:     state,
			Timestamp: fix.Timestamp,
		}
		if ev, err := models.NewLocationEvent(update); err == nil {
			if err := t.outbox.Enqueue(*ev); err != nil {
				logging.Warn().Err(err).Msg("enqueue location event")
			}
		} else {
			logging.Warn().Err(err).Msg("build location event")
		}
	} else if t.sched.Running() {
		// A restart that failed earlier is retried opportunistically.
		if err := t.sched.Resume(); err != nil {
			logging.Debug().Err(err).Msg("resume polling")
		}
	}

	t.mu.Lock()
	finalized := t.visits.ProcessFix(ctx, fix, speed)
	t.mu.Unlock()
	if finalized != nil {
		t.recordVisit(ctx, *finalized)
	}
}

// recordVisit persists a finalized visit and queues it for delivery.
func (t *Tracker) recordVisit(ctx context.Context, v models.Visit) {
	metrics.VisitsFinalized.WithLabelValues(string(v.VisitType)).Inc()

	if err := t.store.AppendVisit(v); err != nil {
		logging.Warn().Err(err).Msg("persist visit")
	}
	ev, err := models.NewVisitEvent(&v)
	if err != nil {
		logging.Warn().Err(err).Msg("build visit event")
		return
	}
	if err := t.outbox.Enqueue(*ev); err != nil {
		logging.Warn().Err(err).Msg("enqueue visit event")
		return
	}
	t.updateOutboxDepth()

	// Opportunistic delivery; the periodic flusher covers failures.
	go func() {
		if _, err := t.FlushSync(context.WithoutCancel(ctx)); err != nil {
			logging.Debug().Err(err).Msg("post-visit flush")
		}
		t.updateOutboxDepth()
	}()
}

func (t *Tracker) updateOutboxDepth() {
	if n, err := t.outbox.PendingCount(); err == nil {
		metrics.OutboxDepth.Set(float64(n))
	}
}

// shutdown finalizes an in-progress stay so it is not lost, then stops
// the subscription without clearing session state, which must survive
// the restart.
func (t *Tracker) shutdown() {
	t.mu.Lock()
	v := t.visits.Flush(context.Background())
	t.mu.Unlock()
	if v != nil {
		t.recordVisit(context.Background(), *v)
	}
	t.sched.Stop()
}
