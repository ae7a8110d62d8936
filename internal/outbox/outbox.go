// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package outbox durably queues outbound events and drains them to the
// remote tracking API. Events survive restarts; delivery is at-least-
// once with a bounded retry budget for transient failures and immediate
// drops for permanent rejections.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/metrics"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
)

// ErrFlushInProgress is returned when a flush is already running.
// Callers may safely ignore it; the running flush covers their items.
var ErrFlushInProgress = errors.New("outbox: flush already in progress")

// ErrUnauthorized is returned when no usable credential can be
// obtained at all. Items stay queued for the next flush.
var ErrUnauthorized = errors.New("outbox: credential refresh failed")

// endpoint paths by event kind.
var kindPaths = map[models.EventKind]string{
	models.EventVisit:    "/visits",
	models.EventLocation: "/locations",
}

// FlushStats summarizes one flush pass.
type FlushStats struct {
	Sent     int
	Dropped  int
	Retained int
}

// Outbox ties the durable queue to the API client and token store.
type Outbox struct {
	queue      *Queue
	sender     Sender
	tokens     TokenStore
	maxRetries int

	flushing atomic.Bool
}

// New builds an outbox over an open queue.
func New(queue *Queue, sender Sender, tokens TokenStore, maxRetries int) *Outbox {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Outbox{queue: queue, sender: sender, tokens: tokens, maxRetries: maxRetries}
}

// Enqueue persists an event for later delivery.
func (o *Outbox) Enqueue(ev models.OutboundEvent) error {
	if err := o.queue.push(ev); err != nil {
		return err
	}
	logging.Debug().
		Str("kind", string(ev.Kind)).
		Str("id", ev.ID.String()).
		Msg("event enqueued")
	return nil
}

// PendingCount returns the number of undelivered events.
func (o *Outbox) PendingCount() (int, error) {
	return o.queue.Len()
}

// Flush drains the queue in order. Only one flush runs at a time; a
// concurrent call returns ErrFlushInProgress without touching the
// queue. A missing credential makes Flush a silent no-op, since the
// device may simply not be signed in yet.
func (o *Outbox) Flush(ctx context.Context) (FlushStats, error) {
	if !o.flushing.CompareAndSwap(false, true) {
		return FlushStats{}, ErrFlushInProgress
	}
	defer o.flushing.Store(false)

	var stats FlushStats

	token, err := o.tokens.Token(ctx)
	if err != nil {
		return stats, fmt.Errorf("load credential: %w", err)
	}
	if token == "" {
		return stats, nil
	}

	items, err := o.queue.snapshot()
	if err != nil {
		return stats, err
	}

	refreshed := false
	for _, it := range items {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		path, ok := kindPaths[it.event.Kind]
		if !ok {
			logging.Warn().Str("kind", string(it.event.Kind)).Msg("unknown event kind dropped")
			o.dropItem(it, &stats, "rejected")
			continue
		}

		status, err := o.sender.Post(ctx, path, it.event.Payload, token)
		if err != nil {
			o.retryItem(it, &stats, err)
			continue
		}

		if status == 401 && !refreshed {
			token, err = o.tokens.Refresh(ctx)
			if err != nil || token == "" {
				return stats, fmt.Errorf("%w: refresh failed: %v", ErrUnauthorized, err)
			}
			refreshed = true
			status, err = o.sender.Post(ctx, path, it.event.Payload, token)
			if err != nil {
				o.retryItem(it, &stats, err)
				continue
			}
		}

		switch {
		case status >= 200 && status < 300:
			if err := o.queue.remove(it.key); err != nil {
				logging.Warn().Err(err).Msg("remove delivered event")
			}
			stats.Sent++
			metrics.OutboxDelivered.Inc()
		case status == 401:
			// Fresh credential still rejected; permanent for this item.
			logging.Warn().
				Str("id", it.event.ID.String()).
				Msg("event rejected by refreshed credential")
			o.dropItem(it, &stats, "rejected")
		case status >= 400 && status < 500:
			logging.Warn().
				Int("status", status).
				Str("id", it.event.ID.String()).
				Msg("event permanently rejected")
			o.dropItem(it, &stats, "rejected")
		default:
			o.retryItem(it, &stats, fmt.Errorf("server status %d", status))
		}
	}

	if stats.Sent+stats.Dropped+stats.Retained > 0 {
		logging.Info().
			Int("sent", stats.Sent).
			Int("dropped", stats.Dropped).
			Int("retained", stats.Retained).
			Msg("outbox flushed")
	}
	return stats, nil
}

func (o *Outbox) dropItem(it item, stats *FlushStats, reason string) {
	if err := o.queue.remove(it.key); err != nil {
		logging.Warn().Err(err).Msg("remove rejected event")
	}
	stats.Dropped++
	metrics.OutboxDropped.WithLabelValues(reason).Inc()
}

// retryItem bumps the retry counter, dropping the event once it runs
// out of budget.
func (o *Outbox) retryItem(it item, stats *FlushStats, cause error) {
	it.event.RetryCount++
	if it.event.RetryCount >= o.maxRetries {
		logging.Warn().
			Err(cause).
			Str("id", it.event.ID.String()).
			Int("retries", it.event.RetryCount).
			Msg("event dropped after exhausting retries")
		o.dropItem(it, stats, "retries_exhausted")
		return
	}
	logging.Debug().
		Err(cause).
		Str("id", it.event.ID.String()).
		Int("retries", it.event.RetryCount).
		Msg("event kept for retry")
	if err := o.queue.rewrite(it.key, it.event); err != nil {
		logging.Warn().Err(err).Msg("rewrite retried event")
	}
	stats.Retained++
	metrics.OutboxRetries.Inc()
}

// Run flushes on a fixed interval while anything is pending. It blocks
// until ctx is cancelled, fitting the supervisor's service contract.
func (o *Outbox) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pending, err := o.PendingCount()
			if err != nil {
				logging.Warn().Err(err).Msg("outbox pending count")
				continue
			}
			if pending == 0 {
				continue
			}
			if _, err := o.Flush(ctx); err != nil && !errors.Is(err, ErrFlushInProgress) {
				logging.Warn().Err(err).Msg("periodic flush")
			}
		}
	}
}
