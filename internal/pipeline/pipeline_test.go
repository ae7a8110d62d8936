// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/huyhuyhuy8s/journee-tracking/internal/classifier"
	"github.com/huyhuyhuy8s/journee-tracking/internal/config"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
	"github.com/huyhuyhuy8s/journee-tracking/internal/outbox"
	"github.com/huyhuyhuy8s/journee-tracking/internal/scheduler"
	"github.com/huyhuyhuy8s/journee-tracking/internal/store"
	"github.com/huyhuyhuy8s/journee-tracking/internal/visit"
)

type fakeSub struct {
	ch chan models.Fix
}

func (f *fakeSub) Fixes() <-chan models.Fix { return f.ch }
func (f *fakeSub) Stop()                    {}

type fakeSource struct {
	subs chan *fakeSub
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(chan *fakeSub, 8)}
}

func (f *fakeSource) StartUpdates(cfg scheduler.TrackingConfig) (scheduler.Subscription, error) {
	sub := &fakeSub{ch: make(chan models.Fix, 64)}
	f.subs <- sub
	return sub, nil
}

func (f *fakeSource) PermissionStatus() bool    { return true }
func (f *fakeSource) RequestPermission() error  { return nil }

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, lat, lon float64) models.GeocodeResult {
	return models.GeocodeResult{
		Place:            "Cafe 96",
		FormattedAddress: "Cafe 96, Vo Van Tan",
		Confidence:       models.ConfidenceHigh,
		Source:           "test",
	}
}

type noTokens struct{}

func (noTokens) Token(ctx context.Context) (string, error)   { return "", nil }
func (noTokens) Refresh(ctx context.Context) (string, error) { return "", nil }

type nopSender struct{}

func (nopSender) Post(ctx context.Context, path string, payload json.RawMessage, token string) (int, error) {
	return 200, nil
}

type harness struct {
	tracker *Tracker
	source  *fakeSource
	store   *store.Store
	cancel  context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Scheduler.SettleDelay = time.Millisecond

	st, err := store.Open("", cfg.Store.VisitHistoryLimit)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	q, err := outbox.OpenQueue("")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	source := newFakeSource()
	tracker := New(
		cfg,
		st,
		classifier.New(cfg.Classifier, st),
		scheduler.New(cfg.Scheduler, source, st),
		visit.New(cfg.Visit, stubResolver{}, st),
		outbox.New(q, nopSender{}, noTokens{}, cfg.Outbox.MaxRetries),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go tracker.Run(ctx)

	return &harness{tracker: tracker, source: source, store: st, cancel: cancel}
}

func (h *harness) currentSub(t *testing.T) *fakeSub {
	t.Helper()
	select {
	case sub := <-h.source.subs:
		return sub
	case <-time.After(time.Second):
		t.Fatal("no subscription started")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func slowFix(lat, lon float64, ts time.Time) models.Fix {
	mps := 0.3 / 3.6
	return models.Fix{Latitude: lat, Longitude: lon, SpeedMps: &mps, Timestamp: ts}
}

func TestStartTrackingIsIdempotent(t *testing.T) {
	h := newHarness(t)

	if err := h.tracker.StartTracking(); err != nil {
		t.Fatalf("StartTracking: %v", err)
	}
	if err := h.tracker.StartTracking(); err != nil {
		t.Fatalf("second StartTracking: %v", err)
	}
	h.currentSub(t)
	select {
	case <-h.source.subs:
		t.Fatal("second subscription started")
	default:
	}
	if !h.tracker.TrackingActive() {
		t.Error("tracking not active")
	}

	active, err := h.store.TrackingActive()
	if err != nil || !active {
		t.Errorf("persisted flag = %v err = %v, want true", active, err)
	}
}

func TestStopWithoutStartReturnsError(t *testing.T) {
	h := newHarness(t)
	if err := h.tracker.StopTracking(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

func TestStopTrackingClearsSessionState(t *testing.T) {
	h := newHarness(t)
	if err := h.tracker.StartTracking(); err != nil {
		t.Fatalf("StartTracking: %v", err)
	}
	sub := h.currentSub(t)

	// Open a pending visit first.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub.ch <- slowFix(10.7626, 106.6602, base)
	waitFor(t, "pending visit", func() bool { return h.tracker.PendingVisit() != nil })

	if err := h.tracker.StopTracking(); err != nil {
		t.Fatalf("StopTracking: %v", err)
	}
	if h.tracker.TrackingActive() {
		t.Error("tracking still active")
	}
	if h.tracker.PendingVisit() != nil {
		t.Error("pending visit survived stop")
	}
	if got := h.tracker.CurrentState(); got != models.DefaultMovementState {
		t.Errorf("state = %q after stop, want default", got)
	}
	active, _ := h.store.TrackingActive()
	if active {
		t.Error("persisted flag still true")
	}
}

func TestStayProducesVisitAndOutboundEvent(t *testing.T) {
	h := newHarness(t)
	if err := h.tracker.StartTracking(); err != nil {
		t.Fatalf("StartTracking: %v", err)
	}
	sub := h.currentSub(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, offset := range []int{0, 15, 30, 45} {
		sub.ch <- slowFix(10.7626, 106.6602, base.Add(time.Duration(offset)*time.Second))
	}
	waitFor(t, "pending visit", func() bool {
		pv := h.tracker.PendingVisit()
		return pv != nil && len(pv.Samples) == 4
	})

	// The dwell crosses the minimum on this fix; no departure needed.
	sub.ch <- slowFix(10.7626, 106.6602, base.Add(61*time.Second))

	waitFor(t, "finalized visit", func() bool {
		visits, err := h.tracker.RecentVisits(time.Time{}, 10)
		return err == nil && len(visits) == 1
	})

	visits, _ := h.tracker.RecentVisits(time.Time{}, 10)
	v := visits[0]
	if v.Place != "Cafe 96" {
		t.Errorf("place = %q", v.Place)
	}
	if v.DurationMs != (61 * time.Second).Milliseconds() {
		t.Errorf("duration = %dms, want 61000", v.DurationMs)
	}
	if h.tracker.PendingVisit() != nil {
		t.Error("pending visit survived finalization")
	}
}

func TestShortStayProducesNothing(t *testing.T) {
	h := newHarness(t)
	if err := h.tracker.StartTracking(); err != nil {
		t.Fatalf("StartTracking: %v", err)
	}
	sub := h.currentSub(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub.ch <- slowFix(10.7626, 106.6602, base)
	sub.ch <- slowFix(10.7626, 106.6602, base.Add(30*time.Second))
	waitFor(t, "pending visit", func() bool {
		pv := h.tracker.PendingVisit()
		return pv != nil && len(pv.Samples) == 2
	})

	fast := 20.0 / 3.6
	sub.ch <- models.Fix{
		Latitude: 10.7726, Longitude: 106.6602,
		SpeedMps: &fast, Timestamp: base.Add(40 * time.Second),
	}
	waitFor(t, "candidate discarded", func() bool { return h.tracker.PendingVisit() == nil })

	visits, err := h.tracker.RecentVisits(time.Time{}, 10)
	if err != nil {
		t.Fatalf("RecentVisits: %v", err)
	}
	if len(visits) != 0 {
		t.Errorf("visits = %d for a 30s stay, want 0", len(visits))
	}
}

func TestDuplicateFixesAreIdempotent(t *testing.T) {
	h := newHarness(t)
	if err := h.tracker.StartTracking(); err != nil {
		t.Fatalf("StartTracking: %v", err)
	}
	sub := h.currentSub(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fix := slowFix(10.7626, 106.6602, base)
	sub.ch <- fix
	sub.ch <- fix
	sub.ch <- fix
	sub.ch <- slowFix(10.7626, 106.6602, base.Add(10*time.Second))

	waitFor(t, "two samples", func() bool {
		pv := h.tracker.PendingVisit()
		return pv != nil && len(pv.Samples) == 2
	})
}

func TestStartupResumesPartiallyCancelledTracking(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.SettleDelay = time.Millisecond

	st, err := store.Open("", cfg.Store.VisitHistoryLimit)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	// Simulate a crash that left the flag set with no subscription.
	if err := st.SetTrackingActive(true); err != nil {
		t.Fatalf("SetTrackingActive: %v", err)
	}

	q, err := outbox.OpenQueue("")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	source := newFakeSource()
	tracker := New(
		cfg,
		st,
		classifier.New(cfg.Classifier, st),
		scheduler.New(cfg.Scheduler, source, st),
		visit.New(cfg.Visit, stubResolver{}, st),
		outbox.New(q, nopSender{}, noTokens{}, cfg.Outbox.MaxRetries),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go tracker.Run(ctx)

	select {
	case <-source.subs:
	case <-time.After(time.Second):
		t.Fatal("tracking not resumed on startup")
	}
	waitFor(t, "active flag", func() bool { return tracker.TrackingActive() })
}
