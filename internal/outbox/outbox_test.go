// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
)

type staticTokens struct {
	mu         sync.Mutex
	token      string
	next       string
	refreshN   int
	refreshErr error
}

func (s *staticTokens) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *staticTokens) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshN++
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	s.token = s.next
	return s.token, nil
}

type call struct {
	path  string
	token string
}

// scriptedSender returns canned outcomes in order, then repeats the
// last one.
type scriptedSender struct {
	mu       sync.Mutex
	statuses []int
	errs     []error
	calls    []call
	block    chan struct{}
}

func (s *scriptedSender) Post(ctx context.Context, path string, payload json.RawMessage, token string) (int, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.calls)
	s.calls = append(s.calls, call{path: path, token: token})
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.statuses[i], err
}

func testOutbox(t *testing.T, sender Sender, tokens TokenStore, maxRetries int) *Outbox {
	t.Helper()
	q, err := OpenQueue("")
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return New(q, sender, tokens, maxRetries)
}

func visitEvent(t *testing.T) models.OutboundEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"place": "Cafe 96"})
	if err != nil {
		t.Fatal(err)
	}
	return models.OutboundEvent{
		ID:         uuid.New(),
		Kind:       models.EventVisit,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
}

func locationEvent(t *testing.T) models.OutboundEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]float64{"lat": 10.7626})
	if err != nil {
		t.Fatal(err)
	}
	return models.OutboundEvent{
		ID:         uuid.New(),
		Kind:       models.EventLocation,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestFlushDeliversInOrder(t *testing.T) {
	sender := &scriptedSender{statuses: []int{200}}
	tokens := &staticTokens{token: "tok-1"}
	o := testOutbox(t, sender, tokens, 5)

	if err := o.Enqueue(visitEvent(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := o.Enqueue(locationEvent(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err := o.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if stats.Sent != 2 {
		t.Errorf("sent = %d, want 2", stats.Sent)
	}
	if len(sender.calls) != 2 || sender.calls[0].path != "/visits" || sender.calls[1].path != "/locations" {
		t.Errorf("calls = %+v", sender.calls)
	}
	if sender.calls[0].token != "tok-1" {
		t.Errorf("token = %q", sender.calls[0].token)
	}

	pending, err := o.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}
}

func TestFlushWithoutTokenIsNoOp(t *testing.T) {
	sender := &scriptedSender{statuses: []int{200}}
	o := testOutbox(t, sender, &staticTokens{}, 5)

	if err := o.Enqueue(visitEvent(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stats, err := o.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if stats.Sent != 0 || len(sender.calls) != 0 {
		t.Errorf("stats = %+v calls = %d, want untouched queue", stats, len(sender.calls))
	}
	if pending, _ := o.PendingCount(); pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
}

func TestPermanentRejectionDropsEvent(t *testing.T) {
	sender := &scriptedSender{statuses: []int{400}}
	o := testOutbox(t, sender, &staticTokens{token: "tok"}, 5)

	if err := o.Enqueue(visitEvent(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stats, err := o.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if stats.Dropped != 1 || stats.Sent != 0 {
		t.Errorf("stats = %+v, want 1 dropped", stats)
	}
	if pending, _ := o.PendingCount(); pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}
}

func TestTransientFailureRetriesThenDrops(t *testing.T) {
	sender := &scriptedSender{statuses: []int{500}}
	o := testOutbox(t, sender, &staticTokens{token: "tok"}, 3)

	if err := o.Enqueue(visitEvent(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Two flushes retain the event with bumped counters.
	for i := 1; i <= 2; i++ {
		stats, err := o.Flush(context.Background())
		if err != nil {
			t.Fatalf("Flush %d: %v", i, err)
		}
		if stats.Retained != 1 {
			t.Fatalf("flush %d stats = %+v, want retained", i, stats)
		}
	}
	// Third failure exhausts the budget.
	stats, err := o.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if stats.Dropped != 1 {
		t.Errorf("stats = %+v, want dropped", stats)
	}
	if pending, _ := o.PendingCount(); pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}
}

func TestNetworkErrorKeepsEvent(t *testing.T) {
	sender := &scriptedSender{statuses: []int{0}, errs: []error{errors.New("connection refused")}}
	o := testOutbox(t, sender, &staticTokens{token: "tok"}, 5)

	if err := o.Enqueue(visitEvent(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stats, err := o.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if stats.Retained != 1 {
		t.Errorf("stats = %+v, want retained", stats)
	}
	if pending, _ := o.PendingCount(); pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
}

func TestUnauthorizedRefreshesOnceAndRetries(t *testing.T) {
	sender := &scriptedSender{statuses: []int{401, 200}}
	tokens := &staticTokens{token: "stale", next: "fresh"}
	o := testOutbox(t, sender, tokens, 5)

	if err := o.Enqueue(visitEvent(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stats, err := o.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if stats.Sent != 1 {
		t.Errorf("stats = %+v, want sent", stats)
	}
	if tokens.refreshN != 1 {
		t.Errorf("refreshes = %d, want 1", tokens.refreshN)
	}
	if len(sender.calls) != 2 || sender.calls[1].token != "fresh" {
		t.Errorf("calls = %+v", sender.calls)
	}
}

func TestSecondUnauthorizedDropsItemAndContinues(t *testing.T) {
	// First item draws 401 twice and is dropped as permanent; the
	// second item must still go out on the refreshed credential.
	sender := &scriptedSender{statuses: []int{401, 401, 200}}
	tokens := &staticTokens{token: "stale", next: "still-bad"}
	o := testOutbox(t, sender, tokens, 5)

	if err := o.Enqueue(visitEvent(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := o.Enqueue(visitEvent(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stats, err := o.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if stats.Dropped != 1 || stats.Sent != 1 {
		t.Errorf("stats = %+v, want one dropped and one sent", stats)
	}
	if tokens.refreshN != 1 {
		t.Errorf("refreshes = %d, want 1", tokens.refreshN)
	}
	if pending, _ := o.PendingCount(); pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}
}

func TestFailedRefreshAbortsFlush(t *testing.T) {
	sender := &scriptedSender{statuses: []int{401}}
	tokens := &staticTokens{token: "stale", refreshErr: errors.New("offline")}
	o := testOutbox(t, sender, tokens, 5)

	if err := o.Enqueue(visitEvent(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	_, err := o.Flush(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if pending, _ := o.PendingCount(); pending != 1 {
		t.Errorf("pending = %d, want event retained", pending)
	}
}

func TestConcurrentFlushIsRejected(t *testing.T) {
	block := make(chan struct{})
	sender := &scriptedSender{statuses: []int{200}, block: block}
	o := testOutbox(t, sender, &staticTokens{token: "tok"}, 5)

	if err := o.Enqueue(visitEvent(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.Flush(context.Background())
		done <- err
	}()

	// Wait for the first flush to be mid-delivery, then race another.
	deadline := time.After(time.Second)
	for {
		if o.flushing.Load() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first flush never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := o.Flush(context.Background()); !errors.Is(err, ErrFlushInProgress) {
		t.Errorf("err = %v, want ErrFlushInProgress", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first flush: %v", err)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	q, err := OpenQueue(dir)
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	ev := visitEvent(t)
	if err := q.push(ev); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	q2, err := OpenQueue(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q2.Close()
	items, err := q2.snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(items) != 1 || items[0].event.ID != ev.ID {
		t.Errorf("items = %+v, want the persisted event", items)
	}
}
