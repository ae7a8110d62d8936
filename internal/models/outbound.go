// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventKind discriminates outbound sync payloads.
type EventKind string

const (
	// EventLocation carries a location update (fix plus movement state).
	EventLocation EventKind = "location"

	// EventVisit carries a finalized visit.
	EventVisit EventKind = "visit"
)

// OutboundEvent is one item in the durable sync queue. The queue owns the
// event until the remote service acknowledges it or it is permanently
// abandoned after exhausting retries.
type OutboundEvent struct {
	ID         uuid.UUID       `json:"id"`
	Kind       EventKind       `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}

// NewVisitEvent wraps a finalized visit for delivery.
func NewVisitEvent(v *Visit) (*OutboundEvent, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &OutboundEvent{
		ID:         uuid.New(),
		Kind:       EventVisit,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// LocationUpdate is the payload of an EventLocation event: the fix that
// triggered an accepted state transition, plus the new state.
type LocationUpdate struct {
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	SpeedKmh  float64       `json:"speed_kmh"`
	State     MovementState `json:"state"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewLocationEvent wraps a location update for delivery.
func NewLocationEvent(u *LocationUpdate) (*OutboundEvent, error) {
	payload, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	return &OutboundEvent{
		ID:         uuid.New(),
		Kind:       EventLocation,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}
