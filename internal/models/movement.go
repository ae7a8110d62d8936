// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package models

import (
	"fmt"
	"time"
)

// MovementState is the discrete movement classification of the device.
// State is mutated only by the classifier's validated transition function;
// every other component treats it as read-only.
type MovementState string

const (
	// StateStationary means the device has settled at one place.
	StateStationary MovementState = "stationary"

	// StateSlowMoving covers walking-pace movement.
	StateSlowMoving MovementState = "slow_moving"

	// StateFastMoving covers vehicular-pace movement. It is also the
	// initial state after a cold start: until proven otherwise the device
	// is assumed to move fast, which biases toward frequent updates.
	StateFastMoving MovementState = "fast_moving"
)

// DefaultMovementState is the conservative cold-start state.
const DefaultMovementState = StateFastMoving

// IsValid reports whether s is one of the three known states.
func (s MovementState) IsValid() bool {
	switch s {
	case StateStationary, StateSlowMoving, StateFastMoving:
		return true
	}
	return false
}

// ParseMovementState converts a persisted string into a MovementState,
// falling back to the conservative default for unknown values.
func ParseMovementState(raw string) (MovementState, error) {
	s := MovementState(raw)
	if !s.IsValid() {
		return DefaultMovementState, fmt.Errorf("unknown movement state %q", raw)
	}
	return s, nil
}

// StateChangeRecord captures one accepted classifier transition.
// The scheduler consumes these records to decide whether the polling
// subscription needs reconfiguring.
type StateChangeRecord struct {
	From      MovementState `json:"from"`
	To        MovementState `json:"to"`
	Timestamp time.Time     `json:"timestamp"`
}
