// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package models

import (
	"fmt"
	"math"
	"time"
)

// Fix is one raw GPS sample delivered by the OS location subsystem.
// Fixes are immutable and ordered by timestamp, but duplicate and
// out-of-order delivery is possible and must be tolerated downstream.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// SpeedMps is the GPS-reported ground speed in meters per second.
	// Nil when the platform did not report one.
	SpeedMps *float64 `json:"speed_mps,omitempty"`

	// AccuracyMeters is the reported horizontal accuracy radius.
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// SpeedKmh returns the reported speed converted to km/h.
// Malformed values (negative, NaN, Inf) are clamped to 0; a missing speed
// also reports 0 with ok=false so callers can fall back to derived speed.
func (f Fix) SpeedKmh() (kmh float64, ok bool) {
	if f.SpeedMps == nil {
		return 0, false
	}
	v := *f.SpeedMps
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, true
	}
	return v * 3.6, true
}

// SameSample reports whether two fixes are byte-for-byte the same observation.
// Used to drop duplicate deliveries before they double-count toward visit
// duration.
func (f Fix) SameSample(other Fix) bool {
	return f.Latitude == other.Latitude &&
		f.Longitude == other.Longitude &&
		f.Timestamp.Equal(other.Timestamp)
}

// Validate rejects coordinates outside the WGS84 domain.
func (f Fix) Validate() error {
	if math.IsNaN(f.Latitude) || f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", f.Latitude)
	}
	if math.IsNaN(f.Longitude) || f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", f.Longitude)
	}
	if f.Timestamp.IsZero() {
		return fmt.Errorf("fix has zero timestamp")
	}
	return nil
}

// SpeedSample is one classified speed observation held in the classifier's
// ring buffer.
type SpeedSample struct {
	SpeedKmh  float64   `json:"speed_kmh"`
	Timestamp time.Time `json:"timestamp"`
}
