// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package models

import (
	"math"
	"testing"
	"time"
)

func TestFix_SpeedKmh(t *testing.T) {
	mps := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		speed  *float64
		want   float64
		wantOK bool
	}{
		{"nil speed", nil, 0, false},
		{"normal speed", mps(10), 36, true},
		{"negative clamped to zero", mps(-3), 0, true},
		{"NaN clamped to zero", mps(math.NaN()), 0, true},
		{"Inf clamped to zero", mps(math.Inf(1)), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Fix{SpeedMps: tt.speed}
			got, ok := f.SpeedKmh()
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("SpeedKmh() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestFix_SameSample(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Fix{Latitude: 10.5, Longitude: 106.6, Timestamp: ts}
	b := Fix{Latitude: 10.5, Longitude: 106.6, Timestamp: ts}
	c := Fix{Latitude: 10.5, Longitude: 106.6, Timestamp: ts.Add(time.Second)}

	if !a.SameSample(b) {
		t.Error("identical fixes should be the same sample")
	}
	if a.SameSample(c) {
		t.Error("fixes with different timestamps are distinct samples")
	}
}

func TestFix_Validate(t *testing.T) {
	ts := time.Now()
	valid := Fix{Latitude: 45, Longitude: -120, Timestamp: ts}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid fix rejected: %v", err)
	}

	for _, f := range []Fix{
		{Latitude: 91, Longitude: 0, Timestamp: ts},
		{Latitude: 0, Longitude: 181, Timestamp: ts},
		{Latitude: math.NaN(), Longitude: 0, Timestamp: ts},
		{Latitude: 0, Longitude: 0},
	} {
		if err := f.Validate(); err == nil {
			t.Errorf("expected validation error for %+v", f)
		}
	}
}

func TestParseMovementState(t *testing.T) {
	if s, err := ParseMovementState("stationary"); err != nil || s != StateStationary {
		t.Errorf("ParseMovementState(stationary) = %v, %v", s, err)
	}
	s, err := ParseMovementState("warp_speed")
	if err == nil {
		t.Error("expected error for unknown state")
	}
	if s != DefaultMovementState {
		t.Errorf("unknown state should fall back to default, got %v", s)
	}
}

func TestComputeSpeedStats(t *testing.T) {
	samples := []SpeedSample{
		{SpeedKmh: 2},
		{SpeedKmh: 8},
		{SpeedKmh: 5},
	}
	stats := ComputeSpeedStats(samples)
	if stats.MinKmh != 2 || stats.MaxKmh != 8 {
		t.Errorf("min/max = %f/%f, want 2/8", stats.MinKmh, stats.MaxKmh)
	}
	if math.Abs(stats.AvgKmh-5) > 0.001 {
		t.Errorf("avg = %f, want 5", stats.AvgKmh)
	}

	if got := ComputeSpeedStats(nil); got != (SpeedStats{}) {
		t.Errorf("empty stats = %+v, want zero value", got)
	}
}

func TestClassifyVisit(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		avgSpeed float64
		want     VisitType
	}{
		{"long and still", 6 * time.Minute, 0.2, VisitConfirmed},
		{"long but drifting", 6 * time.Minute, 1.0, VisitPotential},
		{"medium dwell", 3 * time.Minute, 0.2, VisitPotential},
		{"short stop", 70 * time.Second, 0.1, VisitBrief},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyVisit(tt.duration, tt.avgSpeed); got != tt.want {
				t.Errorf("ClassifyVisit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVisitConfidence(t *testing.T) {
	if VisitConfidence(VisitConfirmed) != ConfidenceHigh {
		t.Error("confirmed visits carry high confidence")
	}
	if VisitConfidence(VisitPotential) != ConfidenceMedium {
		t.Error("potential visits carry medium confidence")
	}
	if VisitConfidence(VisitBrief) != ConfidenceLow {
		t.Error("brief visits carry low confidence")
	}
}

func TestFallbackGeocode(t *testing.T) {
	g := FallbackGeocode(10.76262, 106.66017)
	if g.Confidence != ConfidenceLow {
		t.Errorf("fallback confidence = %v, want low", g.Confidence)
	}
	if g.Source != "fallback" {
		t.Errorf("fallback source = %q", g.Source)
	}
	if g.Place == "" || g.FormattedAddress == "" {
		t.Error("fallback must carry a coordinate-derived place string")
	}
}

func TestNewVisitEvent(t *testing.T) {
	v := &Visit{Place: "Cafe 96", DurationMs: 90000}
	ev, err := NewVisitEvent(v)
	if err != nil {
		t.Fatalf("NewVisitEvent: %v", err)
	}
	if ev.Kind != EventVisit {
		t.Errorf("kind = %v, want visit", ev.Kind)
	}
	if ev.RetryCount != 0 {
		t.Errorf("new event retry count = %d, want 0", ev.RetryCount)
	}
	if len(ev.Payload) == 0 {
		t.Error("payload must not be empty")
	}
}
