// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
}

func TestDefault_Thresholds(t *testing.T) {
	cfg := Default()

	// Hysteresis: leaving stationary must require more speed than the
	// ceiling for entering it, otherwise the classifier oscillates.
	if cfg.Classifier.StationaryToSlowAvgMin <= cfg.Classifier.ToStationaryAvgMax {
		t.Error("stationary enter/exit thresholds must not overlap")
	}
	if cfg.Classifier.MinSamples < 8 {
		t.Errorf("min_samples = %d, want >= 8", cfg.Classifier.MinSamples)
	}
	if cfg.Classifier.StabilityWindow != 90*time.Second {
		t.Errorf("stability window = %v, want 90s", cfg.Classifier.StabilityWindow)
	}
	if cfg.Visit.StationarityRadius != 50 {
		t.Errorf("stationarity radius = %v, want 50", cfg.Visit.StationarityRadius)
	}
	if cfg.Outbox.MaxRetries != 5 {
		t.Errorf("outbox max retries = %d, want 5", cfg.Outbox.MaxRetries)
	}
}

func TestDefault_GeocodeURLsAreBareHosts(t *testing.T) {
	cfg := Default()

	// Each provider appends its own endpoint path, so a default URL
	// carrying one would double it.
	for name, raw := range map[string]string{
		"nominatim":    cfg.Geocode.NominatimURL,
		"bigdatacloud": cfg.Geocode.BigDataCloudURL,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("%s url %q: %v", name, raw, err)
		}
		if u.Path != "" {
			t.Errorf("%s url %q carries path %q, want bare host", name, raw, u.Path)
		}
	}
}

func TestDefault_SchedulerProfilesOrdered(t *testing.T) {
	cfg := Default()
	s := cfg.Scheduler
	if !(s.Stationary.Interval > s.SlowMoving.Interval && s.SlowMoving.Interval > s.FastMoving.Interval) {
		t.Error("polling intervals must shorten as movement speeds up")
	}
	if !(s.Stationary.MinDistance > s.SlowMoving.MinDistance && s.SlowMoving.MinDistance > s.FastMoving.MinDistance) {
		t.Error("distance filters must tighten as movement speeds up")
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty buffer", func(c *Config) { c.Classifier.BufferSize = 4; c.Classifier.MinSamples = 8 }},
		{"zero stability window", func(c *Config) { c.Classifier.StabilityWindow = 0 }},
		{"overlapping stationary thresholds", func(c *Config) { c.Classifier.ToStationaryAvgMax = 2.0 }},
		{"bad accuracy", func(c *Config) { c.Scheduler.FastMoving.Accuracy = "ultra" }},
		{"zero visit duration", func(c *Config) { c.Visit.MinDuration = 0 }},
		{"zero cache size", func(c *Config) { c.Geocode.CacheSize = 0 }},
		{"zero retries", func(c *Config) { c.Outbox.MaxRetries = 0 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"zero visit history", func(c *Config) { c.Store.VisitHistoryLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_FileAndEnvLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.yaml")
	yaml := `
visit:
  min_duration: 45s
classifier:
  min_samples: 9
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("TRACKER_CLASSIFIER_MIN_SAMPLES", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// File overrides default.
	if cfg.Visit.MinDuration != 45*time.Second {
		t.Errorf("visit.min_duration = %v, want 45s from file", cfg.Visit.MinDuration)
	}
	// Env overrides file.
	if cfg.Classifier.MinSamples != 10 {
		t.Errorf("classifier.min_samples = %d, want 10 from env", cfg.Classifier.MinSamples)
	}
	// Untouched values keep defaults.
	if cfg.Outbox.FlushInterval != 30*time.Second {
		t.Errorf("outbox.flush_interval = %v, want default 30s", cfg.Outbox.FlushInterval)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"TRACKER_LOGGING_LEVEL", "logging.level"},
		{"TRACKER_CLASSIFIER_MIN_SAMPLES", "classifier.min_samples"},
		{"TRACKER_OUTBOX_API_BASE_URL", "outbox.api_base_url"},
		{"TRACKER_SCHEDULER_FAST_MOVING_INTERVAL", "scheduler.fast_moving.interval"},
		{"TRACKER_SCHEDULER_SETTLE_DELAY", "scheduler.settle_delay"},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%s) = %q, want %q", tt.env, got, tt.want)
		}
	}
}
