// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package config loads and validates the daemon configuration.
//
// Configuration is layered with koanf v2: built-in defaults, then an optional
// YAML file, then environment variables (highest priority). Every numeric
// threshold driving the classifier, scheduler, visit engine, resolver and
// outbox lives here so tuning never requires a rebuild.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the tracking daemon.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Visit      VisitConfig      `koanf:"visit"`
	Geocode    GeocodeConfig    `koanf:"geocode"`
	Outbox     OutboxConfig     `koanf:"outbox"`
}

// LoggingConfig controls the global zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig controls the local HTTP surface consumed by the UI layer.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig controls the badger-backed local state store.
type StoreConfig struct {
	// Path is the badger directory. Empty selects an in-memory store
	// (tests only; nothing survives a restart).
	Path string `koanf:"path"`

	// VisitHistoryLimit bounds the persisted visit history.
	VisitHistoryLimit int `koanf:"visit_history_limit"`
}

// ClassifierConfig holds the movement classifier tuning.
//
// The threshold table is asymmetric on purpose: entering a calmer state
// demands stronger evidence than leaving it, which is what prevents
// oscillation at the boundaries.
type ClassifierConfig struct {
	// BufferSize is the speed-sample ring buffer capacity.
	BufferSize int `koanf:"buffer_size"`

	// MinSamples is the minimum number of buffered samples before any
	// transition out of the current state is considered.
	MinSamples int `koanf:"min_samples"`

	// StabilityWindow is the minimum dwell time in a state before the
	// next transition is accepted.
	StabilityWindow time.Duration `koanf:"stability_window"`

	// Threshold table, all in km/h.
	FastToSlowAvgMax  float64 `koanf:"fast_to_slow_avg_max"`
	FastToSlowPeakMax float64 `koanf:"fast_to_slow_peak_max"`

	ToStationaryAvgMax  float64 `koanf:"to_stationary_avg_max"`
	ToStationaryPeakMax float64 `koanf:"to_stationary_peak_max"`

	SlowToFastAvgMin   float64 `koanf:"slow_to_fast_avg_min"`
	SlowToFastFloorMin float64 `koanf:"slow_to_fast_floor_min"`

	StationaryToSlowAvgMin   float64 `koanf:"stationary_to_slow_avg_min"`
	StationaryToSlowFloorMin float64 `koanf:"stationary_to_slow_floor_min"`

	StationaryToFastAvgMin   float64 `koanf:"stationary_to_fast_avg_min"`
	StationaryToFastFloorMin float64 `koanf:"stationary_to_fast_floor_min"`
}

// SchedulerConfig holds the adaptive polling profiles per movement state.
type SchedulerConfig struct {
	// SettleDelay is the pause between stopping one subscription and
	// starting its replacement. Platform location stacks misbehave when
	// stop and start overlap.
	SettleDelay time.Duration `koanf:"settle_delay"`

	Stationary PollProfile `koanf:"stationary"`
	SlowMoving PollProfile `koanf:"slow_moving"`
	FastMoving PollProfile `koanf:"fast_moving"`
}

// PollProfile is one subscription configuration.
type PollProfile struct {
	Interval    time.Duration `koanf:"interval"`
	MinDistance float64       `koanf:"min_distance_meters"`
	Accuracy    string        `koanf:"accuracy"`
}

// VisitConfig holds the visit detection tuning.
type VisitConfig struct {
	// SlowThresholdKmh is the speed at or below which a pending visit
	// may open.
	SlowThresholdKmh float64 `koanf:"slow_threshold_kmh"`

	// StationarityRadius is the max distance in meters from the anchor
	// still considered the same place.
	StationarityRadius float64 `koanf:"stationarity_radius_meters"`

	// MinDuration is the dwell time required to finalize a visit.
	MinDuration time.Duration `koanf:"min_duration"`
}

// GeocodeConfig holds the resolver tuning.
type GeocodeConfig struct {
	CacheSize     int           `koanf:"cache_size"`
	CacheTTL      time.Duration `koanf:"cache_ttl"`
	NearbyRadius  float64       `koanf:"nearby_radius_meters"`
	Timeout       time.Duration `koanf:"timeout"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	RateBurst     int           `koanf:"rate_burst"`

	// Provider base URLs, scheme and host only. Each provider appends
	// its own endpoint path. Both queried concurrently; see resolver
	// docs for the reconciliation rules.
	NominatimURL    string `koanf:"nominatim_url"`
	BigDataCloudURL string `koanf:"bigdatacloud_url"`
}

// OutboxConfig holds the durable sync queue tuning.
type OutboxConfig struct {
	// Path is the badger directory for the queue. Empty selects an
	// in-memory queue (tests only).
	Path string `koanf:"path"`

	APIBaseURL    string        `koanf:"api_base_url"`
	Timeout       time.Duration `koanf:"timeout"`
	MaxRetries    int           `koanf:"max_retries"`
	FlushInterval time.Duration `koanf:"flush_interval"`

	// TokenFile points at a file holding the bearer token, one line.
	// An external refresher may rewrite it; a 401 triggers a re-read.
	TokenFile string `koanf:"token_file"`

	// Breaker settings for the remote API client.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

// Validate checks value ranges after loading. Returns the first violation.
func (c *Config) Validate() error {
	if err := c.validateClassifier(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateVisit(); err != nil {
		return err
	}
	if err := c.validateGeocode(); err != nil {
		return err
	}
	if err := c.validateOutbox(); err != nil {
		return err
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Store.VisitHistoryLimit <= 0 {
		return fmt.Errorf("store.visit_history_limit must be positive")
	}
	return nil
}

func (c *Config) validateClassifier() error {
	cl := c.Classifier
	if cl.BufferSize < cl.MinSamples {
		return fmt.Errorf("classifier.buffer_size %d smaller than min_samples %d", cl.BufferSize, cl.MinSamples)
	}
	if cl.MinSamples < 1 {
		return fmt.Errorf("classifier.min_samples must be positive")
	}
	if cl.StabilityWindow <= 0 {
		return fmt.Errorf("classifier.stability_window must be positive")
	}
	if cl.ToStationaryAvgMax >= cl.StationaryToSlowAvgMin {
		return fmt.Errorf("classifier stationary thresholds overlap: exit avg %f <= enter avg %f required",
			cl.ToStationaryAvgMax, cl.StationaryToSlowAvgMin)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	for _, p := range []struct {
		name    string
		profile PollProfile
	}{
		{"stationary", c.Scheduler.Stationary},
		{"slow_moving", c.Scheduler.SlowMoving},
		{"fast_moving", c.Scheduler.FastMoving},
	} {
		if p.profile.Interval <= 0 {
			return fmt.Errorf("scheduler.%s.interval must be positive", p.name)
		}
		if p.profile.MinDistance < 0 {
			return fmt.Errorf("scheduler.%s.min_distance_meters must not be negative", p.name)
		}
		switch p.profile.Accuracy {
		case "low", "balanced", "high":
		default:
			return fmt.Errorf("scheduler.%s.accuracy %q invalid (low|balanced|high)", p.name, p.profile.Accuracy)
		}
	}
	return nil
}

func (c *Config) validateVisit() error {
	v := c.Visit
	if v.SlowThresholdKmh <= 0 {
		return fmt.Errorf("visit.slow_threshold_kmh must be positive")
	}
	if v.StationarityRadius <= 0 {
		return fmt.Errorf("visit.stationarity_radius_meters must be positive")
	}
	if v.MinDuration <= 0 {
		return fmt.Errorf("visit.min_duration must be positive")
	}
	return nil
}

func (c *Config) validateGeocode() error {
	g := c.Geocode
	if g.CacheSize <= 0 {
		return fmt.Errorf("geocode.cache_size must be positive")
	}
	if g.CacheTTL <= 0 {
		return fmt.Errorf("geocode.cache_ttl must be positive")
	}
	if g.Timeout <= 0 {
		return fmt.Errorf("geocode.timeout must be positive")
	}
	if g.RatePerSecond <= 0 || g.RateBurst < 1 {
		return fmt.Errorf("geocode rate limit must allow at least one request")
	}
	return nil
}

func (c *Config) validateOutbox() error {
	o := c.Outbox
	if o.MaxRetries < 1 {
		return fmt.Errorf("outbox.max_retries must be positive")
	}
	if o.FlushInterval <= 0 {
		return fmt.Errorf("outbox.flush_interval must be positive")
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("outbox.timeout must be positive")
	}
	return nil
}
