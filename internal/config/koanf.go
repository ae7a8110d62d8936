// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in priority order.
var DefaultConfigPaths = []string{
	"tracker.yaml",
	"tracker.yml",
	"/etc/journee/tracker.yaml",
	"/etc/journee/tracker.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "TRACKER_CONFIG"

// envPrefix scopes which environment variables the loader consumes.
const envPrefix = "TRACKER_"

// Default returns a Config with every component's built-in defaults:
// classifier hysteresis table, scheduler polling profiles, visit debounce
// windows, resolver cache bounds and outbox retry policy.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    8479,
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Path:              "/data/journee/state",
			VisitHistoryLimit: 100,
		},
		Classifier: ClassifierConfig{
			BufferSize:      12,
			MinSamples:      8,
			StabilityWindow: 90 * time.Second,

			FastToSlowAvgMax:  3.0,
			FastToSlowPeakMax: 6.0,

			ToStationaryAvgMax:  0.5,
			ToStationaryPeakMax: 2.0,

			SlowToFastAvgMin:   6.0,
			SlowToFastFloorMin: 4.0,

			StationaryToSlowAvgMin:   1.5,
			StationaryToSlowFloorMin: 0.5,

			StationaryToFastAvgMin:   5.0,
			StationaryToFastFloorMin: 3.0,
		},
		Scheduler: SchedulerConfig{
			SettleDelay: 500 * time.Millisecond,
			Stationary: PollProfile{
				Interval:    120 * time.Second,
				MinDistance: 100,
				Accuracy:    "low",
			},
			SlowMoving: PollProfile{
				Interval:    30 * time.Second,
				MinDistance: 25,
				Accuracy:    "balanced",
			},
			FastMoving: PollProfile{
				Interval:    5 * time.Second,
				MinDistance: 5,
				Accuracy:    "high",
			},
		},
		Visit: VisitConfig{
			SlowThresholdKmh:   2.0,
			StationarityRadius: 50,
			MinDuration:        60 * time.Second,
		},
		Geocode: GeocodeConfig{
			CacheSize:       512,
			CacheTTL:        5 * time.Minute,
			NearbyRadius:    50,
			Timeout:         10 * time.Second,
			RatePerSecond:   1,
			RateBurst:       2,
			NominatimURL:    "https://nominatim.openstreetmap.org",
			BigDataCloudURL: "https://api.bigdatacloud.net",
		},
		Outbox: OutboxConfig{
			Path:            "/data/journee/outbox",
			APIBaseURL:      "",
			Timeout:         10 * time.Second,
			MaxRetries:      5,
			FlushInterval:   30 * time.Second,
			TokenFile:       "",
			BreakerFailures: 5,
			BreakerCooldown: 60 * time.Second,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Defaults: Default()
//  2. Config file: optional YAML (TRACKER_CONFIG or DefaultConfigPaths)
//  3. Environment variables: TRACKER_VISIT_MIN_DURATION=90s etc.
//
// Precedence: env > file > defaults. The result is validated before return.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// TRACKER_CLASSIFIER_MIN_SAMPLES -> classifier.min_samples
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps an environment variable name to a koanf path.
// The section name is the first underscore-delimited token after the prefix;
// the remainder keeps its underscores:
//
//	TRACKER_LOGGING_LEVEL            -> logging.level
//	TRACKER_CLASSIFIER_MIN_SAMPLES   -> classifier.min_samples
//	TRACKER_OUTBOX_API_BASE_URL      -> outbox.api_base_url
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	section, rest, found := strings.Cut(key, "_")
	if !found {
		return section
	}

	// Nested scheduler profiles: TRACKER_SCHEDULER_FAST_MOVING_INTERVAL
	// -> scheduler.fast_moving.interval
	if section == "scheduler" {
		for _, profile := range []string{"stationary", "slow_moving", "fast_moving"} {
			prefixed := profile + "_"
			if strings.HasPrefix(rest, prefixed) {
				return section + "." + profile + "." + strings.TrimPrefix(rest, prefixed)
			}
		}
	}

	return section + "." + rest
}
