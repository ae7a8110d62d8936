// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package main is the entry point for the tracking daemon.
//
// The daemon wires the movement classifier, adaptive scheduler, visit
// engine, geocoding resolver and durable sync queue into a single
// supervised process, then exposes them over a local HTTP API.
//
// Components start in this order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, file, env)
//  2. State store: BadgerDB for classifier, scheduler and visit state
//  3. Sync queue: BadgerDB-backed outbox with a circuit-broken client
//  4. Geocoding: Nominatim and BigDataCloud behind a shared rate limit
//  5. Fix source: HTTP push (default) or NDJSON replay (-replay)
//  6. Supervisor tree: pipeline, flush loop and HTTP server
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context. The supervisor stops its
// services, the pipeline finalizes any pending visit, and the stores
// close cleanly.
//
// # Example Usage
//
// Live tracking with a push source:
//
//	export TRACKER_OUTBOX_API_BASE_URL=https://api.example.com
//	export TRACKER_OUTBOX_TOKEN_FILE=/run/secrets/tracker-token
//	./trackerd
//
// Replaying a recorded trace:
//
//	./trackerd -replay trace.ndjson -replay-tick 100ms
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/huyhuyhuy8s/journee-tracking/internal/api"
	"github.com/huyhuyhuy8s/journee-tracking/internal/classifier"
	"github.com/huyhuyhuy8s/journee-tracking/internal/config"
	"github.com/huyhuyhuy8s/journee-tracking/internal/geocode"
	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/outbox"
	"github.com/huyhuyhuy8s/journee-tracking/internal/pipeline"
	"github.com/huyhuyhuy8s/journee-tracking/internal/scheduler"
	"github.com/huyhuyhuy8s/journee-tracking/internal/source"
	"github.com/huyhuyhuy8s/journee-tracking/internal/store"
	"github.com/huyhuyhuy8s/journee-tracking/internal/supervisor"
	"github.com/huyhuyhuy8s/journee-tracking/internal/visit"
)

func main() {
	replayPath := flag.String("replay", "", "replay fixes from an NDJSON trace instead of the push source")
	replayTick := flag.Duration("replay-tick", 100*time.Millisecond, "delay between replayed fixes")
	autoStart := flag.Bool("auto-start", false, "begin tracking immediately instead of waiting for the API")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Str("listen", cfg.Server.Addr()).
		Bool("sync_enabled", cfg.Outbox.APIBaseURL != "").
		Msg("Starting tracking daemon")

	st, err := store.Open(cfg.Store.Path, cfg.Store.VisitHistoryLimit)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open state store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing state store")
		}
	}()

	queue, err := outbox.OpenQueue(cfg.Outbox.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open sync queue")
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing sync queue")
		}
	}()

	client := outbox.NewAPIClient(
		cfg.Outbox.APIBaseURL,
		cfg.Outbox.Timeout,
		cfg.Outbox.BreakerFailures,
		cfg.Outbox.BreakerCooldown,
	)
	tokens := outbox.NewFileTokens(cfg.Outbox.TokenFile)
	ob := outbox.New(queue, client, tokens, cfg.Outbox.MaxRetries)

	// Both geocoding providers share one limiter so the combined
	// outbound rate stays polite regardless of fan-out.
	limiter := rate.NewLimiter(rate.Limit(cfg.Geocode.RatePerSecond), cfg.Geocode.RateBurst)
	resolver := geocode.NewResolver(cfg.Geocode,
		geocode.NewNominatimProvider(cfg.Geocode.NominatimURL, limiter, cfg.Geocode.Timeout),
		geocode.NewBigDataCloudProvider(cfg.Geocode.BigDataCloudURL, limiter, cfg.Geocode.Timeout),
	)

	var (
		locSource scheduler.LocationSource
		pusher    api.FixPusher
	)
	if *replayPath != "" {
		replay, err := source.LoadReplay(*replayPath, *replayTick)
		if err != nil {
			logging.Fatal().Err(err).Str("path", *replayPath).Msg("Failed to load replay trace")
		}
		locSource = replay
		logging.Info().Str("path", *replayPath).Dur("tick", *replayTick).Msg("Replay source enabled")
	} else {
		push := source.NewPushSource()
		locSource = push
		pusher = push
	}

	class := classifier.New(cfg.Classifier, st)
	sched := scheduler.New(cfg.Scheduler, locSource, st)
	visits := visit.New(cfg.Visit, resolver, st)
	tracker := pipeline.New(cfg, st, class, sched, visits, ob)

	server := api.NewServer(cfg.Server, tracker, pusher)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddTrackingService(supervisor.NewPipelineService(tracker))
	tree.AddSyncService(supervisor.NewFlushService(ob, cfg.Outbox.FlushInterval))
	tree.AddAPIService(supervisor.NewAPIService(server))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *autoStart {
		if err := tracker.StartTracking(); err != nil {
			logging.Error().Err(err).Msg("Auto-start failed; waiting for API request")
		}
	}

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor tree exited")
	}
	logging.Info().Msg("Tracking daemon stopped")
}
