// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package api exposes the tracking core over HTTP using the Chi
// router: tracking lifecycle, state and visit queries, sync control,
// fix injection, health and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huyhuyhuy8s/journee-tracking/internal/config"
	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
	"github.com/huyhuyhuy8s/journee-tracking/internal/outbox"
)

// Tracker is the pipeline surface the API serves.
type Tracker interface {
	CurrentState() models.MovementState
	LastStateChange() models.StateChangeRecord
	TrackingActive() bool
	StartTracking() error
	StopTracking() error
	PendingVisit() *models.PendingVisit
	RecentVisits(since time.Time, limit int) ([]models.Visit, error)
	PendingSyncCount() (int, error)
	FlushSync(ctx context.Context) (outbox.FlushStats, error)
}

// FixPusher accepts externally produced fixes.
type FixPusher interface {
	Push(models.Fix) bool
}

// Server serves the tracking HTTP API.
type Server struct {
	cfg     config.ServerConfig
	tracker Tracker
	pusher  FixPusher
	http    *http.Server
}

func NewServer(cfg config.ServerConfig, tracker Tracker, pusher FixPusher) *Server {
	return &Server{cfg: cfg, tracker: tracker, pusher: pusher}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogging)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/visits", s.handleVisits)
		r.Get("/visits/pending", s.handlePendingVisit)
		r.Get("/sync", s.handleSyncStatus)
		r.Post("/sync/flush", s.handleSyncFlush)
		r.Post("/tracking/start", s.handleTrackingStart)
		r.Post("/tracking/stop", s.handleTrackingStop)
		r.Post("/locations", s.handleLocationPush)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully. It
// fits the supervisor's service contract.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.cfg.Addr()).Msg("http server listening")
		errc <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http shutdown")
		}
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

// requestLogging logs each request with duration at debug level.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
