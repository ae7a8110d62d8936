// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package supervisor

import (
	"context"
	"time"

	"github.com/huyhuyhuy8s/journee-tracking/internal/api"
	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/outbox"
	"github.com/huyhuyhuy8s/journee-tracking/internal/pipeline"
)

// PipelineService runs the fix pipeline under supervision.
type PipelineService struct {
	tracker *pipeline.Tracker
}

// NewPipelineService wraps a tracker as a suture.Service.
func NewPipelineService(tracker *pipeline.Tracker) *PipelineService {
	return &PipelineService{tracker: tracker}
}

// Serve implements suture.Service.
func (s *PipelineService) Serve(ctx context.Context) error {
	logging.Info().Msg("starting fix pipeline")
	err := s.tracker.Run(ctx)
	if ctx.Err() != nil {
		logging.Info().Msg("fix pipeline stopped")
		return nil
	}
	return err
}

// FlushService periodically flushes the outbound sync queue.
type FlushService struct {
	outbox   *outbox.Outbox
	interval time.Duration
}

// NewFlushService wraps the outbox flush loop as a suture.Service.
func NewFlushService(ob *outbox.Outbox, interval time.Duration) *FlushService {
	return &FlushService{outbox: ob, interval: interval}
}

// Serve implements suture.Service.
func (s *FlushService) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("starting sync flush loop")
	err := s.outbox.Run(ctx, s.interval)
	if ctx.Err() != nil {
		logging.Info().Msg("sync flush loop stopped")
		return nil
	}
	return err
}

// APIService runs the HTTP server under supervision.
type APIService struct {
	server *api.Server
}

// NewAPIService wraps an HTTP server as a suture.Service.
func NewAPIService(server *api.Server) *APIService {
	return &APIService{server: server}
}

// Serve implements suture.Service.
func (s *APIService) Serve(ctx context.Context) error {
	err := s.server.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
