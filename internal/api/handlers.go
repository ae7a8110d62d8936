// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
	"github.com/huyhuyhuy8s/journee-tracking/internal/pipeline"
	"github.com/huyhuyhuy8s/journee-tracking/internal/scheduler"
	"github.com/huyhuyhuy8s/journee-tracking/internal/validation"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: apiError{Code: code, Message: message}})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type stateResponse struct {
	State          models.MovementState      `json:"state"`
	TrackingActive bool                      `json:"tracking_active"`
	LastChange     *models.StateChangeRecord `json:"last_change,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		State:          s.tracker.CurrentState(),
		TrackingActive: s.tracker.TrackingActive(),
	}
	if lc := s.tracker.LastStateChange(); !lc.Timestamp.IsZero() {
		resp.LastChange = &lc
	}
	respondJSON(w, http.StatusOK, resp)
}

type visitsResponse struct {
	Visits []models.Visit `json:"visits"`
}

func (s *Server) handleVisits(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "since must be an RFC 3339 timestamp")
			return
		}
		since = ts
	}
	visits, err := s.tracker.RecentVisits(since, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to read visit history")
		return
	}
	if visits == nil {
		visits = []models.Visit{}
	}
	respondJSON(w, http.StatusOK, visitsResponse{Visits: visits})
}

func (s *Server) handlePendingVisit(w http.ResponseWriter, r *http.Request) {
	pv := s.tracker.PendingVisit()
	if pv == nil {
		respondJSON(w, http.StatusOK, map[string]any{"pending": nil})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pending": pv})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	n, err := s.tracker.PendingSyncCount()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to read sync queue")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"pending": n})
}

func (s *Server) handleSyncFlush(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tracker.FlushSync(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "SYNC_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{
		"sent":     stats.Sent,
		"dropped":  stats.Dropped,
		"retained": stats.Retained,
	})
}

func (s *Server) handleTrackingStart(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.StartTracking(); err != nil {
		if errors.Is(err, scheduler.ErrPermissionDenied) {
			respondError(w, http.StatusForbidden, "PERMISSION_DENIED", "location permission denied")
			return
		}
		respondError(w, http.StatusInternalServerError, "TRACKING_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"tracking_active": true})
}

func (s *Server) handleTrackingStop(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.StopTracking(); err != nil {
		if errors.Is(err, pipeline.ErrNotStarted) {
			respondError(w, http.StatusConflict, "NOT_TRACKING", "tracking is not active")
			return
		}
		respondError(w, http.StatusInternalServerError, "TRACKING_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"tracking_active": false})
}

// locationRequest is the fix injection payload. Coordinates are
// pointers so zero values are distinguishable from missing fields.
type locationRequest struct {
	Latitude  *float64   `json:"latitude" validate:"required,latitude"`
	Longitude *float64   `json:"longitude" validate:"required,longitude"`
	SpeedMps  *float64   `json:"speed_mps" validate:"omitempty,min=0"`
	AccuracyM *float64   `json:"accuracy_m" validate:"omitempty,min=0"`
	Timestamp *time.Time `json:"timestamp"`
}

func (s *Server) handleLocationPush(w http.ResponseWriter, r *http.Request) {
	if s.pusher == nil {
		respondError(w, http.StatusNotImplemented, "NO_PUSH_SOURCE", "fix injection is not enabled")
		return
	}

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body is not valid JSON")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	fix := models.Fix{
		Latitude:       *req.Latitude,
		Longitude:      *req.Longitude,
		SpeedMps:       req.SpeedMps,
		AccuracyMeters: req.AccuracyM,
		Timestamp:      ts,
	}

	accepted := s.pusher.Push(fix)
	respondJSON(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
}
