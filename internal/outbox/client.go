// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package outbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
)

// ErrBreakerOpen is returned when the circuit breaker refuses a request.
// Callers treat it like a network failure: items stay queued.
var ErrBreakerOpen = errors.New("outbox: circuit breaker open")

// TokenStore supplies the bearer credential for the remote API.
type TokenStore interface {
	// Token returns the current credential, or empty when none exists.
	Token(ctx context.Context) (string, error)

	// Refresh obtains a new credential after a 401.
	Refresh(ctx context.Context) (string, error)
}

// Sender delivers a single payload to the remote API.
type Sender interface {
	Post(ctx context.Context, path string, payload json.RawMessage, token string) (int, error)
}

// APIClient posts events to the tracking backend with a circuit breaker
// in front. Consecutive transport failures open the circuit so an
// offline device stops hammering the network until the cooldown passes.
type APIClient struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[int]
}

// NewAPIClient builds a client for the given base URL. The breaker
// opens after failureThreshold consecutive failures and probes again
// after cooldown.
func NewAPIClient(baseURL string, timeout time.Duration, failureThreshold uint32, cooldown time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        "tracking-api",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cb:      cb,
	}
}

// Post sends payload to baseURL+path and returns the HTTP status code.
// A non-nil error means the request never produced a status (transport
// failure or open breaker). HTTP-level rejections return the status
// with a nil error; the breaker counts 5xx as failures too.
func (c *APIClient) Post(ctx context.Context, path string, payload json.RawMessage, token string) (int, error) {
	status, err := c.cb.Execute(func() (int, error) {
		st, reqErr := c.do(ctx, path, payload, token)
		if reqErr != nil {
			return 0, reqErr
		}
		if st >= 500 {
			return st, fmt.Errorf("server status %d", st)
		}
		return st, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, ErrBreakerOpen
		}
		if status >= 500 {
			// The breaker counted the failure; the caller still wants
			// the status for its retry taxonomy.
			return status, nil
		}
		return 0, err
	}
	return status, nil
}

func (c *APIClient) do(ctx context.Context, path string, payload json.RawMessage, token string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
