// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package geocode resolves coordinates to human-readable places. The
// resolver layers an LRU cache with a proximity scan over concurrent
// provider queries, deduplicates in-flight lookups for the same
// coordinate bucket, and always produces a usable result, degrading to
// a formatted coordinate string when every provider fails.
package geocode

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/huyhuyhuy8s/journee-tracking/internal/config"
	"github.com/huyhuyhuy8s/journee-tracking/internal/geo"
	"github.com/huyhuyhuy8s/journee-tracking/internal/logging"
	"github.com/huyhuyhuy8s/journee-tracking/internal/metrics"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
)

// ProviderStats counts lookup outcomes per provider.
type ProviderStats struct {
	Successes int64
	Failures  int64
}

// Resolver coordinates cache, dedup and provider fan-out.
type Resolver struct {
	cache        *Cache
	providers    []Provider
	nearbyRadius float64
	timeout      time.Duration

	flight singleflight.Group

	statsMu sync.RWMutex
	stats   map[string]*ProviderStats
}

// NewResolver builds a resolver over the given providers. Providers are
// queried concurrently; order only breaks confidence ties.
func NewResolver(cfg config.GeocodeConfig, providers ...Provider) *Resolver {
	r := &Resolver{
		cache:        NewCache(cfg.CacheSize, cfg.CacheTTL),
		providers:    providers,
		nearbyRadius: cfg.NearbyRadius,
		timeout:      cfg.Timeout,
		stats:        make(map[string]*ProviderStats, len(providers)),
	}
	for _, p := range providers {
		r.stats[p.Name()] = &ProviderStats{}
	}
	return r
}

// Resolve returns place information for the coordinates. It never
// returns an error; a total provider outage yields a low-confidence
// coordinate fallback, which is not cached so the next call retries.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64) models.GeocodeResult {
	bucket := geo.BucketKey(lat, lon)

	if cached, ok := r.cache.Get(bucket); ok {
		metrics.GeocodeCacheHits.Inc()
		return cached
	}
	if cached, ok := r.cache.Nearby(lat, lon, r.nearbyRadius); ok {
		metrics.GeocodeCacheHits.Inc()
		return cached
	}
	metrics.GeocodeCacheMisses.Inc()

	v, _, _ := r.flight.Do(bucket, func() (interface{}, error) {
		result, ok := r.query(ctx, lat, lon)
		if ok {
			r.cache.Add(bucket, lat, lon, result)
		}
		return result, nil
	})
	return v.(models.GeocodeResult)
}

// CacheStats returns cumulative cache hit and miss counts.
func (r *Resolver) CacheStats() (hits, misses int64) {
	return r.cache.Stats()
}

// Stats returns a copy of per-provider outcome counts.
func (r *Resolver) Stats() map[string]ProviderStats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	out := make(map[string]ProviderStats, len(r.stats))
	for name, s := range r.stats {
		out[name] = ProviderStats{
			Successes: atomic.LoadInt64(&s.Successes),
			Failures:  atomic.LoadInt64(&s.Failures),
		}
	}
	return out
}

type providerAnswer struct {
	index  int
	result *models.GeocodeResult
	err    error
}

// query fans out to all providers and reconciles their answers. The
// boolean reports whether the result came from a real provider rather
// than the coordinate fallback.
func (r *Resolver) query(ctx context.Context, lat, lon float64) (models.GeocodeResult, bool) {
	if len(r.providers) == 0 {
		return *models.FallbackGeocode(lat, lon), false
	}

	queryCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	answers := make(chan providerAnswer, len(r.providers))
	for i, p := range r.providers {
		go func(i int, p Provider) {
			result, err := p.ReverseGeocode(queryCtx, lat, lon)
			if err != nil {
				atomic.AddInt64(&r.mustStats(p.Name()).Failures, 1)
				metrics.GeocodeLookups.WithLabelValues(p.Name(), "error").Inc()
				logging.Debug().Err(err).Str("provider", p.Name()).Msg("reverse geocode failed")
			} else {
				atomic.AddInt64(&r.mustStats(p.Name()).Successes, 1)
				metrics.GeocodeLookups.WithLabelValues(p.Name(), "ok").Inc()
			}
			answers <- providerAnswer{index: i, result: result, err: err}
		}(i, p)
	}

	collected := make([]*models.GeocodeResult, len(r.providers))
	for range r.providers {
		a := <-answers
		if a.err == nil {
			collected[a.index] = a.result
		}
	}

	best := reconcile(collected)
	if best == nil {
		logging.Warn().
			Float64("lat", lat).
			Float64("lon", lon).
			Msg("all geocoding providers failed, using coordinate fallback")
		return *models.FallbackGeocode(lat, lon), false
	}
	return *best, true
}

// reconcile picks the most specific answer: POI results beat
// administrative ones, then higher confidence, then provider order.
func reconcile(results []*models.GeocodeResult) *models.GeocodeResult {
	var best *models.GeocodeResult
	for _, r := range results {
		if r == nil {
			continue
		}
		if best == nil || better(r, best) {
			best = r
		}
	}
	return best
}

func better(a, b *models.GeocodeResult) bool {
	if a.POI != b.POI {
		return a.POI
	}
	return confidenceRank(a.Confidence) > confidenceRank(b.Confidence)
}

func confidenceRank(c models.Confidence) int {
	switch c {
	case models.ConfidenceHigh:
		return 3
	case models.ConfidenceMedium:
		return 2
	default:
		return 1
	}
}

func (r *Resolver) mustStats(name string) *ProviderStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	s, ok := r.stats[name]
	if !ok {
		s = &ProviderStats{}
		r.stats[name] = s
	}
	return s
}
