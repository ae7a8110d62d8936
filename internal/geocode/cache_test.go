// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package geocode

import (
	"fmt"
	"testing"
	"time"

	"github.com/huyhuyhuy8s/journee-tracking/internal/geo"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
)

func cachedResult(place string) models.GeocodeResult {
	return models.GeocodeResult{
		Place:      place,
		Confidence: models.ConfidenceHigh,
		Source:     "test",
	}
}

func TestCacheExactHit(t *testing.T) {
	c := NewCache(8, time.Minute)
	lat, lon := 10.7626, 106.6602
	key := geo.BucketKey(lat, lon)

	if _, ok := c.Get(key); ok {
		t.Fatal("hit on empty cache")
	}
	c.Add(key, lat, lon, cachedResult("Cafe 96"))
	got, ok := c.Get(key)
	if !ok || got.Place != "Cafe 96" {
		t.Errorf("Get = %+v ok=%v", got, ok)
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = %d hits %d misses, want 1/1", hits, misses)
	}
}

func TestCacheNearbyWithinRadius(t *testing.T) {
	c := NewCache(8, time.Minute)
	lat, lon := 10.7626, 106.6602
	c.Add(geo.BucketKey(lat, lon), lat, lon, cachedResult("Cafe 96"))

	// ~10m north lands in a different bucket but inside the 50m radius.
	near := lat + 0.00009
	if _, ok := c.Get(geo.BucketKey(near, lon)); ok {
		t.Fatal("exact hit for a different bucket")
	}
	got, ok := c.Nearby(near, lon, 50)
	if !ok || got.Place != "Cafe 96" {
		t.Errorf("Nearby(10m) = %+v ok=%v, want hit", got, ok)
	}

	// ~100m north is outside the radius.
	far := lat + 0.0009
	if _, ok := c.Nearby(far, lon, 50); ok {
		t.Error("Nearby(100m) hit, want miss")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(3, time.Minute)
	lat, lon := 10.0, 106.0
	for i := 0; i < 3; i++ {
		la := lat + float64(i)
		c.Add(geo.BucketKey(la, lon), la, lon, cachedResult(fmt.Sprintf("p%d", i)))
	}

	// Touch p0 so p1 becomes least recently used.
	if _, ok := c.Get(geo.BucketKey(lat, lon)); !ok {
		t.Fatal("p0 missing")
	}

	la := lat + 3
	c.Add(geo.BucketKey(la, lon), la, lon, cachedResult("p3"))
	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	if _, ok := c.Get(geo.BucketKey(lat+1, lon)); ok {
		t.Error("p1 survived, want evicted")
	}
	if _, ok := c.Get(geo.BucketKey(lat, lon)); !ok {
		t.Error("p0 evicted, want retained")
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	c := NewCache(8, 10*time.Millisecond)
	lat, lon := 10.7626, 106.6602
	key := geo.BucketKey(lat, lon)
	c.Add(key, lat, lon, cachedResult("Cafe 96"))

	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Error("expired entry returned by Get")
	}
	if _, ok := c.Nearby(lat, lon, 50); ok {
		t.Error("expired entry returned by Nearby")
	}
}
