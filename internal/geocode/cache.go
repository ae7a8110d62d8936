// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package geocode

import (
	"sync"
	"time"

	"github.com/huyhuyhuy8s/journee-tracking/internal/geo"
	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
)

// cacheEntry is a node in the LRU list. Coordinates are retained so a
// lookup can match entries physically near the query point even when
// the bucket key differs.
type cacheEntry struct {
	key       string
	lat, lon  float64
	value     models.GeocodeResult
	prev      *cacheEntry
	next      *cacheEntry
	expiresAt time.Time
}

// Cache is a thread-safe LRU cache of geocoding results with TTL and a
// proximity scan. It uses a doubly-linked list for ordering and a map
// for O(1) lookups.
type Cache struct {
	mu sync.RWMutex

	capacity int
	ttl      time.Duration

	items map[string]*cacheEntry

	// head.next is most recently used, tail.prev least recently used.
	head *cacheEntry
	tail *cacheEntry

	hits   int64
	misses int64
}

// NewCache creates a cache holding at most capacity entries, each valid
// for ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 512
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*cacheEntry, capacity),
		head:     &cacheEntry{},
		tail:     &cacheEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the cached result for an exact bucket key.
func (c *Cache) Get(key string) (models.GeocodeResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		c.misses++
		return models.GeocodeResult{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeEntry(entry)
		c.misses++
		return models.GeocodeResult{}, false
	}
	c.moveToFront(entry)
	c.hits++
	return entry.value, true
}

// Nearby returns any non-expired entry within radiusMeters of the given
// point. Entries in adjacent buckets routinely land within a few meters
// of each other, so this avoids re-querying providers for what is
// effectively the same place.
func (c *Cache) Nearby(lat, lon, radiusMeters float64) (models.GeocodeResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for e := c.head.next; e != c.tail; e = e.next {
		if now.After(e.expiresAt) {
			continue
		}
		if geo.DistanceMeters(lat, lon, e.lat, e.lon) <= radiusMeters {
			c.moveToFront(e)
			c.hits++
			return e.value, true
		}
	}
	c.misses++
	return models.GeocodeResult{}, false
}

// Add inserts or refreshes an entry, evicting the least recently used
// entry at capacity.
func (c *Cache) Add(key string, lat, lon float64, value models.GeocodeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		entry.value = value
		entry.lat, entry.lon = lat, lon
		entry.expiresAt = time.Now().Add(c.ttl)
		c.moveToFront(entry)
		return
	}

	if len(c.items) >= c.capacity {
		if lru := c.tail.prev; lru != c.head {
			c.removeEntry(lru)
		}
	}

	entry := &cacheEntry{
		key:       key,
		lat:       lat,
		lon:       lon,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.items[key] = entry
	c.pushFront(entry)
}

// Len returns the number of entries, including any not yet lazily
// expired.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *Cache) pushFront(e *cacheEntry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *Cache) moveToFront(e *cacheEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.pushFront(e)
}

func (c *Cache) removeEntry(e *cacheEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}
