// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package store

import (
	"sync"
	"time"

	"github.com/formetric/formetric/internal/catalog"
	"github.com/formetric/formetric/internal/metrics"
)

// materialEntry is a node of the material cache's doubly-linked list.
type materialEntry struct {
	key       string
	value     catalog.Material
	prev      *materialEntry
	next      *materialEntry
	expiresAt time.Time
}

// MaterialCache is a thread-safe LRU cache over catalog records with
// TTL and explicit invalidation. Lookups that would otherwise hit the
// database during vectorization go through here.
//
// A doubly-linked list keeps access order and a map gives O(1) lookup;
// head.next is the most recently used entry.
type MaterialCache struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration

	items map[string]*materialEntry
	head  *materialEntry
	tail  *materialEntry
}

// NewMaterialCache creates a cache with the given capacity and TTL.
func NewMaterialCache(capacity int, ttl time.Duration) *MaterialCache {
	if capacity <= 0 {
		capacity = 4096
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	c := &MaterialCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*materialEntry, capacity),
		head:     &materialEntry{},
		tail:     &materialEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the cached material for a code. Expired entries are
// removed lazily.
func (c *MaterialCache) Get(code string) (catalog.Material, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[code]
	if !ok {
		metrics.CatalogCacheHits.WithLabelValues("miss").Inc()
		return catalog.Material{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeEntry(entry)
		metrics.CatalogCacheHits.WithLabelValues("expired").Inc()
		return catalog.Material{}, false
	}
	c.moveToFront(entry)
	metrics.CatalogCacheHits.WithLabelValues("hit").Inc()
	return entry.value, true
}

// Add inserts or refreshes a material, evicting the least recently
// used entry when over capacity.
func (c *MaterialCache) Add(m catalog.Material) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	if entry, ok := c.items[m.Code]; ok {
		entry.value = m
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return
	}

	entry := &materialEntry{key: m.Code, value: m, expiresAt: expiresAt}
	c.addToFront(entry)
	c.items[m.Code] = entry

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Invalidate removes one code; it is called when a material record is
// updated upstream. Returns true when the entry existed.
func (c *MaterialCache) Invalidate(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[code]; ok {
		c.removeEntry(entry)
		return true
	}
	return false
}

// Clear drops every entry, used after a full catalog reload.
func (c *MaterialCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*materialEntry, c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Len returns the live entry count.
func (c *MaterialCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Internal methods, called with the lock held.

func (c *MaterialCache) addToFront(entry *materialEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *MaterialCache) moveToFront(entry *materialEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *MaterialCache) removeEntry(entry *materialEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}

func (c *MaterialCache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
}
