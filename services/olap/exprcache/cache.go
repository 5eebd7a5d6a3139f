// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exprcache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
)

// Store is an optional second tier consulted on a miss.
//
// Only valid entries are written to a Store. Implementations may drop values
// they cannot encode.
type Store interface {
	// Load returns the stored value for key.
	Load(ctx context.Context, key Key) (value any, ok bool, err error)

	// Save writes a valid entry.
	Save(ctx context.Context, key Key, value any) error
}

// Stats is a point-in-time view of a cache.
type Stats struct {
	Valid       int
	Provisional int
	Hits        int64
	Misses      int64
	StoreHits   int64
	Generation  uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore attaches a persistent second tier.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Cache holds expression results in a valid tier and a provisional tier.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	mu          sync.RWMutex
	valid       map[Key]any
	provisional map[Key]any
	generation  uint64

	store  Store
	logger *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	storeHits atomic.Int64
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		valid:       make(map[Key]any),
		provisional: make(map[Key]any),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key.
//
// Description:
//
//	Consults the valid tier, then the provisional tier, then the store. A
//	value found in the store is promoted into the valid tier. A stored empty
//	result is returned as dim.Null, never as a Go nil.
//
// Inputs:
//
//	ctx - Context for metrics and store access.
//	key - The key built by NewKey.
//
// Outputs:
//
//	any - The cached value.
//	bool - False on a miss.
//
// Thread Safety: Safe for concurrent use.
func (c *Cache) Get(ctx context.Context, key Key) (any, bool) {
	c.mu.RLock()
	v, ok := c.valid[key]
	if !ok {
		v, ok = c.provisional[key]
	}
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		recordHit(ctx)
		return v, true
	}

	if c.store != nil {
		sv, found, err := c.store.Load(ctx, key)
		if err != nil {
			c.logger.Warn("expression cache store load failed",
				slog.String("expr", key.expr),
				slog.String("error", err.Error()))
		} else if found {
			c.mu.Lock()
			c.valid[key] = sv
			c.mu.Unlock()
			c.hits.Add(1)
			c.storeHits.Add(1)
			recordHit(ctx)
			return sv, true
		}
	}

	c.misses.Add(1)
	recordMiss(ctx)
	return nil, false
}

// Put records a computed value.
//
// Description:
//
//	A nil value is stored as dim.Null. Valid entries go to the valid tier and
//	are written through to the store; entries computed against placeholder
//	data go to the provisional tier only.
//
// Inputs:
//
//	ctx - Context for metrics and store access.
//	key - The key built by NewKey.
//	value - The computed value.
//	valid - False if the aggregate source missed while computing value.
//
// Thread Safety: Safe for concurrent use.
func (c *Cache) Put(ctx context.Context, key Key, value any, valid bool) {
	if value == nil {
		value = dim.Null
	}
	c.mu.Lock()
	if valid {
		c.valid[key] = value
		delete(c.provisional, key)
	} else {
		c.provisional[key] = value
	}
	c.mu.Unlock()

	if !valid {
		recordProvisionalPut(ctx)
		return
	}
	if c.store != nil {
		if err := c.store.Save(ctx, key, value); err != nil {
			c.logger.Warn("expression cache store save failed",
				slog.String("expr", key.expr),
				slog.String("error", err.Error()))
		}
	}
}

// ClearProvisional drops provisional entries and advances the generation.
//
// Outputs:
//
//	int - Number of entries dropped.
//
// Thread Safety: Safe for concurrent use.
func (c *Cache) ClearProvisional(ctx context.Context) int {
	c.mu.Lock()
	n := len(c.provisional)
	if n > 0 {
		c.provisional = make(map[Key]any)
	}
	c.generation++
	c.mu.Unlock()

	recordEntries(c)
	if n > 0 {
		c.logger.Debug("expression cache provisional entries cleared",
			slog.Int("dropped", n))
	}
	return n
}

// Clear drops every in-memory entry and advances the generation.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.valid = make(map[Key]any)
	c.provisional = make(map[Key]any)
	c.generation++
	c.mu.Unlock()
	recordEntries(c)
}

// Generation returns the number of clears so far.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Len returns the number of in-memory entries in both tiers.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.valid) + len(c.provisional)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	s := Stats{
		Valid:       len(c.valid),
		Provisional: len(c.provisional),
		Generation:  c.generation,
	}
	c.mu.RUnlock()
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	s.StoreHits = c.storeHits.Load()
	return s
}
