// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package record

import (
	"context"
	"sync"
)

// MemoryCache is an in-process Cache for tests and ephemeral sessions.
//
// Thread Safety: safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	records map[string]*CallRecord
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{records: make(map[string]*CallRecord)}
}

// Lookup implements Cache.
func (c *MemoryCache) Lookup(ctx context.Context, endpoint string, payload any) (*CallRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key, err := Key(endpoint, payload)
	if err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	rec, ok := c.records[key]
	c.mu.RUnlock()
	if !ok {
		recordCacheMiss(ctx, endpoint)
		return nil, false, nil
	}
	recordCacheHit(ctx, endpoint)
	return rec, true, nil
}

// Store implements Cache.
func (c *MemoryCache) Store(ctx context.Context, rec *CallRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := Key(rec.Endpoint, rec.Payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.records[key] = rec
	c.mu.Unlock()
	recordCacheStore(ctx, rec.Endpoint)
	return nil
}

// Len returns the number of stored records.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

var _ Cache = (*MemoryCache)(nil)
