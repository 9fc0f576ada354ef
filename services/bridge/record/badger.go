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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces call records inside the Badger keyspace.
const keyPrefix = "callrec:"

// BadgerConfig holds configuration for the persistent call cache.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Replay correctness after a crash depends on this; leave it on
	// outside of tests.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults for a persistent cache.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryBadgerConfig returns configuration for testing.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerCache is a Cache backed by an embedded BadgerDB.
//
// Records are stored as JSON values under their (endpoint, payload) key.
// BadgerDB gives low-latency local lookups and survives process restarts,
// which is what makes interrupted-session replay work.
//
// Thread Safety: safe for concurrent use; BadgerDB handles its own
// transaction isolation.
type BadgerCache struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadgerCache opens (or creates) a persistent call cache.
//
// Description:
//
//	Opens a BadgerDB at the configured path, or in memory if InMemory is
//	true. Creates the directory if it doesn't exist.
//
// Inputs:
//
//	cfg - Cache configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*BadgerCache - The opened cache. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func OpenBadgerCache(cfg BadgerConfig) (*BadgerCache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open call cache: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerCache{db: db, logger: logger}, nil
}

// Lookup implements Cache.
func (c *BadgerCache) Lookup(ctx context.Context, endpoint string, payload any) (*CallRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key, err := Key(endpoint, payload)
	if err != nil {
		return nil, false, err
	}

	var rec CallRecord
	found := false
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("decode call record %s: %w", key, err)
			}
			found = true
			return nil
		})
	})
	if err != nil {
		recordLookupErrors(ctx, endpoint)
		return nil, false, err
	}
	if !found {
		recordCacheMiss(ctx, endpoint)
		return nil, false, nil
	}
	recordCacheHit(ctx, endpoint)
	return &rec, true, nil
}

// Store implements Cache.
func (c *BadgerCache) Store(ctx context.Context, rec *CallRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := Key(rec.Endpoint, rec.Payload)
	if err != nil {
		return err
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode call record: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), val)
	})
	if err != nil {
		return fmt.Errorf("store call record: %w", err)
	}
	recordCacheStore(ctx, rec.Endpoint)
	return nil
}

// Close closes the underlying database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

// Sync flushes pending writes to disk. No-op for in-memory caches.
func (c *BadgerCache) Sync() error {
	if c.db.Opts().InMemory {
		return nil
	}
	return c.db.Sync()
}

var _ Cache = (*BadgerCache)(nil)
