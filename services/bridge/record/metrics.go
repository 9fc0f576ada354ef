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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for call cache operations.
var meter = otel.Meter("toolbridge.record")

// Metrics for cache operations.
var (
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
	cacheStores  metric.Int64Counter
	lookupErrors metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"call_cache_hits_total",
			metric.WithDescription("Total number of call cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"call_cache_misses_total",
			metric.WithDescription("Total number of call cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheStores, err = meter.Int64Counter(
			"call_cache_stores_total",
			metric.WithDescription("Total number of call records stored"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lookupErrors, err = meter.Int64Counter(
			"call_cache_lookup_errors_total",
			metric.WithDescription("Total number of failed cache lookups"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCacheHit(ctx context.Context, endpoint string) {
	if initMetrics() != nil {
		return
	}
	cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func recordCacheMiss(ctx context.Context, endpoint string) {
	if initMetrics() != nil {
		return
	}
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func recordCacheStore(ctx context.Context, endpoint string) {
	if initMetrics() != nil {
		return
	}
	cacheStores.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func recordLookupErrors(ctx context.Context, endpoint string) {
	if initMetrics() != nil {
		return
	}
	lookupErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}
