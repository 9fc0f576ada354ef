// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package invoke

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/toolbridge/services/bridge/status"
)

// Package-level meter for tool call execution.
var meter = otel.Meter("toolbridge.invoke")

var (
	toolCalls       metric.Int64Counter
	toolCallLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		toolCalls, err = meter.Int64Counter(
			"tool_calls_total",
			metric.WithDescription("Total number of tool call executions by status code"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		toolCallLatency, err = meter.Float64Histogram(
			"tool_call_duration_seconds",
			metric.WithDescription("End-to-end duration of tool call executions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordToolCall(ctx context.Context, code status.ToolCallStatusCode, elapsed time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status_code", code.String()))
	toolCalls.Add(ctx, 1, attrs)
	toolCallLatency.Record(ctx, elapsed.Seconds(), attrs)
}
