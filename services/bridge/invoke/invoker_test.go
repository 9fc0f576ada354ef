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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/toolbridge/services/bridge/envelope"
	"github.com/AleutianAI/toolbridge/services/bridge/record"
	"github.com/AleutianAI/toolbridge/services/bridge/registry"
	"github.com/AleutianAI/toolbridge/services/bridge/status"
	"github.com/AleutianAI/toolbridge/services/bridge/toolserver"
)

// toolScript maps a tool name to a scripted HTTP response.
type toolScript struct {
	status int
	body   any
}

// newTestRig spins up a scripted ToolServer and an Invoker wired to it.
func newTestRig(t *testing.T, scripts map[string]toolScript) (*Invoker, *record.MemoryCache, *atomic.Int64) {
	t.Helper()
	var executeCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/get_cookie", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/execute_tool", func(w http.ResponseWriter, r *http.Request) {
		executeCalls.Add(1)
		var req struct {
			ToolName string `json:"tool_name"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		script, ok := scripts[req.ToolName]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("tool not found"))
			return
		}
		w.WriteHeader(script.status)
		if s, isString := script.body.(string); isString {
			w.Write([]byte(s))
			return
		}
		json.NewEncoder(w).Encode(script.body)
	})
	mux.HandleFunc("/get_available_tools", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"available_tools": []string{"WebEnv_browse_website"},
			"tools_json": []map[string]any{
				{"name": "WebEnv_browse_website", "description": "browse", "parameters": map[string]any{"type": "object"}},
			},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := toolserver.Open(context.Background(), toolserver.Config{SelfHosted: true, URL: server.URL})
	require.NoError(t, err)

	cache := record.NewMemoryCache()
	reg := registry.New()
	inv := New(client, cache, envelope.NewNormalizer(t.TempDir(), nil), reg, Options{
		RetryInterval: time.Millisecond,
	})
	return inv, cache, &executeCalls
}

// TestExecuteToolSuccess verifies a 200 with a wrapped envelope comes back
// normalized and classified as success.
func TestExecuteToolSuccess(t *testing.T) {
	inv, _, _ := newTestRig(t, map[string]toolScript{
		"greet": {status: 200, body: map[string]any{"type": "simple", "data": "hello"}},
	})

	out, code, err := inv.ExecuteTool(context.Background(), "greet", map[string]any{"who": "world"})
	require.NoError(t, err)
	assert.Equal(t, status.ToolCallSuccess, code)
	assert.Equal(t, "hello", out)
}

// TestExecuteToolReplaysFromCache verifies an identical call is served from
// the record cache without a second network round trip.
func TestExecuteToolReplaysFromCache(t *testing.T) {
	inv, cache, executeCalls := newTestRig(t, map[string]toolScript{
		"greet": {status: 200, body: map[string]any{"type": "simple", "data": "hello"}},
	})

	args := map[string]any{"who": "world"}
	_, _, err := inv.ExecuteTool(context.Background(), "greet", args)
	require.NoError(t, err)
	out, code, err := inv.ExecuteTool(context.Background(), "greet", args)
	require.NoError(t, err)

	assert.Equal(t, status.ToolCallSuccess, code)
	assert.Equal(t, "hello", out)
	assert.Equal(t, int64(1), executeCalls.Load())
	assert.Equal(t, 1, cache.Len())
}

// TestExecuteToolForceRedo verifies ForceRedo re-issues the call but still
// refreshes the stored record.
func TestExecuteToolForceRedo(t *testing.T) {
	inv, cache, executeCalls := newTestRig(t, map[string]toolScript{
		"greet": {status: 200, body: map[string]any{"type": "simple", "data": "hello"}},
	})
	inv.forceRedo = true

	args := map[string]any{"who": "world"}
	_, _, err := inv.ExecuteTool(context.Background(), "greet", args)
	require.NoError(t, err)
	_, _, err = inv.ExecuteTool(context.Background(), "greet", args)
	require.NoError(t, err)

	assert.Equal(t, int64(2), executeCalls.Load())
	assert.Equal(t, 1, cache.Len()) // same key, overwritten
}

// TestExecuteToolHallucinatedName verifies a 404 is terminal: no retry,
// raw body returned as data.
func TestExecuteToolHallucinatedName(t *testing.T) {
	inv, _, executeCalls := newTestRig(t, map[string]toolScript{})

	out, code, err := inv.ExecuteTool(context.Background(), "made_up_tool", nil)
	require.NoError(t, err)
	assert.Equal(t, status.HallucinateName, code)
	assert.Equal(t, "tool not found", out)
	assert.Equal(t, int64(1), executeCalls.Load())
}

// TestExecuteToolHonorsRetryDirective verifies a 450 carrying a retry
// directive redirects the next attempt to the named call.
func TestExecuteToolHonorsRetryDirective(t *testing.T) {
	inv, _, executeCalls := newTestRig(t, map[string]toolScript{
		"slow_start": {status: status.StatusTimedOut, body: map[string]any{
			"detail": map[string]any{
				"type":         "retry",
				"next_calling": "slow_finish",
				"arguments":    map[string]any{"handle": "job-1"},
			},
		}},
		"slow_finish": {status: 200, body: map[string]any{"type": "simple", "data": "finished"}},
	})

	out, code, err := inv.ExecuteTool(context.Background(), "slow_start", nil)
	require.NoError(t, err)
	assert.Equal(t, status.ToolCallSuccess, code)
	assert.Equal(t, "finished", out)
	assert.Equal(t, int64(2), executeCalls.Load())
}

// TestExecuteToolRetryBudgetExhausted verifies the loop stops after the
// bounded attempts and substitutes the fixed exhaustion message.
func TestExecuteToolRetryBudgetExhausted(t *testing.T) {
	inv, _, executeCalls := newTestRig(t, map[string]toolScript{
		"stuck": {status: status.StatusTimedOut, body: map[string]any{
			"detail": map[string]any{
				"type":         "retry",
				"next_calling": "stuck",
				"arguments":    map[string]any{},
			},
		}},
	})
	// Identical redirected payloads would replay from cache; force the
	// network path so every attempt reaches the server.
	inv.forceRedo = true

	out, code, err := inv.ExecuteTool(context.Background(), "stuck", map[string]any{"seed": 1})
	require.NoError(t, err)
	assert.Equal(t, status.TimeoutError, code)
	assert.Equal(t, timeoutExhaustedMessage, out)
	assert.Equal(t, int64(1+maxRetries), executeCalls.Load())
}

// TestExecuteToolTimeoutWithoutDirective verifies a 450 with no directive
// is returned as-is with no retry.
func TestExecuteToolTimeoutWithoutDirective(t *testing.T) {
	inv, _, executeCalls := newTestRig(t, map[string]toolScript{
		"slow": {status: status.StatusTimedOut, body: map[string]any{"partial": "output"}},
	})

	out, code, err := inv.ExecuteTool(context.Background(), "slow", nil)
	require.NoError(t, err)
	assert.Equal(t, status.TimeoutError, code)
	assert.Equal(t, map[string]any{"partial": "output"}, out)
	assert.Equal(t, int64(1), executeCalls.Load())
}

// TestExecuteToolServerErrorIsFatal verifies a 503 raises ErrServerError
// instead of returning a per-call status.
func TestExecuteToolServerErrorIsFatal(t *testing.T) {
	inv, _, _ := newTestRig(t, map[string]toolScript{
		"anything": {status: http.StatusServiceUnavailable, body: "maintenance"},
	})

	_, code, err := inv.ExecuteTool(context.Background(), "anything", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, status.ServerError, code)
}

// TestExecuteToolContextCancellation verifies cancellation between retry
// attempts aborts the loop.
func TestExecuteToolContextCancellation(t *testing.T) {
	inv, _, _ := newTestRig(t, map[string]toolScript{
		"stuck": {status: status.StatusTimedOut, body: map[string]any{
			"detail": map[string]any{"type": "retry", "next_calling": "stuck", "arguments": map[string]any{}},
		}},
	})
	inv.retryInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := inv.ExecuteTool(ctx, "stuck", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestAvailableTools verifies discovery registers the returned schemas and
// replays from cache on the second call.
func TestAvailableTools(t *testing.T) {
	inv, cache, _ := newTestRig(t, nil)

	names, schemas, err := inv.AvailableTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"WebEnv_browse_website"}, names)
	require.Len(t, schemas, 1)

	schema, ok := inv.registry.Get("WebEnv_browse_website")
	require.True(t, ok)
	assert.Equal(t, "browse", schema.Description)
	assert.Equal(t, 1, cache.Len())

	// Second call replays from the record cache.
	names, _, err = inv.AvailableTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"WebEnv_browse_website"}, names)
	assert.Equal(t, 1, cache.Len())
}

// TestParseRetryDirective verifies directive extraction tolerates junk.
func TestParseRetryDirective(t *testing.T) {
	directive, ok := parseRetryDirective(map[string]any{
		"detail": map[string]any{"type": "retry", "next_calling": "next", "arguments": map[string]any{"a": 1.0}},
	})
	require.True(t, ok)
	assert.Equal(t, "next", directive.NextCalling)
	assert.Equal(t, map[string]any{"a": 1.0}, directive.Arguments)

	_, ok = parseRetryDirective("not an object")
	assert.False(t, ok)
	_, ok = parseRetryDirective(map[string]any{"detail": map[string]any{"type": "other"}})
	assert.False(t, ok)
	_, ok = parseRetryDirective(map[string]any{"no_detail": true})
	assert.False(t, ok)
}
