// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package invoke executes logical tool calls against the ToolServer.
//
// The invoker is the retry and classification state machine: it consults
// the call cache first (idempotent replay), otherwise issues the network
// call, classifies the transport outcome into a ToolCallStatusCode, and on
// the transient timeout class honors the server's redirection contract
// within a bounded attempt budget. The retry loop is deliberately not
// exponential backoff; the server decides whether and how a timed-out
// long-running job continues, the client only re-issues what it is told.
//
// Every attempt, hit or miss, persists a CallRecord so that identical
// calls replay deterministically.
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/toolbridge/services/bridge/envelope"
	"github.com/AleutianAI/toolbridge/services/bridge/record"
	"github.com/AleutianAI/toolbridge/services/bridge/registry"
	"github.com/AleutianAI/toolbridge/services/bridge/status"
	"github.com/AleutianAI/toolbridge/services/bridge/toolserver"
)

var tracer = otel.Tracer("toolbridge.invoke")

// ErrServerError signals that the ToolServer itself is unhealthy (HTTP 503).
// It aborts the current tool call outright instead of being returned as a
// per-call status.
var ErrServerError = errors.New("toolserver server error")

const (
	// maxRetries bounds server-directed retries of a timed-out call.
	maxRetries = 10

	// defaultRetryInterval is the fixed wait between retry attempts.
	defaultRetryInterval = 3 * time.Second

	// timeoutExhaustedMessage replaces the raw timeout payload once the
	// retry budget is spent.
	timeoutExhaustedMessage = "Timeout and no content returned! Please check the content you submit!"
)

// Options tune the invoker.
type Options struct {
	// ForceRedo skips the cache fast path and re-issues every call.
	// Cached records are still overwritten with the fresh outcome.
	ForceRedo bool

	// RetryInterval overrides the wait between retry attempts.
	// Zero means the default 3s. Tests set this to a small value.
	RetryInterval time.Duration

	// Logger for retry and cache events. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Invoker executes tool calls with bounded retry and deterministic
// classification.
//
// Thread Safety: safe for concurrent use; all fields are read-only after
// construction and the cache handles its own synchronization.
type Invoker struct {
	client        *toolserver.Client
	cache         record.Cache
	normalizer    *envelope.Normalizer
	registry      *registry.Registry
	logger        *slog.Logger
	forceRedo     bool
	retryInterval time.Duration
}

// New creates an Invoker.
//
// Inputs:
//
//	client - The authenticated ToolServer session.
//	cache - The call cache for idempotent replay.
//	normalizer - Envelope normalizer for tool output payloads.
//	reg - Registry that newly discovered tool schemas are written into.
//	opts - Tuning options.
//
// Outputs:
//
//	*Invoker - Ready for use.
func New(client *toolserver.Client, cache record.Cache, normalizer *envelope.Normalizer, reg *registry.Registry, opts Options) *Invoker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.RetryInterval
	if interval == 0 {
		interval = defaultRetryInterval
	}
	return &Invoker{
		client:        client,
		cache:         cache,
		normalizer:    normalizer,
		registry:      reg,
		logger:        logger,
		forceRedo:     opts.ForceRedo,
		retryInterval: interval,
	}
}

// retryDirective is the structured redirection a timed-out call may carry:
// {"detail": {"type": "retry", "next_calling": <name>, "arguments": <obj>}}.
type retryDirective struct {
	NextCalling string
	Arguments   map[string]any
}

// parseRetryDirective extracts a retry directive from a timeout response
// body, if present.
func parseRetryDirective(result any) (retryDirective, bool) {
	obj, ok := result.(map[string]any)
	if !ok {
		return retryDirective{}, false
	}
	detail, ok := obj["detail"].(map[string]any)
	if !ok {
		return retryDirective{}, false
	}
	if kind, _ := detail["type"].(string); kind != "retry" {
		return retryDirective{}, false
	}
	next, _ := detail["next_calling"].(string)
	args, _ := detail["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	return retryDirective{NextCalling: next, Arguments: args}, true
}

// ExecuteTool executes one logical tool call.
//
// Description:
//
//	Runs the full state machine: cache-or-call, classification, and
//	server-directed retry of the timeout class. Retry attempts are
//	strictly sequential with a fixed 3s interval and are bounded at 10;
//	if the budget is exhausted while still timing out, the returned
//	result is a fixed human-readable failure string rather than the raw
//	timeout payload.
//
// Inputs:
//
//	ctx - Context for cancellation between attempts.
//	name - The tool name to invoke.
//	args - The tool arguments.
//
// Outputs:
//
//	any - The normalized result (or raw body text for error statuses).
//	ToolCallStatusCode - The classified outcome.
//	error - Non-nil only for fatal conditions: ErrServerError on HTTP
//	  503, transport failure, or context cancellation.
func (inv *Invoker) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, status.ToolCallStatusCode, error) {
	ctx, span := tracer.Start(ctx, "Invoker.ExecuteTool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name))
	start := time.Now()

	result, code, err := inv.executeOnce(ctx, name, args)
	if err != nil {
		recordToolCall(ctx, code, time.Since(start))
		return result, code, err
	}

	retries := 0
	for retries < maxRetries && code == status.TimeoutError {
		directive, ok := parseRetryDirective(result)
		if !ok {
			break
		}
		select {
		case <-ctx.Done():
			return result, code, ctx.Err()
		case <-time.After(inv.retryInterval):
		}
		retries++
		inv.logger.Info("honoring toolserver retry directive",
			"next_calling", directive.NextCalling,
			"attempt", retries,
			"max_attempts", maxRetries,
		)
		result, code, err = inv.executeOnce(ctx, directive.NextCalling, directive.Arguments)
		if err != nil {
			recordToolCall(ctx, code, time.Since(start))
			return result, code, err
		}
	}

	if code == status.TimeoutError && retries == maxRetries {
		inv.logger.Warn("retry budget exhausted, call still timing out", "tool", name)
		result = timeoutExhaustedMessage
	}

	span.SetAttributes(attribute.String("tool.status_code", code.String()))
	recordToolCall(ctx, code, time.Since(start))
	return result, code, nil
}

// executeOnce performs a single cache-or-call attempt and classifies it.
func (inv *Invoker) executeOnce(ctx context.Context, name string, args map[string]any) (any, status.ToolCallStatusCode, error) {
	if args == nil {
		args = map[string]any{}
	}
	payload := map[string]any{
		"tool_name": name,
		"arguments": args,
	}

	var (
		output     any
		httpStatus int
		replayed   bool
	)

	if !inv.forceRedo {
		rec, ok, err := inv.cache.Lookup(ctx, "/execute_tool", payload)
		if err != nil {
			// Cold start, no recovery: a corrupt entry behaves as a miss.
			inv.logger.Warn("call cache lookup failed, treating as miss", "error", err.Error())
		} else if ok {
			output = rec.Output
			httpStatus = rec.HTTPStatus
			replayed = true
			inv.logger.Debug("replaying cached tool call", "tool", name)
		}
	}

	if !replayed {
		var body []byte
		var err error
		httpStatus, body, err = inv.client.Post(ctx, "/execute_tool", payload, 0)
		if err != nil {
			return nil, status.OtherError, err
		}

		// Success and server-side timeout both carry a JSON body worth
		// decoding; every other status returns its body verbatim.
		if httpStatus == 200 || httpStatus == status.StatusTimedOut {
			var raw any
			if jsonErr := json.Unmarshal(body, &raw); jsonErr != nil {
				output = string(body)
			} else {
				output = inv.normalizer.Normalize(raw)
			}
		} else {
			output = string(body)
		}
	}

	if err := inv.store(ctx, "/execute_tool", payload, output, httpStatus); err != nil {
		inv.logger.Warn("call record store failed", "error", err.Error())
	}

	code := status.FromHTTPStatus(httpStatus)
	if code == status.ServerError {
		return output, code, fmt.Errorf("%w: %v", ErrServerError, output)
	}
	return output, code, nil
}

// store persists one attempt's record; failures are the caller's to log.
func (inv *Invoker) store(ctx context.Context, endpoint string, payload, output any, httpStatus int) error {
	return inv.cache.Store(ctx, &record.CallRecord{
		ID:         uuid.NewString(),
		Endpoint:   endpoint,
		Payload:    payload,
		Output:     output,
		HTTPStatus: httpStatus,
		CreatedAt:  time.Now().UTC(),
	})
}

// callCached performs a cached infrastructure call (discovery, retrieval,
// schema fetch). These endpoints are cached through the same store as tool
// executions so a replayed session never re-issues them either.
func (inv *Invoker) callCached(ctx context.Context, endpoint string, payload any, timeout time.Duration) (any, error) {
	rec, ok, err := inv.cache.Lookup(ctx, endpoint, payload)
	if err != nil {
		inv.logger.Warn("call cache lookup failed, treating as miss",
			"endpoint", endpoint, "error", err.Error())
	} else if ok {
		return rec.Output, nil
	}

	httpStatus, body, err := inv.client.Post(ctx, endpoint, payload, timeout)
	if err != nil {
		return nil, err
	}
	if httpStatus != 200 {
		return nil, fmt.Errorf("toolserver %s: unexpected status %d", endpoint, httpStatus)
	}

	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	// Some deployments double-encode the body.
	if s, ok := out.(string); ok {
		var nested any
		if err := json.Unmarshal([]byte(s), &nested); err == nil {
			out = nested
		}
	}

	if err := inv.store(ctx, endpoint, payload, out, httpStatus); err != nil {
		inv.logger.Warn("call record store failed", "endpoint", endpoint, "error", err.Error())
	}
	return out, nil
}

// AvailableTools enumerates the server's tools and registers their schemas.
//
// Outputs:
//
//	[]string - Available tool names.
//	[]map[string]any - The tools' JSON schemas, also written into the
//	  registry.
//	error - Transport or decode failure.
func (inv *Invoker) AvailableTools(ctx context.Context) ([]string, []map[string]any, error) {
	out, err := inv.callCached(ctx, "/get_available_tools", map[string]any{}, toolserver.MetadataTimeout())
	if err != nil {
		return nil, nil, fmt.Errorf("fetch available tools: %w", err)
	}
	obj, ok := out.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("fetch available tools: unexpected response shape %T", out)
	}

	names := toStringSlice(obj["available_tools"])
	schemas := toSchemaSlice(obj["tools_json"])
	for _, schema := range schemas {
		inv.registry.RegisterRaw(schema)
	}
	return names, schemas, nil
}

// RetrieveTools performs the embedding-ranked tool lookup and registers the
// returned schemas.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	question - Natural-language description of the needed capability.
//	topK - Number of tools to retrieve.
//
// Outputs:
//
//	[]string - The retrieved tool names.
//	[]map[string]any - Their JSON schemas, also written into the registry.
//	error - Transport or decode failure.
func (inv *Invoker) RetrieveTools(ctx context.Context, question string, topK int) ([]string, []map[string]any, error) {
	payload := map[string]any{
		"question": question,
		"top_k":    topK,
	}
	out, err := inv.callCached(ctx, "/retrieving_tools", payload, toolserver.RetrieveTimeout())
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve tools: %w", err)
	}
	obj, ok := out.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("retrieve tools: unexpected response shape %T", out)
	}

	retrieved := toStringSlice(obj["retrieved_tools"])
	schemas := toSchemaSlice(obj["tools_json"])
	for _, schema := range schemas {
		inv.registry.RegisterRaw(schema)
	}
	return retrieved, schemas, nil
}

// SchemasForTools fetches the JSON schema for named tools and registers it.
//
// Outputs:
//
//	map[string]any - The schema object as returned by the server.
//	error - Transport or decode failure.
func (inv *Invoker) SchemasForTools(ctx context.Context, names []string) (map[string]any, error) {
	payload := map[string]any{"tool_names": names}
	out, err := inv.callCached(ctx, "/get_json_schema_for_tools", payload, toolserver.MetadataTimeout())
	if err != nil {
		return nil, fmt.Errorf("fetch tool schemas: %w", err)
	}
	obj, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("fetch tool schemas: unexpected response shape %T", out)
	}
	inv.registry.RegisterRaw(obj)
	return obj, nil
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toSchemaSlice(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}
