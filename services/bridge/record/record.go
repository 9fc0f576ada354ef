// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package record persists tool call records for deterministic replay.
//
// Every ToolServer exchange is stored as a CallRecord keyed by
// (endpoint, payload). A later lookup with the same key returns the stored
// record, so a crashed or interrupted reasoning session can resume without
// re-issuing network calls. The cache is a monotonic append/lookup store:
// entries never expire and are never evicted by this subsystem.
package record

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// CallRecord is one cacheable unit of work: a request to a ToolServer
// endpoint and the response it produced.
type CallRecord struct {
	// ID uniquely identifies the record (informational only; the cache
	// key is derived from Endpoint and Payload).
	ID string `json:"id"`

	// Endpoint is the logical endpoint identifier, e.g.
	// "/execute_tool" or the pseudo endpoint "ask_human".
	Endpoint string `json:"endpoint"`

	// Payload is the request body as sent, decoded form.
	Payload any `json:"payload"`

	// Output is the response payload, post-normalization for tool
	// executions, verbatim for infrastructure calls.
	Output any `json:"tool_output"`

	// HTTPStatus is the transport status of the original exchange.
	// Records without a transport exchange (human help) carry 200.
	HTTPStatus int `json:"response_status_code"`

	// CreatedAt is when the record was stored.
	CreatedAt time.Time `json:"created_at"`
}

// Cache is the narrow contract the invocation core requires from the
// replay store.
//
// The contract guarantees that a prior Store for a given
// (endpoint, payload) key is found by a later Lookup with the same key.
// Implementations must be safe for interleaved reads with single-writer
// semantics from this subsystem.
type Cache interface {
	// Lookup returns the record stored for (endpoint, payload), or
	// ok=false if none exists. A lookup failure (corrupt entry,
	// unreadable store) is returned as an error; callers treat it as a
	// cold start, not something to repair.
	Lookup(ctx context.Context, endpoint string, payload any) (rec *CallRecord, ok bool, err error)

	// Store persists the record under its (endpoint, payload) key,
	// overwriting any prior entry for the same key.
	Store(ctx context.Context, rec *CallRecord) error
}

// Key computes the deterministic cache key for an endpoint and payload.
//
// Description:
//
//	The key is a pure function of the request: identical requests always
//	hit the same cache slot. The payload is serialized to canonical JSON
//	(encoding/json sorts object keys) and hashed together with the
//	endpoint.
//
// Inputs:
//
//	endpoint - Logical endpoint identifier.
//	payload - Request payload; must be JSON-serializable.
//
// Outputs:
//
//	string - Hex-encoded key.
//	error - Non-nil if the payload cannot be serialized.
func Key(endpoint string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serialize cache payload: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(endpoint))
	h.Write([]byte{'\n'})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
