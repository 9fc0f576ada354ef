// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package envelope decodes the ToolServer's tagged response envelopes.
//
// The ToolServer wraps tool output in a tagged wire shape:
//
//	{ "type": "simple" | "composite" | "binary", "data": <value>,
//	  "name"?: string, "media_type"?: string }
//
// The envelope is decoded exactly once at the transport boundary into a
// closed variant (Simple, Composite, Binary) and then normalized into a
// plain value the reasoning loop can format into text. Binary payloads are
// materialized to disk under a workspace root; the caller only ever sees a
// small descriptor, never the raw bytes.
//
// A malformed envelope is never an error: the reasoning loop must not crash
// on a bad remote payload, so unrecognized shapes are logged and normalized
// to nil.
package envelope

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind tags the three envelope variants on the wire.
type Kind string

const (
	// KindSimple wraps a scalar value; data is returned verbatim.
	KindSimple Kind = "simple"

	// KindComposite wraps an ordered sequence; each element is normalized
	// recursively, preserving length and order.
	KindComposite Kind = "composite"

	// KindBinary wraps a base64 payload that is written to disk.
	KindBinary Kind = "binary"
)

// Envelope is the decoded variant form of a wrapped response.
//
// Exactly one of the payload fields is meaningful, selected by Kind:
// Data for Simple, Elems for Composite, Payload/MediaType/Name for Binary.
type Envelope struct {
	Kind      Kind
	Data      any
	Elems     []any
	Payload   []byte
	MediaType string
	Name      string
}

// IsWrapped reports whether a decoded JSON value is a response envelope.
//
// A value is wrapped iff it is an object carrying a "type" field with one
// of the three known kinds and a "data" field. Anything else is a plain
// value and passes through normalization unchanged.
func IsWrapped(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	kind, ok := obj["type"].(string)
	if !ok {
		return false
	}
	if _, ok := obj["data"]; !ok {
		return false
	}
	switch Kind(kind) {
	case KindSimple, KindComposite, KindBinary:
		return true
	default:
		return false
	}
}

// Decode converts a wrapped object into its variant form.
//
// Description:
//
//	Decodes the tagged object once at the boundary, including the base64
//	payload of binary envelopes, so nothing deeper in the pipeline needs
//	runtime type inspection.
//
// Inputs:
//
//	v - A decoded JSON value for which IsWrapped returned true.
//
// Outputs:
//
//	*Envelope - The decoded variant.
//	bool - False if the value was not a well-formed envelope after all
//	  (e.g. binary data that is not valid base64).
func Decode(v any) (*Envelope, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	kind, _ := obj["type"].(string)
	env := &Envelope{Kind: Kind(kind)}

	switch env.Kind {
	case KindSimple:
		env.Data = obj["data"]
	case KindComposite:
		elems, ok := obj["data"].([]any)
		if !ok {
			return nil, false
		}
		env.Elems = elems
	case KindBinary:
		encoded, ok := obj["data"].(string)
		if !ok {
			return nil, false
		}
		payload, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, false
		}
		env.Payload = payload
		env.MediaType, _ = obj["media_type"].(string)
		env.Name, _ = obj["name"].(string)
	default:
		return nil, false
	}
	return env, true
}

// Normalizer converts envelopes into plain values, writing binary payloads
// under a fixed workspace root.
type Normalizer struct {
	workspaceDir string
	logger       *slog.Logger
}

// NewNormalizer creates a Normalizer rooted at workspaceDir.
//
// Inputs:
//
//	workspaceDir - Directory binary payloads are written to. Created on
//	  first use if it does not exist.
//	logger - Logger for unexpected payload shapes. If nil, slog.Default()
//	  is used.
//
// Outputs:
//
//	*Normalizer - Ready for use. Safe for concurrent use.
func NewNormalizer(workspaceDir string, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{workspaceDir: workspaceDir, logger: logger}
}

// Normalize converts a decoded wire value into a plain value.
//
// Description:
//
//	Plain scalars, sequences, unwrapped objects and nil pass through
//	unchanged. Wrapped objects unwrap per their kind: simple returns data
//	verbatim, composite normalizes each element in order, binary writes
//	the payload to the workspace and returns a
//	{media_type, file_name} descriptor. Unrecognized shapes are logged
//	and normalized to nil; Normalize never fails.
//
// Inputs:
//
//	v - Any value produced by decoding a ToolServer JSON body.
//
// Outputs:
//
//	any - The normalized plain value, or nil for unrecognized shapes.
func (n *Normalizer) Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if !IsWrapped(val) {
			return val
		}
		env, ok := Decode(val)
		if !ok {
			n.logger.Warn("malformed response envelope", "type", val["type"])
			return nil
		}
		return n.unwrap(env)
	case string, bool, float64, int, int64, float32, []any:
		return val
	case nil:
		return nil
	default:
		n.logger.Warn("unknown type in tool response", "go_type", fmt.Sprintf("%T", v))
		return nil
	}
}

func (n *Normalizer) unwrap(env *Envelope) any {
	switch env.Kind {
	case KindSimple:
		return env.Data
	case KindComposite:
		out := make([]any, len(env.Elems))
		for i, elem := range env.Elems {
			out[i] = n.Normalize(elem)
		}
		return out
	case KindBinary:
		return n.materialize(env)
	default:
		n.logger.Warn("unknown envelope kind", "kind", string(env.Kind))
		return nil
	}
}

// materialize writes a binary payload to the workspace directory and
// returns its descriptor. The payload name defaults to a random hex name;
// PNG images get a .png extension when the declared name lacks one.
func (n *Normalizer) materialize(env *Envelope) any {
	name := env.Name
	if name == "" {
		name = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if env.MediaType == "image/png" && !strings.HasSuffix(name, ".png") {
		name += ".png"
	}

	if err := os.MkdirAll(n.workspaceDir, 0750); err != nil {
		n.logger.Error("create workspace directory failed",
			"dir", n.workspaceDir, "error", err.Error())
		return nil
	}
	path := filepath.Join(n.workspaceDir, name)
	if err := os.WriteFile(path, env.Payload, 0640); err != nil {
		n.logger.Error("write binary payload failed",
			"path", path, "error", err.Error())
		return nil
	}

	return map[string]any{
		"media_type": env.MediaType,
		"file_name":  name,
	}
}
