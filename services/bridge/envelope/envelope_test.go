// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package envelope

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	return NewNormalizer(t.TempDir(), nil)
}

// TestNormalizeSimple verifies simple envelopes return data verbatim.
func TestNormalizeSimple(t *testing.T) {
	n := newTestNormalizer(t)

	wrapped := map[string]any{"type": "simple", "data": "hello"}
	assert.Equal(t, "hello", n.Normalize(wrapped))

	wrapped = map[string]any{"type": "simple", "data": float64(42)}
	assert.Equal(t, float64(42), n.Normalize(wrapped))
}

// TestNormalizePassthrough verifies plain values pass through unchanged.
func TestNormalizePassthrough(t *testing.T) {
	n := newTestNormalizer(t)

	assert.Equal(t, "plain", n.Normalize("plain"))
	assert.Equal(t, true, n.Normalize(true))
	assert.Nil(t, n.Normalize(nil))

	// An object without envelope tagging is a plain value.
	obj := map[string]any{"stdout": "ok", "exit_code": float64(0)}
	assert.Equal(t, obj, n.Normalize(obj))

	// A sequence is returned as-is.
	seq := []any{"a", "b"}
	assert.Equal(t, seq, n.Normalize(seq))
}

// TestNormalizeCompositeNested verifies recursive unwrap preserves order
// and length at arbitrary nesting depth.
func TestNormalizeCompositeNested(t *testing.T) {
	n := newTestNormalizer(t)

	wrapped := map[string]any{
		"type": "composite",
		"data": []any{
			map[string]any{"type": "simple", "data": "first"},
			map[string]any{
				"type": "composite",
				"data": []any{
					map[string]any{"type": "simple", "data": "inner"},
					"bare",
				},
			},
			"last",
		},
	}

	got := n.Normalize(wrapped)
	require.IsType(t, []any{}, got)
	elems := got.([]any)
	require.Len(t, elems, 3)
	assert.Equal(t, "first", elems[0])
	assert.Equal(t, []any{"inner", "bare"}, elems[1])
	assert.Equal(t, "last", elems[2])
}

// TestNormalizeBinary verifies binary payloads are written to the workspace
// and replaced by a descriptor.
func TestNormalizeBinary(t *testing.T) {
	dir := t.TempDir()
	n := NewNormalizer(dir, nil)

	payload := []byte("binary-bytes")
	wrapped := map[string]any{
		"type":       "binary",
		"data":       base64.StdEncoding.EncodeToString(payload),
		"name":       "out.bin",
		"media_type": "application/octet-stream",
	}

	got := n.Normalize(wrapped)
	desc, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "application/octet-stream", desc["media_type"])
	assert.Equal(t, "out.bin", desc["file_name"])

	written, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, written)
}

// TestNormalizeBinaryPNGExtension verifies .png is appended when the media
// type is image/png and the declared name lacks the suffix.
func TestNormalizeBinaryPNGExtension(t *testing.T) {
	dir := t.TempDir()
	n := NewNormalizer(dir, nil)

	wrapped := map[string]any{
		"type":       "binary",
		"data":       base64.StdEncoding.EncodeToString([]byte{0x89, 0x50}),
		"name":       "screenshot",
		"media_type": "image/png",
	}

	desc := n.Normalize(wrapped).(map[string]any)
	assert.Equal(t, "screenshot.png", desc["file_name"])

	_, err := os.Stat(filepath.Join(dir, "screenshot.png"))
	assert.NoError(t, err)
}

// TestNormalizeBinaryGeneratedName verifies a random name is generated when
// the envelope carries none.
func TestNormalizeBinaryGeneratedName(t *testing.T) {
	dir := t.TempDir()
	n := NewNormalizer(dir, nil)

	wrapped := map[string]any{
		"type":       "binary",
		"data":       base64.StdEncoding.EncodeToString([]byte("x")),
		"media_type": "image/png",
	}

	desc := n.Normalize(wrapped).(map[string]any)
	name := desc["file_name"].(string)
	assert.NotEmpty(t, name)
	assert.Contains(t, name, ".png")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestNormalizeUnrecognizedShape verifies unknown shapes never raise and
// normalize to nil.
func TestNormalizeUnrecognizedShape(t *testing.T) {
	n := newTestNormalizer(t)

	// Known tag but bad payload type.
	assert.Nil(t, n.Normalize(map[string]any{"type": "composite", "data": "not-a-list"}))
	// Invalid base64.
	assert.Nil(t, n.Normalize(map[string]any{"type": "binary", "data": "!!!not-base64!!!"}))
	// A Go type that never appears in decoded JSON.
	assert.Nil(t, n.Normalize(struct{ X int }{X: 1}))
}

// TestIsWrapped verifies envelope detection.
func TestIsWrapped(t *testing.T) {
	assert.True(t, IsWrapped(map[string]any{"type": "simple", "data": 1}))
	assert.False(t, IsWrapped(map[string]any{"type": "unknown", "data": 1}))
	assert.False(t, IsWrapped(map[string]any{"type": "simple"}))
	assert.False(t, IsWrapped("simple"))
}
