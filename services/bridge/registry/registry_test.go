// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegisterAndGet verifies basic registration and lookup.
func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register(ToolSchema{Name: "WebEnv_browse_website", Description: "browse a page"})

	schema, ok := r.Get("WebEnv_browse_website")
	require.True(t, ok)
	assert.Equal(t, "browse a page", schema.Description)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

// TestRegisterOverwrites verifies the latest schema wins.
func TestRegisterOverwrites(t *testing.T) {
	r := New()
	r.Register(ToolSchema{Name: "tool", Description: "v1"})
	r.Register(ToolSchema{Name: "tool", Description: "v2"})

	schema, _ := r.Get("tool")
	assert.Equal(t, "v2", schema.Description)
	assert.Equal(t, 1, r.Len())
}

// TestRegisterRaw verifies decoding server-shaped schema objects.
func TestRegisterRaw(t *testing.T) {
	r := New()
	r.RegisterRaw(map[string]any{
		"name":        "FileSystemEnv_read_from_file",
		"description": "read a file",
		"parameters":  map[string]any{"type": "object"},
	})
	r.RegisterRaw(map[string]any{"description": "nameless, ignored"})

	schema, ok := r.Get("FileSystemEnv_read_from_file")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"type": "object"}, schema.Parameters)
	assert.Equal(t, 1, r.Len())
}

// TestNamesSorted verifies name enumeration is stable.
func TestNamesSorted(t *testing.T) {
	r := New()
	r.Register(ToolSchema{Name: "b"})
	r.Register(ToolSchema{Name: "a"})
	r.Register(ToolSchema{Name: "c"})

	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
}
