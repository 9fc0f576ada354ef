// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry stores discovered tool schemas.
//
// The invocation core is write-mostly here: it registers newly-seen tool
// JSON schemas as they come back from discovery and retrieval calls, and
// the surrounding reasoning loop reads them when constructing prompts.
// Dispatch logic never consults the registry.
package registry

import (
	"sort"
	"sync"
)

// ToolSchema is a discoverable tool's calling contract.
type ToolSchema struct {
	// Name is the tool's invocable name, e.g. "FileSystemEnv_read_from_file".
	Name string `json:"name"`

	// Description explains what the tool does, shown to the model.
	Description string `json:"description,omitempty"`

	// Parameters is the JSON schema of the tool's arguments.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Registry is a thread-safe store of tool schemas keyed by name.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]ToolSchema
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{schemas: make(map[string]ToolSchema)}
}

// Register adds or replaces a schema.
//
// Description:
//
//	Registers the schema under its name, overwriting any previously
//	registered schema with the same name. Schemas without a name are
//	ignored.
//
// Inputs:
//
//	schema - The tool schema to register.
//
// Thread Safety: safe for concurrent use.
func (r *Registry) Register(schema ToolSchema) {
	if schema.Name == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.schemas[schema.Name] = schema
}

// RegisterRaw decodes a raw schema object (as received from the server)
// and registers it. Objects without a string "name" field are ignored.
func (r *Registry) RegisterRaw(obj map[string]any) {
	name, _ := obj["name"].(string)
	if name == "" {
		return
	}
	schema := ToolSchema{Name: name}
	schema.Description, _ = obj["description"].(string)
	schema.Parameters, _ = obj["parameters"].(map[string]any)
	r.Register(schema)
}

// Get returns the schema registered under name.
//
// Outputs:
//
//	ToolSchema - The schema, zero value if not found.
//	bool - True if a schema was found.
func (r *Registry) Get(name string) (ToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.schemas[name]
	return schema, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered schemas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}
