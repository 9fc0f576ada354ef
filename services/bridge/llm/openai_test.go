// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewOpenAIClient verifies key validation and the model default.
func TestNewOpenAIClient(t *testing.T) {
	_, err := NewOpenAIClient("", "gpt-4")
	require.Error(t, err)

	client, err := NewOpenAIClient("sk-test", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", client.model)
}

// TestFallbackModel verifies the larger-context variants.
func TestFallbackModel(t *testing.T) {
	larger, ok := fallbackModel("gpt-4")
	require.True(t, ok)
	assert.Equal(t, "gpt-4-32k", larger)

	larger, ok = fallbackModel("gpt-3.5-turbo")
	require.True(t, ok)
	assert.Equal(t, "gpt-3.5-turbo-16k", larger)

	_, ok = fallbackModel("gpt-4o-mini")
	assert.False(t, ok)
}

// TestIsContextLengthError verifies only context-window rejections match.
func TestIsContextLengthError(t *testing.T) {
	assert.True(t, isContextLengthError(errors.New("This model's maximum context length is 8192 tokens")))
	assert.False(t, isContextLengthError(errors.New("rate limit exceeded")))
	assert.False(t, isContextLengthError(nil))
}
