// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFromHTTPStatusTable verifies the classified statuses map per the table.
func TestFromHTTPStatusTable(t *testing.T) {
	cases := map[int]ToolCallStatusCode{
		200: ToolCallSuccess,
		404: HallucinateName,
		422: FormatError,
		450: TimeoutError,
		500: ToolCallFailed,
		503: ServerError,
	}
	for httpStatus, want := range cases {
		assert.Equal(t, want, FromHTTPStatus(httpStatus), "status %d", httpStatus)
	}
}

// TestFromHTTPStatusTotal verifies unmapped statuses collapse to OtherError.
func TestFromHTTPStatusTotal(t *testing.T) {
	classified := map[int]bool{200: true, 404: true, 422: true, 450: true, 500: true, 503: true}
	for httpStatus := 100; httpStatus < 600; httpStatus++ {
		code := FromHTTPStatus(httpStatus)
		if classified[httpStatus] {
			assert.NotEqual(t, OtherError, code, "status %d", httpStatus)
		} else {
			assert.Equal(t, OtherError, code, "status %d", httpStatus)
		}
	}
}

// TestStatusPredicates verifies the fatal and submit predicates.
func TestStatusPredicates(t *testing.T) {
	assert.True(t, ServerError.IsFatal())
	assert.False(t, TimeoutError.IsFatal())
	assert.True(t, SubmitAsSuccess.IsSubmit())
	assert.True(t, SubmitAsFailed.IsSubmit())
	assert.False(t, ToolCallSuccess.IsSubmit())
	assert.Equal(t, "HALLUCINATE_NAME", HallucinateName.String())
}
