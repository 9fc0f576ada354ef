// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status defines the closed classification of tool call outcomes.
//
// Every tool call, local or remote, ends with exactly one ToolCallStatusCode.
// Remote outcomes are derived from the ToolServer's HTTP status via
// FromHTTPStatus; local outcomes (subtask submission, human help) are
// assigned directly by the dispatcher. Codes are assigned once per attempt
// and never mutated afterward.
package status

import "net/http"

// ToolCallStatusCode classifies the outcome of a single tool call attempt.
//
// The set is closed. Unknown transport outcomes collapse into OtherError
// so the mapping from HTTP status to code is total.
type ToolCallStatusCode string

const (
	// ToolCallSuccess indicates the tool executed and returned a result.
	ToolCallSuccess ToolCallStatusCode = "TOOL_CALL_SUCCESS"

	// HallucinateName indicates the invoked tool name does not exist on
	// the server (HTTP 404). Reported to the reasoning loop as data so it
	// can self-correct with a different name.
	HallucinateName ToolCallStatusCode = "HALLUCINATE_NAME"

	// FormatError indicates the arguments were malformed (HTTP 422).
	FormatError ToolCallStatusCode = "FORMAT_ERROR"

	// TimeoutError indicates a long-running call timed out server-side
	// (HTTP 450). The response body may carry a retry directive.
	TimeoutError ToolCallStatusCode = "TIMEOUT_ERROR"

	// ToolCallFailed indicates the tool ran and failed (HTTP 500).
	ToolCallFailed ToolCallStatusCode = "TOOL_CALL_FAILED"

	// ServerError indicates the ToolServer itself is unhealthy (HTTP 503).
	// This is the only fatal classification; the invoker raises instead of
	// returning it as data.
	ServerError ToolCallStatusCode = "SERVER_ERROR"

	// OtherError covers every HTTP status outside the classified table.
	OtherError ToolCallStatusCode = "OTHER_ERROR"

	// SubmitAsSuccess is assigned by the dispatcher when a subtask is
	// submitted with a success flag. Never produced by the classifier.
	SubmitAsSuccess ToolCallStatusCode = "SUBMIT_AS_SUCCESS"

	// SubmitAsFailed is assigned by the dispatcher when a subtask is
	// submitted with a failure flag. Never produced by the classifier.
	SubmitAsFailed ToolCallStatusCode = "SUBMIT_AS_FAILED"
)

// String returns the status code as a string (e.g. "TOOL_CALL_SUCCESS").
func (c ToolCallStatusCode) String() string {
	return string(c)
}

// IsSubmit returns true for the two terminal submission codes.
func (c ToolCallStatusCode) IsSubmit() bool {
	return c == SubmitAsSuccess || c == SubmitAsFailed
}

// IsFatal returns true if the code aborts the call chain outright.
func (c ToolCallStatusCode) IsFatal() bool {
	return c == ServerError
}

// StatusTimedOut is the nonstandard HTTP status the ToolServer uses for a
// long-running call that exceeded its server-side budget.
const StatusTimedOut = 450

// FromHTTPStatus maps an HTTP status from the ToolServer to a status code.
//
// Description:
//
//	The mapping is total: every possible HTTP status yields exactly one
//	code. Statuses outside the classified table fall to OtherError.
//
//	  200 -> TOOL_CALL_SUCCESS
//	  404 -> HALLUCINATE_NAME
//	  422 -> FORMAT_ERROR
//	  450 -> TIMEOUT_ERROR
//	  500 -> TOOL_CALL_FAILED
//	  503 -> SERVER_ERROR
//	  any other -> OTHER_ERROR
//
// Inputs:
//
//	httpStatus - The HTTP status code from the transport.
//
// Outputs:
//
//	ToolCallStatusCode - The logical classification.
func FromHTTPStatus(httpStatus int) ToolCallStatusCode {
	switch httpStatus {
	case http.StatusOK:
		return ToolCallSuccess
	case http.StatusNotFound:
		return HallucinateName
	case http.StatusUnprocessableEntity:
		return FormatError
	case StatusTimedOut:
		return TimeoutError
	case http.StatusInternalServerError:
		return ToolCallFailed
	case http.StatusServiceUnavailable:
		return ServerError
	default:
		return OtherError
	}
}
