// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handler is the single entry point from the reasoning loop into
// the tool invocation subsystem.
//
// A logical command name resolves once into a closed command kind
// (Terminal, HumanEscalation, Empty, Remote) and is then handled by
// exhaustive matching. Terminal submission and human escalation never touch
// the network; everything else delegates to the invoker. After a successful
// remote call the handler may run a result summarization pass for commands
// known to return oversized payloads, then emits a structured call record
// for audit and for the outer loop's branching.
package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/toolbridge/services/bridge/invoke"
	"github.com/AleutianAI/toolbridge/services/bridge/llm"
	"github.com/AleutianAI/toolbridge/services/bridge/record"
	"github.com/AleutianAI/toolbridge/services/bridge/registry"
	"github.com/AleutianAI/toolbridge/services/bridge/status"
)

// -----------------------------------------------------------------------------
// Command classification
// -----------------------------------------------------------------------------

// CommandKind is the closed set of command classes the dispatcher handles.
type CommandKind string

const (
	// KindTerminal is subtask submission; handled locally, terminates
	// the current subtask.
	KindTerminal CommandKind = "terminal"

	// KindHumanEscalation blocks on interactive human input.
	KindHumanEscalation CommandKind = "human_escalation"

	// KindEmpty is a defensive default for an absent command name.
	KindEmpty CommandKind = "empty"

	// KindRemote delegates to the invoker.
	KindRemote CommandKind = "remote"
)

// Intrinsic command names handled without a network call.
const (
	CommandSubtaskSubmit   = "subtask_submit"
	CommandAskHumanForHelp = "ask_human_for_help"
)

// ClassifyCommand resolves a command name to its kind. Resolution happens
// exactly once per call; the handlers match exhaustively on the result.
func ClassifyCommand(name string) CommandKind {
	switch name {
	case "":
		return KindEmpty
	case CommandSubtaskSubmit:
		return KindTerminal
	case CommandAskHumanForHelp:
		return KindHumanEscalation
	default:
		return KindRemote
	}
}

// -----------------------------------------------------------------------------
// Requests and outcomes
// -----------------------------------------------------------------------------

// ToolCallRequest is one logical invocation from the reasoning loop.
type ToolCallRequest struct {
	// Name is the command name.
	Name string

	// Arguments are the command arguments.
	Arguments map[string]any

	// Thought carries the reasoning context that produced this call,
	// recorded alongside the outcome.
	Thought ThoughtContext
}

// ThoughtContext is the reasoning state attached to a call record.
type ThoughtContext struct {
	Thought string `json:"thought"`
	Content string `json:"content"`
}

// ToolCallEvent is the structured record of one completed call, success or
// failure, used for audit and for driving the outer loop's branching.
type ToolCallEvent struct {
	ToolName       string         `json:"tool_name"`
	ToolInput      map[string]any `json:"tool_input"`
	ToolOutput     any            `json:"tool_output"`
	ToolStatusCode string         `json:"tool_status_code"`
	ThoughtData    ThoughtContext `json:"thought_data"`
}

// ToolCallOutcome is what the reasoning loop gets back.
type ToolCallOutcome struct {
	// Result is the formatted result line fed back into the loop's
	// message history.
	Result string

	// Output is the raw (post-summarization) output value.
	Output any

	// StatusCode is the classified outcome.
	StatusCode status.ToolCallStatusCode

	// PlanRefine is true when a submitted subtask asks for the latter
	// plan to be refined.
	PlanRefine bool

	// Event is the audit record emitted for this call.
	Event ToolCallEvent
}

// ToolExecutor is the slice of the invoker the dispatcher depends on.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, args map[string]any) (any, status.ToolCallStatusCode, error)
	AvailableTools(ctx context.Context) ([]string, []map[string]any, error)
}

// EventSink receives every completed call's audit record.
type EventSink interface {
	RecordToolCall(ctx context.Context, event ToolCallEvent)
}

// -----------------------------------------------------------------------------
// FunctionHandler
// -----------------------------------------------------------------------------

// Config configures the dispatcher.
type Config struct {
	// ToolBlacklist names tools stripped from discovery results.
	ToolBlacklist []string

	// EnableAskHuman includes ask_human_for_help in the intrinsic set.
	EnableAskHuman bool

	// HumanInput is where human-escalation answers are read from.
	// Defaults to os.Stdin.
	HumanInput io.Reader

	// Summarizer is the chat-completion capability used for long result
	// summarization. If nil, summarization is skipped.
	Summarizer llm.Completer

	// Sink receives call events. If nil, events are only logged.
	Sink EventSink

	// Logger for call flow. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FunctionHandler dispatches logical commands across the three command
// classes and records every completed call.
//
// Thread Safety: a FunctionHandler is driven synchronously by a single
// reasoning-loop goroutine. The only internal concurrency is the bounded
// fan-out inside result summarization.
type FunctionHandler struct {
	executor   ToolExecutor
	cache      record.Cache
	registry   *registry.Registry
	summarizer llm.Completer
	sink       EventSink
	humanInput *bufio.Reader
	blacklist  map[string]bool
	askHuman   bool
	logger     *slog.Logger
	validate   *validator.Validate
	toolNames  []string
}

// New creates a FunctionHandler.
//
// Inputs:
//
//	executor - The invoker (or a test double).
//	cache - Call cache, shared with the invoker, used directly for the
//	  human-escalation replay path.
//	reg - Tool schema registry.
//	cfg - Dispatcher configuration.
//
// Outputs:
//
//	*FunctionHandler - Ready for use.
func New(executor ToolExecutor, cache record.Cache, reg *registry.Registry, cfg Config) *FunctionHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	input := cfg.HumanInput
	if input == nil {
		input = os.Stdin
	}
	blacklist := make(map[string]bool, len(cfg.ToolBlacklist))
	for _, name := range cfg.ToolBlacklist {
		blacklist[name] = true
	}
	return &FunctionHandler{
		executor:   executor,
		cache:      cache,
		registry:   reg,
		summarizer: cfg.Summarizer,
		sink:       cfg.Sink,
		humanInput: bufio.NewReader(input),
		blacklist:  blacklist,
		askHuman:   cfg.EnableAskHuman,
		logger:     logger,
		validate:   validator.New(),
	}
}

// Handle executes one logical tool call end to end.
//
// Description:
//
//	Resolves the command kind once, runs the matching path, applies the
//	long-result summarization pass to successful remote calls, and emits
//	the structured call event. Expected failures (hallucinated names,
//	malformed arguments, exhausted timeouts) come back as data with a
//	status code; the returned error is reserved for fatal conditions:
//	the ToolServer reporting itself unhealthy (invoke.ErrServerError) or
//	context cancellation.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	req - The logical invocation.
//
// Outputs:
//
//	*ToolCallOutcome - Result, status code, plan-refine flag and event.
//	error - Non-nil only for fatal conditions; never for logical
//	  failures.
func (h *FunctionHandler) Handle(ctx context.Context, req ToolCallRequest) (*ToolCallOutcome, error) {
	h.logger.Info("NEXT ACTION", "command", req.Name, "arguments", req.Arguments)

	var (
		output     any
		code       status.ToolCallStatusCode
		planRefine bool
	)

	switch ClassifyCommand(req.Name) {
	case KindTerminal:
		output, code, planRefine = h.handleSubtaskSubmit(req.Arguments)
	case KindHumanEscalation:
		var err error
		output, code, err = h.handleHumanHelp(ctx, req.Arguments)
		if err != nil {
			return nil, err
		}
	case KindEmpty:
		output, code = "", status.ToolCallSuccess
	case KindRemote:
		var err error
		output, code, err = h.executor.ExecuteTool(ctx, req.Name, req.Arguments)
		if err != nil {
			if errors.Is(err, invoke.ErrServerError) || ctx.Err() != nil {
				return nil, err
			}
			// Plain transport failure: surface as data so the loop can
			// decide what to do with it.
			h.logger.Error("tool call transport failure", "command", req.Name, "error", err.Error())
			output, code = err.Error(), status.OtherError
		}
	}

	if code == status.ToolCallSuccess {
		output = h.summarizeLongResult(ctx, req.Name, req.Arguments, output)
	}

	result := fmt.Sprintf("Command %s returned: %s", req.Name, formatOutput(output))
	h.logger.Info("SYSTEM", "result", result)
	h.logger.Info("TOOL STATUS CODE", "status_code", code.String())

	event := ToolCallEvent{
		ToolName:       req.Name,
		ToolInput:      req.Arguments,
		ToolOutput:     output,
		ToolStatusCode: code.String(),
		ThoughtData:    req.Thought,
	}
	if h.sink != nil {
		h.sink.RecordToolCall(ctx, event)
	}

	if code.IsSubmit() {
		h.logTaskSubmit(req.Arguments)
	}

	return &ToolCallOutcome{
		Result:     result,
		Output:     output,
		StatusCode: code,
		PlanRefine: planRefine,
		Event:      event,
	}, nil
}

// formatOutput renders an output value for the message history.
func formatOutput(output any) string {
	switch v := output.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// -----------------------------------------------------------------------------
// Terminal commands
// -----------------------------------------------------------------------------

// SubtaskSubmitArgs is the expected shape of a subtask_submit payload.
type SubtaskSubmitArgs struct {
	SubmitType string `json:"submit_type" validate:"required"`
	Result     struct {
		Success    bool     `json:"success"`
		Conclusion string   `json:"conclusion"`
		Milestones []string `json:"milestones"`
	} `json:"result"`
	Suggestions struct {
		NeedForPlanRefine bool   `json:"need_for_plan_refine"`
		Reason            string `json:"reason"`
	} `json:"suggestions_for_latter_subtasks_plan"`
}

// handleSubtaskSubmit validates the submission payload and maps its success
// flag to a terminal status code. No network call is made.
func (h *FunctionHandler) handleSubtaskSubmit(args map[string]any) (any, status.ToolCallStatusCode, bool) {
	var parsed SubtaskSubmitArgs
	data, err := json.Marshal(args)
	if err == nil {
		err = json.Unmarshal(data, &parsed)
	}
	if err == nil {
		err = h.validate.Struct(&parsed)
	}
	if err != nil {
		h.logger.Warn("invalid subtask submission", "error", err.Error())
		return fmt.Sprintf("Invalid subtask submission: %v", err), status.FormatError, false
	}

	code := status.SubmitAsFailed
	if parsed.Result.Success {
		code = status.SubmitAsSuccess
	}
	planRefine := parsed.Suggestions.NeedForPlanRefine

	ack, _ := json.Marshal(map[string]any{
		"content": fmt.Sprintf("you have successfully submit the subtask as %s", parsed.SubmitType),
	})
	return string(ack), code, planRefine
}

// logTaskSubmit mirrors the submission details into the log.
func (h *FunctionHandler) logTaskSubmit(args map[string]any) {
	var parsed SubtaskSubmitArgs
	data, err := json.Marshal(args)
	if err == nil {
		err = json.Unmarshal(data, &parsed)
	}
	if err != nil {
		return
	}
	h.logger.Info("SUBTASK SUBMITTED",
		"submit_type", parsed.SubmitType,
		"success", parsed.Result.Success,
		"conclusion", parsed.Result.Conclusion,
		"milestones", parsed.Result.Milestones,
		"need_for_plan_refine", parsed.Suggestions.NeedForPlanRefine,
		"plan_suggestions", parsed.Suggestions.Reason,
	)
}

// -----------------------------------------------------------------------------
// Human escalation
// -----------------------------------------------------------------------------

// humanEndpoint is the pseudo endpoint human exchanges are cached under.
const humanEndpoint = "ask_human"

// handleHumanHelp consults the cache first so a replayed session never
// re-prompts a human, then blocks on interactive input.
func (h *FunctionHandler) handleHumanHelp(ctx context.Context, args map[string]any) (any, status.ToolCallStatusCode, error) {
	if args == nil {
		args = map[string]any{}
	}

	rec, ok, err := h.cache.Lookup(ctx, humanEndpoint, args)
	if err != nil {
		h.logger.Warn("human help cache lookup failed, treating as miss", "error", err.Error())
	} else if ok {
		h.logger.Info("replaying cached human answer")
		return rec.Output, status.ToolCallSuccess, nil
	}

	h.logger.Info("ASK FOR HUMAN HELP",
		"prompt", "type your feedback and press Enter to continue the loop")
	line, err := h.humanInput.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, status.OtherError, fmt.Errorf("read human input: %w", err)
	}
	answer, _ := json.Marshal(map[string]any{"output": trimNewline(line)})
	output := string(answer)

	storeErr := h.cache.Store(ctx, &record.CallRecord{
		ID:         uuid.NewString(),
		Endpoint:   humanEndpoint,
		Payload:    args,
		Output:     output,
		HTTPStatus: 200,
		CreatedAt:  time.Now().UTC(),
	})
	if storeErr != nil {
		h.logger.Warn("human help record store failed", "error", storeErr.Error())
	}

	return output, status.ToolCallSuccess, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// -----------------------------------------------------------------------------
// Tool discovery
// -----------------------------------------------------------------------------

// subtaskSubmitSchema and askHumanSchema are the intrinsic tools, always
// available without server discovery.
var subtaskSubmitSchema = registry.ToolSchema{
	Name:        CommandSubtaskSubmit,
	Description: "Submit the current subtask as finished, with a conclusion and suggestions for the latter plan.",
	Parameters: map[string]any{
		"type":     "object",
		"required": []any{"submit_type", "result", "suggestions_for_latter_subtasks_plan"},
		"properties": map[string]any{
			"submit_type": map[string]any{"type": "string", "enum": []any{"complete", "giveup"}},
			"result": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"success":    map[string]any{"type": "boolean"},
					"conclusion": map[string]any{"type": "string"},
					"milestones": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			"suggestions_for_latter_subtasks_plan": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"need_for_plan_refine": map[string]any{"type": "boolean"},
					"reason":               map[string]any{"type": "string"},
				},
			},
		},
	},
}

var askHumanSchema = registry.ToolSchema{
	Name:        CommandAskHumanForHelp,
	Description: "Ask a human for guidance when the task is blocked.",
	Parameters: map[string]any{
		"type":     "object",
		"required": []any{"prompt"},
		"properties": map[string]any{
			"prompt": map[string]any{"type": "string"},
		},
	},
}

// Functions discovers the server's tools, applies the blacklist, registers
// the surviving schemas, and returns the full tool set the reasoning loop
// may call: intrinsic tools first, then discovered ones.
//
// Outputs:
//
//	[]registry.ToolSchema - Intrinsic plus discovered tools.
//	error - Discovery failure.
func (h *FunctionHandler) Functions(ctx context.Context) ([]registry.ToolSchema, error) {
	names, schemas, err := h.executor.AvailableTools(ctx)
	if err != nil {
		return nil, err
	}

	h.toolNames = h.toolNames[:0]
	for _, name := range names {
		if !h.blacklist[name] {
			h.toolNames = append(h.toolNames, name)
		}
	}

	tools := []registry.ToolSchema{subtaskSubmitSchema}
	if h.askHuman {
		tools = append(tools, askHumanSchema)
	}
	for _, raw := range schemas {
		name, _ := raw["name"].(string)
		if name == "" || h.blacklist[name] {
			continue
		}
		h.registry.RegisterRaw(raw)
		if schema, ok := h.registry.Get(name); ok {
			tools = append(tools, schema)
		}
	}
	return tools, nil
}

// ToolNames returns the discovered, non-blacklisted tool names from the
// last Functions call.
func (h *FunctionHandler) ToolNames() []string {
	return h.toolNames
}
