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
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Completer against the OpenAI API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI-backed completer.
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// fallbackModel maps a model to its larger-context variant, if one exists.
func fallbackModel(model string) (string, bool) {
	switch model {
	case "gpt-4":
		return "gpt-4-32k", true
	case "gpt-3.5-turbo":
		return "gpt-3.5-turbo-16k", true
	default:
		return "", false
	}
}

// isContextLengthError reports whether the provider rejected the request
// because the context window was exceeded.
func isContextLengthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "maximum context length")
}

// Complete implements Completer.
//
// When the provider reports the context window exceeded, the request is
// retried once against the larger-context variant of the configured model
// before the error is surfaced.
func (o *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	out, err := o.complete(ctx, o.model, messages)
	if isContextLengthError(err) {
		larger, ok := fallbackModel(o.model)
		if !ok {
			return "", err
		}
		slog.Warn("max context length reached, retrying with larger model",
			"model", o.model, "fallback", larger)
		return o.complete(ctx, larger, messages)
	}
	return out, err
}

func (o *OpenAIClient) complete(ctx context.Context, model string, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{Model: model}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		return "", fmt.Errorf("response truncated: maximum context length exceeded")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ Completer = (*OpenAIClient)(nil)
