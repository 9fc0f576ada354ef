// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/toolbridge/services/bridge/llm"
)

// Commands whose raw output is too large to feed back into the loop and
// gets a summarization pass on success.
const (
	commandBrowseWebsite   = "WebEnv_browse_website"
	commandSearchAndBrowse = "WebEnv_search_and_browse"
)

// maxPageChars is how much of a page body survives before summarization.
const maxPageChars = 8096

// maxUsefulHyperlinks caps the hyperlink list a page summary keeps.
const maxUsefulHyperlinks = 3

// summarizeLongResult rewrites oversized web results into compact
// summaries. Only the two web commands are affected; every other result
// passes through untouched, as does any result when no summarizer is
// configured. Summarization is best effort: on any failure the original
// output is returned and the failure is logged.
func (h *FunctionHandler) summarizeLongResult(ctx context.Context, command string, args map[string]any, output any) any {
	if h.summarizer == nil {
		return output
	}
	switch command {
	case commandBrowseWebsite:
		return h.summarizeBrowse(ctx, args, output)
	case commandSearchAndBrowse:
		return h.summarizeSearch(ctx, args, output)
	default:
		return output
	}
}

// summarizeBrowse summarizes a single browsed page against the goals the
// caller was pursuing.
func (h *FunctionHandler) summarizeBrowse(ctx context.Context, args map[string]any, output any) any {
	goal, _ := args["goals_to_browse"].(string)
	summary, err := parseWebText(ctx, h.summarizer, formatOutput(output), goal)
	if err != nil {
		h.logger.Warn("web page summarization failed, keeping raw output", "error", err.Error())
		return output
	}
	return summary
}

// summarizeSearch summarizes every page of a search result concurrently,
// one goroutine per page. Each goroutine writes only its own slot.
func (h *FunctionHandler) summarizeSearch(ctx context.Context, args map[string]any, output any) any {
	pages, ok := output.([]any)
	if !ok {
		return output
	}
	goal, _ := args["goals_to_browse"].(string)

	g, gctx := errgroup.WithContext(ctx)
	for i := range pages {
		i := i
		entry, ok := pages[i].(map[string]any)
		if ok && entry["page"] != nil {
			g.Go(func() error {
				summary, err := parseWebText(gctx, h.summarizer, formatOutput(entry["page"]), goal)
				if err != nil {
					return fmt.Errorf("summarize page %d: %w", i, err)
				}
				entry["page"] = summary
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		h.logger.Warn("search result summarization failed, keeping raw output", "error", err.Error())
	}
	return pages
}

const parseWebTextPrompt = `You are reading a web page for the goal below. Respond with a single JSON object of the form {"summary": "...", "useful_hyperlinks": ["...", ...]}. The summary must keep every detail relevant to the goal; useful_hyperlinks must list only links worth following for the goal.

Goal: %s

Page content:
%s`

// parseWebText asks the completer to distill a page into a summary plus
// the few hyperlinks worth following. The page body is clipped before the
// request so a runaway page cannot blow the context window.
func parseWebText(ctx context.Context, completer llm.Completer, page, goal string) (map[string]any, error) {
	page = clipRunes(page, maxPageChars)

	text, err := completer.Complete(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(parseWebTextPrompt, goal, page)},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Summary          string   `json:"summary"`
		UsefulHyperlinks []string `json:"useful_hyperlinks"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return nil, fmt.Errorf("decode summary response: %w", err)
	}
	if len(parsed.UsefulHyperlinks) > maxUsefulHyperlinks {
		parsed.UsefulHyperlinks = parsed.UsefulHyperlinks[:maxUsefulHyperlinks]
	}
	return map[string]any{
		"summary":           parsed.Summary,
		"useful_hyperlinks": parsed.UsefulHyperlinks,
	}, nil
}

// clipRunes truncates s to at most n runes.
func clipRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// extractJSON strips a markdown code fence if the model wrapped its answer
// in one.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}
