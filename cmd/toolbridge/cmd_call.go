// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/toolbridge/services/bridge/handler"
)

var (
	callArgs string

	callCmd = &cobra.Command{
		Use:   "call [tool name]",
		Short: "Execute one tool call end to end",
		Long: `Runs a single logical tool call through the full dispatch path:
cache-or-call, status classification, server-directed retry and result
summarization. Identical calls replay from the record cache.`,
		Args: cobra.ExactArgs(1),
		RunE: runCall,
	}
)

func init() {
	callCmd.Flags().StringVar(&callArgs, "args", "{}", "tool arguments as a JSON object")
}

func runCall(cmd *cobra.Command, args []string) error {
	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(callArgs), &toolArgs); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	ctx := cmd.Context()
	b, err := openBridge(ctx)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	outcome, err := b.handler.Handle(ctx, handler.ToolCallRequest{
		Name:      args[0],
		Arguments: toolArgs,
	})
	if err != nil {
		return err
	}

	fmt.Println(outcome.Result)
	fmt.Printf("status: %s\n", outcome.StatusCode)
	return nil
}
