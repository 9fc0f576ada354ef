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
	"os"

	"github.com/spf13/cobra"
)

var (
	toolsJSON     bool
	retrieveQuery string
	retrieveTopK  int

	toolsCmd = &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to the reasoning loop",
		Long: `Discovers the ToolServer's tools, filters the configured blacklist,
and prints the full tool set including the intrinsic commands. With
--retrieve, performs an embedding-ranked lookup instead of a full listing.`,
		RunE: runTools,
	}
)

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print full schemas as JSON")
	toolsCmd.Flags().StringVar(&retrieveQuery, "retrieve", "", "retrieve tools matching this description instead of listing all")
	toolsCmd.Flags().IntVar(&retrieveTopK, "top-k", 10, "number of tools to retrieve with --retrieve")
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := openBridge(ctx)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	if retrieveQuery != "" {
		names, schemas, err := b.invoker.RetrieveTools(ctx, retrieveQuery, retrieveTopK)
		if err != nil {
			return err
		}
		if toolsJSON {
			return json.NewEncoder(os.Stdout).Encode(schemas)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	tools, err := b.handler.Functions(ctx)
	if err != nil {
		return err
	}
	if toolsJSON {
		return json.NewEncoder(os.Stdout).Encode(tools)
	}
	for _, tool := range tools {
		fmt.Printf("%-45s %s\n", tool.Name, tool.Description)
	}
	return nil
}
