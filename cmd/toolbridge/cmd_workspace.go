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
	workspaceCmd = &cobra.Command{
		Use:   "workspace",
		Short: "Inspect and download the remote workspace",
	}

	workspaceTreeCmd = &cobra.Command{
		Use:   "tree",
		Short: "Print the remote workspace structure",
		RunE:  runWorkspaceTree,
	}

	workspaceDownloadCmd = &cobra.Command{
		Use:   "download [remote path]",
		Short: "Download one workspace file, or the whole workspace as an archive",
		Long: `With a path argument, downloads that file and mirrors its remote path
under the configured download directory. Without arguments, downloads the
entire workspace as workspace.zip. The full download is unbounded; the
server decides how large the archive may be.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runWorkspaceDownload,
	}

	workspaceUploadCmd = &cobra.Command{
		Use:   "upload [local path]",
		Short: "Upload a local file into the remote workspace",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkspaceUpload,
	}
)

func init() {
	workspaceCmd.AddCommand(workspaceTreeCmd)
	workspaceCmd.AddCommand(workspaceDownloadCmd)
	workspaceCmd.AddCommand(workspaceUploadCmd)
}

func runWorkspaceTree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := openBridge(ctx)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	tree, err := b.client.GetWorkspaceStructure(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(tree)
}

func runWorkspaceDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := openBridge(ctx)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	var savePath string
	if len(args) == 1 {
		savePath, err = b.client.DownloadFile(ctx, args[0])
	} else {
		savePath, err = b.client.DownloadAllFiles(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Printf("saved to %s\n", savePath)
	return nil
}

func runWorkspaceUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := openBridge(ctx)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	receipt, err := b.client.UploadFile(ctx, args[0])
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(receipt)
}
