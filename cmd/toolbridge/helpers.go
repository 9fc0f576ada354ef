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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/toolbridge/cmd/toolbridge/config"
	"github.com/AleutianAI/toolbridge/pkg/logging"
	"github.com/AleutianAI/toolbridge/services/bridge/envelope"
	"github.com/AleutianAI/toolbridge/services/bridge/handler"
	"github.com/AleutianAI/toolbridge/services/bridge/invoke"
	"github.com/AleutianAI/toolbridge/services/bridge/llm"
	"github.com/AleutianAI/toolbridge/services/bridge/record"
	"github.com/AleutianAI/toolbridge/services/bridge/registry"
	"github.com/AleutianAI/toolbridge/services/bridge/toolserver"
)

// bridge is the assembled subsystem behind every CLI command.
type bridge struct {
	logger  *logging.Logger
	client  *toolserver.Client
	cache   record.Cache
	badger  *record.BadgerCache
	invoker *invoke.Invoker
	handler *handler.FunctionHandler
}

// openBridge wires the subsystem from the loaded config: logger, session,
// call cache, invoker and dispatcher.
func openBridge(ctx context.Context) (*bridge, error) {
	level := logging.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		level = logging.LevelDebug
	} else {
		switch cfg.Logging.Level {
		case "warn":
			level = logging.LevelWarn
		case "error":
			level = logging.LevelError
		}
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "toolbridge",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
	})
	slogger := logger.Slog()

	client, err := toolserver.Open(ctx, toolserver.Config{
		SelfHosted:  cfg.ToolServer.SelfHosted,
		URL:         cfg.ToolServer.URL,
		DownloadDir: cfg.ToolServer.DownloadDir,
		Logger:      slogger,
	})
	if err != nil {
		logger.Close()
		return nil, err
	}

	var (
		cache  record.Cache
		badger *record.BadgerCache
	)
	if cfg.Cache.InMemory {
		cache = record.NewMemoryCache()
	} else {
		bcfg := record.DefaultBadgerConfig(config.ExpandPath(cfg.Cache.Path))
		bcfg.SyncWrites = cfg.Cache.SyncWrites
		bcfg.Logger = slogger
		badger, err = record.OpenBadgerCache(bcfg)
		if err != nil {
			client.Close(ctx)
			logger.Close()
			return nil, fmt.Errorf("open call record cache: %w", err)
		}
		cache = badger
	}

	reg := registry.New()
	normalizer := envelope.NewNormalizer(cfg.Workspace.Dir, slogger)
	invoker := invoke.New(client, cache, normalizer, reg, invoke.Options{
		ForceRedo:     cfg.Invoker.ForceRedo,
		RetryInterval: time.Duration(cfg.Invoker.RetryIntervalSeconds) * time.Second,
		Logger:        slogger,
	})

	var summarizer llm.Completer
	if cfg.LLM.APIKeyEnv != "" {
		if apiKey := os.Getenv(cfg.LLM.APIKeyEnv); apiKey != "" {
			summarizer, err = llm.NewOpenAIClient(apiKey, cfg.LLM.Model)
			if err != nil {
				slogger.Warn("summarizer unavailable, long results kept raw", "error", err.Error())
				summarizer = nil
			}
		} else {
			slogger.Info("no API key in environment, long results kept raw", "env", cfg.LLM.APIKeyEnv)
		}
	}

	h := handler.New(invoker, cache, reg, handler.Config{
		ToolBlacklist:  cfg.Handler.ToolBlacklist,
		EnableAskHuman: cfg.Handler.EnableAskHuman,
		Summarizer:     summarizer,
		Logger:         slogger,
	})

	return &bridge{
		logger:  logger,
		client:  client,
		cache:   cache,
		badger:  badger,
		invoker: invoker,
		handler: h,
	}, nil
}

// close tears the bridge down in reverse order of construction.
func (b *bridge) close(ctx context.Context) {
	b.client.Close(ctx)
	if b.badger != nil {
		if err := b.badger.Close(); err != nil {
			b.logger.Warn("closing call record cache", "error", err.Error())
		}
	}
	b.logger.Close()
}
