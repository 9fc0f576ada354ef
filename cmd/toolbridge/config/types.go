// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the toolbridge CLI configuration.
package config

type Config struct {
	// ToolServer: connection to the self-hosted tool execution service.
	ToolServer ToolServerConfig `yaml:"tool_server" validate:"required"`

	// Cache: the persistent call record store.
	Cache CacheConfig `yaml:"cache"`

	// Workspace: where binary tool outputs are materialized.
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Invoker: retry and replay tuning.
	Invoker InvokerConfig `yaml:"invoker"`

	// Handler: dispatcher behavior.
	Handler HandlerConfig `yaml:"handler"`

	// LLM: completion backend used for long result summarization.
	LLM LLMConfig `yaml:"llm"`

	// Logging: log destinations and level.
	Logging LoggingConfig `yaml:"logging"`
}

type ToolServerConfig struct {
	SelfHosted  bool   `yaml:"self_hosted"`
	URL         string `yaml:"url" validate:"required,url"`
	DownloadDir string `yaml:"download_dir"` // e.g. ./downloads
}

type CacheConfig struct {
	Path       string `yaml:"path"` // e.g. ~/.toolbridge/records
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

type WorkspaceConfig struct {
	Dir string `yaml:"dir"` // e.g. ./workspace
}

type InvokerConfig struct {
	ForceRedo            bool `yaml:"force_redo"`
	RetryIntervalSeconds int  `yaml:"retry_interval_seconds" validate:"gte=0"`
}

type HandlerConfig struct {
	ToolBlacklist  []string `yaml:"tool_blacklist"`
	EnableAskHuman bool     `yaml:"enable_ask_human"`
}

type LLMConfig struct {
	// APIKeyEnv names the environment variable holding the API key, so
	// secrets never land in the config file.
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		ToolServer: ToolServerConfig{
			SelfHosted:  true,
			URL:         "http://localhost:8079",
			DownloadDir: "./downloads",
		},
		Cache: CacheConfig{
			Path:       "~/.toolbridge/records",
			SyncWrites: true,
		},
		Workspace: WorkspaceConfig{
			Dir: "./workspace",
		},
		Invoker: InvokerConfig{
			RetryIntervalSeconds: 3,
		},
		Handler: HandlerConfig{
			ToolBlacklist:  []string{},
			EnableAskHuman: true,
		},
		LLM: LLMConfig{
			APIKeyEnv: "OPENAI_API_KEY",
			Model:     "gpt-4o-mini",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.toolbridge/logs",
		},
	}
}
