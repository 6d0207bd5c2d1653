// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for nebot.
//
// There are two layers. Config is the operator's TOML file that selects
// drivers, addresses and timeouts. Settings are the user's chat settings
// (backend URL, system prompt, typing animation) kept as JSON in the data
// directory, editable at runtime and watched for external edits.
//
// # Key Types
//
//   - Config: TOML configuration with one struct per section
//   - Settings: per-user chat settings
//   - SettingsStore: load, save and watch settings.json
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Command-line flags
//   - Environment variables (NEBOT_*)
//   - ~/.nebot/config.toml (NEBOT_HOME overrides the directory)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	dataDir, _ := cfg.ResolvedDataDir()
//	settings := config.NewSettingsStore(dataDir, config.DefaultSettings(cfg.Ollama.Model), logger)
//	go settings.Watch(ctx, func(s config.Settings) { client.SetBaseURL(s.OllamaBaseURL) })
package config
