// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/nebot/internal/config"
	"github.com/jeranaias/nebot/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// globalFlags are the persistent flags shared by every command. Empty
// values leave config.toml untouched.
type globalFlags struct {
	configPath string
	dataDir    string
	logLevel   string
	pretty     bool
	ollamaURL  string
	model      string
	bus        string
	storage    string
}

// app carries the loaded configuration through command handlers.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCommand builds the nebot command tree.
func NewRootCommand() *cobra.Command {
	a := &app{logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "nebot",
		Short: "Streaming chat assistant backed by a local Ollama model",
		Long: `nebot is a chat assistant that streams replies from a local Ollama model.

Replies are broadcast per session and played back with a typing animation
in the terminal, or served to a browser frontend over WebSocket.

Quick Start:
  nebot serve                      # HTTP + WebSocket API on 127.0.0.1:8484
  nebot chat                       # Terminal chat on the most recent session
  nebot repl                       # Line-oriented chat
  nebot sessions list              # List saved sessions
  nebot config set ollama.model llama3`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "Path to config.toml (default ~/.nebot/config.toml)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "Directory for sessions and settings")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.BoolVar(&a.flags.pretty, "pretty", false, "Human-readable logs")
	pf.StringVar(&a.flags.ollamaURL, "ollama-url", "", "Ollama base URL")
	pf.StringVar(&a.flags.model, "model", "", "Model name")
	pf.StringVar(&a.flags.bus, "bus", "", "Broadcast driver: memory or redis")
	pf.StringVar(&a.flags.storage, "storage", "", "Session store: file or sqlite")

	root.AddCommand(
		newServeCommand(a),
		newChatCommand(a),
		newReplCommand(a),
		newSessionsCommand(a),
		newModelsCommand(a),
		newConfigCommand(a),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:")+" "+err.Error())
		return 1
	}
	return 0
}

// init loads configuration and logging before any command runs.
func (a *app) init(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.flags.configPath != "" {
		cfg, err = config.LoadFrom(a.flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	overrides := map[string]string{
		"general.data_dir":  a.flags.dataDir,
		"general.log_level": a.flags.logLevel,
		"ollama.url":        a.flags.ollamaURL,
		"ollama.model":      a.flags.model,
		"bus.driver":        a.flags.bus,
		"storage.driver":    a.flags.storage,
	}
	for key, value := range overrides {
		if value == "" {
			continue
		}
		if err := cfg.Set(key, value); err != nil {
			return errors.Wrapf(err, "apply --%s", key)
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.Setup(cmd.ErrOrStderr(), cfg.General.LogLevel, a.flags.pretty)
	return nil
}

// configPath is where `config set` writes.
func (a *app) configPath() (string, error) {
	if a.flags.configPath != "" {
		return a.flags.configPath, nil
	}
	return config.ConfigPath()
}
