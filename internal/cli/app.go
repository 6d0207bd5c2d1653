// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/nebot/internal/bus"
	"github.com/jeranaias/nebot/internal/config"
	"github.com/jeranaias/nebot/internal/ollama"
	"github.com/jeranaias/nebot/internal/playback"
	"github.com/jeranaias/nebot/internal/storage"
	"github.com/jeranaias/nebot/internal/stream"
	"github.com/jeranaias/nebot/internal/tasks"
	"github.com/jeranaias/nebot/internal/title"
)

// =============================================================================
// COMPONENT WIRING
// =============================================================================

// pipeline is the fully wired chat stack shared by serve, chat and repl.
type pipeline struct {
	store    storage.Store
	bus      bus.Bus
	client   *ollama.Client
	settings *config.SettingsStore
	runner   *tasks.Runner
	titles   *title.Worker
	service  *stream.Service
}

func (a *app) dataDir() (string, error) {
	return a.cfg.ResolvedDataDir()
}

func (a *app) openStore() (storage.Store, error) {
	dir, err := a.dataDir()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(a.cfg.Storage.Driver, dir)
	if err != nil {
		return nil, errors.Wrap(err, "open session store")
	}
	return store, nil
}

// openSettings loads settings.json, seeding defaults from config.toml.
func (a *app) openSettings() (*config.SettingsStore, error) {
	dir, err := a.dataDir()
	if err != nil {
		return nil, err
	}
	defaults := config.DefaultSettings(a.cfg.Ollama.Model)
	defaults.OllamaBaseURL = a.cfg.Ollama.URL
	if base := a.cfg.BaseDelay(); base > 0 {
		defaults.TypingSpeed = int(time.Second / base)
	}
	settings := config.NewSettingsStore(dir, defaults, a.logger)
	if _, err := settings.Load(); err != nil {
		return nil, err
	}
	return settings, nil
}

func (a *app) newClient(baseURL string) *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      baseURL,
		Timeout:      a.cfg.OllamaTimeout(),
		DefaultModel: a.cfg.Ollama.Model,
	})
}

// buildPipeline opens storage, the bus and the backend client and wires
// the stream service and title worker on top of them.
func (a *app) buildPipeline(ctx context.Context) (*pipeline, error) {
	p := &pipeline{}

	var err error
	if p.store, err = a.openStore(); err != nil {
		return nil, err
	}
	if p.settings, err = a.openSettings(); err != nil {
		p.Close()
		return nil, err
	}
	if p.bus, err = bus.Open(ctx, a.cfg.Bus.Driver, a.cfg.Bus.RedisAddr, a.logger); err != nil {
		p.Close()
		return nil, errors.Wrap(err, "open bus")
	}

	current := p.settings.Get()
	p.client = a.newClient(current.OllamaBaseURL)

	cfg := stream.Config{
		Store:        p.store,
		Bus:          p.bus,
		Backend:      p.client,
		Model:        current.Model,
		SystemPrompt: p.settings.SystemPrompt,
		Logger:       a.logger,
	}

	if a.cfg.Title.Enabled {
		p.runner = tasks.NewRunner(nil, tasks.Options{
			MaxConcurrent: a.cfg.Title.Concurrency,
			Timeout:       a.cfg.TitleTimeout(),
			Logger:        a.logger,
		})
		p.runner.Start()
		p.titles = title.NewWorker(title.Config{
			Store:     p.store,
			Generator: p.client,
			Publisher: p.bus,
			Model:     current.Model,
			Runner:    p.runner,
			Logger:    a.logger,
		})
		cfg.Titles = p.titles
	}

	p.service = stream.NewService(cfg)
	return p, nil
}

// playbackOptions derives engine options from config.toml and the user's
// typing settings.
func (a *app) playbackOptions(s config.Settings, renderer playback.Renderer, sessions playback.SessionReader) playback.Options {
	pacing := playback.PacingForSpeed(s.TypingSpeed)
	if a.cfg.Playback.MinDelayMs > 0 {
		pacing.Floor = a.cfg.MinDelay()
	}
	if a.cfg.Playback.ShortThreshold > 0 {
		pacing.ShortThreshold = a.cfg.Playback.ShortThreshold
	}
	return playback.Options{
		Pacing:          pacing,
		Animate:         a.cfg.Playback.Animate && s.TypingEnabled,
		RecoveryWait:    a.cfg.RecoveryWait(),
		RecoveryRetries: a.cfg.Playback.RecoveryRetries,
		Renderer:        renderer,
		Sessions:        sessions,
		Logger:          a.logger,
	}
}

// checkBackend logs a warning when Ollama cannot be reached. Sends still
// work once it comes up.
func (p *pipeline) checkBackend(ctx context.Context, a *app) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.client.CheckRunning(ctx); err != nil {
		event := a.logger.Warn().Err(err).Str("url", p.client.BaseURL())
		if hint := backendHint(err, p.settings.Get().Model); hint != "" {
			event = event.Str("hint", hint)
		}
		event.Msg("ollama is not reachable")
	}
}

// backendHint suggests a fix for common backend failures.
func backendHint(err error, model string) string {
	switch {
	case ollama.IsModelNotFound(err):
		return "Model not installed. Try: ollama pull " + model
	case ollama.IsTimeout(err):
		return "Ollama did not answer in time. Is it overloaded?"
	case ollama.IsNotRunning(err):
		return "Start Ollama with: ollama serve"
	}
	return ""
}

// Close releases everything buildPipeline opened.
func (p *pipeline) Close() {
	if p.runner != nil {
		p.runner.Stop()
	}
	if p.bus != nil {
		_ = p.bus.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}

// resolveSession returns the session named by id, the most recently
// updated one when id is empty, or a new session when there are none.
func resolveSession(store storage.Store, id string, forceNew bool) (*storage.Session, error) {
	if forceNew {
		return store.Create(storage.DefaultTitle)
	}
	if id != "" {
		sess, err := store.Get(id)
		if err != nil {
			return nil, errors.Wrapf(err, "session %s", id)
		}
		return sess, nil
	}
	metas, err := store.List()
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return store.Create(storage.DefaultTitle)
	}
	return store.Get(metas[0].ID)
}
