// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package title

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/nebot/internal/bus"
	"github.com/jeranaias/nebot/internal/ollama"
	"github.com/jeranaias/nebot/internal/storage"
	"github.com/jeranaias/nebot/internal/tasks"
)

// Generator produces a single non-streamed completion.
type Generator interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error)
}

// Store is the part of the session store the worker needs.
type Store interface {
	Get(id string) (*storage.Session, error)
	SetTitle(id, title string) (*storage.Session, error)
}

// Config wires a Worker.
type Config struct {
	Store     Store
	Generator Generator
	Publisher bus.Publisher

	// Model names the model used for titles. Empty uses the generator's
	// default.
	Model string

	// Runner executes scheduled jobs. Without one Schedule does nothing.
	Runner *tasks.Runner

	Logger zerolog.Logger
}

// Worker generates titles for sessions that still carry a placeholder.
type Worker struct {
	store  Store
	gen    Generator
	pub    bus.Publisher
	model  string
	runner *tasks.Runner
	logger zerolog.Logger
}

// NewWorker creates a title worker.
func NewWorker(cfg Config) *Worker {
	return &Worker{
		store:  cfg.Store,
		gen:    cfg.Generator,
		pub:    cfg.Publisher,
		model:  cfg.Model,
		runner: cfg.Runner,
		logger: cfg.Logger.With().Str("component", "title").Logger(),
	}
}

// Schedule queues title generation for sessionID and returns immediately.
// Failures are logged and otherwise ignored.
func (w *Worker) Schedule(sessionID string) {
	if w.runner == nil {
		return
	}
	_, err := w.runner.Submit("generate title", sessionID, func(ctx context.Context) error {
		err := w.Run(ctx, sessionID)
		if err != nil {
			w.logger.Debug().Err(err).Str("session_id", sessionID).Msg("title generation failed")
		}
		return err
	})
	if err != nil {
		w.logger.Debug().Err(err).Str("session_id", sessionID).Msg("title job not queued")
	}
}

// Run generates and applies a title for sessionID if it is eligible. An
// ineligible session or an empty completion is not an error.
func (w *Worker) Run(ctx context.Context, sessionID string) error {
	sess, err := w.store.Get(sessionID)
	if err != nil {
		return errors.Wrap(err, "load session")
	}
	if !Eligible(sess) {
		return nil
	}
	prompt := BuildPrompt(sess)
	if prompt == "" {
		return nil
	}

	resp, err := w.gen.Generate(ctx, ollama.GenerateRequest{Model: w.model, Prompt: prompt})
	if err != nil {
		return errors.Wrap(err, "generate title")
	}

	t := Sanitize(resp.Response)
	if t == "" {
		return nil
	}

	updated, err := w.store.SetTitle(sessionID, t)
	if err != nil {
		return errors.Wrap(err, "save title")
	}
	w.logger.Debug().Str("session_id", sessionID).Str("title", updated.Title).Msg("title updated")

	if w.pub == nil {
		return nil
	}
	return bus.PublishTitle(w.pub, bus.TitleEvent{ID: updated.ID, Title: updated.Title})
}
