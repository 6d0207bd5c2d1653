// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/jeranaias/nebot/internal/bus"
	"github.com/jeranaias/nebot/internal/playback"
)

// RunOptions are the collaborators Run needs beyond Config.
type RunOptions struct {
	Registry *playback.Registry

	// Bus, when set, feeds title changes into the header.
	Bus bus.Bus
}

// Run opens the chat view for cfg.Session and blocks until the user quits
// or ctx ends. Playback is attached through opts.Registry for the
// lifetime of the view.
func Run(ctx context.Context, cfg Config, opts RunOptions) error {
	if cfg.Session == nil {
		return errors.New("chat: no session")
	}
	if opts.Registry == nil {
		return errors.New("chat: no playback registry")
	}
	cfg.Context = ctx

	surface := NewSurface()
	engine, err := opts.Registry.Attach(ctx, cfg.Session.ID, surface)
	if err != nil {
		return errors.Wrap(err, "attach playback")
	}
	defer opts.Registry.DetachEngine(engine)
	cfg.Engine = engine

	if opts.Bus != nil {
		sub, err := opts.Bus.Subscribe(ctx, bus.ChatUpdatedTopic)
		if err != nil {
			return errors.Wrap(err, "subscribe to chat updates")
		}
		defer sub.Unsubscribe()
		cfg.Titles = sub.C()
	}

	p := tea.NewProgram(New(cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	surface.Bind(p.Send)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "chat view")
	}
	return nil
}
