// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/nebot/internal/playback"
	"github.com/jeranaias/nebot/internal/render"
	chatui "github.com/jeranaias/nebot/internal/ui/chat"
	"github.com/jeranaias/nebot/internal/ui/styles"
)

func newChatCommand(a *app) *cobra.Command {
	var newSession bool

	cmd := &cobra.Command{
		Use:   "chat [session-id]",
		Short: "Open the terminal chat view",
		Long: `Open the full-screen chat view.

Without a session id the most recently updated session is opened, or a new
one is created when none exist.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsTTY() || !IsStdoutTTY() {
				return errors.New("chat needs an interactive terminal; try `nebot repl`")
			}
			ctx := cmd.Context()

			p, err := a.buildPipeline(ctx)
			if err != nil {
				return err
			}
			defer p.Close()
			p.checkBackend(ctx, a)

			var id string
			if len(args) == 1 {
				id = args[0]
			}
			sess, err := resolveSession(p.store, id, newSession)
			if err != nil {
				return err
			}

			renderer, err := render.NewTerminal("", GetTerminalWidth()-4)
			if err != nil {
				return err
			}

			registry := playback.NewRegistry(p.bus, a.playbackOptions(p.settings.Get(), renderer, p.store))
			defer registry.Close()

			return chatui.Run(ctx, chatui.Config{
				Session:  sess,
				Sender:   p.service,
				Renderer: renderer,
				Theme:    styles.NewTheme(),
			}, chatui.RunOptions{Registry: registry, Bus: p.bus})
		},
	}

	cmd.Flags().BoolVarP(&newSession, "new", "n", false, "Start a new session")
	return cmd
}
