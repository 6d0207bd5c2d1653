// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/nebot/internal/config"
	"github.com/jeranaias/nebot/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP and WebSocket",
		Long: `Serve the chat API for the browser frontend.

Sends are accepted on POST /api/sessions/{id}/messages and the reply is
streamed to every WebSocket subscribed to /api/sessions/{id}/stream.
Edits to settings.json are picked up without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			p, err := a.buildPipeline(ctx)
			if err != nil {
				return err
			}
			defer p.Close()
			p.checkBackend(ctx, a)

			srvCfg := server.Config{
				Addr:     a.cfg.Server.Addr,
				Store:    p.store,
				Bus:      p.bus,
				Sender:   p.service,
				Backend:  p.client,
				Settings: p.settings,
				Logger:   a.logger,
			}
			if p.runner != nil {
				srvCfg.Jobs = p.runner.Queue()
			}
			srv := server.New(srvCfg)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx)
			})
			g.Go(func() error {
				return p.settings.Watch(gctx, func(s config.Settings) {
					if s.OllamaBaseURL != p.client.BaseURL() {
						p.client.SetBaseURL(s.OllamaBaseURL)
						a.logger.Info().Str("url", s.OllamaBaseURL).Msg("ollama url changed")
					}
				})
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, "+config.DefaultServerAddr+")")
	return cmd
}
