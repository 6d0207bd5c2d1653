// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newModelsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models available on the Ollama backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := a.openSettings()
			if err != nil {
				return err
			}
			client := a.newClient(settings.Get().OllamaBaseURL)

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.OllamaTimeout())
			defer cancel()
			models, err := client.ListModels(ctx)
			if err != nil {
				return errors.Wrapf(err, "list models at %s", client.BaseURL())
			}

			out := cmd.OutOrStdout()
			if len(models) == 0 {
				fmt.Fprintln(out, "No models installed. Try: ollama pull "+a.cfg.Ollama.Model)
				return nil
			}
			for _, m := range models {
				marker := "  "
				if m.Name == a.cfg.Ollama.Model {
					marker = successStyle.Render("* ")
				}
				fmt.Fprintf(out, "%s%-32s %10s  %s\n", marker, m.Name,
					humanize.Bytes(uint64(m.Size)),
					dimStyle.Render(humanize.RelTime(m.ModifiedAt, time.Now(), "ago", "from now")))
			}
			return nil
		},
	}
}
