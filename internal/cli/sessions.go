// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/nebot/internal/export"
	"github.com/jeranaias/nebot/internal/render"
	"github.com/jeranaias/nebot/internal/storage"
)

func newSessionsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "s"},
		Short:   "Manage saved chat sessions",
	}
	cmd.AddCommand(
		newSessionsListCommand(a),
		newSessionsShowCommand(a),
		newSessionsNewCommand(a),
		newSessionsDeleteCommand(a),
		newSessionsExportCommand(a),
	)
	return cmd
}

// withStore opens the session store for the duration of fn.
func (a *app) withStore(fn func(storage.Store) error) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newSessionsListCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions, most recently updated first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store storage.Store) error {
				metas, err := store.List()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(metas)
				}
				fmt.Fprint(out, storage.FormatSessionList(metas))
				if len(metas) == 0 {
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newSessionsShowCommand(a *app) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store storage.Store) error {
				sess, err := store.Get(args[0])
				if err != nil {
					return errors.Wrapf(err, "session %s", args[0])
				}
				md := sess.ExportMarkdown()
				out := cmd.OutOrStdout()
				if raw || !IsStdoutTTY() {
					fmt.Fprint(out, md)
					return nil
				}
				term, err := render.NewTerminal("", GetTerminalWidth())
				if err != nil {
					return err
				}
				rendered, err := term.Render(md)
				if err != nil {
					rendered = md
				}
				fmt.Fprintln(out, rendered)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print Markdown without rendering")
	return cmd
}

func newSessionsNewCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "Create an empty session",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args, " "))
			if title == "" {
				title = storage.DefaultTitle
			}
			return a.withStore(func(store storage.Store) error {
				sess, err := store.Create(title)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
				return nil
			})
		},
	}
}

func newSessionsDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <session-id>...",
		Aliases: []string{"rm"},
		Short:   "Delete sessions",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store storage.Store) error {
				for _, id := range args {
					if err := store.Delete(id); err != nil {
						return errors.Wrapf(err, "delete %s", id)
					}
					fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("[OK]")+" deleted "+id)
				}
				return nil
			})
		},
	}
}

func newSessionsExportCommand(a *app) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session as Markdown, JSON, YAML or HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store storage.Store) error {
				sess, err := store.Get(args[0])
				if err != nil {
					return errors.Wrapf(err, "session %s", args[0])
				}

				exp, err := export.ForFormat(format, nil)
				if err != nil {
					return err
				}
				data, err := exp.Export(sess)
				if err != nil {
					return err
				}
				if output == "." {
					output = export.Filename(sess, exp)
				}

				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o600); err != nil {
					return errors.Wrap(err, "write export")
				}
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("[OK]")+" wrote "+output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "Export format: md, json, yaml or html")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, or . for a generated name (default stdout)")
	return cmd
}
