// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/nebot/internal/config"
	"github.com/jeranaias/nebot/internal/playback"
	"github.com/jeranaias/nebot/internal/render"
	"github.com/jeranaias/nebot/internal/storage"
	"github.com/jeranaias/nebot/internal/stream"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader provides line editing and persistent history for the REPL.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "repl_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *lineReader) Read(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

func (r *lineReader) Close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o755); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	_ = r.line.Close()
}

// =============================================================================
// PRINTING SURFACE
// =============================================================================

// printSurface writes playback to a stream of lines. Reveals are printed as
// they arrive; the rendered form replaces nothing, so it is printed after
// the raw text only when showRendered is set.
type printSurface struct {
	out          io.Writer
	showRendered bool

	mu   sync.Mutex
	done chan struct{}
}

func newPrintSurface(out io.Writer, showRendered bool) *printSurface {
	return &printSurface{out: out, showRendered: showRendered, done: make(chan struct{}, 1)}
}

func (s *printSurface) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, labelStyle.Render("nebot>")+" ")
}

func (s *printSurface) Reveal(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, text)
}

func (s *printSurface) Finalize(raw, rendered string) {
	s.mu.Lock()
	fmt.Fprintln(s.out)
	if s.showRendered && rendered != "" && rendered != raw {
		fmt.Fprintln(s.out, rendered)
	}
	s.mu.Unlock()
	s.signal()
}

func (s *printSurface) Fail(message string) {
	s.mu.Lock()
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, errorStyle.Render("[X] "+message))
	s.mu.Unlock()
	s.signal()
}

func (s *printSurface) signal() {
	select {
	case s.done <- struct{}{}:
	default:
	}
}

// drain discards a completion left over from an earlier reply.
func (s *printSurface) drain() {
	select {
	case <-s.done:
	default:
	}
}

// wait blocks until the current reply finishes, ctx ends or limit passes.
// A zero limit waits without bound.
func (s *printSurface) wait(ctx context.Context, limit time.Duration) {
	var timeout <-chan time.Time
	if limit > 0 {
		t := time.NewTimer(limit)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	case <-timeout:
	}
}

// =============================================================================
// REPL COMMAND
// =============================================================================

// failureGrace is how long to wait for a stream error event after a failed
// send. NotFound and Busy publish nothing, so the wait ends at this limit.
const failureGrace = 500 * time.Millisecond

func newReplCommand(a *app) *cobra.Command {
	var (
		newSession bool
		markdown   bool
	)

	cmd := &cobra.Command{
		Use:   "repl [session-id]",
		Short: "Chat line by line in the current terminal",
		Long: `Chat line by line without taking over the screen.

Commands:
  /new     start a new session
  /title   show the session title
  /help    show this help
  /quit    exit`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

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

			var renderer playback.Renderer
			if markdown {
				term, err := render.NewTerminal("", GetTerminalWidth())
				if err != nil {
					return err
				}
				renderer = term
			}

			registry := playback.NewRegistry(p.bus, a.playbackOptions(p.settings.Get(), renderer, p.store))
			defer registry.Close()

			surface := newPrintSurface(out, markdown)
			engine, err := registry.Attach(ctx, sess.ID, surface)
			if err != nil {
				return err
			}

			reader := newLineReader()
			defer reader.Close()

			printHeader(out, sess)
			for {
				input, err := reader.Read(userStyle.Render("you>") + " ")
				if err != nil {
					// Ctrl+C, Ctrl+D or a closed stdin all end the session.
					fmt.Fprintln(out)
					return nil
				}
				input = strings.TrimSpace(input)
				if input == "" {
					continue
				}

				if strings.HasPrefix(input, "/") {
					switch strings.Fields(input)[0] {
					case "/quit", "/exit", "/q":
						return nil
					case "/new":
						registry.Detach(sess.ID)
						if sess, err = p.store.Create(storage.DefaultTitle); err != nil {
							return err
						}
						if engine, err = registry.Attach(ctx, sess.ID, surface); err != nil {
							return err
						}
						printHeader(out, sess)
					case "/title":
						if current, err := p.store.Get(sess.ID); err == nil {
							sess = current
						}
						fmt.Fprintln(out, dimStyle.Render(sess.Title))
					default:
						fmt.Fprintln(out, dimStyle.Render("/new  /title  /help  /quit"))
					}
					continue
				}

				surface.drain()
				engine.Begin()
				if err := p.service.Send(ctx, sess.ID, input); err != nil {
					fmt.Fprintln(out, errorStyle.Render("Send failed: "+stream.Outcome(err)))
					if hint := backendHint(err, p.settings.Get().Model); hint != "" {
						fmt.Fprintln(out, dimStyle.Render(hint))
					}
					surface.wait(ctx, failureGrace)
					continue
				}
				surface.wait(ctx, 0)
				if ctx.Err() != nil {
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&newSession, "new", "n", false, "Start a new session")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "Also print each reply rendered as Markdown")
	return cmd
}

func printHeader(out io.Writer, sess *storage.Session) {
	fmt.Fprintln(out, labelStyle.Render("Nebot")+" "+dimStyle.Render(sess.Title+" ("+sess.ID+")"))
	if preview := sess.Preview(); preview != "" {
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d messages, started with: %s", len(sess.Messages), preview)))
	}
	fmt.Fprintln(out, dimStyle.Render("Type a message, /help for commands."))
}
