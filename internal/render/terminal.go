// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
)

// DefaultWrap is the word wrap width used when none is given.
const DefaultWrap = 80

// Terminal renders markdown for a terminal with glamour.
type Terminal struct {
	mu sync.Mutex
	tr *glamour.TermRenderer
}

// TerminalStyle picks the glamour style for the current output: plain text
// when colors are unavailable, otherwise dark or light to match the
// background.
func TerminalStyle() string {
	if termenv.EnvColorProfile() == termenv.Ascii {
		return styles.NoTTYStyle
	}
	if termenv.HasDarkBackground() {
		return styles.DarkStyle
	}
	return styles.LightStyle
}

// NewTerminal returns a renderer that wraps at width columns using style.
// An empty style selects TerminalStyle.
func NewTerminal(style string, width int) (*Terminal, error) {
	if width <= 0 {
		width = DefaultWrap
	}
	if style == "" {
		style = TerminalStyle()
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create terminal renderer")
	}
	return &Terminal{tr: tr}, nil
}

// Render converts markdown to styled terminal text.
func (t *Terminal) Render(markdown string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out, err := t.tr.Render(markdown)
	if err != nil {
		return "", errors.Wrap(err, "render markdown")
	}
	return strings.TrimRight(out, "\n"), nil
}
