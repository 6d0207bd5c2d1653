// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components for the chat UI.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	// ==========================================================================
	// HEADER
	// ==========================================================================

	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	HeaderTitle lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	UserText       lipgloss.Style
	LiveText       lipgloss.Style
	Cursor         lipgloss.Style
	Timestamp      lipgloss.Style

	// ==========================================================================
	// INPUT & STATUS
	// ==========================================================================

	InputBorder lipgloss.Style
	StatusBar   lipgloss.Style
	Spinner     lipgloss.Style
	Hint        lipgloss.Style

	SuccessStyle lipgloss.Style
	ErrorStyle   lipgloss.Style
	WarningStyle lipgloss.Style
}

// NewTheme creates a theme for the current terminal.
func NewTheme() *Theme {
	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextPrimary).
		Padding(0, 1)
	t.HeaderBrand = lipgloss.NewStyle().Bold(true).Foreground(Violet)
	t.HeaderTitle = lipgloss.NewStyle().Foreground(TextSecondary).Italic(true)

	t.UserLabel = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.AssistantLabel = lipgloss.NewStyle().Bold(true).Foreground(Violet)
	t.UserText = lipgloss.NewStyle().Foreground(TextPrimary).PaddingLeft(2)
	t.LiveText = lipgloss.NewStyle().Foreground(TextPrimary).PaddingLeft(2)
	t.Cursor = lipgloss.NewStyle().Foreground(Violet)
	t.Timestamp = lipgloss.NewStyle().Foreground(TextMuted)

	t.InputBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Violet)
	t.StatusBar = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextSecondary).
		Padding(0, 1)
	t.Spinner = lipgloss.NewStyle().Foreground(Amber)
	t.Hint = lipgloss.NewStyle().Foreground(TextMuted)

	t.SuccessStyle = lipgloss.NewStyle().Foreground(Emerald)
	t.ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(Rose)
	t.WarningStyle = lipgloss.NewStyle().Foreground(Amber)
}

// Status renders a colored status with its ASCII marker.
func (t *Theme) Status(kind, text string) string {
	switch kind {
	case "success":
		return t.SuccessStyle.Render(StatusIndicators.Success + " " + text)
	case "error":
		return t.ErrorStyle.Render(StatusIndicators.Error + " " + text)
	case "pending":
		return t.WarningStyle.Render(StatusIndicators.Pending + " " + text)
	default:
		return t.Hint.Render(StatusIndicators.Active + " " + text)
	}
}
