// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/nebot/internal/storage"
	"github.com/jeranaias/nebot/internal/util"
)

const liveCursor = "▌"

// View implements tea.Model.
func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderStatus(),
		m.theme.InputBorder.Width(m.width-2).Render(m.input.View()),
	)
}

func (m Model) renderHeader() string {
	title := m.title
	if title == "" {
		title = storage.DefaultTitle
	}
	brand := m.theme.HeaderBrand.Render("Nebot")
	room := m.width - lipgloss.Width(brand) - 5
	if room < 1 {
		room = 1
	}
	line := brand + "  " + m.theme.HeaderTitle.Render(util.TruncateWidth(title, room))
	return m.theme.Header.Width(m.width).Render(line)
}

func (m Model) renderStatus() string {
	var left string
	switch {
	case m.waiting:
		left = m.spinner.View() + " " + m.theme.WarningStyle.Render("Thinking")
	case m.streaming:
		left = m.spinner.View() + " " + m.theme.WarningStyle.Render("Replying")
	case m.status != "":
		left = m.theme.Status(m.statusKind, m.status)
	}

	var help []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	right := m.theme.Hint.Render(strings.Join(help, "  "))

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		return m.theme.StatusBar.Width(m.width).Render(left)
	}
	return m.theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

// renderTranscript draws every finished entry followed by the in-progress
// reply, if any.
func (m Model) renderTranscript() string {
	width := m.width - 2
	if width < 10 {
		width = 10
	}

	var sb strings.Builder
	for _, e := range m.entries {
		sb.WriteString(m.renderEntry(e, width))
		sb.WriteString("\n\n")
	}
	if m.streaming {
		sb.WriteString(m.theme.AssistantLabel.Render("Nebot"))
		sb.WriteString("\n")
		sb.WriteString(m.theme.LiveText.Width(width).Render(m.live + m.theme.Cursor.Render(liveCursor)))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m Model) renderEntry(e entry, width int) string {
	stamp := m.theme.Timestamp.Render(e.at.Format("15:04"))
	switch {
	case e.failed:
		return m.theme.AssistantLabel.Render("Nebot") + " " + stamp + "\n" +
			m.theme.Status("error", e.text)
	case e.role == storage.RoleAssistant:
		return m.theme.AssistantLabel.Render("Nebot") + " " + stamp + "\n" + e.text
	case e.role == storage.RoleSystem:
		return m.theme.Hint.Render("system: " + e.text)
	default:
		return m.theme.UserLabel.Render("You") + " " + stamp + "\n" +
			m.theme.UserText.Width(width).Render(e.text)
	}
}
