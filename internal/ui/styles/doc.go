// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles holds the color palette and lipgloss styles of the chat
// TUI. Colors are lipgloss AdaptiveColors so light and dark terminals both
// read well.
//
// # Usage
//
//	theme := styles.NewTheme()
//	label := theme.AssistantLabel.Render("Nebot")
//	status := theme.Status("error", "NetworkFailure")
package styles
