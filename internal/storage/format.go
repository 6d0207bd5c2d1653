// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/nebot/internal/util"
)

// FormatSessionList renders sessions as a fixed-width table for the CLI.
func FormatSessionList(sessions []SessionMeta) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}

	var sb strings.Builder
	sb.WriteString(pad("ID", 16) + " " + pad("Updated", 17) + " " + pad("Msgs", 5) + " Title\n")
	sb.WriteString(strings.Repeat("-", 72) + "\n")

	for _, s := range sessions {
		sb.WriteString(pad(s.ID, 16) + " " +
			pad(s.UpdatedAt.Format("2006-01-02 15:04"), 17) + " " +
			pad(strconv.Itoa(s.MessageCount), 5) + " " +
			util.TruncateWidth(s.Title, 32) + "\n")
	}
	return sb.String()
}

func pad(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, ""), width)
}
