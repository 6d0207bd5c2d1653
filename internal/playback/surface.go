// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package playback

import "github.com/jeranaias/nebot/internal/storage"

// Surface is a display that shows one in-progress assistant message at a
// time. An Engine calls it from a single goroutine, in this order per
// attempt: Begin, any number of Reveal, then exactly one of Finalize or Fail.
type Surface interface {
	// Begin starts a new in-progress assistant message.
	Begin()
	// Reveal appends text to the in-progress message.
	Reveal(text string)
	// Finalize replaces the revealed raw text with its rendered form and
	// ends the in-progress message.
	Finalize(raw, rendered string)
	// Fail reports a terminal streaming error.
	Fail(message string)
}

// Renderer turns finished Markdown into its display form.
type Renderer interface {
	Render(markdown string) (string, error)
}

// SessionReader loads persisted sessions for the recovery path.
type SessionReader interface {
	Get(id string) (*storage.Session, error)
}
