// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns finalized assistant replies from markdown into
// display output.
//
// HTML uses goldmark with the GFM extension and sanitizes the result with a
// bluemonday allowlist. Terminal uses glamour. Both satisfy
// playback.Renderer.
package render
