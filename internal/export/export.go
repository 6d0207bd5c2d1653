// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/jeranaias/nebot/internal/storage"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a session to one document format.
type Exporter interface {
	// Export returns the document bytes.
	Export(sess *storage.Session) ([]byte, error)

	// FileExtension returns the extension including the dot, e.g. ".md".
	FileExtension() string

	// MimeType returns the Content-Type to serve the document with.
	MimeType() string
}

// ErrUnknownFormat is returned by ForFormat for unsupported names.
var ErrUnknownFormat = errors.New("unknown export format")

// Formats lists the names accepted by ForFormat.
var Formats = []string{"md", "json", "yaml", "html"}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures the HTML export. Other formats ignore it.
type Options struct {
	// IncludeTimestamps adds a time to each message.
	IncludeTimestamps bool

	// Theme is "light" or "dark".
	Theme string
}

// DefaultOptions returns timestamps on and the dark theme.
func DefaultOptions() *Options {
	return &Options{IncludeTimestamps: true, Theme: "dark"}
}

// ForFormat returns the exporter for a format name. Names are
// case-insensitive and "markdown" and "yml" are accepted as aliases.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "md", "markdown":
		return MarkdownExporter{}, nil
	case "json":
		return JSONExporter{}, nil
	case "yaml", "yml":
		return YAMLExporter{}, nil
	case "html":
		return NewHTMLExporter(opts), nil
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%q (want %s)", format, strings.Join(Formats, ", "))
	}
}

// Filename builds a download name from the session title and id.
func Filename(sess *storage.Session, exp Exporter) string {
	return "nebot_" + sanitizeFilename(sess.Title) + "_" + sess.ID + exp.FileExtension()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

const maxFilenameRunes = 50

// sanitizeFilename replaces characters that are invalid in filenames on
// any platform and caps the length.
func sanitizeFilename(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > maxFilenameRunes {
		runes = runes[:maxFilenameRunes]
	}

	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			out = append(out, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			out = append(out, '_')
		case r < 32 || r == 127:
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}

	if len(out) == 0 {
		return "session"
	}
	return string(out)
}
