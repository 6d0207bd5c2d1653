// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"github.com/pkg/errors"

	"github.com/jeranaias/nebot/internal/storage"
)

// MarkdownExporter writes the transcript as Markdown.
type MarkdownExporter struct{}

func (MarkdownExporter) Export(sess *storage.Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("session is nil")
	}
	return []byte(sess.ExportMarkdown()), nil
}

func (MarkdownExporter) FileExtension() string { return ".md" }
func (MarkdownExporter) MimeType() string      { return "text/markdown; charset=utf-8" }

// JSONExporter writes the full session as indented JSON.
type JSONExporter struct{}

func (JSONExporter) Export(sess *storage.Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("session is nil")
	}
	return sess.ExportJSON()
}

func (JSONExporter) FileExtension() string { return ".json" }
func (JSONExporter) MimeType() string      { return "application/json" }

// YAMLExporter writes the full session as YAML.
type YAMLExporter struct{}

func (YAMLExporter) Export(sess *storage.Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("session is nil")
	}
	return sess.ExportYAML()
}

func (YAMLExporter) FileExtension() string { return ".yaml" }
func (YAMLExporter) MimeType() string      { return "application/yaml" }
