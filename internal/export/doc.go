// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export converts stored chat sessions to downloadable documents.
//
// # Key Types
//
//   - Exporter: format-specific conversion plus file extension and MIME type
//   - Options: timestamp and theme settings for the HTML document
//
// # Supported Formats
//
//   - md: Markdown transcript
//   - json: full session with messages
//   - yaml: same fields as json
//   - html: standalone page with replies rendered as sanitized HTML
//
// # Usage
//
//	exp, err := export.ForFormat("html", nil)
//	if err != nil {
//	    return err
//	}
//	data, err := exp.Export(sess)
//	name := export.Filename(sess, exp)
package export
