// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLRender(t *testing.T) {
	h := NewHTML()

	tests := []struct {
		name     string
		input    string
		contains []string
		absent   []string
	}{
		{
			name:     "emphasis",
			input:    "**bold** and *it*",
			contains: []string{"<strong>bold</strong>", "<em>it</em>"},
		},
		{
			name:     "hard wraps",
			input:    "line one\nline two",
			contains: []string{"line one<br", "line two"},
		},
		{
			name:     "fenced code",
			input:    "```go\nfmt.Println(1)\n```",
			contains: []string{"<pre>", "<code>", "fmt.Println(1)"},
		},
		{
			name:     "table",
			input:    "| a | b |\n|---|---|\n| 1 | 2 |",
			contains: []string{"<table>", "<th>a</th>", "<td>2</td>"},
		},
		{
			name:     "links open in new tab",
			input:    "[site](https://example.com)",
			contains: []string{`href="https://example.com"`, `target="_blank"`, `rel="noopener noreferrer"`},
			absent:   []string{"nofollow"},
		},
		{
			name:   "script stripped",
			input:  "hi <script>alert(1)</script>",
			absent: []string{"<script", "alert(1)</script>"},
		},
		{
			name:   "javascript urls dropped",
			input:  "[x](javascript:alert(1))",
			absent: []string{"javascript:"},
		},
		{
			name:   "images not allowed",
			input:  "![alt](https://example.com/a.png)",
			absent: []string{"<img"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := h.Render(tt.input)
			require.NoError(t, err)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			for _, bad := range tt.absent {
				assert.NotContains(t, out, bad)
			}
		})
	}
}

func TestFallback(t *testing.T) {
	assert.Equal(t, "a &lt;b&gt;<br>c &amp; d", Fallback("a <b>\nc & d"))
	assert.Equal(t, "", Fallback(""))
}

func TestRenderOrFallback(t *testing.T) {
	h := NewHTML()
	assert.Equal(t, "<p>plain</p>", h.RenderOrFallback("plain"))
}

func TestTerminalRender(t *testing.T) {
	term, err := NewTerminal("notty", 40)
	require.NoError(t, err)

	out, err := term.Render("# Title\n\nSome **bold** text.")
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "bold")
	assert.False(t, strings.HasSuffix(out, "\n"))
}
