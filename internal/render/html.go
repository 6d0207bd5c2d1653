// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	gmutil "github.com/yuin/goldmark/util"
)

// =============================================================================
// HTML RENDERER
// =============================================================================

// allowedElements is the sanitizer allowlist for rendered replies.
var allowedElements = []string{
	"p", "br", "strong", "em", "code", "pre", "blockquote",
	"ul", "ol", "li", "h1", "h2", "h3", "h4", "h5", "h6",
	"a", "hr", "table", "thead", "tbody", "tr", "th", "td", "del",
}

// HTML renders GitHub-flavored markdown to sanitized HTML. Single newlines
// become line breaks and links open in a new tab.
type HTML struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewHTML returns a ready HTML renderer. It is safe for concurrent use.
func NewHTML() *HTML {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithASTTransformers(gmutil.Prioritized(linkTargets{}, 100)),
		),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
	return &HTML{md: md, policy: newPolicy()}
}

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(allowedElements...)
	p.AllowStandardURLs()
	p.RequireNoFollowOnLinks(false)
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")
	p.AllowAttrs("rel").Matching(regexp.MustCompile(`^noopener noreferrer$`)).OnElements("a")
	p.AllowAttrs("align").Matching(regexp.MustCompile(`^(left|center|right)$`)).OnElements("th", "td")
	return p
}

// Render converts markdown to sanitized HTML.
func (h *HTML) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := h.md.Convert([]byte(markdown), &buf); err != nil {
		return "", errors.Wrap(err, "render markdown")
	}
	return strings.TrimSpace(h.policy.Sanitize(buf.String())), nil
}

// RenderOrFallback renders markdown and falls back to escaped text with
// line breaks when rendering fails.
func (h *HTML) RenderOrFallback(markdown string) string {
	out, err := h.Render(markdown)
	if err != nil {
		return Fallback(markdown)
	}
	return out
}

// Fallback escapes text and turns newlines into <br>.
func Fallback(s string) string {
	return strings.ReplaceAll(html.EscapeString(s), "\n", "<br>")
}

// linkTargets marks every link to open in a new tab without referrer.
type linkTargets struct{}

func (linkTargets) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.Link, *ast.AutoLink:
			n.SetAttributeString("target", []byte("_blank"))
			n.SetAttributeString("rel", []byte("noopener noreferrer"))
		}
		return ast.WalkContinue, nil
	})
}
