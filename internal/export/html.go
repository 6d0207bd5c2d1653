// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/nebot/internal/render"
	"github.com/jeranaias/nebot/internal/storage"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter writes a standalone page. Assistant replies go through the
// same sanitizing Markdown renderer the browser frontend uses; user and
// system text is escaped verbatim.
type HTMLExporter struct {
	options  *Options
	markdown *render.HTML
}

// NewHTMLExporter creates an HTML exporter. nil opts means DefaultOptions.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Theme != "light" {
		opts.Theme = "dark"
	}
	return &HTMLExporter{options: opts, markdown: render.NewHTML()}
}

// Export converts a session to an HTML page.
func (e *HTMLExporter) Export(sess *storage.Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("session is nil")
	}

	title := html.EscapeString(sess.Title)

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("<meta charset=\"UTF-8\">\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString("<meta name=\"generator\" content=\"nebot\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", title)
	sb.WriteString(stylesheet)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n<div class=\"container\">\n", e.options.Theme)

	sb.WriteString("<header class=\"header\">\n")
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", title)
	fmt.Fprintf(&sb, "<div class=\"metadata\"><span>%s</span><span>%d messages</span></div>\n",
		sess.CreatedAt.Format("2006-01-02 15:04"), len(sess.Messages))
	sb.WriteString("</header>\n")

	sb.WriteString("<main class=\"conversation\">\n")
	if len(sess.Messages) == 0 {
		sb.WriteString("<p class=\"empty\">No messages yet.</p>\n")
	}
	for _, msg := range sess.Messages {
		e.writeMessage(&sb, msg)
	}
	sb.WriteString("</main>\n")

	fmt.Fprintf(&sb, "<footer class=\"footer\">Exported from nebot on %s</footer>\n",
		time.Now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("</div>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

func (e *HTMLExporter) FileExtension() string { return ".html" }
func (e *HTMLExporter) MimeType() string      { return "text/html; charset=utf-8" }

func (e *HTMLExporter) writeMessage(sb *strings.Builder, msg storage.Message) {
	fmt.Fprintf(sb, "<div class=\"message %s-message\">\n", roleClass(msg.Role))
	sb.WriteString("<div class=\"message-header\">")
	fmt.Fprintf(sb, "<span class=\"role-label\">%s</span>", roleLabel(msg.Role))
	if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
		fmt.Fprintf(sb, "<span class=\"timestamp\">%s</span>", msg.Timestamp.Format("15:04:05"))
	}
	sb.WriteString("</div>\n<div class=\"message-content\">\n")
	if msg.Role == storage.RoleAssistant {
		sb.WriteString(e.markdown.RenderOrFallback(msg.Content))
	} else {
		sb.WriteString("<p>" + render.Fallback(msg.Content) + "</p>")
	}
	sb.WriteString("\n</div>\n</div>\n")
}

func roleClass(role storage.Role) string {
	if role.Valid() {
		return string(role)
	}
	return "unknown"
}

func roleLabel(role storage.Role) string {
	switch role {
	case storage.RoleUser:
		return "You"
	case storage.RoleAssistant:
		return "Nebot"
	case storage.RoleSystem:
		return "System"
	default:
		return "Unknown"
	}
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const stylesheet = `<style>
* { margin: 0; padding: 0; box-sizing: border-box; }
:root {
  --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif;
  --font-mono: "SF Mono", "Fira Code", "Source Code Pro", monospace;
}
.dark-theme {
  --bg: #0f0f14; --panel: #18181f; --raised: #25252e; --border: #33333d;
  --text: #e4e4e7; --muted: #8b8b96; --user: #22d3ee; --assistant: #a78bfa;
}
.light-theme {
  --bg: #ffffff; --panel: #f7f7f9; --raised: #ececf1; --border: #dcdce3;
  --text: #18181b; --muted: #6b6b76; --user: #0891b2; --assistant: #7c3aed;
}
body { font-family: var(--font-sans); line-height: 1.6; color: var(--text); background: var(--bg); padding: 20px; }
.container { max-width: 860px; margin: 0 auto; background: var(--panel); border-radius: 10px; overflow: hidden; }
.header { padding: 28px 32px; background: var(--raised); border-bottom: 1px solid var(--border); }
.header h1 { font-size: 26px; margin-bottom: 8px; }
.metadata { display: flex; gap: 16px; font-size: 14px; color: var(--muted); }
.conversation { padding: 24px 32px; }
.message { margin-bottom: 20px; padding: 16px 20px; border-radius: 8px; border-left: 4px solid var(--border); background: var(--bg); }
.user-message { border-left-color: var(--user); }
.assistant-message { border-left-color: var(--assistant); }
.message-header { display: flex; justify-content: space-between; margin-bottom: 8px; font-size: 14px; }
.role-label { font-weight: 600; }
.timestamp { color: var(--muted); font-family: var(--font-mono); font-size: 13px; }
.message-content p { margin-bottom: 10px; }
.message-content p:last-child { margin-bottom: 0; }
.message-content pre { margin: 12px 0; padding: 14px; overflow-x: auto; background: var(--raised); border-radius: 6px; }
.message-content code { font-family: var(--font-mono); font-size: 14px; }
.message-content table { border-collapse: collapse; margin: 12px 0; }
.message-content th, .message-content td { border: 1px solid var(--border); padding: 4px 10px; }
.message-content a { color: var(--assistant); }
.empty { color: var(--muted); }
.footer { padding: 16px 32px; text-align: center; font-size: 13px; color: var(--muted); border-top: 1px solid var(--border); }
@media print { body { padding: 0; } .container { border-radius: 0; } .message { page-break-inside: avoid; } }
</style>
`
