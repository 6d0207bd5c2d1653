// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"

	"github.com/jeranaias/nebot/internal/ollama"
	"github.com/jeranaias/nebot/internal/storage"
)

// IdentityPreamble is always the first system message of a request.
const IdentityPreamble = "You are Nebot, a plugin running inside the Nebula browser. " +
	"Adopt a helpful, engaging tone. Describe your answers clearly and briefly explain your reasoning when useful. " +
	"Use concise formatting and small examples. Avoid unsafe content and be honest about limitations."

// BuildMessages returns the outbound conversation: the identity preamble,
// the configured system prompt when set, then the transcript in stored order.
func BuildMessages(systemPrompt string, transcript []storage.Message) []ollama.Message {
	msgs := make([]ollama.Message, 0, len(transcript)+2)
	msgs = append(msgs, ollama.NewSystemMessage(IdentityPreamble))
	if sp := strings.TrimSpace(systemPrompt); sp != "" {
		msgs = append(msgs, ollama.NewSystemMessage(sp))
	}
	for _, m := range transcript {
		switch m.Role {
		case storage.RoleUser:
			msgs = append(msgs, ollama.NewUserMessage(m.Content))
		case storage.RoleAssistant:
			msgs = append(msgs, ollama.NewAssistantMessage(m.Content))
		default:
			msgs = append(msgs, ollama.Message{Role: string(m.Role), Content: m.Content})
		}
	}
	return msgs
}
