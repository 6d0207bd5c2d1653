// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// DeltaSource identifies which upstream shape a line had.
type DeltaSource int

const (
	// SourceNone is a well-formed line carrying neither text nor a terminal marker.
	SourceNone DeltaSource = iota
	// SourceDone is an explicit terminal marker ("done": true). It never carries text.
	SourceDone
	// SourceChat is the /api/chat shape: {"message":{"content":"..."}}.
	SourceChat
	// SourceGenerate is the /api/generate shape: {"response":"..."}.
	SourceGenerate
)

func (s DeltaSource) String() string {
	switch s {
	case SourceDone:
		return "done"
	case SourceChat:
		return "chat"
	case SourceGenerate:
		return "generate"
	default:
		return "none"
	}
}

// Delta is one normalized upstream line.
type Delta struct {
	Source DeltaSource
	Text   string
}

// HasText reports whether the delta contributes to the assistant message.
func (d Delta) HasText() bool {
	return (d.Source == SourceChat || d.Source == SourceGenerate) && d.Text != ""
}

// Normalize parses one NDJSON line into a Delta. A done marker wins over any
// text on the same line; the chat shape wins over the generate shape.
// Each field is checked on its own, so a field of an unexpected type is
// ignored rather than spoiling the rest of the line.
func Normalize(line []byte) (Delta, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Delta{}, err
	}
	if fields == nil {
		return Delta{}, errors.New("upstream line is null")
	}

	if truthy(fields["done"]) {
		return Delta{Source: SourceDone}, nil
	}
	var message map[string]json.RawMessage
	if raw, ok := fields["message"]; ok && json.Unmarshal(raw, &message) == nil {
		if content, ok := jsonString(message["content"]); ok {
			return Delta{Source: SourceChat, Text: content}, nil
		}
	}
	if response, ok := jsonString(fields["response"]); ok {
		return Delta{Source: SourceGenerate, Text: response}, nil
	}
	return Delta{Source: SourceNone}, nil
}

// jsonString decodes raw when it is a JSON string.
func jsonString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// truthy reports whether a JSON value counts as set: true, a non-zero
// number, a non-empty string, or any object or array.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 't', '{', '[':
		return true
	case 'f', 'n':
		return false
	case '"':
		s, ok := jsonString(raw)
		return ok && s != ""
	default:
		var n float64
		return json.Unmarshal(raw, &n) == nil && n != 0
	}
}
