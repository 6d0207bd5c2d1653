// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bus

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// =============================================================================
// STREAM EVENTS
// =============================================================================

// EventType tags the StreamEvent variants.
type EventType string

const (
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent is one producer-side event of a streaming attempt: a Token
// delta, the Done terminator, or an Error terminator.
type StreamEvent struct {
	Type    EventType
	Token   string
	Message string
}

// TokenEvent returns a Token event carrying text.
func TokenEvent(text string) StreamEvent {
	return StreamEvent{Type: EventToken, Token: text}
}

// DoneEvent returns the Done event.
func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}

// ErrorEvent returns an Error event carrying message.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}

// Terminal reports whether ev ends a streaming attempt.
func (ev StreamEvent) Terminal() bool {
	return ev.Type == EventDone || ev.Type == EventError
}

type tokenWire struct {
	Type  EventType `json:"type"`
	Token string    `json:"token"`
}

type doneWire struct {
	Type EventType `json:"type"`
}

type errorWire struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

// MarshalJSON emits exactly {type,token}, {type} or {type,message}.
func (ev StreamEvent) MarshalJSON() ([]byte, error) {
	switch ev.Type {
	case EventToken:
		return json.Marshal(tokenWire{Type: ev.Type, Token: ev.Token})
	case EventDone:
		return json.Marshal(doneWire{Type: ev.Type})
	case EventError:
		return json.Marshal(errorWire{Type: ev.Type, Message: ev.Message})
	default:
		return nil, errors.Errorf("unknown stream event type %q", ev.Type)
	}
}

// UnmarshalJSON accepts the three wire shapes.
func (ev *StreamEvent) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type    EventType `json:"type"`
		Token   string    `json:"token"`
		Message string    `json:"message"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case EventToken:
		*ev = TokenEvent(wire.Token)
	case EventDone:
		*ev = DoneEvent()
	case EventError:
		*ev = ErrorEvent(wire.Message)
	default:
		return errors.Errorf("unknown stream event type %q", wire.Type)
	}
	return nil
}

// DecodeEvent parses a bus payload into a StreamEvent.
func DecodeEvent(payload []byte) (StreamEvent, error) {
	var ev StreamEvent
	err := json.Unmarshal(payload, &ev)
	return ev, err
}

// =============================================================================
// TITLE EVENTS
// =============================================================================

// TitleEvent announces that a session's title changed.
type TitleEvent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// DecodeTitle parses a bus payload into a TitleEvent.
func DecodeTitle(payload []byte) (TitleEvent, error) {
	var ev TitleEvent
	err := json.Unmarshal(payload, &ev)
	return ev, err
}
