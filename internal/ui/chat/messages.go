// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/nebot/internal/bus"
)

// =============================================================================
// MESSAGES
// =============================================================================

// beginMsg starts a new in-progress assistant message.
type beginMsg struct{}

// revealMsg appends revealed text to the in-progress message.
type revealMsg struct{ text string }

// finalizeMsg replaces the in-progress message with its rendered form.
type finalizeMsg struct {
	raw      string
	rendered string
}

// failMsg reports a stream error event.
type failMsg struct{ message string }

// sendResultMsg carries the outcome of a send once the backend is done.
type sendResultMsg struct{ err error }

// titleMsg carries a new title for the open session.
type titleMsg struct{ title string }

// =============================================================================
// SURFACE
// =============================================================================

// Surface adapts the playback engine's callbacks to Bubble Tea messages.
// The engine calls it from its own goroutine; each call becomes a message
// delivered to the program's update loop.
type Surface struct {
	mu   sync.RWMutex
	send func(tea.Msg)
}

// NewSurface returns an unbound surface. Calls before Bind are dropped.
func NewSurface() *Surface {
	return &Surface{}
}

// Bind sets the function used to deliver messages, typically
// (*tea.Program).Send.
func (s *Surface) Bind(send func(tea.Msg)) {
	s.mu.Lock()
	s.send = send
	s.mu.Unlock()
}

func (s *Surface) emit(msg tea.Msg) {
	s.mu.RLock()
	send := s.send
	s.mu.RUnlock()
	if send != nil {
		send(msg)
	}
}

// Begin implements playback.Surface.
func (s *Surface) Begin() {
	s.emit(beginMsg{})
}

// Reveal implements playback.Surface.
func (s *Surface) Reveal(text string) {
	s.emit(revealMsg{text: text})
}

// Finalize implements playback.Surface.
func (s *Surface) Finalize(raw, rendered string) {
	s.emit(finalizeMsg{raw: raw, rendered: rendered})
}

// Fail implements playback.Surface.
func (s *Surface) Fail(message string) {
	s.emit(failMsg{message: message})
}

// =============================================================================
// COMMANDS
// =============================================================================

// sendCmd arms playback and then runs the send. Begin must not be called
// from Update: the engine may be blocked delivering a message to it.
func sendCmd(ctx context.Context, engine Beginner, sender Sender, sessionID, content string) tea.Cmd {
	return func() tea.Msg {
		if engine != nil {
			engine.Begin()
		}
		return sendResultMsg{err: sender.Send(ctx, sessionID, content)}
	}
}

// waitForTitle waits for the next title change of sessionID.
func waitForTitle(ch <-chan []byte, sessionID string) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		for payload := range ch {
			ev, err := bus.DecodeTitle(payload)
			if err != nil || ev.ID != sessionID {
				continue
			}
			return titleMsg{title: ev.Title}
		}
		return nil
	}
}
