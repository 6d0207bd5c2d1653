// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/nebot/internal/bus"
	"github.com/jeranaias/nebot/internal/ollama"
	"github.com/jeranaias/nebot/internal/storage"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// ChatStreamer opens a streaming chat request and returns its NDJSON body.
type ChatStreamer interface {
	OpenChatStream(ctx context.Context, req ollama.ChatRequest) (io.ReadCloser, error)
}

// TitleScheduler queues best-effort title generation for a session.
// Schedule must not block on the generation itself.
type TitleScheduler interface {
	Schedule(sessionID string)
}

// Config wires a Service.
type Config struct {
	Store   storage.Store
	Bus     bus.Publisher
	Backend ChatStreamer

	// Model is sent with every request. Empty lets the backend client pick.
	Model string

	// SystemPrompt returns the user-configured system prompt at send time.
	// Nil or empty means none.
	SystemPrompt func() string

	// Titles is notified after a successful send. Optional.
	Titles TitleScheduler

	Logger zerolog.Logger
}

// =============================================================================
// SERVICE
// =============================================================================

const readBufferSize = 32 * 1024

// Service is the producer side of the streaming pipeline: it persists the
// user turn, streams the backend reply onto the session's bus topic, and
// persists the assembled assistant turn.
type Service struct {
	store        storage.Store
	bus          bus.Publisher
	backend      ChatStreamer
	model        string
	systemPrompt func() string
	titles       TitleScheduler
	logger       zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService creates a Service from cfg.
func NewService(cfg Config) *Service {
	return &Service{
		store:        cfg.Store,
		bus:          cfg.Bus,
		backend:      cfg.Backend,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		titles:       cfg.Titles,
		logger:       cfg.Logger.With().Str("component", "stream").Logger(),
		inFlight:     make(map[string]struct{}),
	}
}

// Send appends content as a user message to the session, streams the reply
// as Token events on bus.StreamTopic(sessionID), appends the full reply as
// an assistant message, and always ends a started stream with Done.
//
// Failures before any bytes are read publish a single Error event instead.
// Only one Send per session may run at a time; a concurrent call returns an
// error matching ErrBusy without side effects.
func (s *Service) Send(ctx context.Context, sessionID, content string) error {
	if !s.acquire(sessionID) {
		return &SendError{Kind: KindBusy, SessionID: sessionID}
	}
	defer s.release(sessionID)

	log := s.logger.With().Str("session_id", sessionID).Logger()

	sess, err := s.store.Append(sessionID, storage.NewMessage(storage.RoleUser, content))
	if err != nil {
		if storage.IsNotFound(err) || errors.Is(err, storage.ErrInvalidID) {
			return &SendError{Kind: KindNotFound, SessionID: sessionID, Cause: err}
		}
		s.publish(log, sessionID, bus.ErrorEvent("failed to save message"))
		return errors.Wrap(err, "failed to persist user message")
	}

	req := ollama.ChatRequest{
		Model:    s.model,
		Messages: BuildMessages(s.currentSystemPrompt(), sess.Messages),
	}

	body, err := s.backend.OpenChatStream(ctx, req)
	if err != nil {
		if status := ollama.StatusCode(err); status != 0 {
			log.Warn().Int("status", status).Msg("backend rejected chat request")
			s.publish(log, sessionID, bus.ErrorEvent("backend returned HTTP "+strconv.Itoa(status)))
			return &SendError{Kind: KindBadResponse, SessionID: sessionID, Status: status, Cause: err}
		}
		log.Warn().Err(err).Msg("backend unreachable")
		s.publish(log, sessionID, bus.ErrorEvent(err.Error()))
		return &SendError{Kind: KindNetworkFailure, SessionID: sessionID, Cause: err}
	}
	defer body.Close()

	text := s.consume(log, sessionID, body)

	_, persistErr := s.store.Append(sessionID, storage.NewMessage(storage.RoleAssistant, text))
	if persistErr != nil {
		log.Warn().Err(persistErr).Msg("failed to persist assistant message")
	}

	// Done is published even if the backend already sent its own marker.
	s.publish(log, sessionID, bus.DoneEvent())

	if persistErr != nil {
		return errors.Wrap(persistErr, "failed to persist assistant message")
	}

	if s.titles != nil {
		s.titles.Schedule(sessionID)
	}

	log.Debug().Int("chars", len([]rune(text))).Msg("reply persisted")
	return nil
}

// InFlight reports whether a send is currently streaming for sessionID.
func (s *Service) InFlight(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[sessionID]
	return ok
}

// =============================================================================
// REASSEMBLY
// =============================================================================

// consume reads body to the end and returns the accumulated reply text.
// A read error is logged and treated as end of stream.
func (s *Service) consume(log zerolog.Logger, sessionID string, body io.Reader) string {
	var acc strings.Builder
	var lines LineBuffer
	buf := make([]byte, readBufferSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				s.handleLine(log, sessionID, line, &acc, true)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("chars", acc.Len()).Msg("stream interrupted, keeping partial reply")
			break
		}
	}

	if tail := lines.Remainder(); tail != nil {
		// The closing Done is published by Send, so a trailing marker is not repeated here.
		s.handleLine(log, sessionID, tail, &acc, false)
	}
	return acc.String()
}

func (s *Service) handleLine(log zerolog.Logger, sessionID string, line []byte, acc *strings.Builder, publishDone bool) {
	delta, err := Normalize(line)
	if err != nil {
		log.Debug().Err(err).Int("bytes", len(line)).Msg("dropping malformed line")
		return
	}

	switch {
	case delta.Source == SourceDone:
		if publishDone {
			s.publish(log, sessionID, bus.DoneEvent())
		}
	case delta.HasText():
		acc.WriteString(delta.Text)
		s.publish(log, sessionID, bus.TokenEvent(delta.Text))
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) publish(log zerolog.Logger, sessionID string, ev bus.StreamEvent) {
	if err := bus.PublishEvent(s.bus, sessionID, ev); err != nil {
		log.Debug().Err(err).Str("event", string(ev.Type)).Msg("publish failed")
	}
}

func (s *Service) currentSystemPrompt() string {
	if s.systemPrompt == nil {
		return ""
	}
	return s.systemPrompt()
}

func (s *Service) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[sessionID]; busy {
		return false
	}
	s.inFlight[sessionID] = struct{}{}
	return true
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	delete(s.inFlight, sessionID)
	s.mu.Unlock()
}
