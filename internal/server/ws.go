// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeranaias/nebot/internal/bus"
)

// ============================================================================
// WEBSOCKET STREAMS
// ============================================================================

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// handleStream forwards a session's stream events, one JSON frame per
// event, until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.loadSession(w, id); !ok {
		return
	}
	s.serveTopic(w, r, bus.StreamTopic(id))
}

// handleEvents forwards chat-updated notifications such as title changes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.serveTopic(w, r, bus.ChatUpdatedTopic)
}

// serveTopic subscribes before upgrading so nothing published after the
// handshake completes is missed.
func (s *Server) serveTopic(w http.ResponseWriter, r *http.Request, topic string) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.cfg.Bus.Subscribe(ctx, topic)
	if err != nil {
		s.internalError(w, err, "subscribe "+topic)
		return
	}
	defer sub.Unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug().Err(err).Str("topic", topic).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.logger.With().Str("topic", sub.Topic()).Logger()
	log.Debug().Msg("websocket connected")

	// Inbound frames are discarded; a read error means the peer is gone.
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			log.Debug().Msg("websocket closed")
			return

		case payload, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
