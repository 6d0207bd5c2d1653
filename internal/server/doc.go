// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat pipeline over HTTP and WebSocket for the
// browser frontend.
//
// # Endpoints
//
//   - GET    /api/sessions                  - List sessions, newest first
//   - POST   /api/sessions                  - Create a session
//   - GET    /api/sessions/{id}             - Full session with messages
//   - DELETE /api/sessions/{id}             - Delete a session
//   - GET    /api/sessions/{id}/export      - Export as md, json, yaml or html
//   - POST   /api/sessions/{id}/messages    - Send a message and await the outcome
//   - GET    /api/sessions/{id}/stream      - WebSocket of stream events
//   - GET    /api/sessions/{id}/status      - Whether a reply is streaming
//   - GET    /api/events                    - WebSocket of chat-updated events
//   - GET    /api/settings, PUT /api/settings
//   - GET    /api/models
//   - GET    /api/tasks                     - Background title jobs
//   - GET    /health
//
// Send failures are reported as {"error": outcome} where outcome is one of
// NotFound, NetworkFailure, BadResponse:<status>, Busy or Error.
//
// # Key Types
//
//   - Server: router, middleware chain and lifecycle
//   - Config: collaborators the handlers call into
//
// # Usage
//
//	srv := server.New(server.Config{
//		Addr:     "127.0.0.1:8484",
//		Store:    store,
//		Bus:      b,
//		Sender:   svc,
//		Backend:  client,
//		Settings: settings,
//		Logger:   log.Logger,
//	})
//	if err := srv.Run(ctx); err != nil {
//		log.Fatal().Err(err).Msg("server")
//	}
package server
