// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/nebot/internal/bus"
	"github.com/jeranaias/nebot/internal/config"
	"github.com/jeranaias/nebot/internal/export"
	"github.com/jeranaias/nebot/internal/ollama"
	"github.com/jeranaias/nebot/internal/storage"
	"github.com/jeranaias/nebot/internal/stream"
	"github.com/jeranaias/nebot/internal/tasks"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds JSON request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength bounds a single user message.
	MaxMessageLength = 100000

	// Version is the API version reported by /health.
	Version = "0.1.0"

	healthTimeout = 2 * time.Second
)

// ============================================================================
// DEPENDENCIES
// ============================================================================

// Sender starts a reply for a session. stream.Service implements it.
type Sender interface {
	Send(ctx context.Context, sessionID, content string) error
	InFlight(sessionID string) bool
}

// Jobs lists background work. tasks.Queue implements it.
type Jobs interface {
	All() []tasks.Snapshot
	Summary() string
}

// Backend is the slice of the Ollama client the API exposes.
type Backend interface {
	CheckRunning(ctx context.Context) error
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// SettingsStore reads and updates user settings.
type SettingsStore interface {
	Get() config.Settings
	Save(patch config.SettingsPatch) (config.Settings, error)
}

// Config wires a Server.
type Config struct {
	Addr     string
	Store    storage.Store
	Bus      bus.Bus
	Sender   Sender
	Backend  Backend
	Settings SettingsStore
	// Jobs is optional; /api/tasks is empty without it.
	Jobs     Jobs
	CORS     *CORSConfig
	Logger   zerolog.Logger
}

// ============================================================================
// SERVER
// ============================================================================

// Server exposes sessions, sends and live event streams over HTTP and
// WebSocket.
type Server struct {
	cfg      Config
	mux      *http.ServeMux
	handler  http.Handler
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	http     *http.Server
}

// New creates a server with all routes mounted.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultServerAddr
	}
	if cfg.CORS == nil {
		cfg.CORS = DefaultCORSConfig()
	}
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		logger: cfg.Logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	s.handler = Chain(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(cfg.CORS),
		LoggingMiddleware(s.logger),
	)(s.mux)
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/export", s.handleExportSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleSend)
	s.mux.HandleFunc("GET /api/sessions/{id}/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/sessions/{id}/status", s.handleSessionStatus)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)

	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	s.mux.HandleFunc("GET /api/models", s.handleModels)
	s.mux.HandleFunc("GET /api/tasks", s.handleTasks)

	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// ============================================================================
// SESSION HANDLERS
// ============================================================================

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	metas, err := s.cfg.Store.List()
	if err != nil {
		s.internalError(w, err, "list sessions")
		return
	}
	if metas == nil {
		metas = []storage.SessionMeta{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": metas})
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if !s.decode(w, r, &req) {
			return
		}
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = storage.DefaultTitle
	}

	sess, err := s.cfg.Store.Create(title)
	if err != nil {
		s.internalError(w, err, "create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleSessionStatus tells a reconnecting client whether a reply is
// still streaming.
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        sess.ID,
		"title":     sess.Title,
		"messages":  len(sess.Messages),
		"streaming": s.cfg.Sender.InFlight(sess.ID),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.Delete(r.PathValue("id")); err != nil {
		if storage.IsNotFound(err) || errors.Is(err, storage.ErrInvalidID) {
			writeError(w, http.StatusNotFound, "NotFound")
			return
		}
		s.internalError(w, err, "delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r.PathValue("id"))
	if !ok {
		return
	}

	exp, err := export.ForFormat(r.URL.Query().Get("format"), nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := exp.Export(sess)
	if err != nil {
		s.internalError(w, err, "export session")
		return
	}
	w.Header().Set("Content-Type", exp.MimeType())
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(sess, exp)+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) loadSession(w http.ResponseWriter, id string) (*storage.Session, bool) {
	sess, err := s.cfg.Store.Get(id)
	if err != nil {
		if storage.IsNotFound(err) || errors.Is(err, storage.ErrInvalidID) {
			writeError(w, http.StatusNotFound, "NotFound")
			return nil, false
		}
		s.internalError(w, err, "load session")
		return nil, false
	}
	return sess, true
}

// ============================================================================
// SEND HANDLER
// ============================================================================

type sendRequest struct {
	Content string `json:"content"`
}

// handleSend runs a full send and reports its outcome. Stream events are
// delivered separately on the session's stream socket. The send is detached
// from the request so a client that disconnects does not cut the reply.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, "content too long")
		return
	}

	err := s.cfg.Sender.Send(context.WithoutCancel(r.Context()), r.PathValue("id"), req.Content)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, stream.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, stream.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, stream.ErrNetworkFailure), errors.Is(err, stream.ErrBadResponse):
		status = http.StatusBadGateway
	default:
		s.logger.Error().Err(err).Str("session_id", r.PathValue("id")).Msg("send failed")
	}
	writeError(w, status, stream.Outcome(err))
}

// ============================================================================
// SETTINGS & MODELS
// ============================================================================

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Settings.Get())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var patch config.SettingsPatch
	if !s.decode(w, r, &patch) {
		return
	}
	saved, err := s.cfg.Settings.Save(patch)
	if err != nil {
		s.internalError(w, err, "save settings")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Backend == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"models": []ollama.ModelInfo{}})
		return
	}
	models, err := s.cfg.Backend.ListModels(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("list models failed")
		writeError(w, http.StatusBadGateway, "backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"summary": "", "tasks": []tasks.Snapshot{}})
		return
	}
	snaps := s.cfg.Jobs.All()
	if snaps == nil {
		snaps = []tasks.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"summary": s.cfg.Jobs.Summary(), "tasks": snaps})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{Status: "ok", Backend: "not_configured", Version: Version}

	if s.cfg.Backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.cfg.Backend.CheckRunning(ctx); err == nil {
			health.Backend = "ok"
		} else {
			health.Backend = "unavailable"
			health.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.cfg.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Str("version", Version).Msg("server listening")
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info().Msg("server shutting down")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.logger.Debug().Err(err).Msg("invalid request body")
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, err error, op string) {
	s.logger.Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
