// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package playback

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/jeranaias/nebot/internal/bus"
)

// Registry keeps at most one Engine per session. Engines for different
// sessions share nothing.
type Registry struct {
	bus  bus.Bus
	opts Options

	mu      sync.Mutex
	engines map[string]*Engine
	closed  bool
}

// NewRegistry returns an empty registry that subscribes through b.
func NewRegistry(b bus.Bus, opts Options) *Registry {
	if opts.Pacing == (Pacing{}) {
		opts.Pacing = DefaultPacing()
	}
	return &Registry{
		bus:     b,
		opts:    opts,
		engines: make(map[string]*Engine),
	}
}

// Attach subscribes to the session's stream topic and starts an engine that
// drives surface. The subscription is live when Attach returns. An engine
// already attached to the session is closed and replaced.
func (r *Registry) Attach(ctx context.Context, sessionID string, surface Surface) (*Engine, error) {
	if surface == nil {
		return nil, errors.New("playback: nil surface")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New("playback: registry closed")
	}
	prev := r.engines[sessionID]
	delete(r.engines, sessionID)
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	sub, err := r.bus.Subscribe(ctx, bus.StreamTopic(sessionID))
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe to session %s", sessionID)
	}

	e := newEngine(ctx, sessionID, sub, surface, r.opts)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		e.Close()
		return nil, errors.New("playback: registry closed")
	}
	if raced := r.engines[sessionID]; raced != nil {
		defer raced.Close()
	}
	r.engines[sessionID] = e
	r.mu.Unlock()

	return e, nil
}

// Get returns the engine attached to sessionID, if any.
func (r *Registry) Get(sessionID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[sessionID]
	return e, ok
}

// Detach closes the engine attached to sessionID. Detaching an unknown
// session is a no-op.
func (r *Registry) Detach(sessionID string) {
	r.mu.Lock()
	e := r.engines[sessionID]
	delete(r.engines, sessionID)
	r.mu.Unlock()

	if e != nil {
		e.Close()
	}
}

// DetachEngine closes e and removes it only if it is still the engine
// attached to its session.
func (r *Registry) DetachEngine(e *Engine) {
	r.mu.Lock()
	if r.engines[e.sessionID] == e {
		delete(r.engines, e.sessionID)
	}
	r.mu.Unlock()
	e.Close()
}

// Len returns the number of attached engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Close closes every engine. Later Attach calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}
