// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package playback

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/nebot/internal/bus"
	"github.com/jeranaias/nebot/internal/ollama"
	"github.com/jeranaias/nebot/internal/storage"
	"github.com/jeranaias/nebot/internal/stream"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type recordingSurface struct {
	mu        sync.Mutex
	calls     []string
	revealed  strings.Builder
	begins    int
	finalRaw  string
	finalHTML string
	finalized int
	failed    []string
}

func (s *recordingSurface) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	s.revealed.Reset()
	s.calls = append(s.calls, "begin")
}

func (s *recordingSurface) Reveal(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revealed.WriteString(text)
	s.calls = append(s.calls, "reveal")
}

func (s *recordingSurface) Finalize(raw, rendered string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalRaw = raw
	s.finalHTML = rendered
	s.finalized++
	s.calls = append(s.calls, "finalize")
}

func (s *recordingSurface) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, message)
	s.calls = append(s.calls, "fail")
}

func (s *recordingSurface) finalizedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

func (s *recordingSurface) snapshot() (revealed string, calls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revealed.String(), append([]string(nil), s.calls...)
}

type upperRenderer struct{ err error }

func (r upperRenderer) Render(md string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "<p>" + strings.ToUpper(md) + "</p>", nil
}

type fakeSessions struct {
	mu    sync.Mutex
	sess  *storage.Session
	calls int
}

func (f *fakeSessions) Get(id string) (*storage.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.sess == nil {
		return nil, storage.ErrSessionNotFound
	}
	return f.sess, nil
}

func (f *fakeSessions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.Pacing = Pacing{Base: time.Millisecond, Floor: time.Millisecond / 2, ShortThreshold: DefaultShortThreshold}
	opts.RecoveryWait = 0
	return opts
}

func newTestRegistry(t *testing.T, opts Options) (*Registry, bus.Bus) {
	t.Helper()
	b := bus.NewMemory(zerolog.Nop())
	reg := NewRegistry(b, opts)
	t.Cleanup(func() {
		reg.Close()
		_ = b.Close()
	})
	return reg, b
}

func publish(t *testing.T, b bus.Bus, sessionID string, events ...bus.StreamEvent) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, bus.PublishEvent(b, sessionID, ev))
	}
}

// =============================================================================
// PACING
// =============================================================================

func TestPacingDelay(t *testing.T) {
	p := DefaultPacing()

	t.Run("short messages use constant base", func(t *testing.T) {
		for i := 0; i <= 10; i++ {
			assert.Equal(t, DefaultBaseDelay, p.Delay(i, 10))
		}
	})

	t.Run("long messages start at base and floor at the end", func(t *testing.T) {
		assert.Equal(t, 25*time.Millisecond, p.Delay(0, 200))
		assert.Equal(t, DefaultMinDelay, p.Delay(200, 200))
	})

	t.Run("non-increasing and never below floor", func(t *testing.T) {
		prev := p.Delay(0, 500)
		for i := 1; i <= 500; i++ {
			d := p.Delay(i, 500)
			assert.LessOrEqual(t, d, prev, "emitted=%d", i)
			assert.GreaterOrEqual(t, d, p.Floor, "emitted=%d", i)
			prev = d
		}
	})
}

func TestPacingForSpeed(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, PacingForSpeed(100).Base)
	assert.Equal(t, DefaultBaseDelay, PacingForSpeed(40).Base)
	assert.Equal(t, DefaultBaseDelay, PacingForSpeed(0).Base)
}

// =============================================================================
// ENGINE
// =============================================================================

func TestEngineRevealsAndFinalizes(t *testing.T) {
	reg, b := newTestRegistry(t, fastOptions())
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	eng.Begin()

	publish(t, b, "s1", bus.TokenEvent("Hello"), bus.TokenEvent(", wörld"), bus.DoneEvent())

	require.Eventually(t, func() bool { return surface.finalizedCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	revealed, calls := surface.snapshot()
	assert.Equal(t, "Hello, wörld", revealed)
	assert.Equal(t, "Hello, wörld", surface.finalRaw)
	assert.Equal(t, "Hello, wörld", surface.finalHTML, "no renderer shows raw text")
	assert.Equal(t, 1, surface.begins)
	assert.Equal(t, "begin", calls[0])
	assert.Equal(t, "finalize", calls[len(calls)-1])
	assert.Len(t, calls, 2+len([]rune("Hello, wörld")))
	assert.Equal(t, PhaseFinalized, eng.Phase())
}

func TestEngineDoneBeforeDrainWaitsForQueue(t *testing.T) {
	opts := fastOptions()
	opts.Pacing.Base = 5 * time.Millisecond
	reg, b := newTestRegistry(t, opts)
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	eng.Begin()

	text := strings.Repeat("ab", 20)
	publish(t, b, "s1", bus.TokenEvent(text), bus.DoneEvent())

	require.Eventually(t, func() bool { return eng.Phase() == PhaseDraining }, time.Second, time.Millisecond)
	assert.Zero(t, surface.finalizedCount(), "finalize must wait for the queue to drain")

	require.Eventually(t, func() bool { return surface.finalizedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	revealed, _ := surface.snapshot()
	assert.Equal(t, text, revealed)
	assert.Equal(t, text, surface.finalRaw)
}

func TestEngineRendersOnFinalize(t *testing.T) {
	opts := fastOptions()
	opts.Renderer = upperRenderer{}
	reg, b := newTestRegistry(t, opts)
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	eng.Begin()
	publish(t, b, "s1", bus.TokenEvent("hi"), bus.DoneEvent())

	require.Eventually(t, func() bool { return surface.finalizedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hi", surface.finalRaw)
	assert.Equal(t, "<p>HI</p>", surface.finalHTML)
}

func TestEngineRenderFailureFallsBackToRaw(t *testing.T) {
	opts := fastOptions()
	opts.Renderer = upperRenderer{err: errors.New("bad markdown")}
	reg, b := newTestRegistry(t, opts)
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	eng.Begin()
	publish(t, b, "s1", bus.TokenEvent("hi"), bus.DoneEvent())

	require.Eventually(t, func() bool { return surface.finalizedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hi", surface.finalHTML)
}

func TestEngineError(t *testing.T) {
	opts := fastOptions()
	opts.Pacing.Base = 20 * time.Millisecond
	reg, b := newTestRegistry(t, opts)
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	eng.Begin()
	publish(t, b, "s1", bus.TokenEvent("partial text"), bus.ErrorEvent("Server returned 500"))

	require.Eventually(t, func() bool { return eng.Phase() == PhaseErrored }, time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	surface.mu.Lock()
	defer surface.mu.Unlock()
	assert.Equal(t, []string{"Server returned 500"}, surface.failed)
	assert.Zero(t, surface.finalized)
	assert.Less(t, len([]rune(surface.revealed.String())), len("partial text"), "pending characters are dropped")
}

func TestEngineWithoutAnimationRevealsWholeTokens(t *testing.T) {
	opts := fastOptions()
	opts.Animate = false
	reg, b := newTestRegistry(t, opts)
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	eng.Begin()
	publish(t, b, "s1", bus.TokenEvent("Hel"), bus.TokenEvent("lo"), bus.DoneEvent())

	require.Eventually(t, func() bool { return surface.finalizedCount() == 1 }, time.Second, 5*time.Millisecond)
	revealed, calls := surface.snapshot()
	assert.Equal(t, "Hello", revealed)
	assert.Equal(t, []string{"begin", "reveal", "reveal", "finalize"}, calls)
}

func TestEngineIgnoresDoneWhenIdle(t *testing.T) {
	reg, b := newTestRegistry(t, fastOptions())
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	publish(t, b, "s1", bus.DoneEvent())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, PhaseIdle, eng.Phase())
	_, calls := surface.snapshot()
	assert.Empty(t, calls)
}

func TestEngineEmptyReplyFinalizesEmpty(t *testing.T) {
	reg, b := newTestRegistry(t, fastOptions())
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	eng.Begin()
	publish(t, b, "s1", bus.DoneEvent())

	require.Eventually(t, func() bool { return surface.finalizedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "", surface.finalRaw)
}

func TestEngineTokensAfterFinalizeStartNewMessage(t *testing.T) {
	reg, b := newTestRegistry(t, fastOptions())
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	eng.Begin()
	publish(t, b, "s1", bus.TokenEvent("one"), bus.DoneEvent())
	require.Eventually(t, func() bool { return surface.finalizedCount() == 1 }, time.Second, 5*time.Millisecond)

	publish(t, b, "s1", bus.TokenEvent("two"), bus.DoneEvent())
	require.Eventually(t, func() bool { return surface.finalizedCount() == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "two", surface.finalRaw)
	assert.Equal(t, 2, surface.begins)
}

// =============================================================================
// RECOVERY
// =============================================================================

func TestEngineRecoveryReplaysPersistedReply(t *testing.T) {
	sessions := &fakeSessions{}
	opts := fastOptions()
	opts.RecoveryWait = 20 * time.Millisecond
	opts.Sessions = sessions
	reg, _ := newTestRegistry(t, opts)
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	eng.Begin()

	sessions.mu.Lock()
	sessions.sess = &storage.Session{ID: "s1", Messages: []storage.Message{
		storage.NewMessage(storage.RoleUser, "hi"),
		storage.NewMessage(storage.RoleAssistant, "persisted answer"),
	}}
	sessions.mu.Unlock()

	require.Eventually(t, func() bool { return surface.finalizedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "persisted answer", surface.finalRaw)
	revealed, _ := surface.snapshot()
	assert.Equal(t, "persisted answer", revealed)
}

func TestEngineRecoverySkipsStaleReply(t *testing.T) {
	old := storage.NewMessage(storage.RoleAssistant, "old answer")
	old.Timestamp = time.Now().Add(-time.Hour)
	sessions := &fakeSessions{sess: &storage.Session{ID: "s1", Messages: []storage.Message{
		storage.NewMessage(storage.RoleUser, "hi"),
		old,
		storage.NewMessage(storage.RoleUser, "again"),
	}}}

	opts := fastOptions()
	opts.RecoveryWait = 10 * time.Millisecond
	opts.RecoveryRetries = 2
	opts.Sessions = sessions
	reg, _ := newTestRegistry(t, opts)
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	eng.Begin()

	require.Eventually(t, func() bool { return sessions.callCount() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, sessions.callCount(), "retries are bounded")
	assert.Zero(t, surface.finalizedCount())
}

func TestEngineRecoveryNotUsedWhenEventsArrive(t *testing.T) {
	sessions := &fakeSessions{sess: &storage.Session{ID: "s1", Messages: []storage.Message{
		storage.NewMessage(storage.RoleAssistant, "should not replay"),
	}}}
	opts := fastOptions()
	opts.RecoveryWait = 30 * time.Millisecond
	opts.Sessions = sessions
	reg, b := newTestRegistry(t, opts)
	surface := &recordingSurface{}

	eng, err := reg.Attach(context.Background(), "s1", surface)
	require.NoError(t, err)
	eng.Begin()
	publish(t, b, "s1", bus.TokenEvent("live"), bus.DoneEvent())

	require.Eventually(t, func() bool { return surface.finalizedCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, "live", surface.finalRaw)
	assert.Equal(t, 1, surface.finalizedCount())
	assert.Zero(t, sessions.callCount())
}

type staticBackend string

func (b staticBackend) OpenChatStream(ctx context.Context, req ollama.ChatRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(b))), nil
}

// The producer publishes the upstream done marker and then its own closing
// Done. The engine finalizes once and ignores the second.
func TestEngineWithStreamServiceFinalizesOnce(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	sess, err := store.Create("")
	require.NoError(t, err)

	reg, b := newTestRegistry(t, fastOptions())
	surface := &recordingSurface{}
	eng, err := reg.Attach(context.Background(), sess.ID, surface)
	require.NoError(t, err)
	eng.Begin()

	svc := stream.NewService(stream.Config{
		Store:   store,
		Bus:     b,
		Backend: staticBackend(`{"message":{"content":"Hel"}}` + "\n" + `{"message":{"content":"lo"}}` + "\n" + `{"done":true}` + "\n"),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, svc.Send(context.Background(), sess.ID, "Say hello"))

	require.Eventually(t, func() bool { return surface.finalizedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	revealed, calls := surface.snapshot()
	assert.Equal(t, "Hello", revealed)
	assert.Equal(t, "Hello", surface.finalRaw)
	assert.Equal(t, 1, surface.finalizedCount())
	assert.Equal(t, []string{"begin", "reveal", "reveal", "reveal", "reveal", "reveal", "finalize"}, calls)
	assert.Equal(t, PhaseFinalized, eng.Phase())

	persisted, err := store.Get(sess.ID)
	require.NoError(t, err)
	require.Len(t, persisted.Messages, 2)
	assert.Equal(t, "Hello", persisted.Messages[1].Content)
}

// =============================================================================
// REGISTRY
// =============================================================================

func TestRegistryIsolatesSessions(t *testing.T) {
	reg, b := newTestRegistry(t, fastOptions())
	a, other := &recordingSurface{}, &recordingSurface{}

	ea, err := reg.Attach(context.Background(), "a", a)
	require.NoError(t, err)
	eb, err := reg.Attach(context.Background(), "b", other)
	require.NoError(t, err)
	ea.Begin()
	eb.Begin()

	publish(t, b, "a", bus.TokenEvent("for a"), bus.DoneEvent())

	require.Eventually(t, func() bool { return a.finalizedCount() == 1 }, time.Second, 5*time.Millisecond)
	_, calls := other.snapshot()
	assert.Empty(t, calls)
	assert.Equal(t, PhaseStreaming, eb.Phase())
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryAttachReplacesEngine(t *testing.T) {
	reg, _ := newTestRegistry(t, fastOptions())

	first, err := reg.Attach(context.Background(), "s1", &recordingSurface{})
	require.NoError(t, err)
	second, err := reg.Attach(context.Background(), "s1", &recordingSurface{})
	require.NoError(t, err)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("previous engine was not closed")
	}

	got, ok := reg.Get("s1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryDetachAndClose(t *testing.T) {
	reg, _ := newTestRegistry(t, fastOptions())

	eng, err := reg.Attach(context.Background(), "s1", &recordingSurface{})
	require.NoError(t, err)
	reg.Detach("s1")
	reg.Detach("s1")
	<-eng.Done()

	_, ok := reg.Get("s1")
	assert.False(t, ok)

	reg.Close()
	_, err = reg.Attach(context.Background(), "s2", &recordingSurface{})
	assert.Error(t, err)
}

func TestRegistryRejectsNilSurface(t *testing.T) {
	reg, _ := newTestRegistry(t, fastOptions())
	_, err := reg.Attach(context.Background(), "s1", nil)
	assert.Error(t, err)
}
