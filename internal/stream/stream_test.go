// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/nebot/internal/bus"
	"github.com/jeranaias/nebot/internal/ollama"
	"github.com/jeranaias/nebot/internal/storage"
)

const scenarioA = `{"message":{"content":"Hel"}}` + "\n" + `{"message":{"content":"lo"}}` + "\n" + `{"done":true}` + "\n"

// =============================================================================
// LINE BUFFER TESTS
// =============================================================================

func feedChunks(chunks [][]byte) []string {
	var lb LineBuffer
	var out []string
	for _, c := range chunks {
		for _, line := range lb.Feed(c) {
			out = append(out, string(line))
		}
	}
	if tail := lb.Remainder(); tail != nil {
		out = append(out, string(tail))
	}
	return out
}

func TestLineBuffer_ChunkBoundaryInvariance(t *testing.T) {
	input := []byte(scenarioA + "  \r\n" + `{"response":"tail"}`)
	want := feedChunks([][]byte{input})
	require.Equal(t, []string{
		`{"message":{"content":"Hel"}}`,
		`{"message":{"content":"lo"}}`,
		`{"done":true}`,
		`{"response":"tail"}`,
	}, want)

	// Every two-way split.
	for i := 0; i <= len(input); i++ {
		got := feedChunks([][]byte{input[:i], input[i:]})
		if !assert.Equal(t, want, got, "split at %d", i) {
			return
		}
	}

	// Every three-way split.
	for i := 0; i <= len(input); i++ {
		for j := i; j <= len(input); j++ {
			got := feedChunks([][]byte{input[:i], input[i:j], input[j:]})
			if !assert.Equal(t, want, got, "split at %d,%d", i, j) {
				return
			}
		}
	}

	// One byte at a time.
	var single [][]byte
	for i := range input {
		single = append(single, input[i:i+1])
	}
	assert.Equal(t, want, feedChunks(single))
}

func TestLineBuffer_MultibyteSplit(t *testing.T) {
	input := []byte(`{"message":{"content":"héllo 世界"}}` + "\n")
	idx := bytes.Index(input, []byte("世")) + 1 // inside the rune

	got := feedChunks([][]byte{input[:idx], input[idx:]})
	require.Len(t, got, 1)
	d, err := Normalize([]byte(got[0]))
	require.NoError(t, err)
	assert.Equal(t, "héllo 世界", d.Text)
}

func TestLineBuffer_PendingAndReset(t *testing.T) {
	var lb LineBuffer
	assert.Empty(t, lb.Feed([]byte(`{"a":`)))
	assert.Equal(t, 5, lb.Pending())
	assert.Equal(t, []byte(`{"a":`), lb.Remainder())
	assert.Equal(t, 0, lb.Pending())
	assert.Nil(t, lb.Remainder())
}

// =============================================================================
// NORMALIZATION TESTS
// =============================================================================

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		source DeltaSource
		text   string
		err    bool
	}{
		{"chat", `{"message":{"role":"assistant","content":"Hi"}}`, SourceChat, "Hi", false},
		{"generate", `{"response":"Hi"}`, SourceGenerate, "Hi", false},
		{"done", `{"done":true}`, SourceDone, "", false},
		{"done wins over content", `{"done":true,"message":{"content":"leak"}}`, SourceDone, "", false},
		{"done wins over response", `{"done":true,"response":"leak"}`, SourceDone, "", false},
		{"chat wins over response", `{"message":{"content":"a"},"response":"b"}`, SourceChat, "a", false},
		{"null content falls back", `{"message":{"content":null},"response":"b"}`, SourceGenerate, "b", false},
		{"empty chat", `{"message":{"content":""}}`, SourceChat, "", false},
		{"neither", `{"model":"gpt-oss:20b"}`, SourceNone, "", false},
		{"done false", `{"done":false,"message":{"content":"x"}}`, SourceChat, "x", false},
		{"malformed", `{"message":{"content":`, SourceNone, "", true},
		{"not an object", `42`, SourceNone, "", true},
		{"null line", `null`, SourceNone, "", true},
		{"string message ignored", `{"message":"oops","response":"hi"}`, SourceGenerate, "hi", false},
		{"numeric content ignored", `{"message":{"content":7},"response":"hi"}`, SourceGenerate, "hi", false},
		{"numeric response ignored", `{"response":7}`, SourceNone, "", false},
		{"done as number", `{"done":1,"response":"leak"}`, SourceDone, "", false},
		{"done zero", `{"done":0,"response":"hi"}`, SourceGenerate, "hi", false},
		{"done string", `{"done":"yes"}`, SourceDone, "", false},
		{"done empty string", `{"done":"","response":"hi"}`, SourceGenerate, "hi", false},
		{"done null", `{"done":null,"message":{"content":"x"}}`, SourceChat, "x", false},
		{"done object", `{"done":{}}`, SourceDone, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Normalize([]byte(tt.line))
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.source, d.Source)
			assert.Equal(t, tt.text, d.Text)
		})
	}
}

func TestDelta_HasText(t *testing.T) {
	assert.True(t, Delta{Source: SourceChat, Text: "x"}.HasText())
	assert.True(t, Delta{Source: SourceGenerate, Text: "x"}.HasText())
	assert.False(t, Delta{Source: SourceChat}.HasText())
	assert.False(t, Delta{Source: SourceDone, Text: "x"}.HasText())
	assert.Equal(t, "generate", SourceGenerate.String())
}

// =============================================================================
// PROMPT TESTS
// =============================================================================

func TestBuildMessages(t *testing.T) {
	transcript := []storage.Message{
		{Role: storage.RoleUser, Content: "q1"},
		{Role: storage.RoleAssistant, Content: "a1"},
		{Role: storage.RoleUser, Content: "q2"},
	}

	msgs := BuildMessages("Be brief.", transcript)
	require.Len(t, msgs, 5)
	assert.Equal(t, ollama.NewSystemMessage(IdentityPreamble), msgs[0])
	assert.Equal(t, ollama.NewSystemMessage("Be brief."), msgs[1])
	assert.Equal(t, ollama.Message{Role: "user", Content: "q1"}, msgs[2])
	assert.Equal(t, ollama.Message{Role: "assistant", Content: "a1"}, msgs[3])
	assert.Equal(t, ollama.Message{Role: "user", Content: "q2"}, msgs[4])

	msgs = BuildMessages("   ", transcript[:1])
	require.Len(t, msgs, 2, "blank system prompt is omitted")
}

// =============================================================================
// SERVICE TEST HARNESS
// =============================================================================

// chunkReader returns its chunks one Read at a time, then err (io.EOF if nil).
type chunkReader struct {
	chunks [][]byte
	err    error
	closed bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

type fakeBackend struct {
	mu       sync.Mutex
	body     func() io.ReadCloser
	err      error
	requests []ollama.ChatRequest
	gate     chan struct{}
}

func (f *fakeBackend) OpenChatStream(ctx context.Context, req ollama.ChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.body(), nil
}

type recordingTitles struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingTitles) Schedule(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

type harness struct {
	store   storage.Store
	bus     *bus.MemoryBus
	titles  *recordingTitles
	session *storage.Session
	sub     *bus.Subscription
}

func newHarness(t *testing.T) *harness {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	b := bus.NewMemory(zerolog.Nop())
	t.Cleanup(func() { b.Close() })

	sess, err := store.Create("")
	require.NoError(t, err)
	sub, err := b.Subscribe(context.Background(), bus.StreamTopic(sess.ID))
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)

	return &harness{store: store, bus: b, titles: &recordingTitles{}, session: sess, sub: sub}
}

func (h *harness) service(backend ChatStreamer) *Service {
	return NewService(Config{
		Store:        h.store,
		Bus:          h.bus,
		Backend:      backend,
		Model:        "gpt-oss:20b",
		SystemPrompt: func() string { return "Be brief." },
		Titles:       h.titles,
		Logger:       zerolog.Nop(),
	})
}

// events drains everything published so far. Publish returns only after the
// subscription queued the event, so nothing is in flight once Send returns.
func (h *harness) events(t *testing.T) []bus.StreamEvent {
	var out []bus.StreamEvent
	for {
		select {
		case payload := <-h.sub.C():
			ev, err := bus.DecodeEvent(payload)
			require.NoError(t, err)
			out = append(out, ev)
		default:
			return out
		}
	}
}

func tokens(events []bus.StreamEvent) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == bus.EventToken {
			out = append(out, ev.Token)
		}
	}
	return out
}

func splitEvery(data string, n int) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		k := n
		if k > len(data) {
			k = len(data)
		}
		chunks = append(chunks, []byte(data[:k]))
		data = data[k:]
	}
	return chunks
}

// =============================================================================
// SERVICE TESTS
// =============================================================================

func TestSend_ScenarioA_AnyChunking(t *testing.T) {
	for _, size := range []int{1, 2, 3, 7, 13, 29, len(scenarioA)} {
		h := newHarness(t)
		backend := &fakeBackend{body: func() io.ReadCloser {
			return &chunkReader{chunks: splitEvery(scenarioA, size)}
		}}

		err := h.service(backend).Send(context.Background(), h.session.ID, "Say hello")
		require.NoError(t, err, "chunk size %d", size)

		events := h.events(t)
		assert.Equal(t, []string{"Hel", "lo"}, tokens(events), "chunk size %d", size)

		// Tokens first, then only Done events (the upstream marker plus the closing one).
		require.Len(t, events, 4)
		assert.Equal(t, bus.DoneEvent(), events[2])
		assert.Equal(t, bus.DoneEvent(), events[3])

		sess, err := h.store.Get(h.session.ID)
		require.NoError(t, err)
		require.Len(t, sess.Messages, 2)
		assert.Equal(t, storage.RoleUser, sess.Messages[0].Role)
		assert.Equal(t, "Say hello", sess.Messages[0].Content)
		assert.Equal(t, storage.RoleAssistant, sess.Messages[1].Role)
		assert.Equal(t, "Hello", sess.Messages[1].Content)
	}
}

func TestSend_RequestCarriesPromptAndModel(t *testing.T) {
	h := newHarness(t)
	backend := &fakeBackend{body: func() io.ReadCloser { return &chunkReader{chunks: [][]byte{[]byte(scenarioA)}} }}

	require.NoError(t, h.service(backend).Send(context.Background(), h.session.ID, "Say hello"))

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.Equal(t, "gpt-oss:20b", req.Model)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, IdentityPreamble, req.Messages[0].Content)
	assert.Equal(t, "Be brief.", req.Messages[1].Content)
	assert.Equal(t, ollama.NewUserMessage("Say hello"), req.Messages[2])
}

func TestSend_TrailingLineWithoutNewline(t *testing.T) {
	h := newHarness(t)
	body := `{"response":"A"}` + "\n" + `{"response":"B"}`
	backend := &fakeBackend{body: func() io.ReadCloser { return &chunkReader{chunks: [][]byte{[]byte(body)}} }}

	require.NoError(t, h.service(backend).Send(context.Background(), h.session.ID, "go"))

	events := h.events(t)
	assert.Equal(t, []string{"A", "B"}, tokens(events))
	assert.Equal(t, bus.DoneEvent(), events[len(events)-1])

	sess, _ := h.store.Get(h.session.ID)
	assert.Equal(t, "AB", sess.Messages[1].Content)
}

func TestSend_TrailingDoneIsNotRepeated(t *testing.T) {
	h := newHarness(t)
	body := `{"response":"A"}` + "\n" + `{"done":true}`
	backend := &fakeBackend{body: func() io.ReadCloser { return &chunkReader{chunks: [][]byte{[]byte(body)}} }}

	require.NoError(t, h.service(backend).Send(context.Background(), h.session.ID, "go"))
	assert.Equal(t, []bus.StreamEvent{bus.TokenEvent("A"), bus.DoneEvent()}, h.events(t))
}

func TestSend_MalformedLinesAreDropped(t *testing.T) {
	h := newHarness(t)
	body := `{"message":{"content":"a"}}` + "\n" + `{"message":{"cont` + "\n" + `garbage` + "\n" + `{"message":{"content":"b"}}` + "\n"
	backend := &fakeBackend{body: func() io.ReadCloser { return &chunkReader{chunks: [][]byte{[]byte(body)}} }}

	require.NoError(t, h.service(backend).Send(context.Background(), h.session.ID, "go"))

	assert.Equal(t, []string{"a", "b"}, tokens(h.events(t)))
	sess, _ := h.store.Get(h.session.ID)
	assert.Equal(t, "ab", sess.Messages[1].Content)
}

func TestSend_DoneLineNeverContributesText(t *testing.T) {
	h := newHarness(t)
	body := `{"message":{"content":"ok"}}` + "\n" + `{"done":true,"message":{"content":"LEAK"}}` + "\n"
	backend := &fakeBackend{body: func() io.ReadCloser { return &chunkReader{chunks: [][]byte{[]byte(body)}} }}

	require.NoError(t, h.service(backend).Send(context.Background(), h.session.ID, "go"))

	assert.Equal(t, []string{"ok"}, tokens(h.events(t)))
	sess, _ := h.store.Get(h.session.ID)
	assert.Equal(t, "ok", sess.Messages[1].Content)
}

func TestSend_InterruptedStreamPersistsPartialReply(t *testing.T) {
	h := newHarness(t)
	backend := &fakeBackend{body: func() io.ReadCloser {
		return &chunkReader{
			chunks: [][]byte{[]byte(`{"message":{"content":"par"}}` + "\n" + `{"message":{"content":"tial"}}` + "\n" + `{"message":`)},
			err:    errors.New("connection reset by peer"),
		}
	}}

	before, _ := h.store.Get(h.session.ID)
	err := h.service(backend).Send(context.Background(), h.session.ID, "go")
	require.NoError(t, err)

	events := h.events(t)
	assert.Equal(t, []string{"par", "tial"}, tokens(events))
	assert.Equal(t, bus.DoneEvent(), events[len(events)-1])

	after, _ := h.store.Get(h.session.ID)
	assert.Equal(t, len(before.Messages)+2, len(after.Messages))
	assert.Equal(t, "partial", after.Messages[len(after.Messages)-1].Content)
	assert.Equal(t, []string{h.session.ID}, h.titles.ids)
}

func TestSend_EmptyReplyIsStillPersisted(t *testing.T) {
	h := newHarness(t)
	backend := &fakeBackend{body: func() io.ReadCloser { return &chunkReader{} }}

	require.NoError(t, h.service(backend).Send(context.Background(), h.session.ID, "go"))

	assert.Equal(t, []bus.StreamEvent{bus.DoneEvent()}, h.events(t))
	sess, _ := h.store.Get(h.session.ID)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "", sess.Messages[1].Content)
}

func TestSend_ScenarioB_BadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := newHarness(t)
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL})

	err := h.service(client).Send(context.Background(), h.session.ID, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Equal(t, "BadResponse:500", Outcome(err))

	events := h.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, bus.EventError, events[0].Type)
	assert.Contains(t, events[0].Message, "500")

	sess, _ := h.store.Get(h.session.ID)
	require.Len(t, sess.Messages, 1, "user message stays, no assistant message")
	assert.Equal(t, storage.RoleUser, sess.Messages[0].Role)
	assert.Empty(t, h.titles.ids)
}

func TestSend_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h := newHarness(t)
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})

	err := h.service(client).Send(context.Background(), h.session.ID, "hi")
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.Equal(t, "NetworkFailure", Outcome(err))

	events := h.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, bus.EventError, events[0].Type)

	sess, _ := h.store.Get(h.session.ID)
	require.Len(t, sess.Messages, 1)
}

func TestSend_NotFound(t *testing.T) {
	h := newHarness(t)
	backend := &fakeBackend{body: func() io.ReadCloser { return &chunkReader{} }}

	err := h.service(backend).Send(context.Background(), "missing-000000", "hi")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "NotFound", Outcome(err))
	assert.Empty(t, backend.requests)
}

func TestSend_RejectsConcurrentSendForSameSession(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	backend := &fakeBackend{
		gate: gate,
		body: func() io.ReadCloser { return &chunkReader{chunks: [][]byte{[]byte(scenarioA)}} },
	}
	svc := h.service(backend)

	firstDone := make(chan error, 1)
	go func() { firstDone <- svc.Send(context.Background(), h.session.ID, "first") }()

	require.Eventually(t, func() bool { return svc.InFlight(h.session.ID) }, 2*time.Second, 5*time.Millisecond)

	err := svc.Send(context.Background(), h.session.ID, "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, "Busy", Outcome(err))

	close(gate)
	require.NoError(t, <-firstDone)
	assert.False(t, svc.InFlight(h.session.ID))

	sess, _ := h.store.Get(h.session.ID)
	require.Len(t, sess.Messages, 2, "rejected send must not persist anything")
	assert.Equal(t, "first", sess.Messages[0].Content)
}

func TestSend_HTTPStreamingEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, part := range splitEvery(scenarioA, 5) {
			w.Write(part)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	h := newHarness(t)
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL})

	require.NoError(t, h.service(client).Send(context.Background(), h.session.ID, "Say hello"))
	assert.Equal(t, []string{"Hel", "lo"}, tokens(h.events(t)))

	sess, _ := h.store.Get(h.session.ID)
	assert.Equal(t, "Hello", sess.Messages[1].Content)
}

// =============================================================================
// OUTCOME TESTS
// =============================================================================

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "Error", Outcome(errors.New("disk full")))
	assert.Equal(t, "BadResponse:404", Outcome(&SendError{Kind: KindBadResponse, Status: 404}))
	assert.True(t, strings.Contains((&SendError{Kind: KindBusy, SessionID: "x"}).Error(), "session x"))
}
