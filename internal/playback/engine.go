// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package playback

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/nebot/internal/bus"
	"github.com/jeranaias/nebot/internal/storage"
)

// =============================================================================
// PHASES
// =============================================================================

// Phase is the lifecycle position of the current streaming attempt.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStreaming
	PhaseDraining
	PhaseFinalized
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseStreaming:
		return "streaming"
	case PhaseDraining:
		return "draining"
	case PhaseFinalized:
		return "finalized"
	case PhaseErrored:
		return "errored"
	default:
		return "idle"
	}
}

func (p Phase) terminal() bool {
	return p == PhaseFinalized || p == PhaseErrored
}

// =============================================================================
// OPTIONS
// =============================================================================

// Defaults for the recovery path.
const (
	DefaultRecoveryWait    = 2 * time.Second
	DefaultRecoveryRetries = 3
)

// Options configures engines created by a Registry.
type Options struct {
	Pacing Pacing

	// Animate reveals text character by character. When false every token
	// is revealed as soon as it arrives.
	Animate bool

	// RecoveryWait is how long after Begin the engine waits for a first
	// event before looking for a persisted reply.
	RecoveryWait time.Duration

	// RecoveryRetries bounds how often the wait is re-armed while the reply
	// has not been persisted yet.
	RecoveryRetries int

	Renderer Renderer
	Sessions SessionReader
	Logger   zerolog.Logger
}

// DefaultOptions returns animated playback with the default curve.
func DefaultOptions() Options {
	return Options{
		Pacing:          DefaultPacing(),
		Animate:         true,
		RecoveryWait:    DefaultRecoveryWait,
		RecoveryRetries: DefaultRecoveryRetries,
		Logger:          zerolog.Nop(),
	}
}

// =============================================================================
// STATE
// =============================================================================

// State is the per-attempt playback state. It is owned by the engine loop
// and rebuilt from scratch for every attempt.
type State struct {
	Pending      []rune
	Playing      bool
	Emitted      int
	TotalAtStart int

	phase           Phase
	inProgress      bool
	finalizePending bool
	raw             strings.Builder
	beganAt         time.Time
	recoveryLeft    int
}

func (st *State) reset() {
	*st = State{}
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine consumes one session's stream topic and drives one Surface.
type Engine struct {
	sessionID string
	sub       *bus.Subscription
	surface   Surface
	opts      Options
	logger    zerolog.Logger

	begin  chan time.Time
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	phase Phase
}

func newEngine(ctx context.Context, sessionID string, sub *bus.Subscription, surface Surface, opts Options) *Engine {
	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		sessionID: sessionID,
		sub:       sub,
		surface:   surface,
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "playback").Str("session_id", sessionID).Logger(),
		begin:     make(chan time.Time),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go e.run(ctx)
	return e
}

// SessionID returns the session this engine plays.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Phase returns the phase of the current attempt.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Begin marks that a send was just issued: the previous attempt's state is
// discarded and the recovery timer is armed. Call it before the send so
// that no early event is processed against stale state.
func (e *Engine) Begin() {
	select {
	case e.begin <- time.Now():
	case <-e.done:
	}
}

// Close stops the engine and unsubscribes. It is safe to call repeatedly.
func (e *Engine) Close() {
	e.once.Do(func() {
		e.cancel()
		e.sub.Unsubscribe()
	})
	<-e.done
}

// Done is closed when the engine has stopped.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// =============================================================================
// EVENT LOOP
// =============================================================================

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	var st State
	var tick, recovery loopTimer
	defer tick.disarm()
	defer recovery.disarm()

	for {
		select {
		case <-ctx.Done():
			return

		case at := <-e.begin:
			tick.disarm()
			st.reset()
			st.phase = PhaseStreaming
			st.beganAt = at
			st.recoveryLeft = e.opts.RecoveryRetries
			if e.opts.RecoveryWait > 0 {
				recovery.arm(e.opts.RecoveryWait)
			}
			e.setPhase(st.phase)

		case payload, ok := <-e.sub.C():
			if !ok {
				return
			}
			ev, err := bus.DecodeEvent(payload)
			if err != nil {
				e.logger.Debug().Err(err).Msg("ignoring undecodable event")
				continue
			}
			recovery.disarm()
			e.handle(&st, &tick, ev)

		case <-tick.C():
			tick.fired()
			e.step(&st, &tick)

		case <-recovery.C():
			recovery.fired()
			e.recover(&st, &tick, &recovery)
		}
		e.setPhase(st.phase)
	}
}

func (e *Engine) handle(st *State, tick *loopTimer, ev bus.StreamEvent) {
	switch ev.Type {
	case bus.EventToken:
		if st.phase.terminal() {
			// Another producer started a new reply on this session.
			tick.disarm()
			st.reset()
		}
		if st.phase == PhaseIdle {
			st.phase = PhaseStreaming
		}
		e.startMessage(st)
		e.enqueue(st, tick, ev.Token)

	case bus.EventDone:
		if st.phase.terminal() {
			return
		}
		if st.phase == PhaseIdle && !st.inProgress {
			return
		}
		e.startMessage(st)
		st.phase = PhaseDraining
		st.finalizePending = true
		e.maybeFinalize(st)

	case bus.EventError:
		if st.phase.terminal() {
			return
		}
		tick.disarm()
		st.Pending = nil
		st.Playing = false
		st.inProgress = false
		st.finalizePending = false
		st.phase = PhaseErrored
		e.surface.Fail(ev.Message)
	}
}

func (e *Engine) startMessage(st *State) {
	if st.inProgress {
		return
	}
	st.inProgress = true
	e.surface.Begin()
}

func (e *Engine) enqueue(st *State, tick *loopTimer, text string) {
	if text == "" {
		return
	}
	if !e.opts.Animate {
		st.raw.WriteString(text)
		e.surface.Reveal(text)
		return
	}

	st.Pending = append(st.Pending, []rune(text)...)
	if !st.Playing {
		st.Playing = true
		st.Emitted = 0
		st.TotalAtStart = len(st.Pending)
		e.step(st, tick)
	}
}

// step reveals one character and schedules the next.
func (e *Engine) step(st *State, tick *loopTimer) {
	if len(st.Pending) == 0 {
		st.Playing = false
		e.maybeFinalize(st)
		return
	}

	r := st.Pending[0]
	st.Pending = st.Pending[1:]
	st.raw.WriteRune(r)
	st.Emitted++
	e.surface.Reveal(string(r))

	if len(st.Pending) == 0 {
		st.Playing = false
		e.maybeFinalize(st)
		return
	}
	tick.arm(e.opts.Pacing.Delay(st.Emitted, st.TotalAtStart))
}

// maybeFinalize finalizes only once Done was seen and playback has drained.
func (e *Engine) maybeFinalize(st *State) {
	if !st.finalizePending || len(st.Pending) > 0 || st.Playing {
		return
	}

	raw := st.raw.String()
	rendered := raw
	if e.opts.Renderer != nil {
		out, err := e.opts.Renderer.Render(raw)
		if err != nil {
			e.logger.Debug().Err(err).Msg("render failed, showing raw text")
		} else {
			rendered = out
		}
	}

	st.finalizePending = false
	st.inProgress = false
	st.phase = PhaseFinalized
	e.surface.Finalize(raw, rendered)
}

// =============================================================================
// RECOVERY
// =============================================================================

// recover replays the persisted reply when no stream event arrived in time.
func (e *Engine) recover(st *State, tick *loopTimer, recovery *loopTimer) {
	if st.inProgress || st.phase != PhaseStreaming {
		return
	}
	if e.opts.Sessions == nil {
		return
	}

	sess, err := e.opts.Sessions.Get(e.sessionID)
	if err != nil {
		e.logger.Debug().Err(err).Msg("recovery fetch failed")
		return
	}

	last, ok := sess.LastMessage()
	if !ok || last.Role != storage.RoleAssistant || last.Timestamp.Before(st.beganAt) {
		if st.recoveryLeft > 0 {
			st.recoveryLeft--
			recovery.arm(e.opts.RecoveryWait)
		}
		return
	}

	e.logger.Info().Int("chars", len(last.Content)).Msg("no stream events observed, replaying persisted reply")
	e.startMessage(st)
	st.finalizePending = true
	st.phase = PhaseDraining
	if last.Content == "" {
		e.maybeFinalize(st)
		return
	}
	e.enqueue(st, tick, last.Content)
	e.maybeFinalize(st)
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// =============================================================================
// TIMER
// =============================================================================

// loopTimer is a re-armable timer whose channel is nil while disarmed, so
// it can sit in a select without firing stale values.
type loopTimer struct {
	t     *time.Timer
	armed bool
}

func (lt *loopTimer) arm(d time.Duration) {
	lt.disarm()
	if lt.t == nil {
		lt.t = time.NewTimer(d)
	} else {
		lt.t.Reset(d)
	}
	lt.armed = true
}

func (lt *loopTimer) disarm() {
	if lt.t != nil && lt.armed {
		if !lt.t.Stop() {
			select {
			case <-lt.t.C:
			default:
			}
		}
	}
	lt.armed = false
}

func (lt *loopTimer) fired() {
	lt.armed = false
}

func (lt *loopTimer) C() <-chan time.Time {
	if !lt.armed {
		return nil
	}
	return lt.t.C
}
