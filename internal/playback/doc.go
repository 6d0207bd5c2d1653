// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package playback turns a session's stream events into a paced,
// character-by-character reveal on a display surface.
//
// Each attached session gets its own Engine. An engine owns its state from
// a single goroutine: tokens are queued as characters, revealed one per
// tick with a delay that shrinks as a long reply progresses, and the reply
// is finalized (rendered markdown) only after Done has arrived and the
// queue has drained.
//
// # Key Types
//
//   - Registry: at most one Engine per session
//   - Engine: event loop for one session and one Surface
//   - Surface: the display callbacks (Begin, Reveal, Finalize, Fail)
//   - Pacing: the per-character delay curve
//
// # Recovery
//
// When no event arrives within RecoveryWait of Begin, the engine reads the
// session from its SessionReader. If the reply was already persisted after
// Begin, it is replayed as though it had been streamed.
//
// # Usage
//
//	reg := playback.NewRegistry(b, playback.DefaultOptions())
//	eng, err := reg.Attach(ctx, sessionID, surface)
//	if err != nil {
//	    return err
//	}
//	eng.Begin()
//	go svc.Send(ctx, sessionID, text)
package playback
