// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across nebot.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with a single-rune ellipsis
//   - TruncateWidth: display-width truncation for terminal listings
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//   - WriteJSONAtomic: indented JSON through AtomicWriteFile
//
// Synchronization:
//   - KeyedMutex: per-key locking for read-modify-write sequences
//
// # Usage
//
//	unlock := locks.Lock(sessionID)
//	defer unlock()
//	err := util.WriteJSONAtomic(path, session, 0644)
package util
