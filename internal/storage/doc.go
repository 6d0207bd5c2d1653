// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides session persistence for nebot.
//
// A session is an ordered, append-only transcript of user, assistant and
// system messages. Two backends implement Store: FileStore writes one JSON
// document per session with atomic renames, SQLiteStore keeps everything in
// one database.
//
// # Key Types
//
//   - Store: the persistence contract consumed by the streaming pipeline
//   - Session, Message, SessionMeta: persisted data model
//   - FileStore, SQLiteStore: backends selected by Open
//
// # Usage
//
//	store, err := storage.Open(cfg.Storage.Driver, cfg.General.DataDir)
//	sess, err := store.Create("")
//	sess, err = store.Append(sess.ID, storage.NewMessage(storage.RoleUser, "hi"))
package storage
