// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/nebot/internal/logging"
	"github.com/jeranaias/nebot/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one JSON document per session under BaseDir.
type FileStore struct {
	// BaseDir is the directory holding <id>.json files.
	// Default: ~/.nebot/sessions/
	BaseDir string

	locks util.KeyedMutex
}

// NewFileStore creates a store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create sessions directory")
	}
	return &FileStore{BaseDir: baseDir}, nil
}

// List returns every readable session, most recently updated first.
// Corrupt files are skipped.
func (s *FileStore) List() ([]SessionMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionMeta{}, nil
		}
		return nil, errors.Wrap(err, "failed to read sessions directory")
	}

	metas := make([]SessionMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		sess, err := s.load(id)
		if err != nil {
			l := logging.Component("storage")
			l.Debug().Err(err).Str("session_id", id).Msg("skipping unreadable session")
			continue
		}
		metas = append(metas, sess.Meta())
	}

	sortMetas(metas)
	return metas, nil
}

// Get loads a session by id.
func (s *FileStore) Get(id string) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	return s.load(id)
}

// Create persists a new empty session. An empty title becomes DefaultTitle.
func (s *FileStore) Create(title string) (*Session, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	now := time.Now()
	sess := &Session{
		ID:        NewSessionID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes a session.
func (s *FileStore) Delete(id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrSessionNotFound
		}
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

// Append adds msg to the current persisted transcript of id.
func (s *FileStore) Append(id string, msg Message) (*Session, error) {
	return s.update(id, func(sess *Session) {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		sess.Messages = append(sess.Messages, msg)
	})
}

// SetTitle replaces the title of id.
func (s *FileStore) SetTitle(id, title string) (*Session, error) {
	return s.update(id, func(sess *Session) {
		sess.Title = title
	})
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *FileStore) update(id string, apply func(*Session)) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.load(id)
	if err != nil {
		return nil, err
	}
	apply(sess)
	sess.UpdatedAt = time.Now()
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *FileStore) load(id string) (*Session, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrapf(err, "failed to read session %s", id)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, errors.Wrapf(err, "failed to decode session %s", id)
	}
	if sess.Messages == nil {
		sess.Messages = []Message{}
	}
	return &sess, nil
}

func (s *FileStore) save(sess *Session) error {
	return util.WriteJSONAtomic(s.filePath(sess.ID), sess, 0644)
}

func (s *FileStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

func sortMetas(metas []SessionMeta) {
	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
}
