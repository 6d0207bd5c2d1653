// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"path/filepath"

	"github.com/pkg/errors"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the durable mapping from session id to transcript.
//
// Append and SetTitle are read-modify-write operations: they load the
// current persisted state of the session, apply the change, refresh
// UpdatedAt and persist, all while holding a per-session lock. Callers never
// write back a stale in-memory copy.
type Store interface {
	List() ([]SessionMeta, error)
	Get(id string) (*Session, error)
	Create(title string) (*Session, error)
	Delete(id string) error
	Append(id string, msg Message) (*Session, error)
	SetTitle(id, title string) (*Session, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open returns the store for driver rooted at dataDir.
func Open(driver, dataDir string) (Store, error) {
	switch driver {
	case "", DriverFile:
		return NewFileStore(filepath.Join(dataDir, "sessions"))
	case DriverSQLite:
		return NewSQLiteStore(filepath.Join(dataDir, "sessions.db"))
	default:
		return nil, errors.Errorf("unknown storage driver %q", driver)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrSessionNotFound is returned when a session doesn't exist.
// Use errors.Is(err, ErrSessionNotFound) to check for this error.
var ErrSessionNotFound = &StorageError{Message: "session not found"}

// ErrInvalidID is returned for ids that are empty or contain path characters.
var ErrInvalidID = &StorageError{Message: "invalid session id"}

// StorageError represents a session storage error.
type StorageError struct {
	Message string
}

func (e *StorageError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing storage errors.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// IsNotFound reports whether err means the session does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}
