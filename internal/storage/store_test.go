// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// SHARED CONTRACT TESTS
// =============================================================================

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		DriverFile: func(t *testing.T) Store {
			s, err := Open(DriverFile, t.TempDir())
			require.NoError(t, err)
			return s
		},
		DriverSQLite: func(t *testing.T) Store {
			s, err := Open(DriverSQLite, t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			sess, err := s.Create("")
			require.NoError(t, err)
			assert.Equal(t, DefaultTitle, sess.Title)
			assert.Empty(t, sess.Messages)

			got, err := s.Get(sess.ID)
			require.NoError(t, err)
			assert.Equal(t, sess.ID, got.ID)
			assert.Equal(t, DefaultTitle, got.Title)
			assert.NotNil(t, got.Messages)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			_, err := s.Get("nope-000000")
			assert.True(t, IsNotFound(err), "err = %v", err)

			_, err = s.Append("nope-000000", NewMessage(RoleUser, "x"))
			assert.True(t, IsNotFound(err), "err = %v", err)

			err = s.Delete("nope-000000")
			assert.True(t, IsNotFound(err), "err = %v", err)
		})
	}
}

func TestStore_AppendKeepsOrderAndTouchesUpdatedAt(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			sess, err := s.Create("Work")
			require.NoError(t, err)

			time.Sleep(2 * time.Millisecond)
			_, err = s.Append(sess.ID, NewMessage(RoleUser, "one"))
			require.NoError(t, err)
			after, err := s.Append(sess.ID, NewMessage(RoleAssistant, "two"))
			require.NoError(t, err)

			require.Len(t, after.Messages, 2)
			assert.Equal(t, "one", after.Messages[0].Content)
			assert.Equal(t, RoleAssistant, after.Messages[1].Role)
			assert.True(t, after.UpdatedAt.After(sess.UpdatedAt))

			got, err := s.Get(sess.ID)
			require.NoError(t, err)
			require.Len(t, got.Messages, 2)
			assert.Equal(t, "two", got.Messages[1].Content)
		})
	}
}

func TestStore_ConcurrentAppendsAreNotLost(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			sess, err := s.Create("")
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Append(sess.ID, NewMessage(RoleUser, "m"))
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := s.Get(sess.ID)
			require.NoError(t, err)
			assert.Len(t, got.Messages, 10)
		})
	}
}

func TestStore_SetTitle(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			sess, err := s.Create("")
			require.NoError(t, err)
			_, err = s.Append(sess.ID, NewMessage(RoleUser, "keep me"))
			require.NoError(t, err)

			updated, err := s.SetTitle(sess.ID, "Project Q3 Review")
			require.NoError(t, err)
			assert.Equal(t, "Project Q3 Review", updated.Title)
			assert.Len(t, updated.Messages, 1, "SetTitle must not drop messages")
		})
	}
}

func TestStore_ListSortedByUpdatedAt(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			first, err := s.Create("first")
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
			second, err := s.Create("second")
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
			_, err = s.Append(first.ID, NewMessage(RoleUser, "bump"))
			require.NoError(t, err)

			metas, err := s.List()
			require.NoError(t, err)
			require.Len(t, metas, 2)
			assert.Equal(t, first.ID, metas[0].ID)
			assert.Equal(t, 1, metas[0].MessageCount)
			assert.Equal(t, second.ID, metas[1].ID)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			sess, err := s.Create("")
			require.NoError(t, err)
			_, err = s.Append(sess.ID, NewMessage(RoleUser, "bye"))
			require.NoError(t, err)

			require.NoError(t, s.Delete(sess.ID))
			_, err = s.Get(sess.ID)
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestStore_RejectsPathIDs(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			_, err := s.Get("../etc/passwd")
			assert.ErrorIs(t, err, ErrInvalidID)
		})
	}
}

// =============================================================================
// FILE STORE SPECIFICS
// =============================================================================

func TestFileStore_ListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = s.Create("ok")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))

	metas, err := s.List()
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

// =============================================================================
// SESSION HELPERS
// =============================================================================

func TestNewSessionID_Format(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-z]+-[0-9a-z]{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewSessionID()
		if !re.MatchString(id) {
			t.Fatalf("NewSessionID() = %q, does not match %s", id, re)
		}
		if !ValidID(id) {
			t.Fatalf("NewSessionID() = %q is not a valid id", id)
		}
		seen[id] = true
	}
	if len(seen) < 45 {
		t.Errorf("only %d unique ids out of 50", len(seen))
	}
}

func TestSession_Exports(t *testing.T) {
	sess := &Session{
		ID:        "abc-123456",
		Title:     "Trip",
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Messages: []Message{
			{Role: RoleUser, Content: "Where to?", Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
			{Role: RoleAssistant, Content: "Lisbon.", Timestamp: time.Date(2025, 1, 2, 3, 5, 0, 0, time.UTC)},
		},
	}

	md := sess.ExportMarkdown()
	assert.True(t, strings.HasPrefix(md, "# Trip"))
	assert.Contains(t, md, "**Nebot** (03:05)")
	assert.Contains(t, md, "Lisbon.")

	y, err := sess.ExportYAML()
	require.NoError(t, err)
	assert.Contains(t, string(y), "title: Trip")
	assert.Contains(t, string(y), "role: assistant")

	assert.Equal(t, "Where to?", sess.Preview())
	assert.Equal(t, 1, sess.CountRole(RoleAssistant))
	last, ok := sess.LastMessage()
	require.True(t, ok)
	assert.Equal(t, RoleAssistant, last.Role)
}

func TestFormatSessionList(t *testing.T) {
	if got := FormatSessionList(nil); got != "No sessions found." {
		t.Errorf("FormatSessionList(nil) = %q", got)
	}

	out := FormatSessionList([]SessionMeta{{ID: "k1-abcdef", Title: "A very long title that should be clipped to fit the column", MessageCount: 4}})
	if !strings.Contains(out, "k1-abcdef") {
		t.Errorf("missing id in %q", out)
	}
	if !strings.Contains(out, "…") {
		t.Errorf("long title not truncated in %q", out)
	}
}
