// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// TaskStatus represents the current state of a background task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting to be executed
	TaskStatusQueued TaskStatus = "Queued"

	// TaskStatusRunning indicates the task is currently executing
	TaskStatusRunning TaskStatus = "Running"

	// TaskStatusComplete indicates the task finished successfully
	TaskStatusComplete TaskStatus = "Complete"

	// TaskStatusFailed indicates the task returned an error, panicked or timed out
	TaskStatusFailed TaskStatus = "Failed"

	// TaskStatusCanceled indicates the task was canceled before it finished
	TaskStatusCanceled TaskStatus = "Canceled"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// Func is the work a task performs. It must honor ctx.
type Func func(ctx context.Context) error

// =============================================================================
// TASK STRUCTURE
// =============================================================================

// Task is one unit of background work.
type Task struct {
	// ID is a unique identifier for this task
	ID string

	// Description is a human-readable description of what this task does
	Description string

	// Key groups tasks for the same subject. At most one queued task exists
	// per non-empty key.
	Key string

	Status    TaskStatus
	StartTime time.Time
	EndTime   time.Time

	// Error is the error message if the task failed
	Error string

	fn     Func
	cancel context.CancelFunc
	done   chan struct{}

	mu sync.RWMutex
}

// NewTask creates a queued task that will run fn.
func NewTask(description, key string, fn Func) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		Key:         key,
		Status:      TaskStatusQueued,
		fn:          fn,
		done:        make(chan struct{}),
	}
}

// =============================================================================
// TASK METHODS
// =============================================================================

// isValidTransition allows Queued -> Running -> Complete/Failed/Canceled
// and Queued -> Canceled.
func isValidTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusQueued:
		return to == TaskStatusRunning || to == TaskStatusCanceled
	case TaskStatusRunning:
		return to == TaskStatusComplete || to == TaskStatusFailed || to == TaskStatusCanceled
	default:
		return false
	}
}

// GetStatus returns the current task status.
func (t *Task) GetStatus() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// Done is closed once the task reaches a terminal status.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markStarted returns false when the task was canceled while queued.
func (t *Task) markStarted(cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isValidTransition(t.Status, TaskStatusRunning) {
		return false
	}
	t.Status = TaskStatusRunning
	t.StartTime = time.Now()
	t.cancel = cancel
	return true
}

// finish moves a running task to a terminal status. It is a no-op for a
// task that already finished.
func (t *Task) finish(status TaskStatus, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isValidTransition(t.Status, status) {
		return false
	}
	t.Status = status
	t.EndTime = time.Now()
	if err != nil {
		t.Error = err.Error()
	}
	close(t.done)
	return true
}

// Cancel cancels the task if it's queued or running.
// Returns true if the task was canceled.
func (t *Task) Cancel() bool {
	t.mu.RLock()
	cancel := t.cancel
	status := t.Status
	t.mu.RUnlock()

	if status != TaskStatusRunning && status != TaskStatusQueued {
		return false
	}
	if cancel != nil {
		cancel()
	}
	return t.finish(TaskStatusCanceled, nil)
}

// Duration returns how long the task has been running or took to complete.
func (t *Task) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.StartTime.IsZero() {
		return 0
	}
	if t.EndTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}

// IsComplete returns true if the task has finished (success, failure, or canceled).
func (t *Task) IsComplete() bool {
	switch t.GetStatus() {
	case TaskStatusComplete, TaskStatusFailed, TaskStatusCanceled:
		return true
	}
	return false
}

// Summary returns a one-line summary of the task.
func (t *Task) Summary() string {
	summary := fmt.Sprintf("[%s] %s - %s", t.ID[:8], t.Description, t.GetStatus())
	if d := t.Duration(); d > 0 {
		summary += fmt.Sprintf(" (%.1fs)", d.Seconds())
	}
	return summary
}

// Snapshot is a read-only copy of a task.
type Snapshot struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Key         string     `json:"key,omitempty"`
	Status      TaskStatus `json:"status"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     time.Time  `json:"endTime"`
	Error       string     `json:"error,omitempty"`
}

// Snapshot returns a consistent copy of the task's fields.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:          t.ID,
		Description: t.Description,
		Key:         t.Key,
		Status:      t.Status,
		StartTime:   t.StartTime,
		EndTime:     t.EndTime,
		Error:       t.Error,
	}
}
