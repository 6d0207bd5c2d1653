// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// ErrQueueFull is returned by Add when the queue is at capacity.
var ErrQueueFull = errors.New("task queue is full")

// =============================================================================
// TASK QUEUE
// =============================================================================

// Queue tracks queued, running and finished tasks.
type Queue struct {
	// tasks is the list of all tasks (both queued and completed)
	tasks []*Task

	// running tracks currently running tasks by ID
	running map[string]*Task

	// maxHistory is the maximum number of completed tasks to keep
	maxHistory int

	// maxQueueSize is the maximum number of queued tasks allowed (0 = unlimited)
	maxQueueSize int

	mu sync.RWMutex
}

// NewQueue creates a new task queue.
// maxHistory sets the maximum number of completed tasks to keep (0 = unlimited).
func NewQueue(maxHistory int) *Queue {
	return NewQueueWithOptions(maxHistory, 0)
}

// NewQueueWithOptions creates a queue that also bounds the number of queued
// tasks (0 = unlimited).
func NewQueueWithOptions(maxHistory, maxQueueSize int) *Queue {
	return &Queue{
		running:      make(map[string]*Task),
		maxHistory:   maxHistory,
		maxQueueSize: maxQueueSize,
	}
}

// =============================================================================
// TASK MANAGEMENT
// =============================================================================

// Add queues task. When a task with the same non-empty key is already
// queued, that task is returned instead and task is discarded.
func (q *Queue) Add(task *Task) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queued := 0
	for _, t := range q.tasks {
		if t.GetStatus() != TaskStatusQueued {
			continue
		}
		if task.Key != "" && t.Key == task.Key {
			return t, nil
		}
		queued++
	}
	if q.maxQueueSize > 0 && queued >= q.maxQueueSize {
		return nil, errors.Wrapf(ErrQueueFull, "%d queued (max %d)", queued, q.maxQueueSize)
	}

	q.tasks = append(q.tasks, task)
	return task, nil
}

// Get retrieves a task by ID.
// Returns nil if the task is not found.
func (q *Queue) Get(id string) *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, task := range q.tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}

// Cancel cancels a queued or running task by ID.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, task := range q.tasks {
		if task.ID == id {
			if task.Cancel() {
				delete(q.running, id)
				return true
			}
			return false
		}
	}
	return false
}

// MarkRunning records that task started.
func (q *Queue) MarkRunning(task *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running[task.ID] = task
}

// MarkComplete marks a task as complete and removes it from running.
func (q *Queue) MarkComplete(task *Task) {
	q.finish(task, TaskStatusComplete, nil)
}

// MarkFailed marks a task as failed and removes it from running.
func (q *Queue) MarkFailed(task *Task, err error) {
	q.finish(task, TaskStatusFailed, err)
}

// MarkCanceled marks a task as canceled and removes it from running.
func (q *Queue) MarkCanceled(task *Task) {
	q.finish(task, TaskStatusCanceled, nil)
}

func (q *Queue) finish(task *Task, status TaskStatus, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.running, task.ID)
	task.finish(status, err)
	q.cleanupLocked()
}

// =============================================================================
// QUEUE QUERIES
// =============================================================================

// All returns snapshots of all tracked tasks.
func (q *Queue) All() []Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]Snapshot, len(q.tasks))
	for i, task := range q.tasks {
		result[i] = task.Snapshot()
	}
	return result
}

// Queued returns the tasks that have not started, in submission order.
func (q *Queue) Queued() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []*Task
	for _, task := range q.tasks {
		if task.GetStatus() == TaskStatusQueued {
			result = append(result, task)
		}
	}
	return result
}

// =============================================================================
// CLEANUP
// =============================================================================

// cleanupLocked drops the oldest finished tasks beyond maxHistory.
func (q *Queue) cleanupLocked() {
	if q.maxHistory <= 0 {
		return
	}

	completed := 0
	for _, task := range q.tasks {
		if task.IsComplete() {
			completed++
		}
	}
	if completed <= q.maxHistory {
		return
	}

	toRemove := completed - q.maxHistory
	kept := make([]*Task, 0, len(q.tasks)-toRemove)
	for _, task := range q.tasks {
		if task.IsComplete() && toRemove > 0 {
			toRemove--
			continue
		}
		kept = append(kept, task)
	}
	q.tasks = kept
}

// Summary returns a formatted summary of the queue.
func (q *Queue) Summary() string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var queued, completed, failed int
	for _, task := range q.tasks {
		switch task.GetStatus() {
		case TaskStatusQueued:
			queued++
		case TaskStatusComplete:
			completed++
		case TaskStatusFailed:
			failed++
		}
	}
	return fmt.Sprintf("Running: %d | Queued: %d | Completed: %d | Failed: %d",
		len(q.running), queued, completed, failed)
}
