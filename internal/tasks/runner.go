// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Runner defaults.
const (
	DefaultConcurrency = 1
	DefaultTimeout     = 60 * time.Second
	DefaultHistory     = 100
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("task runner stopped")

// =============================================================================
// TASK RUNNER
// =============================================================================

// Options configures a Runner.
type Options struct {
	// MaxConcurrent bounds how many tasks run at once.
	MaxConcurrent int

	// Timeout bounds each task (0 = no timeout).
	Timeout time.Duration

	Logger zerolog.Logger
}

// DefaultOptions runs one task at a time with a 60s timeout.
func DefaultOptions() Options {
	return Options{
		MaxConcurrent: DefaultConcurrency,
		Timeout:       DefaultTimeout,
		Logger:        zerolog.Nop(),
	}
}

// Runner executes queued tasks in the background.
type Runner struct {
	queue     *Queue
	opts      Options
	logger    zerolog.Logger
	semaphore chan struct{}

	wake     chan struct{}
	stop     chan struct{}
	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRunner creates a runner for queue. A nil queue gets a fresh one with
// DefaultHistory.
func NewRunner(queue *Queue, opts Options) *Runner {
	if queue == nil {
		queue = NewQueue(DefaultHistory)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultConcurrency
	}
	return &Runner{
		queue:     queue,
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "tasks").Logger(),
		semaphore: make(chan struct{}, opts.MaxConcurrent),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Queue returns the runner's queue.
func (r *Runner) Queue() *Queue {
	return r.queue
}

// =============================================================================
// RUNNER LIFECYCLE
// =============================================================================

// Start begins processing tasks from the queue.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.processLoop()
	r.signal()
}

// Stop prevents new submissions, cancels tasks that have not started and
// waits for running tasks to finish. It is safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.stop)
	})
	r.wg.Wait()
	for _, task := range r.queue.Queued() {
		r.queue.MarkCanceled(task)
	}
	r.logger.Debug().Msg("task runner stopped: " + r.queue.Summary())
}

// Submit queues fn. A task already queued under the same non-empty key is
// returned instead of queuing a duplicate.
func (r *Runner) Submit(description, key string, fn Func) (*Task, error) {
	if r.stopped.Load() {
		return nil, ErrStopped
	}
	task, err := r.queue.Add(NewTask(description, key, fn))
	if err != nil {
		return nil, err
	}
	r.signal()
	return task, nil
}

func (r *Runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// =============================================================================
// TASK PROCESSING
// =============================================================================

func (r *Runner) processLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stop:
			return
		case <-r.wake:
		}

		for _, task := range r.queue.Queued() {
			select {
			case r.semaphore <- struct{}{}:
			case <-r.stop:
				return
			}

			ctx, cancel := r.taskContext()
			if !task.markStarted(cancel) {
				cancel()
				<-r.semaphore
				continue
			}
			r.queue.MarkRunning(task)

			r.wg.Add(1)
			go r.executeTask(ctx, cancel, task)
		}
	}
}

func (r *Runner) taskContext() (context.Context, context.CancelFunc) {
	if r.opts.Timeout > 0 {
		return context.WithTimeout(context.Background(), r.opts.Timeout)
	}
	return context.WithCancel(context.Background())
}

func (r *Runner) executeTask(ctx context.Context, cancel context.CancelFunc, task *Task) {
	defer r.wg.Done()
	defer func() {
		<-r.semaphore
		r.signal()
	}()
	defer cancel()

	err := call(ctx, task.fn)

	switch {
	case err == nil:
		r.queue.MarkComplete(task)
	case errors.Is(ctx.Err(), context.Canceled):
		r.queue.MarkCanceled(task)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.logger.Warn().Str("task", task.Description).Dur("timeout", r.opts.Timeout).Msg("task timed out")
		r.queue.MarkFailed(task, errors.Wrapf(err, "task timeout after %v", r.opts.Timeout))
	default:
		r.logger.Warn().Err(err).Str("task", task.Description).Msg("task failed")
		r.queue.MarkFailed(task, err)
	}
	r.logger.Debug().Msg(task.Summary())
}

// call runs fn and converts a panic into an error.
func call(ctx context.Context, fn Func) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("task panicked: %v", rec)
		}
	}()
	if fn == nil {
		return errors.New("task has no function")
	}
	return fn(ctx)
}
