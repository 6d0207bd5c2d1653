// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks runs background work off the request path.
//
// # Key Types
//
//   - Task: one unit of work with status, timing and a completion channel
//   - Queue: tracks queued, running and finished tasks with bounded history
//   - Runner: executes queued tasks with a concurrency limit and timeout
//
// A panic inside a task marks it Failed; it never escapes the runner.
// Tasks submitted with the same key coalesce while one is still queued.
//
// # Usage
//
//	runner := tasks.NewRunner(nil, tasks.DefaultOptions())
//	runner.Start()
//	defer runner.Stop()
//
//	task, err := runner.Submit("title "+id, id, func(ctx context.Context) error {
//	    return worker.Run(ctx, id)
//	})
package tasks
