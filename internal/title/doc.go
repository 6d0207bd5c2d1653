// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package title names sessions from their first exchange.
//
// A session is eligible while its title is a placeholder such as "New chat"
// and it holds a user and an assistant message. The worker asks the model
// for a short title, sanitizes it, stores it and announces it on the
// chat-updated topic. Jobs run on a tasks.Runner so a slow or failing model
// never delays a reply.
package title
