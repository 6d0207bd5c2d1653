// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the nebot command line.
//
// # Commands
//
//   - serve: HTTP and WebSocket API for the browser frontend
//   - chat: full-screen terminal chat
//   - repl: line-oriented chat in the current terminal
//   - sessions: list, show, new, delete and export saved sessions
//   - models: list models installed on the Ollama backend
//   - config: show, get, set, keys and path for config.toml
//
// Every command loads config.toml, applies NEBOT_* environment overrides and
// then the persistent flags, in that order.
//
// # Usage
//
//	func main() {
//		os.Exit(cli.Execute())
//	}
package cli
