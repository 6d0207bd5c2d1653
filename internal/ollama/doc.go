// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama API.
//
// The client exposes the raw NDJSON body of a streaming chat request so the
// caller can reassemble it at its own pace, plus non-streaming generate,
// model listing and health checks.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - ClientError: typed error carrying an ErrorType and, for bad statuses, the HTTP code
//   - ChatRequest, GenerateRequest: request bodies
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	body, err := client.OpenChatStream(ctx, ollama.ChatRequest{Messages: msgs})
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
package ollama
