// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		msg  Message
		role string
	}{
		{NewUserMessage("hi"), "user"},
		{NewAssistantMessage("hi"), "assistant"},
		{NewSystemMessage("hi"), "system"},
	}
	for _, tt := range tests {
		if tt.msg.Role != tt.role {
			t.Errorf("Role = %q, want %q", tt.msg.Role, tt.role)
		}
		if tt.msg.Content != "hi" {
			t.Errorf("Content = %q, want 'hi'", tt.msg.Content)
		}
	}
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestOpenChatStream_SendsStreamingRequest(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message":{"content":"hi"}}` + "\n"))
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	body, err := c.OpenChatStream(context.Background(), ChatRequest{
		Messages: []Message{NewUserMessage("hello")},
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hi"`)

	assert.True(t, got.Stream)
	assert.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
}

func TestOpenChatStream_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	_, err := c.OpenChatStream(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 500, StatusCode(err))
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, IsModelNotFound(err))
}

func TestOpenChatStream_UnknownModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	_, err := c.OpenChatStream(context.Background(), ChatRequest{Model: "nope"})
	require.Error(t, err)
	assert.Equal(t, 404, StatusCode(err))
	assert.True(t, IsModelNotFound(err))
	assert.False(t, IsNotRunning(err))
}

func TestOpenChatStream_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url})
	_, err := c.OpenChatStream(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, IsNotRunning(err), "err = %v", err)
	assert.Equal(t, 0, StatusCode(err))
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "/api/generate", r.URL.Path)
		json.NewEncoder(w).Encode(GenerateResponse{Response: "Weekend Trip Planning", Done: true})
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	resp, err := c.Generate(context.Background(), GenerateRequest{Prompt: "Title:"})
	require.NoError(t, err)
	assert.Equal(t, "Weekend Trip Planning", resp.Response)
}

func TestSetBaseURL(t *testing.T) {
	c := NewClientWithConfig(nil)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	c.SetBaseURL("http://10.0.0.2:11434/")
	assert.Equal(t, "http://10.0.0.2:11434", c.BaseURL())
	c.SetBaseURL("")
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
}

func TestCheckRunningAndListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte("Ollama is running"))
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"gpt-oss:20b","size":1024}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	require.NoError(t, c.CheckRunning(context.Background()))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-oss:20b", models[0].Name)
}
