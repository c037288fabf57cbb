package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnthropicService(t *testing.T) {
	service := NewAnthropicService("test-api-key", "", 0, discardLogger())

	assert.Equal(t, "test-api-key", service.apiKey)
	assert.Equal(t, anthropicBaseURL, service.baseURL)
	require.NotNil(t, service.httpClient)
	assert.Equal(t, DefaultGenerateTimeout, service.httpClient.Timeout)
}

func TestAnthropicService_Generate(t *testing.T) {
	var got AnthropicChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(AnthropicChatResponse{
			Type: "message",
			Content: []AnthropicContentBlock{
				{Type: "text", Text: `{"headline":`},
				{Type: "text", Text: `"Red wins"}`},
			},
		})
	}))
	defer server.Close()

	service := NewAnthropicService("test-key", server.URL, 0, discardLogger())
	resp, err := service.Generate(context.Background(), Request{Model: "claude-x", System: "sys", Prompt: "[1]"})
	require.NoError(t, err)
	assert.Equal(t, `{"headline":"Red wins"}`, resp.Text)

	assert.Equal(t, "claude-x", got.Model)
	assert.Equal(t, "sys", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "[1]", got.Messages[0].Content)
}

func TestAnthropicService_GenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non-2xx", http.StatusTooManyRequests, `{"error":{"type":"rate_limit","message":"slow down"}}`},
		{"api error body", http.StatusOK, `{"error":{"type":"invalid","message":"bad model"}}`},
		{"garbage", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			service := NewAnthropicService("k", server.URL, 0, discardLogger())
			_, err := service.Generate(context.Background(), Request{Model: "claude-x", Prompt: "[1]"})
			var genErr *GenerationError
			require.True(t, errors.As(err, &genErr))
			assert.Equal(t, BackendAnthropic, genErr.Backend)
		})
	}
}

func TestAnthropicService_Ping(t *testing.T) {
	assert.NoError(t, NewAnthropicService("k", "", 0, discardLogger()).Ping(context.Background()))
	assert.Error(t, NewAnthropicService("", "", 0, discardLogger()).Ping(context.Background()))
}
