package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeOpenAI(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if stream, _ := body["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, piece := range []string{text[:len(text)/2], text[len(text)/2:]} {
				chunk := map[string]any{
					"id":      "chatcmpl-1",
					"object":  "chat.completion.chunk",
					"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": piece}}},
				}
				data, _ := json.Marshal(chunk)
				_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			}
			_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			}},
		})
	}))
}

func TestOpenAIService_Generate(t *testing.T) {
	server := newFakeOpenAI(t, `{"headline":"Green wins"}`)
	defer server.Close()

	svc := NewOpenAIService(OpenAIOptions{APIKey: "k", BaseURL: server.URL + "/v1"}, discardLogger())
	resp, err := svc.Generate(context.Background(), Request{Model: "gpt-test", System: "sys", Prompt: "[1]"})
	require.NoError(t, err)
	assert.Equal(t, `{"headline":"Green wins"}`, resp.Text)
	assert.Equal(t, "gpt-test", resp.Model)
}

func TestOpenAIService_GenerateStream(t *testing.T) {
	server := newFakeOpenAI(t, `{"headline":"Green wins"}`)
	defer server.Close()

	svc := NewOpenAIService(OpenAIOptions{APIKey: "k", BaseURL: server.URL + "/v1", Stream: true}, discardLogger())
	resp, err := svc.Generate(context.Background(), Request{Model: "gpt-test", Prompt: "[1]"})
	require.NoError(t, err)
	assert.Equal(t, `{"headline":"Green wins"}`, resp.Text)
}

func TestOpenAIService_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	svc := NewOpenAIService(OpenAIOptions{APIKey: "k", BaseURL: server.URL + "/v1"}, discardLogger())
	_, err := svc.Generate(context.Background(), Request{Model: "gpt-test", Prompt: "[1]"})
	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, BackendOpenAI, genErr.Backend)

	assert.Error(t, svc.Warmup(context.Background(), "gpt-test"))
}

func TestOpenAIService_Ping(t *testing.T) {
	assert.Error(t, NewOpenAIService(OpenAIOptions{}, discardLogger()).Ping(context.Background()))
	assert.NoError(t, NewOpenAIService(OpenAIOptions{APIKey: "k"}, discardLogger()).Ping(context.Background()))
}
