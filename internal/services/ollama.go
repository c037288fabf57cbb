package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	DefaultOllamaKeepAlive = "24h"
	DefaultGenerateTimeout = 30 * time.Minute
)

// OllamaService implements Generator against a local Ollama server
type OllamaService struct {
	baseURL    string
	keepAlive  string
	stream     bool
	maxWait    time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	warmMu sync.Mutex
	warm   map[string]*sync.Once
}

// Ensure OllamaService implements Generator interface
var _ Generator = (*OllamaService)(nil)

// OllamaOptions configures an OllamaService
type OllamaOptions struct {
	BaseURL   string
	KeepAlive string
	Stream    bool
	Timeout   time.Duration
}

type ollamaGenerateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt,omitempty"`
	System    string `json:"system,omitempty"`
	Format    string `json:"format,omitempty"`
	Stream    bool   `json:"stream"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaService creates a new Ollama service instance
func NewOllamaService(opts OllamaOptions, logger *slog.Logger) *OllamaService {
	if opts.KeepAlive == "" {
		opts.KeepAlive = DefaultOllamaKeepAlive
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultGenerateTimeout
	}
	return &OllamaService{
		baseURL:   opts.BaseURL,
		keepAlive: opts.KeepAlive,
		stream:    opts.Stream,
		maxWait:   opts.Timeout,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
		warm:   make(map[string]*sync.Once),
	}
}

func (s *OllamaService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request failed with status: %d", resp.StatusCode)
	}
	return nil
}

// Warmup makes sure the model is present, pulling it if needed, then loads
// it with the configured keep-alive.
func (s *OllamaService) Warmup(ctx context.Context, model string) error {
	s.logger.Info("Initializing LLM model", "model", model)

	ready, err := s.isModelReady(ctx, model)
	if err != nil {
		return generationError(BackendOllama, model, fmt.Errorf("failed to check model readiness: %w", err))
	}
	if !ready {
		s.logger.Info("Model not found, pulling it", "model", model)
		if err := s.pullModel(ctx, model); err != nil {
			return generationError(BackendOllama, model, fmt.Errorf("failed to pull model: %w", err))
		}
		s.logger.Info("Model pulled successfully", "model", model)
	}

	if err := s.loadModel(ctx, model); err != nil {
		return generationError(BackendOllama, model, err)
	}
	s.markWarm(model)
	return nil
}

func (s *OllamaService) once(model string) *sync.Once {
	s.warmMu.Lock()
	defer s.warmMu.Unlock()
	o, ok := s.warm[model]
	if !ok {
		o = &sync.Once{}
		s.warm[model] = o
	}
	return o
}

func (s *OllamaService) markWarm(model string) {
	s.once(model).Do(func() {})
}

// ensureWarm loads the model once before its first real request
func (s *OllamaService) ensureWarm(ctx context.Context, model string) {
	s.once(model).Do(func() {
		if err := s.loadModel(ctx, model); err != nil {
			s.logger.Warn("Ollama keep-alive warm-up failed", "model", model, "error", err)
		}
	})
}

// loadModel issues an empty generate call, which loads the model and pins it
// for the keep-alive duration.
func (s *OllamaService) loadModel(ctx context.Context, model string) error {
	body := ollamaGenerateRequest{Model: model, KeepAlive: s.keepAlive}
	resp, err := s.post(ctx, "/api/generate", body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("warm-up failed with status %d: %s", resp.StatusCode, string(data))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *OllamaService) Generate(ctx context.Context, req Request) (*Response, error) {
	s.ensureWarm(ctx, req.Model)

	start := time.Now()
	var text string
	var err error
	if s.stream {
		var chunks <-chan StreamChunk
		chunks, err = s.GenerateStream(ctx, req)
		if err == nil {
			text, err = Collect(ctx, chunks, s.maxWait)
		}
	} else {
		text, err = s.generate(ctx, req)
	}
	if err != nil {
		s.logger.Error("Ollama generate failed", "model", req.Model, "error", err)
		return nil, generationError(BackendOllama, req.Model, err)
	}

	elapsed := time.Since(start)
	s.logger.Debug("Ollama generate completed", "model", req.Model, "duration_ms", elapsed.Milliseconds(), "length", len(text))
	return &Response{Text: text, Model: req.Model, Elapsed: elapsed}, nil
}

func (s *OllamaService) generate(ctx context.Context, req Request) (string, error) {
	resp, err := s.post(ctx, "/api/generate", s.newRequest(req, false))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var responseBody bytes.Buffer
	if _, err := responseBody.ReadFrom(resp.Body); err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("Ollama API returned error",
			"status_code", resp.StatusCode,
			"response_body", responseBody.String())
		return "", fmt.Errorf("API request failed with status: %d", resp.StatusCode)
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(responseBody.Bytes(), &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("API error: %s", out.Error)
	}
	return out.Response, nil
}

// GenerateStream starts a streaming generation. Each NDJSON line from the
// server becomes one chunk; the channel closes after the final chunk.
func (s *OllamaService) GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	resp, err := s.post(ctx, "/api/generate", s.newRequest(req, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(data))
	}

	chunks := make(chan StreamChunk, 16)
	go func() {
		defer close(chunks)
		defer func() { _ = resp.Body.Close() }()

		send := func(c StreamChunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var part ollamaGenerateResponse
			if err := json.Unmarshal(line, &part); err != nil {
				send(StreamChunk{Error: fmt.Errorf("failed to decode stream chunk: %w", err)})
				return
			}
			if part.Error != "" {
				send(StreamChunk{Error: fmt.Errorf("API error: %s", part.Error)})
				return
			}
			if !send(StreamChunk{Content: part.Response, Done: part.Done}) || part.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(StreamChunk{Error: fmt.Errorf("failed to read stream: %w", err)})
		}
	}()
	return chunks, nil
}

func (s *OllamaService) newRequest(req Request, stream bool) ollamaGenerateRequest {
	return ollamaGenerateRequest{
		Model:     req.Model,
		Prompt:    req.Prompt,
		System:    req.System,
		Format:    "json",
		Stream:    stream,
		KeepAlive: s.keepAlive,
	}
}

func (s *OllamaService) post(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

// isModelReady checks if the specified model is available
func (s *OllamaService) isModelReady(ctx context.Context, modelName string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/api/tags", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("API request failed with status: %d", resp.StatusCode)
	}

	var tagsResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&tagsResp); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	for _, model := range tagsResp.Models {
		if model.Name == modelName || model.Name == modelName+":latest" {
			return true, nil
		}
	}

	return false, nil
}

// pullModel pulls a model from Ollama
func (s *OllamaService) pullModel(ctx context.Context, modelName string) error {
	resp, err := s.post(ctx, "/api/pull", map[string]any{"name": modelName, "stream": false})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request failed with status: %d", resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
