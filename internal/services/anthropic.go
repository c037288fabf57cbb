package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	DefaultAnthropicTemperature = 0.2
	DefaultAnthropicMaxTokens   = 2048
)

// AnthropicService implements Generator for Anthropic Claude
type AnthropicService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Ensure AnthropicService implements Generator interface
var _ Generator = (*AnthropicService)(nil)

type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AnthropicChatRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Messages    []AnthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
}

type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type AnthropicChatResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []AnthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicService creates a client for the Messages API. An empty baseURL
// selects the public endpoint.
func NewAnthropicService(apiKey, baseURL string, timeout time.Duration, logger *slog.Logger) *AnthropicService {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	return &AnthropicService{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (a *AnthropicService) Warmup(ctx context.Context, model string) error {
	return a.Ping(ctx)
}

// Ping only validates configuration; the API has no free health endpoint.
func (a *AnthropicService) Ping(ctx context.Context) error {
	if a.apiKey == "" {
		return errors.New("anthropic api key is not configured")
	}
	return nil
}

func (a *AnthropicService) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	text, err := a.chatCompletion(ctx, req)
	if err != nil {
		a.logger.Error("Anthropic request failed", "model", req.Model, "error", err)
		return nil, generationError(BackendAnthropic, req.Model, err)
	}
	return &Response{Text: text, Model: req.Model, Elapsed: time.Since(start)}, nil
}

// chatCompletion makes a single Messages API request
func (a *AnthropicService) chatCompletion(ctx context.Context, r Request) (string, error) {
	temperature := DefaultAnthropicTemperature
	anthropicReq := AnthropicChatRequest{
		Model:       r.Model,
		MaxTokens:   DefaultAnthropicMaxTokens,
		Temperature: &temperature,
		Messages:    []AnthropicMessage{{Role: "user", Content: r.Prompt}},
		System:      r.System,
	}

	reqBody, err := json.Marshal(anthropicReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	// Set required Anthropic headers
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var anthropicResp AnthropicChatResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if anthropicResp.Error != nil {
		return "", fmt.Errorf("API error: %s", anthropicResp.Error.Message)
	}

	var responseText string
	for _, content := range anthropicResp.Content {
		if content.Type == "text" {
			responseText += content.Text
		}
	}
	return responseText, nil
}
