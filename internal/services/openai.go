package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIService implements Generator for OpenAI-compatible chat APIs
type OpenAIService struct {
	client  *openai.Client
	apiKey  string
	stream  bool
	maxWait time.Duration
	logger  *slog.Logger
}

// Ensure OpenAIService implements Generator interface
var _ Generator = (*OpenAIService)(nil)

// OpenAIOptions configures an OpenAIService
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Stream  bool
	Timeout time.Duration
}

// NewOpenAIService creates a client. An empty BaseURL selects the public API.
func NewOpenAIService(opts OpenAIOptions, logger *slog.Logger) *OpenAIService {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultGenerateTimeout
	}

	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(opts.Timeout)

	return &OpenAIService{
		client:  openai.NewClientWithConfig(clientConfig),
		apiKey:  opts.APIKey,
		stream:  opts.Stream,
		maxWait: opts.Timeout,
		logger:  logger,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Ping only validates configuration.
func (s *OpenAIService) Ping(ctx context.Context) error {
	if s.apiKey == "" {
		return errors.New("openai api key is not configured")
	}
	return nil
}

// Warmup sends a one-token request to open the connection. Failures are
// reported but the backend stays usable.
func (s *OpenAIService) Warmup(ctx context.Context, model string) error {
	warmupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.client.CreateChatCompletion(warmupCtx, openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
	})
	if err != nil {
		return generationError(BackendOpenAI, model, fmt.Errorf("warmup failed: %w", err))
	}
	return nil
}

func (s *OpenAIService) Generate(ctx context.Context, req Request) (*Response, error) {
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
		s.logger.Error("OpenAI request failed", "model", req.Model, "error", err)
		return nil, generationError(BackendOpenAI, req.Model, err)
	}

	return &Response{Text: text, Model: req.Model, Elapsed: time.Since(start)}, nil
}

func (s *OpenAIService) generate(ctx context.Context, req Request) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, s.newRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream starts a streamed completion; deltas are pushed as chunks.
func (s *OpenAIService) GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	stream, err := s.client.CreateChatCompletionStream(ctx, s.newRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("create stream failed: %w", err)
	}

	chunks := make(chan StreamChunk, 16)
	go func() {
		defer close(chunks)
		defer func() { _ = stream.Close() }()

		for {
			response, err := stream.Recv()
			var chunk StreamChunk
			switch {
			case errors.Is(err, io.EOF):
				chunk = StreamChunk{Done: true}
			case err != nil:
				chunk = StreamChunk{Error: fmt.Errorf("stream recv failed: %w", err)}
			case len(response.Choices) > 0:
				chunk = StreamChunk{Content: response.Choices[0].Delta.Content}
			default:
				continue
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Done || chunk.Error != nil {
				return
			}
		}
	}()
	return chunks, nil
}

func (s *OpenAIService) newRequest(req Request, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	return openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   stream,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
}
