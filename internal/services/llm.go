package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend names
const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
)

// ErrUnknownModel is returned when no backend is registered for a model.
var ErrUnknownModel = errors.New("unknown model")

// Generator produces text from a prompt with a named model.
type Generator interface {
	// Generate sends one prompt and returns the complete response text.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Warmup prepares the model for use. It is safe to call more than once.
	Warmup(ctx context.Context, model string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// Request is a single generation request
type Request struct {
	Model  string
	System string
	Prompt string
}

// Response is the collected output of a generation request
type Response struct {
	Text    string
	Model   string
	Elapsed time.Duration
}

// StreamChunk is one piece of a streamed response
type StreamChunk struct {
	Content string
	Done    bool
	Error   error
}

// GenerationError wraps any backend failure: transport, non-2xx status,
// timeout or undecodable body.
type GenerationError struct {
	Backend string
	Model   string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed for model %s: %v", e.Backend, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func generationError(backend, model string, err error) error {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return err
	}
	return &GenerationError{Backend: backend, Model: model, Err: err}
}
