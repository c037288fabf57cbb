package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(chunks ...StreamChunk) <-chan StreamChunk {
	ch := make(chan StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestCollect(t *testing.T) {
	t.Run("until close", func(t *testing.T) {
		text, err := Collect(context.Background(), feed(StreamChunk{Content: `{"a"`}, StreamChunk{Content: `:1}`}), time.Second)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, text)
	})

	t.Run("until done", func(t *testing.T) {
		ch := make(chan StreamChunk, 2)
		ch <- StreamChunk{Content: "ab"}
		ch <- StreamChunk{Content: "c", Done: true}
		text, err := Collect(context.Background(), ch, 0)
		require.NoError(t, err)
		assert.Equal(t, "abc", text)
	})

	t.Run("chunk error", func(t *testing.T) {
		boom := errors.New("reset by peer")
		_, err := Collect(context.Background(), feed(StreamChunk{Content: "a"}, StreamChunk{Error: boom}), time.Second)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("max wait", func(t *testing.T) {
		_, err := Collect(context.Background(), make(chan StreamChunk), 20*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "did not finish")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Collect(ctx, make(chan StreamChunk), time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGenerationError(t *testing.T) {
	cause := errors.New("timeout")
	err := generationError(BackendOllama, "m", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ollama")

	// already wrapped errors are not double-wrapped
	again := generationError(BackendOpenAI, "m", err)
	var genErr *GenerationError
	require.ErrorAs(t, again, &genErr)
	assert.Equal(t, BackendOllama, genErr.Backend)
}
