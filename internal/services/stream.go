package services

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Collect drains a chunk stream into a single string. It returns when the
// channel closes or a Done chunk arrives. A chunk error, context cancellation
// or exceeding maxWait (when positive) aborts collection.
func Collect(ctx context.Context, chunks <-chan StreamChunk, maxWait time.Duration) (string, error) {
	var timeout <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		timeout = timer.C
	}

	var sb strings.Builder
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Error != nil {
				return "", chunk.Error
			}
			sb.WriteString(chunk.Content)
			if chunk.Done {
				return sb.String(), nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("stream cancelled: %w", ctx.Err())
		case <-timeout:
			return "", fmt.Errorf("stream did not finish within %s", maxWait)
		}
	}
}
