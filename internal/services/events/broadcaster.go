package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeMatchQueued      EventType = "match.queued"
	EventTypeSummaryCompleted EventType = "summary.completed"
	EventTypeSummaryFailed    EventType = "summary.failed"
)

// AllMatchesChannel receives every event regardless of match
const AllMatchesChannel = "match-events"

// Event represents a generic event structure
type Event struct {
	Type  EventType      `json:"type"`
	Match string         `json:"match"`
	Model string         `json:"model,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// MatchChannel returns the pub/sub channel for a single match
func MatchChannel(match string) string {
	return fmt.Sprintf("%s:%s", AllMatchesChannel, match)
}

// Notifier receives summarization lifecycle events
type Notifier interface {
	MatchQueued(ctx context.Context, match string) error
	SummaryCompleted(ctx context.Context, match, model string, result map[string]any) error
	SummaryFailed(ctx context.Context, match, model string, errorMsg string) error
}

// Broadcaster publishes events to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// Ensure Broadcaster implements Notifier interface
var _ Notifier = (*Broadcaster)(nil)

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Client exposes the underlying Redis client for subscribers
func (b *Broadcaster) Client() *redis.Client {
	return b.redisClient
}

// Close closes the Redis connection
func (b *Broadcaster) Close() error {
	return b.redisClient.Close()
}

// MatchQueued publishes a match.queued event
func (b *Broadcaster) MatchQueued(ctx context.Context, match string) error {
	return b.publish(ctx, Event{
		Type:  EventTypeMatchQueued,
		Match: match,
		Data:  map[string]any{"status": "queued"},
	})
}

// SummaryCompleted publishes a summary.completed event
func (b *Broadcaster) SummaryCompleted(ctx context.Context, match, model string, result map[string]any) error {
	return b.publish(ctx, Event{
		Type:  EventTypeSummaryCompleted,
		Match: match,
		Model: model,
		Data: map[string]any{
			"status": "completed",
			"result": result,
		},
	})
}

// SummaryFailed publishes a summary.failed event
func (b *Broadcaster) SummaryFailed(ctx context.Context, match, model string, errorMsg string) error {
	return b.publish(ctx, Event{
		Type:  EventTypeSummaryFailed,
		Match: match,
		Model: model,
		Data: map[string]any{
			"status": "failed",
			"error":  errorMsg,
		},
	})
}

// publish sends the event to the match channel and the all-matches channel
func (b *Broadcaster) publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	for _, channel := range []string{MatchChannel(event.Match), AllMatchesChannel} {
		if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
			b.logger.Error("Failed to publish event", "error", err, "channel", channel)
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}

	b.logger.Debug("Event published",
		"event_type", event.Type,
		"match", event.Match,
		"model", event.Model,
	)
	return nil
}

// Nop discards every event
type Nop struct{}

// Ensure Nop implements Notifier interface
var _ Notifier = Nop{}

func (Nop) MatchQueued(ctx context.Context, match string) error { return nil }

func (Nop) SummaryCompleted(ctx context.Context, match, model string, result map[string]any) error {
	return nil
}

func (Nop) SummaryFailed(ctx context.Context, match, model string, errorMsg string) error {
	return nil
}
