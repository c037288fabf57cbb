package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/timeline-summary/internal/metrics"
	"github.com/jwebster45206/timeline-summary/internal/services"
	"github.com/jwebster45206/timeline-summary/internal/services/events"
	"github.com/jwebster45206/timeline-summary/pkg/extract"
	"github.com/jwebster45206/timeline-summary/pkg/match"
	"github.com/jwebster45206/timeline-summary/pkg/prompts"
	"github.com/jwebster45206/timeline-summary/pkg/storage"
)

const (
	DefaultSuccessInterval   = 10 * time.Second
	DefaultFailureInterval   = time.Hour
	DefaultGenerationTimeout = 30 * time.Minute
)

// Outcome describes how one iteration ended
type Outcome string

const (
	OutcomeSuccess     Outcome = metrics.OutcomeSuccess
	OutcomePlaceholder Outcome = metrics.OutcomePlaceholder
	OutcomeIdle        Outcome = metrics.OutcomeIdle
	OutcomeFailure     Outcome = metrics.OutcomeFailure
)

// WaitFunc blocks for d or until ctx is done, returning ctx.Err() in the latter case.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default WaitFunc
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config configures a single model's loop
type Config struct {
	ID                string
	Model             string
	SystemPrompt      string
	MirrorSummary     bool
	SuccessInterval   time.Duration
	FailureInterval   time.Duration
	GenerationTimeout time.Duration
	Wait              WaitFunc
}

// Loop summarizes matches for one model, one at a time
type Loop struct {
	id       string
	cfg      Config
	field    string
	store    storage.MatchStore
	gen      services.Generator
	notifier events.Notifier
	metrics  *metrics.Collector
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a loop for cfg.Model. notifier and collector may be nil.
func New(cfg Config, store storage.MatchStore, gen services.Generator, notifier events.Notifier, collector *metrics.Collector, log *slog.Logger) *Loop {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if cfg.SuccessInterval <= 0 {
		cfg.SuccessInterval = DefaultSuccessInterval
	}
	if cfg.FailureInterval <= 0 {
		cfg.FailureInterval = DefaultFailureInterval
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.Wait == nil {
		cfg.Wait = Sleep
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = prompts.DefaultSystemPrompt
	}
	if notifier == nil {
		notifier = events.Nop{}
	}

	return &Loop{
		id:       cfg.ID,
		cfg:      cfg,
		field:    match.FieldName(cfg.Model),
		store:    store,
		gen:      gen,
		notifier: notifier,
		metrics:  collector,
		log:      log.With("worker_id", cfg.ID, "model", cfg.Model),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ID returns the loop identifier
func (l *Loop) ID() string { return l.id }

// Model returns the model this loop summarizes with
func (l *Loop) Model() string { return l.cfg.Model }

// Field returns the per-model record field this loop writes
func (l *Loop) Field() string { return l.field }

// Start runs iterations until Stop is called. It only returns nil.
func (l *Loop) Start() error {
	l.log.Info("Worker starting", "field", l.field)

	for {
		select {
		case <-l.ctx.Done():
			l.log.Info("Worker shutting down")
			return nil
		default:
		}

		interval := l.cfg.SuccessInterval
		if outcome, _ := l.ProcessNext(l.ctx); outcome == OutcomeFailure {
			interval = l.cfg.FailureInterval
		}

		if err := l.cfg.Wait(l.ctx, interval); err != nil {
			l.log.Info("Worker shutting down")
			return nil
		}
	}
}

// Stop gracefully shuts down the worker
func (l *Loop) Stop() {
	l.log.Info("Worker stop requested")
	l.cancel()
}

// ProcessNext runs a single Selecting → Generating → Persisting pass. Every
// error, including a panic, is reported as OutcomeFailure and never escapes.
func (l *Loop) ProcessNext(ctx context.Context) (outcome Outcome, err error) {
	var key string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during iteration: %v", r)
			l.log.Error("Recovered from panic", "match", key, "panic", r, "stack", string(debug.Stack()))
			outcome = OutcomeFailure
		}
		if outcome == OutcomeFailure {
			l.log.Error("Summarization failed",
				"match", key,
				"error", err,
				"backend_failure", IsGenerationError(err),
				"retry_in", l.cfg.FailureInterval)
			if key != "" {
				if nerr := l.notifier.SummaryFailed(context.WithoutCancel(ctx), key, l.cfg.Model, err.Error()); nerr != nil {
					l.log.Warn("Failed to publish failure event", "match", key, "error", nerr)
				}
			}
		}
		l.metrics.Iteration(l.cfg.Model, string(outcome))
	}()

	// Selecting
	record, err := l.store.FindNextUnprocessed(ctx, l.field)
	if err != nil {
		return OutcomeFailure, fmt.Errorf("failed to select next match: %w", err)
	}
	if record == nil {
		l.log.Debug("No unprocessed matches")
		return OutcomeIdle, nil
	}
	key = record.Match()

	prompt, err := prompts.New().
		WithSystemPrompt(l.cfg.SystemPrompt).
		WithMatch(key).
		WithTimeline(record.Timeline()).
		Build()
	if err != nil {
		return OutcomeFailure, err
	}

	// Generating
	l.log.Info("Summarizing match", "match", key, "events", len(record.Timeline()))
	genCtx, cancel := context.WithTimeout(ctx, l.cfg.GenerationTimeout)
	defer cancel()

	resp, err := l.gen.Generate(genCtx, services.Request{
		Model:  l.cfg.Model,
		System: prompt.System,
		Prompt: prompt.User,
	})
	if err != nil {
		return OutcomeFailure, err
	}
	l.metrics.Generation(l.cfg.Model, resp.Elapsed)

	// Persisting
	outcome = OutcomeSuccess
	parsed, err := extract.JSON(resp.Text)
	if err != nil {
		l.log.Warn("Model output is not valid JSON, storing placeholder", "match", key, "error", err)
		parsed = extract.Placeholder(err)
		outcome = OutcomePlaceholder
	}
	result := match.NewResult(parsed, l.cfg.Model, resp.Elapsed)

	fields := match.Record{
		match.FieldMatch: key,
		l.field:          result,
	}
	if l.cfg.MirrorSummary && outcome == OutcomeSuccess {
		fields[match.FieldSummary] = result
	}
	if err := l.store.UpsertMerge(ctx, key, fields); err != nil {
		return OutcomeFailure, fmt.Errorf("failed to persist summary: %w", err)
	}

	l.metrics.Success(l.cfg.Model, time.Now())
	if err := l.notifier.SummaryCompleted(ctx, key, l.cfg.Model, result); err != nil {
		l.log.Warn("Failed to publish completion event", "match", key, "error", err)
	}

	l.log.Info("Summary stored",
		"match", key,
		"outcome", outcome,
		"duration_ms", resp.Elapsed.Milliseconds())
	return outcome, nil
}

// IsGenerationError reports whether err came from the generation backend
func IsGenerationError(err error) bool {
	var genErr *services.GenerationError
	return errors.As(err, &genErr)
}
