package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/timeline-summary/internal/config"
	"github.com/jwebster45206/timeline-summary/internal/handlers"
	"github.com/jwebster45206/timeline-summary/internal/metrics"
	"github.com/jwebster45206/timeline-summary/internal/middleware"
	"github.com/jwebster45206/timeline-summary/internal/services"
	"github.com/jwebster45206/timeline-summary/internal/services/events"
	internalstorage "github.com/jwebster45206/timeline-summary/internal/storage"
	"github.com/jwebster45206/timeline-summary/internal/worker"
	"github.com/jwebster45206/timeline-summary/pkg/match"
	"github.com/jwebster45206/timeline-summary/pkg/prompts"
	"github.com/jwebster45206/timeline-summary/pkg/storage"
)

// app holds the process-wide components shared by the API and the workers
type app struct {
	cfg          *config.Config
	log          *slog.Logger
	store        storage.MatchStore
	registry     *services.Registry
	notifier     events.Notifier
	broadcaster  *events.Broadcaster
	metrics      *metrics.Collector
	systemPrompt string
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	systemPrompt, err := prompts.Load(cfg.SystemPromptFile)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:          cfg,
		log:          log,
		store:        store,
		registry:     buildRegistry(cfg, log),
		notifier:     events.Nop{},
		metrics:      metrics.New(),
		systemPrompt: systemPrompt,
	}

	if cfg.EventsRedisURL != "" {
		opts, err := redisOptions(cfg.EventsRedisURL)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("invalid EVENTS_REDIS_URL: %w", err)
		}
		a.broadcaster = events.NewBroadcaster(redis.NewClient(opts), log)
		a.notifier = a.broadcaster
		log.Info("Summary events enabled")
	}

	return a, nil
}

// openStore connects the configured match store
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.MatchStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Warn("Using in-memory store; records are lost on exit")
		return storage.NewMemoryStore(), nil

	case config.StoreFile:
		fields := make([]string, 0, len(cfg.Models))
		for _, name := range cfg.ModelNames() {
			fields = append(fields, match.FieldName(name))
		}
		return internalstorage.NewFileStore(cfg.DataDir, fields, log)

	case config.StoreRedis:
		store, err := internalstorage.NewRedisStore(cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		if err := store.WaitForConnection(connectCtx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil

	case config.StoreMongo:
		store, err := internalstorage.NewMongoStore(connectCtx, cfg.MongoURL, cfg.MongoDatabase, cfg.MongoCollection, log)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(connectCtx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// buildRegistry creates one backend per (backend, stream) pair and binds
// each configured model to it
func buildRegistry(cfg *config.Config, log *slog.Logger) *services.Registry {
	registry := services.NewRegistry(log)
	backends := make(map[string]services.Generator)

	for _, m := range cfg.Models {
		key := fmt.Sprintf("%s/%t", m.Backend, m.Stream)
		g, ok := backends[key]
		if !ok {
			switch m.Backend {
			case config.BackendAnthropic:
				g = services.NewAnthropicService(cfg.AnthropicAPIKey, "", cfg.GenerationTimeout, log)
			case config.BackendOpenAI:
				g = services.NewOpenAIService(services.OpenAIOptions{
					APIKey:  cfg.OpenAIAPIKey,
					BaseURL: cfg.OpenAIBaseURL,
					Stream:  m.Stream,
					Timeout: cfg.GenerationTimeout,
				}, log)
			default:
				g = services.NewOllamaService(services.OllamaOptions{
					BaseURL:   cfg.OllamaURL,
					KeepAlive: cfg.OllamaKeepAlive,
					Stream:    m.Stream,
					Timeout:   cfg.GenerationTimeout,
				}, log)
			}
			backends[key] = g
		}
		registry.Register(m.Name, m.Backend, g)
	}
	return registry
}

// router builds the HTTP surface
func (a *app) router() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", handlers.NewHealthHandler(a.store, a.registry, a.log))
	mux.Handle("GET /metrics", a.metrics.Handler())

	timelineHandler := handlers.NewTimelineHandler(a.store, a.registry, a.notifier, handlers.TimelineOptions{
		PrimaryModel:      a.cfg.PrimaryModel,
		SystemPrompt:      a.systemPrompt,
		RecentLimit:       a.cfg.RecentLimit,
		GenerationTimeout: a.cfg.GenerationTimeout,
	}, a.log)
	timelineHandler.Register(mux)

	if a.broadcaster != nil {
		mux.Handle("GET /timeline-summary/{match}/events", handlers.NewEventsHandler(a.broadcaster.Client(), a.log))
	}

	return middleware.Logger(a.log, mux)
}

// pool creates one worker loop per configured model
func (a *app) pool() *worker.Pool {
	policy := worker.SummaryPolicy(a.cfg.SummaryPolicy)
	loops := make([]*worker.Loop, 0, len(a.cfg.Models))
	for _, m := range a.cfg.Models {
		loops = append(loops, worker.New(worker.Config{
			Model:             m.Name,
			SystemPrompt:      a.systemPrompt,
			MirrorSummary:     policy.Mirrors(m.Name, a.cfg.PrimaryModel),
			SuccessInterval:   a.cfg.SuccessInterval,
			FailureInterval:   a.cfg.FailureInterval,
			GenerationTimeout: a.cfg.GenerationTimeout,
		}, a.store, a.registry, a.notifier, a.metrics, a.log))
	}
	return worker.NewPool(a.log, loops...)
}

// Close releases the store and event connections
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("Error closing store connection", "error", err)
	}
	if a.broadcaster != nil {
		if err := a.broadcaster.Close(); err != nil {
			a.log.Error("Error closing events connection", "error", err)
		}
	}
}

func redisOptions(addr string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		return redis.ParseURL(addr)
	}
	return &redis.Options{Addr: addr}, nil
}
