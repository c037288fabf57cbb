package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry dispatches generation requests to the backend registered for
// each model identifier.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Generator
	names    map[string]string
	order    []string
	logger   *slog.Logger
}

// Ensure Registry implements Generator interface
var _ Generator = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		backends: make(map[string]Generator),
		names:    make(map[string]string),
		logger:   logger,
	}
}

// Register binds model to a backend. backendName is used for logs and health.
func (r *Registry) Register(model, backendName string, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[model]; !exists {
		r.order = append(r.order, model)
	}
	r.backends[model] = g
	r.names[model] = backendName
}

// Models returns the registered model identifiers in registration order
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Backend returns the backend name registered for model
func (r *Registry) Backend(model string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[model]
	return name, ok
}

func (r *Registry) lookup(model string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.backends[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return g, nil
}

func (r *Registry) Generate(ctx context.Context, req Request) (*Response, error) {
	g, err := r.lookup(req.Model)
	if err != nil {
		return nil, err
	}
	return g.Generate(ctx, req)
}

func (r *Registry) Warmup(ctx context.Context, model string) error {
	g, err := r.lookup(model)
	if err != nil {
		return err
	}
	return g.Warmup(ctx, model)
}

// WarmupAll warms every registered model. Failures are logged and joined.
func (r *Registry) WarmupAll(ctx context.Context) error {
	var errs []error
	for _, model := range r.Models() {
		if err := r.Warmup(ctx, model); err != nil {
			r.logger.Warn("Model warm-up failed", "model", model, "error", err)
			errs = append(errs, err)
			continue
		}
		r.logger.Info("Model warmed up", "model", model)
	}
	return errors.Join(errs...)
}

// Ping checks every distinct backend
func (r *Registry) Ping(ctx context.Context) error {
	var errs []error
	for name, err := range r.PingAll(ctx) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// PingAll returns the ping result per backend name. Distinct instances
// sharing a name have their errors joined.
func (r *Registry) PingAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	seen := make(map[Generator]string)
	for model, g := range r.backends {
		if _, ok := seen[g]; !ok {
			seen[g] = r.names[model]
		}
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(seen))
	for g, name := range seen {
		results[name] = errors.Join(results[name], g.Ping(ctx))
	}
	return results
}
