package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/jwebster45206/timeline-summary/pkg/storage"
)

type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Service    string            `json:"service"`
	Components map[string]string `json:"components"`
}

// BackendPinger reports the health of each generation backend by name
type BackendPinger interface {
	PingAll(ctx context.Context) map[string]error
}

type HealthHandler struct {
	store    storage.MatchStore
	backends BackendPinger
	logger   *slog.Logger
}

func NewHealthHandler(store storage.MatchStore, backends BackendPinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:    store,
		backends: backends,
		logger:   logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	h.logger.Debug("Health check requested",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]string)
	overallStatus := "healthy"

	// Test store connection
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Store health check failed", "error", err)
		components["store"] = "unhealthy"
		overallStatus = "degraded"
	} else {
		components["store"] = "healthy"
	}

	if h.backends != nil {
		results := h.backends.PingAll(ctx)
		names := make([]string, 0, len(results))
		for name := range results {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := results[name]; err != nil {
				h.logger.Warn("Backend health check failed", "backend", name, "error", err)
				components[name] = "unhealthy"
				overallStatus = "degraded"
			} else {
				components[name] = "healthy"
			}
		}
	}

	response := HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Service:    "timeline-summary",
		Components: components,
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Error encoding health response",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path)
	}
}
