package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jwebster45206/timeline-summary/internal/logger"
	"github.com/jwebster45206/timeline-summary/internal/services"
	"github.com/jwebster45206/timeline-summary/internal/services/events"
	"github.com/jwebster45206/timeline-summary/pkg/extract"
	"github.com/jwebster45206/timeline-summary/pkg/match"
	"github.com/jwebster45206/timeline-summary/pkg/prompts"
	"github.com/jwebster45206/timeline-summary/pkg/storage"
)

// MaxRecentLimit caps GET /timeline-summary/recent
const MaxRecentLimit = 100

// TimelineOptions configures a TimelineHandler
type TimelineOptions struct {
	PrimaryModel      string
	SystemPrompt      string
	RecentLimit       int
	GenerationTimeout time.Duration
}

// TimelineHandler serves the /timeline-summary endpoints
type TimelineHandler struct {
	store    storage.MatchStore
	gen      services.Generator
	notifier events.Notifier
	opts     TimelineOptions
	logger   *slog.Logger
}

// SyncSummaryResponse is returned by a synchronous summarization request
type SyncSummaryResponse struct {
	Content map[string]any `json:"content"`
	Millis  int64          `json:"millis"`
}

// NewTimelineHandler creates the handler. A nil notifier disables events.
func NewTimelineHandler(store storage.MatchStore, gen services.Generator, notifier events.Notifier, opts TimelineOptions, logger *slog.Logger) *TimelineHandler {
	if notifier == nil {
		notifier = events.Nop{}
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 20
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = services.DefaultGenerateTimeout
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = prompts.DefaultSystemPrompt
	}
	return &TimelineHandler{
		store:    store,
		gen:      gen,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
	}
}

// Register adds the timeline routes to mux
func (h *TimelineHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /timeline-summary/recent", h.handleRecent)
	mux.HandleFunc("GET /timeline-summary/{match}", h.handleGet)
	mux.HandleFunc("POST /timeline-summary/{match}", h.handleUpdate)
	mux.HandleFunc("POST /timeline-summary", h.handleSubmit)
}

// GET /timeline-summary/recent?limit=N
func (h *TimelineHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	limit = storage.ClampLimit(limit, h.opts.RecentLimit, MaxRecentLimit)

	list, err := h.store.ListRecentSummarized(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list recent summaries", "error", err)
		writeError(w, h.logger, http.StatusServiceUnavailable, "No recent match summaries found.")
		return
	}
	if list == nil {
		list = []match.Record{}
	}
	writeJSON(w, h.logger, http.StatusOK, list)
}

// GET /timeline-summary/{match}
func (h *TimelineHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("match")

	record, err := h.store.Read(r.Context(), key)
	if err != nil {
		logger.WithMatch(h.logger, key).Error("Failed to read match", "error", err)
		writeError(w, h.logger, http.StatusServiceUnavailable, "Failed to read match: "+key)
		return
	}
	if record == nil {
		writeError(w, h.logger, http.StatusOK, "No match found for: "+key)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, record)
}

// POST /timeline-summary/{match}
func (h *TimelineHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("match")
	log := logger.WithMatch(h.logger, key)

	var fields match.Record
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || fields == nil {
		log.Warn("Bad match request: invalid JSON body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}

	if err := h.store.UpsertMerge(r.Context(), key, fields); err != nil {
		h.writeStoreError(w, log, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, MessageResponse{Message: "OK"})
}

// POST /timeline-summary[?sync=true]
func (h *TimelineHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var fields match.Record
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || fields == nil {
		h.logger.Warn("Bad match request: invalid JSON body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	key := fields.Match()
	log := logger.WithMatch(h.logger, key)
	if key == "" {
		log.Warn("Bad match request: missing match")
		writeError(w, h.logger, http.StatusBadRequest, "match is required")
		return
	}
	if len(fields.Timeline()) == 0 {
		log.Warn("Bad match request: empty timeline")
		writeError(w, h.logger, http.StatusBadRequest, "timeline must be a non-empty array")
		return
	}

	if sync, _ := strconv.ParseBool(r.URL.Query().Get("sync")); sync {
		h.summarizeNow(w, r, fields)
		return
	}

	if err := h.store.UpsertMerge(r.Context(), key, fields); err != nil {
		h.writeStoreError(w, log, err)
		return
	}
	if err := h.notifier.MatchQueued(context.WithoutCancel(r.Context()), key); err != nil {
		log.Warn("Failed to publish queued event", "error", err)
	}
	log.Info("Match queued", "events", len(fields.Timeline()))
	writeJSON(w, h.logger, http.StatusOK, MessageResponse{Message: "OK"})
}

// summarizeNow generates with the primary model inline and returns the result
// without persisting it.
func (h *TimelineHandler) summarizeNow(w http.ResponseWriter, r *http.Request, fields match.Record) {
	key := fields.Match()
	log := logger.WithMatch(h.logger, key)

	prompt, err := prompts.New().
		WithSystemPrompt(h.opts.SystemPrompt).
		WithMatch(key).
		WithTimeline(fields.Timeline()).
		Build()
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.GenerationTimeout)
	defer cancel()

	resp, err := h.gen.Generate(ctx, services.Request{
		Model:  h.opts.PrimaryModel,
		System: prompt.System,
		Prompt: prompt.User,
	})
	if err != nil {
		log.Error("Synchronous summarization failed", "model", h.opts.PrimaryModel, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, fmt.Sprintf("Summarization failed: %v", err))
		return
	}

	content, err := extract.JSON(resp.Text)
	if err != nil {
		log.Warn("Model output is not valid JSON", "model", h.opts.PrimaryModel, "error", err)
		content = extract.Placeholder(err)
	}
	writeJSON(w, h.logger, http.StatusOK, SyncSummaryResponse{
		Content: content,
		Millis:  resp.Elapsed.Milliseconds(),
	})
}

func (h *TimelineHandler) writeStoreError(w http.ResponseWriter, log *slog.Logger, err error) {
	if errors.Is(err, storage.ErrValidation) {
		log.Warn("Bad match request", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	log.Error("Failed to update match", "error", err)
	writeError(w, h.logger, http.StatusServiceUnavailable, "Failed to update match")
}
