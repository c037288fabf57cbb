package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/timeline-summary/internal/config"
	"github.com/jwebster45206/timeline-summary/internal/services"
	"github.com/jwebster45206/timeline-summary/pkg/match"
	"github.com/jwebster45206/timeline-summary/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MODELS", "robobays,anthropic=claude-x")
	t.Setenv("ANTHROPIC_API_KEY", "k")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestBuildRegistry(t *testing.T) {
	cfg := testConfig(t)
	cfg.Models = append(cfg.Models, config.Model{Name: "llama3", Backend: config.BackendOllama})

	registry := buildRegistry(cfg, testLogger())
	assert.Equal(t, []string{"robobays", "claude-x", "llama3"}, registry.Models())

	backend, ok := registry.Backend("claude-x")
	require.True(t, ok)
	assert.Equal(t, config.BackendAnthropic, backend)
	backend, _ = registry.Backend("llama3")
	assert.Equal(t, config.BackendOllama, backend)
}

func TestOpenStore(t *testing.T) {
	cfg := testConfig(t)

	store, err := openStore(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, store)

	cfg.StoreDriver = config.StoreFile
	cfg.DataDir = t.TempDir()
	store, err = openStore(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
	assert.DirExists(t, filepath.Join(cfg.DataDir, "inbound"))

	mr := miniredis.RunT(t)
	cfg.StoreDriver = config.StoreRedis
	cfg.RedisURL = mr.Addr()
	store, err = openStore(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestApp_RouterAndPool(t *testing.T) {
	cfg := testConfig(t)
	mr := miniredis.RunT(t)
	cfg.EventsRedisURL = "redis://" + mr.Addr()

	a, err := newApp(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.broadcaster)

	mock := services.NewMockGenerator()
	a.registry.Register("robobays", "mock", mock)
	a.registry.Register("claude-x", "mock", mock)

	server := httptest.NewServer(a.router())
	t.Cleanup(server.Close)

	resp, err := http.Post(server.URL+"/timeline-summary", "application/json",
		strings.NewReader(`{"match":"m1","timeline":[{"t":1}]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	pool := a.pool()
	require.Len(t, pool.Loops(), 2)
	for _, l := range pool.Loops() {
		_, err := l.ProcessNext(context.Background())
		require.NoError(t, err)
	}

	record, err := a.store.Read(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, record.Has(match.FieldName("robobays")))
	assert.True(t, record.Has(match.FieldName("claude-x")))
	summary, ok := record[match.FieldSummary].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "robobays", summary[match.ResultModel])

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `timeline_summary_iterations_total{model="robobays",outcome="success"} 1`)

	resp, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "healthy", health["status"])
}

func TestPool_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.pool().Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestSeedFile(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewMockStorage()

	single := filepath.Join(dir, "one.json")
	require.NoError(t, os.WriteFile(single, []byte(`{"match":"a","timeline":[{"t":1}]}`), 0o644))
	many := filepath.Join(dir, "many.json")
	require.NoError(t, os.WriteFile(many, []byte(` [{"match":"b"},{"match":"c","time":5}]`), 0o644))

	n, err := seedFile(context.Background(), store, single)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = seedFile(context.Background(), store, many)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, store.Len())

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"timeline":[]}]`), 0o644))
	_, err = seedFile(context.Background(), store, bad)
	assert.Error(t, err)

	_, err = seedFile(context.Background(), store, filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
