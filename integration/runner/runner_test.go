package runner

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/timeline-summary/internal/handlers"
	"github.com/jwebster45206/timeline-summary/internal/services"
	"github.com/jwebster45206/timeline-summary/internal/worker"
	"github.com/jwebster45206/timeline-summary/pkg/storage"
)

// startAPI serves the timeline endpoints with a mock model and a running worker
func startAPI(t *testing.T) string {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMockStorage()
	gen := services.NewMockGenerator()

	mux := http.NewServeMux()
	handlers.NewTimelineHandler(store, gen, nil, handlers.TimelineOptions{PrimaryModel: "robobays"}, log).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	loop := worker.New(worker.Config{
		Model:           "robobays",
		MirrorSummary:   true,
		SuccessInterval: 5 * time.Millisecond,
		FailureInterval: 5 * time.Millisecond,
	}, store, gen, nil, nil, log)
	pool := worker.NewPool(log, loop)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return server.URL
}

func newTestRunner(t *testing.T) *Runner {
	r := NewRunner(startAPI(t))
	r.PollInterval = 5 * time.Millisecond
	r.Timeout = 5 * time.Second
	r.Logger = t.Logf
	return r
}

func TestRunner_Cases(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "cases", "*.json"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	r := newTestRunner(t)
	for _, file := range files {
		jobs, err := LoadTestSuiteWithExpansion(file, filepath.Join("..", "cases"))
		require.NoError(t, err)
		for _, job := range jobs {
			t.Run(job.Name, func(t *testing.T) {
				result, err := r.RunSuite(context.Background(), job.Suite)
				require.NoError(t, err)
				assert.NotEmpty(t, result.Match)
				for _, step := range result.Results {
					assert.True(t, step.Success, "%s: %v", step.StepName, step.Error)
				}
			})
		}
	}
}

func TestRunner_ReportsFailures(t *testing.T) {
	status := 201
	suite := TestSuite{
		Name: "Failing Suite",
		Steps: []TestStep{
			{Name: "wrong status", Action: ActionGet, Expectations: Expectations{Status: &status}},
			{Name: "unknown action", Action: "dance"},
			{Name: "missing field", Action: ActionGet, Expectations: Expectations{HasFields: []string{"timeline"}}},
		},
	}

	r := newTestRunner(t)
	result, err := r.RunSuite(context.Background(), suite)
	require.Error(t, err)
	require.Len(t, result.Results, 3)
	for _, step := range result.Results {
		assert.False(t, step.Success)
	}
	assert.Contains(t, result.Match, "it-failing-suite-")

	r.ErrorHandlingMode = ErrorHandlingExit
	result, err = r.RunSuite(context.Background(), suite)
	require.Error(t, err)
	assert.Len(t, result.Results, 1)
}

func TestRunner_WaitRequiresModel(t *testing.T) {
	r := newTestRunner(t)
	result, err := r.RunSuite(context.Background(), TestSuite{
		Name:  "wait",
		Steps: []TestStep{{Name: "wait", Action: ActionWaitSummary}},
	})
	require.Error(t, err)
	assert.Contains(t, result.Results[0].Error.Error(), "requires a model")
}

func TestLoadTestSuiteWithExpansion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"name":"a","steps":[{"action":"get"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"name":"b","steps":[{"action":"recent"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seq.json"), []byte(`{"name":"seq","cases":["a.json","b.json"]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"name":"broken","cases":["missing.json"]}`), 0o644))

	jobs, err := LoadTestSuiteWithExpansion(filepath.Join(dir, "seq.json"), dir)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "b", jobs[1].Name)

	_, err = LoadTestSuiteWithExpansion(filepath.Join(dir, "broken.json"), dir)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	record := map[string]any{"summary": map[string]any{"headline": "x"}, "n": 1.0}
	v, ok := lookup(record, "summary.headline")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	_, ok = lookup(record, "n.deeper")
	assert.False(t, ok)
	_, ok = lookup(record, "missing")
	assert.False(t, ok)
}
