package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
// Empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "ENVIRONMENT", "LOG_LEVEL", "STORE_DRIVER", "MONGO_URL", "MONGO_DATABASE",
		"MONGO_COLLECTION", "REDIS_URL", "DATA_DIR", "OLLAMA_URL", "OLLAMA_KEEP_ALIVE",
		"MODELS", "MODELS_FILE", "STREAM", "PRIMARY_MODEL", "SUMMARY_POLICY",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENAI_BASE_URL", "SYSTEM_PROMPT_FILE",
		"GENERATION_TIMEOUT", "SUCCESS_INTERVAL", "FAILURE_INTERVAL", "RECENT_LIMIT",
		"EVENTS_REDIS_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, StoreMongo, cfg.StoreDriver)
	assert.Equal(t, "mongodb://mongo:27017", cfg.MongoURL)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.OllamaURL)
	assert.Equal(t, "24h", cfg.OllamaKeepAlive)
	assert.Equal(t, []Model{{Name: "robobays", Backend: BackendOllama}}, cfg.Models)
	assert.Equal(t, "robobays", cfg.PrimaryModel)
	assert.Equal(t, "primary", cfg.SummaryPolicy)
	assert.Equal(t, 30*time.Minute, cfg.GenerationTimeout)
	assert.Equal(t, 10*time.Second, cfg.SuccessInterval)
	assert.Equal(t, time.Hour, cfg.FailureInterval)
	assert.Equal(t, 20, cfg.RecentLimit)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8081")
	t.Setenv("STORE_DRIVER", "Redis")
	t.Setenv("MODELS", "robobays, anthropic=claude-x")
	t.Setenv("ANTHROPIC_API_KEY", "k")
	t.Setenv("PRIMARY_MODEL", "claude-x")
	t.Setenv("SUMMARY_POLICY", "latest")
	t.Setenv("FAILURE_INTERVAL", "90s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OLLAMA_URL", "http://ollama:11434/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, StoreRedis, cfg.StoreDriver)
	assert.Equal(t, []string{"robobays", "claude-x"}, cfg.ModelNames())
	assert.Equal(t, BackendAnthropic, cfg.Models[1].Backend)
	assert.Equal(t, "claude-x", cfg.PrimaryModel)
	assert.Equal(t, "latest", cfg.SummaryPolicy)
	assert.Equal(t, 90*time.Second, cfg.FailureInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "http://ollama:11434", cfg.OllamaURL)
}

func TestLoad_ModelsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- name: robobays
  stream: true
- name: gpt-4o-mini
  backend: OpenAI
`), 0o644))
	t.Setenv("MODELS_FILE", path)
	t.Setenv("OPENAI_API_KEY", "k")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, Model{Name: "robobays", Backend: BackendOllama, Stream: true}, cfg.Models[0])
	assert.Equal(t, Model{Name: "gpt-4o-mini", Backend: BackendOpenAI}, cfg.Models[1])
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing anthropic key", map[string]string{"MODELS": "anthropic=claude-x"}},
		{"missing openai key", map[string]string{"MODELS": "openai=gpt"}},
		{"unknown backend", map[string]string{"MODELS": "venice=llama"}},
		{"unknown primary", map[string]string{"PRIMARY_MODEL": "other"}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "sqlite"}},
		{"unknown policy", map[string]string{"SUMMARY_POLICY": "random"}},
		{"duplicate model", map[string]string{"MODELS": "a,a"}},
		{"colliding result fields", map[string]string{"MODELS": "llama3.1,llama3:1", "PRIMARY_MODEL": "llama3.1"}},
		{"empty model", map[string]string{"MODELS": "anthropic="}},
		{"missing models file", map[string]string{"MODELS_FILE": "/nope/models.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_FieldCollision(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODELS", "llama3.1,llama3:1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary_llama3_1")
}

func TestParseModels(t *testing.T) {
	models, err := ParseModels(" a , ollama=b,, openai = c ", true)
	require.NoError(t, err)
	assert.Equal(t, []Model{
		{Name: "a", Backend: BackendOllama, Stream: true},
		{Name: "b", Backend: BackendOllama, Stream: true},
		{Name: "c", Backend: BackendOpenAI, Stream: true},
	}, models)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
}
