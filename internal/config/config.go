package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/timeline-summary/pkg/match"
)

// Store drivers
const (
	StoreMongo  = "mongo"
	StoreRedis  = "redis"
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Backends accepted in model declarations
const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
)

// Model declares one model and the backend that serves it
type Model struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"`
	Stream  bool   `yaml:"stream"`
}

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	StoreDriver     string
	MongoURL        string
	MongoDatabase   string
	MongoCollection string
	RedisURL        string
	DataDir         string

	OllamaURL       string
	OllamaKeepAlive string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string

	Models        []Model
	PrimaryModel  string
	SummaryPolicy string

	SystemPromptFile  string
	GenerationTimeout time.Duration
	SuccessInterval   time.Duration
	FailureInterval   time.Duration
	RecentLimit       int

	EventsRedisURL string
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", "3000")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("store_driver", StoreMongo)
	v.SetDefault("mongo_url", "mongodb://mongo:27017")
	v.SetDefault("mongo_database", "timeline-summary")
	v.SetDefault("mongo_collection", "matches")
	v.SetDefault("redis_url", "localhost:6379")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("ollama_url", "http://127.0.0.1:11434")
	v.SetDefault("ollama_keep_alive", "24h")
	v.SetDefault("models", "robobays")
	v.SetDefault("models_file", "")
	v.SetDefault("stream", false)
	v.SetDefault("primary_model", "")
	v.SetDefault("summary_policy", "primary")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("system_prompt_file", "")
	v.SetDefault("generation_timeout", "30m")
	v.SetDefault("success_interval", "10s")
	v.SetDefault("failure_interval", "1h")
	v.SetDefault("recent_limit", 20)
	v.SetDefault("events_redis_url", "")
}

// Load reads configuration from the environment. A .env file, if any, must
// already have been loaded into the environment by the caller.
func Load() (*Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:        v.GetString("port"),
		Environment: v.GetString("environment"),
		LogLevel:    parseLogLevel(v.GetString("log_level")),

		StoreDriver:     strings.ToLower(v.GetString("store_driver")),
		MongoURL:        v.GetString("mongo_url"),
		MongoDatabase:   v.GetString("mongo_database"),
		MongoCollection: v.GetString("mongo_collection"),
		RedisURL:        v.GetString("redis_url"),
		DataDir:         v.GetString("data_dir"),

		OllamaURL:       strings.TrimRight(v.GetString("ollama_url"), "/"),
		OllamaKeepAlive: v.GetString("ollama_keep_alive"),
		AnthropicAPIKey: v.GetString("anthropic_api_key"),
		OpenAIAPIKey:    v.GetString("openai_api_key"),
		OpenAIBaseURL:   v.GetString("openai_base_url"),

		PrimaryModel:  v.GetString("primary_model"),
		SummaryPolicy: strings.ToLower(v.GetString("summary_policy")),

		SystemPromptFile:  v.GetString("system_prompt_file"),
		GenerationTimeout: v.GetDuration("generation_timeout"),
		SuccessInterval:   v.GetDuration("success_interval"),
		FailureInterval:   v.GetDuration("failure_interval"),
		RecentLimit:       v.GetInt("recent_limit"),

		EventsRedisURL: v.GetString("events_redis_url"),
	}

	var err error
	if path := v.GetString("models_file"); path != "" {
		cfg.Models, err = LoadModelsFile(path)
	} else {
		cfg.Models, err = ParseModels(v.GetString("models"), v.GetBool("stream"))
	}
	if err != nil {
		return nil, err
	}
	if cfg.PrimaryModel == "" && len(cfg.Models) > 0 {
		cfg.PrimaryModel = cfg.Models[0].Name
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseModels parses a comma separated list. Entries are "backend=model" or a
// bare model name served by Ollama.
func ParseModels(list string, stream bool) ([]Model, error) {
	var models []Model
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		m := Model{Name: entry, Backend: BackendOllama, Stream: stream}
		if backend, name, ok := strings.Cut(entry, "="); ok {
			m.Backend = strings.ToLower(strings.TrimSpace(backend))
			m.Name = strings.TrimSpace(name)
		}
		if m.Name == "" {
			return nil, fmt.Errorf("invalid model entry %q", entry)
		}
		models = append(models, m)
	}
	return models, nil
}

// LoadModelsFile reads a YAML list of models
func LoadModelsFile(path string) ([]Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}

	var models []Model
	if err := yaml.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to parse models file %s: %w", path, err)
	}
	for i := range models {
		if models[i].Backend == "" {
			models[i].Backend = BackendOllama
		}
		models[i].Backend = strings.ToLower(models[i].Backend)
	}
	return models, nil
}

// Validate checks the loaded configuration for fatal startup problems
func (c *Config) Validate() error {
	var errs []error

	if len(c.Models) == 0 {
		errs = append(errs, errors.New("at least one model must be configured"))
	}
	seen := make(map[string]bool)
	fields := make(map[string]string)
	primaryFound := false
	for _, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, errors.New("model name is required"))
			continue
		}
		field := match.FieldName(m.Name)
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("model %s is configured twice", m.Name))
		} else if other, ok := fields[field]; ok {
			errs = append(errs, fmt.Errorf("models %s and %s both write %s", other, m.Name, field))
		}
		seen[m.Name] = true
		if _, ok := fields[field]; !ok {
			fields[field] = m.Name
		}
		if m.Name == c.PrimaryModel {
			primaryFound = true
		}

		switch m.Backend {
		case BackendOllama:
		case BackendAnthropic:
			if c.AnthropicAPIKey == "" {
				errs = append(errs, fmt.Errorf("ANTHROPIC_API_KEY is required for model %s", m.Name))
			}
		case BackendOpenAI:
			if c.OpenAIAPIKey == "" {
				errs = append(errs, fmt.Errorf("OPENAI_API_KEY is required for model %s", m.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown backend %q for model %s", m.Backend, m.Name))
		}
	}
	if len(c.Models) > 0 && !primaryFound {
		errs = append(errs, fmt.Errorf("primary model %s is not configured", c.PrimaryModel))
	}

	switch c.StoreDriver {
	case StoreMongo, StoreRedis, StoreFile, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}

	switch c.SummaryPolicy {
	case "primary", "latest":
	default:
		errs = append(errs, fmt.Errorf("unknown summary policy %q", c.SummaryPolicy))
	}

	if c.GenerationTimeout <= 0 || c.SuccessInterval <= 0 || c.FailureInterval <= 0 {
		errs = append(errs, errors.New("timeouts and intervals must be positive durations"))
	}
	if c.RecentLimit <= 0 {
		errs = append(errs, errors.New("RECENT_LIMIT must be positive"))
	}

	return errors.Join(errs...)
}

// ModelNames returns the configured model identifiers
func (c *Config) ModelNames() []string {
	names := make([]string, len(c.Models))
	for i, m := range c.Models {
		names[i] = m.Name
	}
	return names
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
