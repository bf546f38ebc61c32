package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Inference InferenceConfig
	Trust     TrustConfig
	Memory    MemoryConfig
	Search    SearchConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

// InferenceConfig holds backend endpoints for the model adapters.
type InferenceConfig struct {
	OllamaURL      string
	OllamaModel    string
	OllamaContext  int
	OpenAIBaseURL  string
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIContext  int
	RequestTimeout time.Duration
}

// TrustConfig controls full-detail record disclosure. AllowedAdapters is the
// explicit allow-list of cloud adapter ids granted full-tier context. It is
// loaded once at startup and never mutated afterwards.
type TrustConfig struct {
	AllowedAdapters []string
}

// MemoryConfig bounds conversation context assembly.
type MemoryConfig struct {
	TokenBudget  int
	RecentWindow int
	MaxSummaries int
	MaxPins      int
}

type SearchConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type RateLimitConfig struct {
	Enabled   bool
	MaxReqs   int
	WindowSec int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Enabled: k.Bool("nats.enabled"),
		},
		Inference: InferenceConfig{
			OllamaURL:     k.String("ollama.url"),
			OllamaModel:   k.String("ollama.model"),
			OllamaContext: k.Int("ollama.context"),
			OpenAIBaseURL: k.String("openai.base.url"),
			OpenAIAPIKey:  k.String("openai.api.key"),
			OpenAIModel:   k.String("openai.model"),
			OpenAIContext: k.Int("openai.context"),
		},
		Trust: TrustConfig{
			AllowedAdapters: splitList(k.String("trust.allowed.adapters")),
		},
		Memory: MemoryConfig{
			TokenBudget:  k.Int("memory.token.budget"),
			RecentWindow: k.Int("memory.recent.window"),
			MaxSummaries: k.Int("memory.max.summaries"),
			MaxPins:      k.Int("memory.max.pins"),
		},
		Search: SearchConfig{
			APIKey:  k.String("search.api.key"),
			BaseURL: k.String("search.base.url"),
		},
		RateLimit: RateLimitConfig{
			Enabled:   k.Bool("ratelimit.enabled"),
			MaxReqs:   k.Int("ratelimit.max.reqs"),
			WindowSec: k.Int("ratelimit.window.sec"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "famcare"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "famcare"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Inference.OllamaURL == "" {
		cfg.Inference.OllamaURL = "http://localhost:11434"
	}
	if cfg.Inference.OllamaModel == "" {
		cfg.Inference.OllamaModel = "llama3.1:8b"
	}
	if cfg.Inference.OllamaContext == 0 {
		cfg.Inference.OllamaContext = 8192
	}
	if cfg.Inference.OpenAIBaseURL == "" {
		cfg.Inference.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if cfg.Inference.OpenAIModel == "" {
		cfg.Inference.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.Inference.OpenAIContext == 0 {
		cfg.Inference.OpenAIContext = 128000
	}
	if cfg.Memory.TokenBudget == 0 {
		cfg.Memory.TokenBudget = 2000
	}
	if cfg.Memory.RecentWindow == 0 {
		cfg.Memory.RecentWindow = 11
	}
	if cfg.Memory.MaxSummaries == 0 {
		cfg.Memory.MaxSummaries = 3
	}
	if cfg.Memory.MaxPins == 0 {
		cfg.Memory.MaxPins = 5
	}
	if cfg.Search.BaseURL == "" {
		cfg.Search.BaseURL = "https://api.tavily.com"
	}
	if cfg.RateLimit.MaxReqs == 0 {
		cfg.RateLimit.MaxReqs = 30
	}
	if cfg.RateLimit.WindowSec == 0 {
		cfg.RateLimit.WindowSec = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	reqTimeoutStr := k.String("inference.request.timeout")
	if reqTimeoutStr == "" {
		reqTimeoutStr = "120s"
	}
	cfg.Inference.RequestTimeout, err = time.ParseDuration(reqTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing inference request timeout: %w", err)
	}

	searchTimeoutStr := k.String("search.timeout")
	if searchTimeoutStr == "" {
		searchTimeoutStr = "30s"
	}
	cfg.Search.Timeout, err = time.ParseDuration(searchTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing search timeout: %w", err)
	}

	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
