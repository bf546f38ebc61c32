package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/famcare-ai/famcare/internal/api"
	"github.com/famcare-ai/famcare/internal/chat"
	"github.com/famcare-ai/famcare/internal/config"
	"github.com/famcare-ai/famcare/internal/database"
	"github.com/famcare-ai/famcare/internal/inference"
	"github.com/famcare-ai/famcare/internal/memory"
	"github.com/famcare-ai/famcare/internal/middleware"
	inats "github.com/famcare-ai/famcare/internal/nats"
	"github.com/famcare-ai/famcare/internal/personas"
	"github.com/famcare-ai/famcare/internal/prompt"
	"github.com/famcare-ai/famcare/internal/records"
	iredis "github.com/famcare-ai/famcare/internal/redis"
	"github.com/famcare-ai/famcare/internal/server"
	"github.com/famcare-ai/famcare/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional)
	var natsClient *inats.Client
	var publisher chat.EventPublisher
	var auditSink records.AuditSink
	if cfg.NATS.Enabled {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		natsPublisher := inats.NewPublisher(natsClient.JetStream())
		publisher = natsPublisher
		auditSink = natsPublisher
	}

	// Inference adapters
	registry := inference.NewRegistry()

	ollama, err := inference.NewOllamaAdapter(inference.OllamaConfig{
		URL:                 cfg.Inference.OllamaURL,
		Model:               cfg.Inference.OllamaModel,
		ContextWindowTokens: cfg.Inference.OllamaContext,
		Timeout:             cfg.Inference.RequestTimeout,
	})
	if err != nil {
		slog.Error("creating ollama adapter", "error", err)
		os.Exit(1)
	}
	registry.Register(ollama, "local", "ollama")

	if cfg.Inference.OpenAIAPIKey != "" {
		openai, err := inference.NewOpenAIAdapter(inference.OpenAIConfig{
			BaseURL:             cfg.Inference.OpenAIBaseURL,
			APIKey:              cfg.Inference.OpenAIAPIKey,
			Model:               cfg.Inference.OpenAIModel,
			ContextWindowTokens: cfg.Inference.OpenAIContext,
			Timeout:             cfg.Inference.RequestTimeout,
		})
		if err != nil {
			slog.Error("creating openai adapter", "error", err)
			os.Exit(1)
		}
		registry.Register(openai, "cloud", "openai")
	} else {
		slog.Warn("OPENAI_API_KEY not set, cloud adapter disabled")
	}

	// Repositories
	memoryRepo := memory.NewPostgresRepository(pool)
	recordsRepo := records.NewPostgresRepository(pool)
	personaRepo := personas.NewPostgresRepository(pool)

	// Chat pipeline
	trustPolicy := records.NewTrustPolicy(cfg.Trust.AllowedAdapters)
	recordsProvider := records.NewContextProvider(recordsRepo, trustPolicy, auditSink)
	composer := prompt.NewComposer(recordsProvider)
	assembler := memory.NewAssembler(memoryRepo, memory.AssemblerConfig{
		RecentWindow: cfg.Memory.RecentWindow,
		MaxSummaries: cfg.Memory.MaxSummaries,
		MaxPins:      cfg.Memory.MaxPins,
	})
	executor := tools.NewRegistry(tools.NewWebSearch(cfg.Search))

	orch := chat.NewOrchestrator(registry, composer, assembler, memoryRepo,
		personaRepo, executor, publisher, cfg.Memory.TokenBudget)
	chatHandler := chat.NewHandler(orch, registry, memoryRepo, personaRepo)

	// Rate limiting on the chat routes
	var chatRateLimiter func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		chatRateLimiter = middleware.NewRateLimiter(redisClient,
			cfg.RateLimit.MaxReqs, cfg.RateLimit.WindowSec).Middleware
	}

	// Router
	router := api.NewRouter(pool, redisClient, natsClient, api.RouterConfig{
		CORSAllowedOrigins: []string{"*"},
		ChatRateLimiter:    chatRateLimiter,
	}, api.HandlerSet{
		Chat:                chatHandler.Chat,
		ChatStream:          chatHandler.ChatStream,
		ListModels:          chatHandler.ListModels,
		ListPersonas:        chatHandler.ListPersonas,
		CreateSession:       chatHandler.CreateSession,
		ListSessionMessages: chatHandler.ListSessionMessages,
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
