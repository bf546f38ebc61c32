//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/famcare-ai/famcare/internal/api"
	"github.com/famcare-ai/famcare/internal/chat"
	"github.com/famcare-ai/famcare/internal/config"
	"github.com/famcare-ai/famcare/internal/inference"
	"github.com/famcare-ai/famcare/internal/memory"
	"github.com/famcare-ai/famcare/internal/personas"
	"github.com/famcare-ai/famcare/internal/prompt"
	"github.com/famcare-ai/famcare/internal/records"
	"github.com/famcare-ai/famcare/internal/tools"
)

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Server      *httptest.Server
	Model       *fakeModelBackend
}

var testEnv *TestEnv

// fakeModelBackend speaks the Ollama chat API and records every prompt it
// receives.
type fakeModelBackend struct {
	mu      sync.Mutex
	reply   string
	prompts [][]inference.Message
}

func (f *fakeModelBackend) setReply(reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply = reply
}

func (f *fakeModelBackend) lastPrompt() []inference.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeModelBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []inference.Message `json:"messages"`
			Stream   bool                `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.prompts = append(f.prompts, req.Messages)
		reply := f.reply
		f.mu.Unlock()
		if reply == "" {
			reply = "Everything looks fine."
		}

		enc := json.NewEncoder(w)
		if req.Stream {
			for _, delta := range []string{reply[:len(reply)/2], reply[len(reply)/2:]} {
				enc.Encode(map[string]any{
					"message": map[string]string{"role": "assistant", "content": delta},
					"done":    false,
				})
			}
			enc.Encode(map[string]any{
				"message":           map[string]string{"role": "assistant", "content": ""},
				"done":              true,
				"prompt_eval_count": 20,
				"eval_count":        10,
			})
			return
		}
		enc.Encode(map[string]any{
			"message":           map[string]string{"role": "assistant", "content": reply},
			"done":              true,
			"prompt_eval_count": 20,
			"eval_count":        10,
		})
	}
}

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "famcare_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Start Redis container
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/famcare_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(
		fmt.Sprintf("file://%s", getMigrationsPath()),
		dsn,
	)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	// Fake model backend
	model := &fakeModelBackend{}
	modelServer := httptest.NewServer(model.handler())
	t.Cleanup(modelServer.Close)

	registry := inference.NewRegistry()
	ollama, err := inference.NewOllamaAdapter(inference.OllamaConfig{
		URL:                 modelServer.URL,
		Model:               "test-model",
		ContextWindowTokens: 8192,
		Timeout:             10 * time.Second,
	})
	if err != nil {
		t.Fatalf("creating test adapter: %v", err)
	}
	registry.Register(ollama, "local")

	// Chat pipeline
	memoryRepo := memory.NewPostgresRepository(pool)
	recordsRepo := records.NewPostgresRepository(pool)
	personaRepo := personas.NewPostgresRepository(pool)

	recordsProvider := records.NewContextProvider(recordsRepo, records.NewTrustPolicy(nil), nil)
	composer := prompt.NewComposer(recordsProvider)
	assembler := memory.NewAssembler(memoryRepo, memory.DefaultAssemblerConfig())
	executor := tools.NewRegistry(tools.NewWebSearch(config.SearchConfig{
		BaseURL: "http://localhost:0",
		Timeout: time.Second,
	}))

	orch := chat.NewOrchestrator(registry, composer, assembler, memoryRepo,
		personaRepo, executor, nil, 2000)
	chatHandler := chat.NewHandler(orch, registry, memoryRepo, personaRepo)

	router := api.NewRouter(pool, redisClient, nil, api.RouterConfig{
		CORSAllowedOrigins: []string{"*"},
	}, api.HandlerSet{
		Chat:                chatHandler.Chat,
		ChatStream:          chatHandler.ChatStream,
		ListModels:          chatHandler.ListModels,
		ListPersonas:        chatHandler.ListPersonas,
		CreateSession:       chatHandler.CreateSession,
		ListSessionMessages: chatHandler.ListSessionMessages,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		Server:      server,
		Model:       model,
	}

	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

func PostJSON(t *testing.T, env *TestEnv, path string, body any) (int, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}

	resp, err := http.Post(env.Server.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("posting %s: %v", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}

	var parsed map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			t.Fatalf("decoding response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, parsed
}

func GetJSON(t *testing.T, env *TestEnv, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(env.Server.URL + path)
	if err != nil {
		t.Fatalf("getting %s: %v", path, err)
	}
	defer resp.Body.Close()

	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp.StatusCode, parsed
}
