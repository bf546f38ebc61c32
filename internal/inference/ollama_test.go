package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaAdapter_Generate(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           "llama3.1:8b",
			Message:         Message{Role: RoleAssistant, Content: "hello there"},
			Done:            true,
			PromptEvalCount: 30,
			EvalCount:       12,
		})
	}))
	defer srv.Close()

	adapter, err := NewOllamaAdapter(OllamaConfig{URL: srv.URL, Model: "llama3.1:8b", ContextWindowTokens: 8192})
	require.NoError(t, err)

	temp := 0.4
	maxTok := 256
	result, err := adapter.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Settings: Settings{Temperature: &temp, MaxTokens: &maxTok},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", result.Reply)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 42, result.Usage.TotalTokens)
	assert.Empty(t, result.ToolCalls)

	assert.False(t, gotReq.Stream)
	assert.InDelta(t, 0.4, gotReq.Options["temperature"], 0.001)
	assert.EqualValues(t, 256, gotReq.Options["num_predict"])
}

func TestOllamaAdapter_Generate_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter, err := NewOllamaAdapter(OllamaConfig{URL: srv.URL, Model: "llama3.1:8b"})
	require.NoError(t, err)

	_, err = adapter.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestOllamaAdapter_GenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(ollamaChatResponse{Message: Message{Content: "Hel"}})
		enc.Encode(ollamaChatResponse{Message: Message{Content: "lo"}})
		enc.Encode(ollamaChatResponse{Done: true, PromptEvalCount: 10, EvalCount: 2})
	}))
	defer srv.Close()

	adapter, err := NewOllamaAdapter(OllamaConfig{URL: srv.URL, Model: "llama3.1:8b"})
	require.NoError(t, err)

	ch, err := adapter.GenerateStream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var usage *TokenUsage
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text += chunk.Delta
		if chunk.Done {
			usage = chunk.Usage
		}
	}

	assert.Equal(t, "Hello", text)
	require.NotNil(t, usage)
	assert.Equal(t, 12, usage.TotalTokens)
}

func TestOllamaAdapter_GenerateStream_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: Message{Content: "first"}})
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	adapter, err := NewOllamaAdapter(OllamaConfig{URL: srv.URL, Model: "llama3.1:8b"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := adapter.GenerateStream(ctx, Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "first", first.Delta)

	cancel()

	// Channel must close promptly after cancellation.
	for range ch {
	}
}

func TestNewOllamaAdapter_RequiresURLAndModel(t *testing.T) {
	_, err := NewOllamaAdapter(OllamaConfig{Model: "m"})
	assert.Error(t, err)

	_, err = NewOllamaAdapter(OllamaConfig{URL: "http://localhost:11434"})
	assert.Error(t, err)
}
