package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	URL                 string
	Model               string
	ContextWindowTokens int
	Timeout             time.Duration
}

// OllamaAdapter is a local inference adapter speaking the Ollama chat API.
// It never receives tool definitions: function calling on small local models
// is unreliable, so the orchestrator only attaches tools to cloud adapters.
type OllamaAdapter struct {
	baseURL    string
	model      string
	desc       Descriptor
	httpClient *http.Client
}

// NewOllamaAdapter creates a new Ollama adapter.
func NewOllamaAdapter(cfg OllamaConfig) (*OllamaAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ollama URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &OllamaAdapter{
		baseURL: cfg.URL,
		model:   cfg.Model,
		desc: Descriptor{
			ID:                  cfg.Model,
			DisplayName:         "Ollama " + cfg.Model,
			Kind:                KindLocal,
			ContextWindowTokens: cfg.ContextWindowTokens,
		},
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Descriptor returns the adapter's static identity.
func (a *OllamaAdapter) Descriptor() Descriptor {
	return a.desc
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

func ollamaOptions(s Settings) map[string]any {
	opts := map[string]any{}
	if s.Temperature != nil {
		opts["temperature"] = *s.Temperature
	}
	if s.MaxTokens != nil {
		opts["num_predict"] = *s.MaxTokens
	}
	if s.TopP != nil {
		opts["top_p"] = *s.TopP
	}
	if s.RepeatPenalty != nil {
		opts["repeat_penalty"] = *s.RepeatPenalty
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// Generate sends a non-streaming chat request to Ollama. Tool definitions
// in the request are ignored.
func (a *OllamaAdapter) Generate(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    a.model,
		Messages: req.Messages,
		Stream:   false,
		Options:  ollamaOptions(req.Settings),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decoding ollama response: %w", err)
	}

	return &Result{
		Reply: chatResp.Message.Content,
		Usage: &TokenUsage{
			PromptTokens:     chatResp.PromptEvalCount,
			CompletionTokens: chatResp.EvalCount,
			TotalTokens:      chatResp.PromptEvalCount + chatResp.EvalCount,
		},
	}, nil
}

// GenerateStream sends a streaming chat request to Ollama and yields each
// NDJSON line as a chunk. The channel is closed when the stream ends or ctx
// is cancelled.
func (a *OllamaAdapter) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    a.model,
		Messages: req.Messages,
		Stream:   true,
		Options:  ollamaOptions(req.Settings),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody))
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var part ollamaChatResponse
			if err := json.Unmarshal(line, &part); err != nil {
				select {
				case ch <- Chunk{Err: fmt.Errorf("decoding ollama stream line: %w", err)}:
				case <-ctx.Done():
				}
				return
			}

			chunk := Chunk{Delta: part.Message.Content, Done: part.Done}
			if part.Done {
				chunk.Usage = &TokenUsage{
					PromptTokens:     part.PromptEvalCount,
					CompletionTokens: part.EvalCount,
					TotalTokens:      part.PromptEvalCount + part.EvalCount,
				}
			}

			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			if part.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- Chunk{Err: fmt.Errorf("reading ollama stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
