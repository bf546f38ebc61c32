package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig holds OpenAI-compatible client configuration.
type OpenAIConfig struct {
	BaseURL             string
	APIKey              string
	Model               string
	ContextWindowTokens int
	Timeout             time.Duration
}

// OpenAIAdapter is a cloud inference adapter speaking the OpenAI chat
// completions API, including function-calling tools and SSE streaming.
type OpenAIAdapter struct {
	baseURL    string
	apiKey     string
	model      string
	desc       Descriptor
	httpClient *http.Client
}

// NewOpenAIAdapter creates a new OpenAI-compatible adapter.
func NewOpenAIAdapter(cfg OpenAIConfig) (*OpenAIAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &OpenAIAdapter{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		desc: Descriptor{
			ID:                  cfg.Model,
			DisplayName:         "OpenAI " + cfg.Model,
			Kind:                KindCloud,
			ContextWindowTokens: cfg.ContextWindowTokens,
		},
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Descriptor returns the adapter's static identity.
func (a *OpenAIAdapter) Descriptor() Descriptor {
	return a.desc
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  ParameterSchema `json:"parameters"`
}

type openAIRequest struct {
	Model            string       `json:"model"`
	Messages         []Message    `json:"messages"`
	Tools            []openAITool `json:"tools,omitempty"`
	Stream           bool         `json:"stream,omitempty"`
	Temperature      *float64     `json:"temperature,omitempty"`
	MaxTokens        *int         `json:"max_tokens,omitempty"`
	TopP             *float64     `json:"top_p,omitempty"`
	FrequencyPenalty *float64     `json:"frequency_penalty,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string           `json:"role"`
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (a *OpenAIAdapter) buildRequest(req Request, stream bool) openAIRequest {
	out := openAIRequest{
		Model:            a.model,
		Messages:         req.Messages,
		Stream:           stream,
		Temperature:      req.Settings.Temperature,
		MaxTokens:        req.Settings.MaxTokens,
		TopP:             req.Settings.TopP,
		FrequencyPenalty: req.Settings.RepeatPenalty,
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func (a *OpenAIAdapter) newHTTPRequest(ctx context.Context, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	return httpReq, nil
}

// Generate sends a non-streaming chat completion request. Tool calls in the
// response are surfaced as structured Result.ToolCalls.
func (a *OpenAIAdapter) Generate(ctx context.Context, req Request) (*Result, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decoding openai response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	choice := apiResp.Choices[0]
	result := &Result{
		Reply: choice.Message.Content,
		Usage: &TokenUsage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return result, nil
}

// GenerateStream sends a streaming chat completion request and yields each
// SSE data line as a chunk. Structured tool calls are not surfaced
// mid-stream; callers that need them perform a non-streaming probe first.
func (a *OpenAIAdapter) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling openai: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(respBody))
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				select {
				case ch <- Chunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}

			var part openAIStreamChunk
			if err := json.Unmarshal([]byte(data), &part); err != nil {
				select {
				case ch <- Chunk{Err: fmt.Errorf("decoding openai stream chunk: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(part.Choices) == 0 {
				continue
			}

			select {
			case ch <- Chunk{Delta: part.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- Chunk{Err: fmt.Errorf("reading openai stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
