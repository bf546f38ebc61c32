// Package inference defines the model adapter contract and the adapter
// registry, plus the Ollama (local) and OpenAI-compatible (cloud) clients.
package inference

import (
	"context"
	"encoding/json"
)

// Kind classifies where an adapter runs. Local adapters keep data on the
// machine and are trusted with full record detail; cloud adapters are not,
// unless explicitly allow-listed.
type Kind string

const (
	KindLocal Kind = "local"
	KindCloud Kind = "cloud"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Descriptor is the static identity of an adapter.
type Descriptor struct {
	ID                  string `json:"id"`
	DisplayName         string `json:"display_name"`
	Kind                Kind   `json:"kind"`
	ContextWindowTokens int    `json:"context_window_tokens"`
}

// Message is a single chat message sent to an adapter.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Settings are per-request generation parameters. Nil fields mean
// "use the backend default"; merging persona and request settings is the
// orchestrator's job.
type Settings struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
}

// ToolDefinition describes a function the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  ParameterSchema
}

// ParameterSchema is a minimal JSON-schema object for tool parameters.
type ParameterSchema struct {
	Type       string                       `json:"type"`
	Properties map[string]ParameterProperty `json:"properties"`
	Required   []string                     `json:"required,omitempty"`
}

// ParameterProperty describes one tool parameter.
type ParameterProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ToolCall is a model-requested function invocation. Arguments is the raw
// JSON argument object as returned by the backend.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// TokenUsage reports token consumption for one adapter call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is one generation call.
type Request struct {
	Messages []Message
	Settings Settings
	Tools    []ToolDefinition
}

// Result is the outcome of a one-shot generation. Usage is nil when the
// backend does not report it.
type Result struct {
	Reply     string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// Chunk is one increment of a streamed generation. Err is set on transport
// failures mid-stream; the channel is closed after the final chunk.
type Chunk struct {
	Delta string
	Done  bool
	Usage *TokenUsage
	Err   error
}

// Adapter is the common contract all model backends implement.
type Adapter interface {
	Descriptor() Descriptor
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Streamer is the optional streaming capability. Callers detect support
// with a type assertion; absence means the adapter cannot stream.
type Streamer interface {
	GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error)
}
