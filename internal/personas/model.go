// Package personas holds assistant personas: a system prompt plus optional
// generation defaults that requests can override field by field.
package personas

import (
	"time"

	"github.com/google/uuid"

	"github.com/famcare-ai/famcare/internal/inference"
)

// Persona is an assistant personality. Generation defaults are nullable;
// a nil field means "no opinion" and defers to the request or the adapter.
type Persona struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	SystemPrompt  string    `json:"system_prompt"`
	Temperature   *float64  `json:"temperature,omitempty"`
	MaxTokens     *int      `json:"max_tokens,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	RepeatPenalty *float64  `json:"repeat_penalty,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MergeSettings combines a persona's generation defaults with request-level
// settings. Request values win field by field; persona defaults fill the
// gaps; fields neither side sets stay nil. A nil persona passes the request
// settings through unchanged.
func MergeSettings(p *Persona, req inference.Settings) inference.Settings {
	if p == nil {
		return req
	}
	merged := req
	if merged.Temperature == nil {
		merged.Temperature = p.Temperature
	}
	if merged.MaxTokens == nil {
		merged.MaxTokens = p.MaxTokens
	}
	if merged.TopP == nil {
		merged.TopP = p.TopP
	}
	if merged.RepeatPenalty == nil {
		merged.RepeatPenalty = p.RepeatPenalty
	}
	return merged
}
