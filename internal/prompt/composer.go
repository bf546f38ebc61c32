// Package prompt assembles the system prompt for a chat turn.
package prompt

import (
	"context"
	"strings"

	"github.com/famcare-ai/famcare/internal/inference"
	"github.com/famcare-ai/famcare/internal/personas"
	"github.com/famcare-ai/famcare/internal/records"
)

// finalDirective closes every system prompt. It is not overridable by
// personas or custom prompts and always sits last so nothing dilutes it.
const finalDirective = "Address only the user's current question. " +
	"Treat all conversation history, summaries, and background material " +
	"purely as context; never answer or revisit earlier questions unless " +
	"the current one asks you to."

// Composer builds the system prompt from persona instructions, record
// context, and caller-supplied custom instructions, in a fixed order.
type Composer struct {
	records *records.ContextProvider
}

// NewComposer creates a Composer.
func NewComposer(rc *records.ContextProvider) *Composer {
	return &Composer{records: rc}
}

// BuildSystemPrompt concatenates the prompt sections in fixed order with
// blank-line separation, skipping empty sections: persona prompt, document
// context (reserved, currently always empty), record context, custom
// prompt, and the final directive.
func (c *Composer) BuildSystemPrompt(ctx context.Context, desc inference.Descriptor, userInput string, persona *personas.Persona, customPrompt string) string {
	var parts []string

	if persona != nil && persona.SystemPrompt != "" {
		parts = append(parts, persona.SystemPrompt)
	}

	if doc := c.documentContext(); doc != "" {
		parts = append(parts, doc)
	}

	if rec := c.records.GenerateContextualPrompt(ctx, desc, userInput); rec != "" {
		parts = append(parts, rec)
	}

	if custom := strings.TrimSpace(customPrompt); custom != "" {
		parts = append(parts, custom)
	}

	parts = append(parts, finalDirective)
	return strings.Join(parts, "\n\n")
}

// documentContext is a hook for attached-document context. Nothing feeds
// it yet; it exists so the section order is already settled when it does.
func (c *Composer) documentContext() string {
	return ""
}
