// Package tools implements the tool executor the chat orchestrator drives
// when a model requests a function call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/famcare-ai/famcare/internal/inference"
)

// Executor runs one named tool call and returns its textual contribution.
// Implementations return an error for failures; callers are expected to
// degrade, not abort the turn.
type Executor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
	Definitions() []inference.ToolDefinition
}

// Registry dispatches tool calls by name.
type Registry struct {
	tools map[string]Tool
	defs  []inference.ToolDefinition
}

// Tool is one callable function.
type Tool interface {
	Definition() inference.ToolDefinition
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// NewRegistry creates a Registry over the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		def := t.Definition()
		r.tools[def.Name] = t
		r.defs = append(r.defs, def)
	}
	return r
}

// Definitions returns the tool definitions to attach to an adapter call.
func (r *Registry) Definitions() []inference.ToolDefinition {
	return r.defs
}

// Execute dispatches to the named tool.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return t.Call(ctx, args)
}
