// Package chat drives a conversation turn end to end: prompt composition,
// memory assembly, adapter invocation, and the tool-call loop in both its
// one-shot and streaming forms.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/famcare-ai/famcare/internal/inference"
	"github.com/famcare-ai/famcare/internal/memory"
	"github.com/famcare-ai/famcare/internal/metrics"
	"github.com/famcare-ai/famcare/internal/nats"
	"github.com/famcare-ai/famcare/internal/personas"
	"github.com/famcare-ai/famcare/internal/prompt"
	"github.com/famcare-ai/famcare/internal/tools"
)

// Fatal turn errors. Everything else degrades.
var (
	ErrAdapterNotFound      = errors.New("adapter not found")
	ErrStreamingUnsupported = errors.New("adapter does not support streaming")
)

// searchMarker prefixes replies produced after a web search so downstream
// consumers can tell a search occurred.
const searchMarker = "[web search] "

// searchPermission is appended to the system prompt on the regeneration
// call so the model treats the injected results as usable material.
const searchPermission = "You may use the search results provided below to answer the current question."

// generationPass distinguishes the first adapter call from the post-tool
// regeneration call. The regeneration call never carries tools, so a turn
// makes at most two adapter calls.
type generationPass int

const (
	firstPass generationPass = iota
	postToolPass
)

// EventPublisher receives turn-completed events. Publishing is best-effort.
type EventPublisher interface {
	PublishTurnCompleted(ctx context.Context, event nats.TurnCompletedEvent) error
}

// TurnRequest is one user turn.
type TurnRequest struct {
	Input        string
	ModelID      string
	SessionID    *uuid.UUID
	PersonaID    *uuid.UUID
	CustomPrompt string
	Settings     inference.Settings
}

// TurnResult is the completed reply for a one-shot turn. SessionID echoes
// the session the turn ran against so clients need not track it themselves.
type TurnResult struct {
	Reply     string                `json:"reply"`
	SessionID *uuid.UUID            `json:"session_id,omitempty"`
	Usage     *inference.TokenUsage `json:"usage,omitempty"`
}

// Orchestrator coordinates a turn across the registry, composer, assembler,
// and tool executor. It holds no per-turn state; every turn builds its
// context fresh.
type Orchestrator struct {
	registry    *inference.Registry
	composer    *prompt.Composer
	assembler   *memory.Assembler
	memoryRepo  memory.Repository
	personaRepo personas.Repository
	executor    tools.Executor
	publisher   EventPublisher
	tokenBudget int
}

// NewOrchestrator creates an Orchestrator. publisher may be nil.
func NewOrchestrator(
	registry *inference.Registry,
	composer *prompt.Composer,
	assembler *memory.Assembler,
	memoryRepo memory.Repository,
	personaRepo personas.Repository,
	executor tools.Executor,
	publisher EventPublisher,
	tokenBudget int,
) *Orchestrator {
	return &Orchestrator{
		registry:    registry,
		composer:    composer,
		assembler:   assembler,
		memoryRepo:  memoryRepo,
		personaRepo: personaRepo,
		executor:    executor,
		publisher:   publisher,
		tokenBudget: tokenBudget,
	}
}

// turnState is the per-turn working set produced by prepare.
type turnState struct {
	adapter      inference.Adapter
	desc         inference.Descriptor
	settings     inference.Settings
	systemPrompt string
	messages     []inference.Message
	started      time.Time
}

// prepare resolves the adapter, merges settings, and builds the full
// message list. Persona and memory failures degrade; only adapter
// resolution is fatal here.
func (o *Orchestrator) prepare(ctx context.Context, req TurnRequest) (*turnState, error) {
	adapter, ok := o.registry.Resolve(req.ModelID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, req.ModelID)
	}
	desc := adapter.Descriptor()

	var persona *personas.Persona
	if req.PersonaID != nil {
		p, err := o.personaRepo.GetByID(ctx, *req.PersonaID)
		if err != nil {
			slog.Warn("chat: persona lookup failed, continuing without persona",
				"persona_id", req.PersonaID, "error", err)
		} else {
			persona = p
		}
	}

	// The current user message is appended before assembly; the
	// assembler reserves the newest row and excludes it from history.
	if req.SessionID != nil {
		o.appendMessage(ctx, *req.SessionID, inference.RoleUser, req.Input)
	}

	// Record context (inside the composer) and memory assembly are
	// independent reads; run them concurrently.
	var (
		wg           sync.WaitGroup
		systemPrompt string
		memCtx       *memory.Context
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		systemPrompt = o.composer.BuildSystemPrompt(ctx, desc, req.Input, persona, req.CustomPrompt)
	}()
	if req.SessionID != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			memCtx = o.assembler.BuildContext(ctx, *req.SessionID, req.Input, o.tokenBudget)
		}()
	}
	wg.Wait()

	messages := []inference.Message{{Role: inference.RoleSystem, Content: systemPrompt}}
	if memCtx != nil {
		for _, m := range memCtx.History {
			messages = append(messages, inference.Message{Role: m.Role, Content: m.Content})
		}
	}
	messages = append(messages, inference.Message{Role: inference.RoleUser, Content: req.Input})

	return &turnState{
		adapter:      adapter,
		desc:         desc,
		settings:     personas.MergeSettings(persona, req.Settings),
		systemPrompt: systemPrompt,
		messages:     messages,
		started:      time.Now(),
	}, nil
}

// Run executes a one-shot turn.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	st, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := o.generate(ctx, st, st.messages, firstPass)
	if err != nil {
		o.observeTurn(req, st, "oneshot", "error", 0, nil)
		return nil, err
	}

	toolCalls := 0
	reply := result.Reply
	usage := result.Usage

	if len(result.ToolCalls) > 0 {
		toolCalls = len(result.ToolCalls)
		block := o.executeSequential(ctx, result.ToolCalls)

		regen, err := o.generate(ctx, st, o.regenMessages(st, req.Input, block), postToolPass)
		if err != nil {
			o.observeTurn(req, st, "oneshot", "error", toolCalls, nil)
			return nil, err
		}
		reply = searchMarker + regen.Reply
		usage = sumUsage(usage, regen.Usage)
	}

	if req.SessionID != nil {
		o.appendMessage(ctx, *req.SessionID, inference.RoleAssistant, reply)
	}
	o.observeTurn(req, st, "oneshot", "ok", toolCalls, usage)

	return &TurnResult{Reply: reply, SessionID: req.SessionID, Usage: usage}, nil
}

// RunStream executes a streaming turn. The returned channel is closed when
// the turn finishes or ctx is canceled; the final chunk carries Done and,
// when the backend reports it, token usage.
func (o *Orchestrator) RunStream(ctx context.Context, req TurnRequest) (<-chan inference.Chunk, error) {
	st, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	streamer, ok := st.adapter.(inference.Streamer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamingUnsupported, st.desc.ID)
	}

	streamMsgs := st.messages
	toolCalls := 0
	marker := ""

	// Streaming backends do not reliably surface structured tool calls
	// mid-stream, so cloud adapters get a non-streaming probe call first.
	// The probe is the first of the at most two adapter calls.
	if st.desc.Kind == inference.KindCloud && o.executor != nil {
		probe, err := o.generate(ctx, st, st.messages, firstPass)
		if err != nil {
			o.observeTurn(req, st, "stream", "error", 0, nil)
			return nil, err
		}
		if len(probe.ToolCalls) > 0 {
			toolCalls = len(probe.ToolCalls)
			block := o.executeParallel(ctx, probe.ToolCalls)
			streamMsgs = o.regenMessages(st, req.Input, block)
			marker = searchMarker
		}
	}

	upstream, err := streamer.GenerateStream(ctx, inference.Request{Messages: streamMsgs, Settings: st.settings})
	if err != nil {
		o.observeTurn(req, st, "stream", "error", toolCalls, nil)
		return nil, fmt.Errorf("starting stream: %w", err)
	}

	out := make(chan inference.Chunk)
	go func() {
		defer close(out)

		var reply strings.Builder
		var usage *inference.TokenUsage
		reply.WriteString(marker)

		// Deferred so every exit path runs it: the consumer may walk
		// away mid-stream, and what was generated up to that point
		// still gets persisted and counted.
		defer func() {
			if req.SessionID != nil && reply.Len() > 0 {
				o.appendMessage(context.WithoutCancel(ctx), *req.SessionID, inference.RoleAssistant, reply.String())
			}
			o.observeTurn(req, st, "stream", "ok", toolCalls, usage)
		}()

		if marker != "" {
			select {
			case out <- inference.Chunk{Delta: marker}:
			case <-ctx.Done():
				return
			}
		}

		for chunk := range upstream {
			if chunk.Err == nil {
				reply.WriteString(chunk.Delta)
				if chunk.Usage != nil {
					usage = chunk.Usage
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// generate wraps one adapter call. Tools are attached only on the first
// pass and only for cloud adapters; the post-tool pass never carries them.
func (o *Orchestrator) generate(ctx context.Context, st *turnState, msgs []inference.Message, pass generationPass) (*inference.Result, error) {
	req := inference.Request{Messages: msgs, Settings: st.settings}
	if pass == firstPass && st.desc.Kind == inference.KindCloud && o.executor != nil {
		req.Tools = o.executor.Definitions()
	}

	start := time.Now()
	result, err := st.adapter.Generate(ctx, req)
	metrics.AdapterRequestDuration.WithLabelValues(st.desc.ID).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("generating reply: %w", err)
	}
	return result, nil
}

// regenMessages builds the deliberately minimal message list for the
// post-tool call: system prompt plus search permission, the results block,
// and the raw user input. The memory context is dropped to bound prompt
// growth on the second call.
func (o *Orchestrator) regenMessages(st *turnState, input, resultsBlock string) []inference.Message {
	return []inference.Message{
		{Role: inference.RoleSystem, Content: st.systemPrompt + "\n\n" + searchPermission},
		{Role: inference.RoleSystem, Content: "Search results:\n\n" + resultsBlock},
		{Role: inference.RoleUser, Content: input},
	}
}

// executeSequential runs tool calls in order. A failed call contributes an
// inline error line instead of aborting the turn.
func (o *Orchestrator) executeSequential(ctx context.Context, calls []inference.ToolCall) string {
	outputs := make([]string, len(calls))
	for i, call := range calls {
		outputs[i] = o.executeOne(ctx, call)
	}
	return strings.Join(outputs, "\n\n")
}

// executeParallel runs tool calls concurrently and waits for all of them.
// Output order follows the call order regardless of completion order.
func (o *Orchestrator) executeParallel(ctx context.Context, calls []inference.ToolCall) string {
	outputs := make([]string, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call inference.ToolCall) {
			defer wg.Done()
			outputs[i] = o.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return strings.Join(outputs, "\n\n")
}

func (o *Orchestrator) executeOne(ctx context.Context, call inference.ToolCall) string {
	out, err := o.executor.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		slog.Warn("chat: tool call failed", "tool", call.Name, "error", err)
		metrics.ToolCallsTotal.WithLabelValues(call.Name, "error").Inc()
		return "search failed: " + err.Error()
	}
	metrics.ToolCallsTotal.WithLabelValues(call.Name, "ok").Inc()
	return out
}

// appendMessage persists one conversation message. Persistence faults lose
// history, not the reply, so they only warn.
func (o *Orchestrator) appendMessage(ctx context.Context, sessionID uuid.UUID, role, text string) {
	msg := &memory.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.memoryRepo.AppendMessage(ctx, msg); err != nil {
		slog.Warn("chat: appending message failed",
			"session_id", sessionID, "role", role, "error", err)
	}
}

func (o *Orchestrator) observeTurn(req TurnRequest, st *turnState, mode, status string, toolCalls int, usage *inference.TokenUsage) {
	metrics.ChatTurnsTotal.WithLabelValues(st.desc.ID, mode, status).Inc()
	if usage != nil {
		metrics.AdapterTokensTotal.WithLabelValues(st.desc.ID, "prompt").Add(float64(usage.PromptTokens))
		metrics.AdapterTokensTotal.WithLabelValues(st.desc.ID, "completion").Add(float64(usage.CompletionTokens))
	}

	if o.publisher == nil || status != "ok" {
		return
	}
	event := nats.TurnCompletedEvent{
		SessionID:   req.SessionID,
		Adapter:     st.desc.ID,
		Mode:        mode,
		ToolCalls:   toolCalls,
		DurationMS:  time.Since(st.started).Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
	if usage != nil {
		event.PromptTokens = usage.PromptTokens
		event.CompletionTokens = usage.CompletionTokens
	}
	// Fire and forget with a short deadline; the reply never waits on
	// the event bus.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.publisher.PublishTurnCompleted(ctx, event); err != nil {
			slog.Warn("chat: publishing turn event failed", "error", err)
		}
	}()
}

func sumUsage(a, b *inference.TokenUsage) *inference.TokenUsage {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &inference.TokenUsage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
