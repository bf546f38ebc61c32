package nats

import (
	"time"

	"github.com/google/uuid"
)

// Stream names.
const (
	StreamTurns  = "FAMCARE_TURNS"
	StreamEvents = "FAMCARE_EVENTS"
)

// Subject constants.
const (
	SubjectTurnCompleted = "famcare.turns.completed"
	SubjectAuditEvent    = "famcare.events.audit"
)

// TurnCompletedEvent is published after every chat turn, streamed or not.
// Downstream consumers (summarization, analytics) react to it; the chat
// path never waits on them.
type TurnCompletedEvent struct {
	SessionID        *uuid.UUID `json:"session_id,omitempty"`
	Adapter          string     `json:"adapter"`
	Mode             string     `json:"mode"`
	ToolCalls        int        `json:"tool_calls"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	DurationMS       int64      `json:"duration_ms"`
	CompletedAt      time.Time  `json:"completed_at"`
}

// AuditEvent records a trust-relevant decision, such as which disclosure
// tier a turn was granted.
type AuditEvent struct {
	Action     string    `json:"action"`
	Adapter    string    `json:"adapter"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
