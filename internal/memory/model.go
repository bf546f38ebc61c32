package memory

import (
	"time"

	"github.com/google/uuid"
)

// Valid message roles. Rows with any other role are corrupt and get
// filtered out during context assembly.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a session's conversation log. Messages are
// append-only and ordered by CreatedAt.
type Message struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summary is a rolling conversation summary produced by an external
// summarization process. The assembler only consumes summaries.
type Summary struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   uuid.UUID  `json:"session_id"`
	SummaryText string     `json:"summary_text"`
	CoveredFrom *uuid.UUID `json:"covered_from,omitempty"`
	CoveredTo   *uuid.UUID `json:"covered_to,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Pin is a durable flagged fact retained regardless of message recency.
type Pin struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	Category   *string   `json:"category,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session groups messages under one conversation.
type Session struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	PersonaID *uuid.UUID `json:"persona_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// LabeledMessage is one entry of the assembled conversation history,
// ready to be sent to an adapter.
type LabeledMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is the per-request memory payload. It is built fresh every turn
// and discarded after use; EstimatedTokens never exceeds the budget the
// assembler was given.
type Context struct {
	History         []LabeledMessage `json:"history"`
	EstimatedTokens int              `json:"estimated_tokens"`
}
