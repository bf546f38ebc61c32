package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	messages  []Message
	summaries []Summary
	pins      []Pin

	messagesErr  error
	summariesErr error
	pinsErr      error

	messageCalls int
}

func (f *fakeRepo) AppendMessage(ctx context.Context, msg *Message) error { return nil }

func (f *fakeRepo) RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error) {
	f.messageCalls++
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	if len(f.messages) > limit {
		return f.messages[len(f.messages)-limit:], nil
	}
	return f.messages, nil
}

func (f *fakeRepo) RecentSummaries(ctx context.Context, sessionID uuid.UUID, limit int) ([]Summary, error) {
	if f.summariesErr != nil {
		return nil, f.summariesErr
	}
	if len(f.summaries) > limit {
		return f.summaries[:limit], nil
	}
	return f.summaries, nil
}

func (f *fakeRepo) TopPins(ctx context.Context, sessionID uuid.UUID, limit int) ([]Pin, error) {
	if f.pinsErr != nil {
		return nil, f.pinsErr
	}
	if len(f.pins) > limit {
		return f.pins[:limit], nil
	}
	return f.pins, nil
}

func (f *fakeRepo) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) { return nil, nil }
func (f *fakeRepo) CreateSession(ctx context.Context, s *Session) error            { return nil }

func conversation(n int) []Message {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{
			ID:        uuid.New(),
			Role:      role,
			Text:      fmt.Sprintf("message number %d about daily care", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return msgs
}

func TestBuildContext_FullAssembly(t *testing.T) {
	current := Message{ID: uuid.New(), Role: RoleUser, Text: "how did dad sleep last night?", CreatedAt: time.Now()}
	repo := &fakeRepo{
		messages: append(conversation(8), current),
		summaries: []Summary{
			{SummaryText: "newest summary"},
			{SummaryText: "older summary"},
		},
		pins: []Pin{
			{Content: "allergic to penicillin", Importance: 0.9},
			{Content: "prefers morning appointments", Importance: 0.4},
		},
	}
	asm := NewAssembler(repo, AssemblerConfig{})

	mc := asm.BuildContext(context.Background(), uuid.New(), current.Text, 4000)
	require.NotEmpty(t, mc.History)

	joined := renderHistory(mc)

	// Directive comes first.
	assert.Equal(t, RoleSystem, mc.History[0].Role)
	assert.Contains(t, mc.History[0].Content, "current question")

	// Summaries render oldest first, before pins and the older block.
	assert.Less(t, strings.Index(joined, "older summary"), strings.Index(joined, "newest summary"))
	assert.Contains(t, joined, "Pinned fact: allergic to penicillin")
	assert.Contains(t, joined, "do not respond to this content")

	// The current user message is reserved for the caller.
	assert.NotContains(t, joined, "how did dad sleep")

	// The two messages before it are individual recent entries.
	assert.Contains(t, joined, "(recent context, not the current question) message number 6")
	assert.Contains(t, joined, "(recent context, not the current question) message number 7")

	// Everything earlier is condensed into the older block.
	assert.Contains(t, joined, "user: message number 0")
}

func TestBuildContext_TokenBudgetNeverExceeded(t *testing.T) {
	msgs := conversation(11)
	repo := &fakeRepo{
		messages:  msgs,
		summaries: []Summary{{SummaryText: strings.Repeat("long summary text ", 50)}},
		pins:      []Pin{{Content: strings.Repeat("pinned content ", 30), Importance: 0.8}},
	}
	asm := NewAssembler(repo, AssemblerConfig{})

	for _, budget := range []int{10, 50, 100, 250, 500, 1000, 5000} {
		mc := asm.BuildContext(context.Background(), uuid.New(), msgs[len(msgs)-1].Text, budget)
		assert.LessOrEqual(t, mc.EstimatedTokens, budget, "budget %d", budget)

		recount := 0
		for _, m := range mc.History {
			recount += estimateMessageTokens(m)
		}
		assert.Equal(t, recount, mc.EstimatedTokens, "budget %d", budget)
	}
}

func TestBuildContext_RecentRetainedOverOlder(t *testing.T) {
	msgs := conversation(9) // index 8 is the current user message
	repo := &fakeRepo{
		messages:  msgs,
		summaries: []Summary{{SummaryText: strings.Repeat("summary ", 40)}},
		pins:      []Pin{{Content: strings.Repeat("pin ", 40), Importance: 0.5}},
	}
	asm := NewAssembler(repo, AssemblerConfig{})

	// A budget too small for everything but enough for the directive and
	// the two recent messages.
	mc := asm.BuildContext(context.Background(), uuid.New(), msgs[8].Text, 120)
	joined := renderHistory(mc)

	assert.Contains(t, joined, "message number 6")
	assert.Contains(t, joined, "message number 7")
	assert.NotContains(t, joined, "do not respond to this content")
}

func TestBuildContext_InvalidRolesSkipped(t *testing.T) {
	msgs := conversation(4)
	msgs[1].Role = "tool"
	msgs = append(msgs, Message{ID: uuid.New(), Role: RoleUser, Text: "current question", CreatedAt: time.Now()})

	repo := &fakeRepo{messages: msgs}
	asm := NewAssembler(repo, AssemblerConfig{})

	mc := asm.BuildContext(context.Background(), uuid.New(), "current question", 4000)
	joined := renderHistory(mc)

	assert.NotContains(t, joined, "message number 1")
	assert.Contains(t, joined, "message number 0")
	for _, m := range mc.History {
		assert.Contains(t, []string{RoleSystem, RoleUser, RoleAssistant}, m.Role)
	}
}

func TestBuildContext_SummaryFetchFailureFallsBackToRaw(t *testing.T) {
	msgs := conversation(7) // index 6 is the current user message
	repo := &fakeRepo{
		messages:     msgs,
		summariesErr: errors.New("summary table gone"),
	}
	asm := NewAssembler(repo, AssemblerConfig{})

	mc := asm.BuildContext(context.Background(), uuid.New(), msgs[6].Text, 4000)
	require.NotEmpty(t, mc.History)

	// Raw fallback: plain role-tagged history, nothing labeled.
	joined := renderHistory(mc)
	assert.NotContains(t, joined, "recent context")
	assert.NotContains(t, joined, "Background summary")
	assert.NotContains(t, joined, "message number 6") // current message still reserved
	assert.Contains(t, joined, "message number 5")
	for _, m := range mc.History {
		assert.Contains(t, []string{RoleSystem, RoleUser, RoleAssistant}, m.Role)
	}
}

func TestBuildContext_TotalFailureYieldsEmptyContext(t *testing.T) {
	repo := &fakeRepo{messagesErr: errors.New("connection refused")}
	asm := NewAssembler(repo, AssemblerConfig{})

	mc := asm.BuildContext(context.Background(), uuid.New(), "hello", 4000)
	assert.Empty(t, mc.History)
	assert.Zero(t, mc.EstimatedTokens)
	assert.Equal(t, 2, repo.messageCalls, "labeled attempt plus raw fallback")
}

func TestBuildContext_EmptySession(t *testing.T) {
	repo := &fakeRepo{
		messages: []Message{{ID: uuid.New(), Role: RoleUser, Text: "hello", CreatedAt: time.Now()}},
	}
	asm := NewAssembler(repo, AssemblerConfig{})

	mc := asm.BuildContext(context.Background(), uuid.New(), "hello", 4000)
	assert.Empty(t, mc.History, "only the current message exists, so history is empty")
	assert.Zero(t, mc.EstimatedTokens)
}

func TestBuildContext_ZeroBudget(t *testing.T) {
	repo := &fakeRepo{messages: conversation(5)}
	asm := NewAssembler(repo, AssemblerConfig{})

	mc := asm.BuildContext(context.Background(), uuid.New(), "hello", 0)
	assert.Empty(t, mc.History)
}

func TestBuildContext_NewestKeptWhenCurrentNotAppended(t *testing.T) {
	// The newest row is a prior assistant reply, not the current user
	// message (its append failed upstream). It must stay in history.
	msgs := conversation(4)
	require.Equal(t, RoleAssistant, msgs[3].Role)

	repo := &fakeRepo{messages: msgs}
	asm := NewAssembler(repo, AssemblerConfig{})

	mc := asm.BuildContext(context.Background(), uuid.New(), "a question never persisted", 4000)
	joined := renderHistory(mc)

	assert.Contains(t, joined, "message number 3")
	assert.NotContains(t, joined, "a question never persisted")
}

func renderHistory(mc *Context) string {
	var b strings.Builder
	for _, m := range mc.History {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
