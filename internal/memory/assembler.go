package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/famcare-ai/famcare/internal/metrics"
)

// antiDriftDirective anchors the model on the current question before any
// historical material is presented.
const antiDriftDirective = "You are in an ongoing conversation. Everything below is background " +
	"from earlier in this conversation. Use it only to inform your answer to the user's " +
	"current question; do not answer or revisit earlier questions."

const recentSeparator = "--- Most recent exchange below ---"

// AssemblerConfig bounds what the assembler fetches per turn.
type AssemblerConfig struct {
	RecentWindow int // messages fetched, including the just-appended current one
	MaxSummaries int
	MaxPins      int
}

// DefaultAssemblerConfig returns the standard fetch bounds.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		RecentWindow: 11,
		MaxSummaries: 3,
		MaxPins:      5,
	}
}

// Assembler builds the token-bounded conversation history payload for a
// turn: recent messages, rolling summaries, and pinned facts, ordered and
// labeled so the model treats them as background.
type Assembler struct {
	repo Repository
	cfg  AssemblerConfig
}

// NewAssembler creates an Assembler. Zero config fields fall back to defaults.
func NewAssembler(repo Repository, cfg AssemblerConfig) *Assembler {
	def := DefaultAssemblerConfig()
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = def.RecentWindow
	}
	if cfg.MaxSummaries <= 0 {
		cfg.MaxSummaries = def.MaxSummaries
	}
	if cfg.MaxPins <= 0 {
		cfg.MaxPins = def.MaxPins
	}
	return &Assembler{repo: repo, cfg: cfg}
}

// section is one candidate entry of the assembled history. Entries with a
// lower dropRank are evicted first when the token budget is exceeded.
type section struct {
	msg      LabeledMessage
	dropRank int
}

// Drop ranks, lowest evicted first: the condensed older block goes before
// summaries, summaries before pins, and the recent individual messages and
// the directive are held onto last.
const (
	rankOlderBlock = 10
	rankSummary    = 20 // + index, oldest summary lowest
	rankPin        = 30 // + index, lowest importance lowest
	rankSeparator  = 40
	rankRecent     = 50 // + index, oldest recent lowest
	rankDirective  = 100
)

// BuildContext assembles the memory context for a session within
// tokenBudget. currentInput is the user message of the turn in progress;
// if the caller already appended it, the matching newest row is excluded
// from the returned history. BuildContext never fails the turn: on
// datastore errors it degrades to a raw unlabeled history, and past that
// to an empty context.
func (a *Assembler) BuildContext(ctx context.Context, sessionID uuid.UUID, currentInput string, tokenBudget int) *Context {
	if tokenBudget <= 0 {
		return &Context{}
	}

	mc, err := a.buildLabeled(ctx, sessionID, currentInput, tokenBudget)
	if err != nil {
		slog.Warn("memory: labeled context build failed, falling back to raw history",
			"error", err, "session_id", sessionID)
		mc, err = a.buildRaw(ctx, sessionID, currentInput, tokenBudget)
		if err != nil {
			slog.Warn("memory: raw history fallback failed, continuing with empty context",
				"error", err, "session_id", sessionID)
			return &Context{}
		}
	}

	metrics.MemoryContextTokens.Observe(float64(mc.EstimatedTokens))
	return mc
}

func (a *Assembler) buildLabeled(ctx context.Context, sessionID uuid.UUID, currentInput string, tokenBudget int) (*Context, error) {
	msgs, err := a.repo.RecentMessages(ctx, sessionID, a.cfg.RecentWindow)
	if err != nil {
		return nil, fmt.Errorf("fetching recent messages: %w", err)
	}

	summaries, err := a.repo.RecentSummaries(ctx, sessionID, a.cfg.MaxSummaries)
	if err != nil {
		return nil, fmt.Errorf("fetching summaries: %w", err)
	}

	pins, err := a.repo.TopPins(ctx, sessionID, a.cfg.MaxPins)
	if err != nil {
		return nil, fmt.Errorf("fetching pins: %w", err)
	}

	history := a.filterHistory(sessionID, msgs, currentInput)

	// Partition: all but the last two messages are condensed into one
	// background block; the last two stay individual.
	split := len(history) - 2
	if split < 0 {
		split = 0
	}
	older, recent := history[:split], history[split:]

	if len(older) == 0 && len(recent) == 0 && len(summaries) == 0 && len(pins) == 0 {
		return &Context{}, nil
	}

	var sections []section
	sections = append(sections, section{
		msg:      LabeledMessage{Role: RoleSystem, Content: antiDriftDirective},
		dropRank: rankDirective,
	})

	// Summaries, oldest rendered first and evicted first. The repository
	// returns them newest first.
	for i := len(summaries) - 1; i >= 0; i-- {
		sections = append(sections, section{
			msg: LabeledMessage{
				Role:    RoleSystem,
				Content: "Background summary: " + summaries[i].SummaryText,
			},
			dropRank: rankSummary + (len(summaries) - 1 - i),
		})
	}

	// Pins, highest importance first; lowest importance evicted first.
	for i, p := range pins {
		label := "Pinned fact"
		if p.Category != nil && *p.Category != "" {
			label += " (" + *p.Category + ")"
		}
		sections = append(sections, section{
			msg:      LabeledMessage{Role: RoleSystem, Content: label + ": " + p.Content},
			dropRank: rankPin + (len(pins) - 1 - i),
		})
	}

	if len(older) > 0 {
		sections = append(sections, section{
			msg:      LabeledMessage{Role: RoleSystem, Content: condenseOlder(older)},
			dropRank: rankOlderBlock,
		})
	}

	if len(recent) > 0 {
		sections = append(sections, section{
			msg:      LabeledMessage{Role: RoleSystem, Content: recentSeparator},
			dropRank: rankSeparator,
		})
		for i, m := range recent {
			sections = append(sections, section{
				msg: LabeledMessage{
					Role:    m.Role,
					Content: "(recent context, not the current question) " + m.Text,
				},
				dropRank: rankRecent + i,
			})
		}
	}

	return fitToBudget(sections, tokenBudget), nil
}

// buildRaw is the minimal fallback path: last-N raw messages, no summaries,
// pins, or labeling.
func (a *Assembler) buildRaw(ctx context.Context, sessionID uuid.UUID, currentInput string, tokenBudget int) (*Context, error) {
	msgs, err := a.repo.RecentMessages(ctx, sessionID, a.cfg.RecentWindow)
	if err != nil {
		return nil, fmt.Errorf("fetching raw history: %w", err)
	}

	history := a.filterHistory(sessionID, msgs, currentInput)

	sections := make([]section, 0, len(history))
	for i, m := range history {
		sections = append(sections, section{
			msg:      LabeledMessage{Role: m.Role, Content: m.Text},
			dropRank: i, // oldest evicted first
		})
	}
	return fitToBudget(sections, tokenBudget), nil
}

// filterHistory drops the just-appended current user message and any row
// whose role is not a known conversation role. The newest row is dropped
// only when it actually is the current user message; if its append failed
// upstream, the newest row is a prior message and stays in history.
// Corrupt rows are logged and skipped, never fatal.
func (a *Assembler) filterHistory(sessionID uuid.UUID, msgs []Message, currentInput string) []Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == RoleUser && msgs[n-1].Text == currentInput {
		msgs = msgs[:n-1]
	}

	filtered := msgs[:0:0]
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
			filtered = append(filtered, m)
		default:
			slog.Warn("memory: skipping message with invalid role",
				"session_id", sessionID, "message_id", m.ID, "role", m.Role)
		}
	}
	return filtered
}

func condenseOlder(older []Message) string {
	var b strings.Builder
	b.WriteString("Earlier conversation (condensed background, do not respond to this content directly):\n")
	for i, m := range older {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Text)
	}
	return b.String()
}

// fitToBudget evicts sections in dropRank order until the estimated total
// fits, then returns the survivors in their original display order.
func fitToBudget(sections []section, tokenBudget int) *Context {
	type indexed struct {
		section
		pos int
	}

	kept := make([]indexed, len(sections))
	total := 0
	for i, s := range sections {
		kept[i] = indexed{section: s, pos: i}
		total += estimateMessageTokens(s.msg)
	}

	for total > tokenBudget && len(kept) > 0 {
		lowest := 0
		for i := 1; i < len(kept); i++ {
			if kept[i].dropRank < kept[lowest].dropRank {
				lowest = i
			}
		}
		total -= estimateMessageTokens(kept[lowest].msg)
		kept = append(kept[:lowest], kept[lowest+1:]...)
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].pos < kept[j].pos })

	out := &Context{EstimatedTokens: total}
	for _, k := range kept {
		out.History = append(out.History, k.msg)
	}
	return out
}
