package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines conversation persistence. Messages are append-only;
// summaries and pins are read-only from this service's perspective.
type Repository interface {
	AppendMessage(ctx context.Context, msg *Message) error
	RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error)
	RecentSummaries(ctx context.Context, sessionID uuid.UUID, limit int) ([]Summary, error)
	TopPins(ctx context.Context, sessionID uuid.UUID, limit int) ([]Pin, error)
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	CreateSession(ctx context.Context, s *Session) error
}

// PostgresRepository implements Repository using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new conversation repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, session_id, role, text, importance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.SessionID, msg.Role, msg.Text, msg.Importance, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages for the session, oldest first.
func (r *PostgresRepository) RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, role, text, importance, created_at
		 FROM (
			SELECT id, session_id, role, text, importance, created_at
			FROM messages
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		 ) latest
		 ORDER BY created_at ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Text, &m.Importance, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RecentSummaries returns up to limit summaries for the session, newest first.
func (r *PostgresRepository) RecentSummaries(ctx context.Context, sessionID uuid.UUID, limit int) ([]Summary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, summary_text, covered_from, covered_to, created_at
		 FROM conversation_summaries
		 WHERE session_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.SessionID, &s.SummaryText, &s.CoveredFrom, &s.CoveredTo, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// TopPins returns up to limit pins for the session, highest importance first.
func (r *PostgresRepository) TopPins(ctx context.Context, sessionID uuid.UUID, limit int) ([]Pin, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, content, importance, category, created_at
		 FROM semantic_pins
		 WHERE session_id = $1
		 ORDER BY importance DESC, created_at DESC
		 LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pins: %w", err)
	}
	defer rows.Close()

	var pins []Pin
	for rows.Next() {
		var p Pin
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Content, &p.Importance, &p.Category, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning pin row: %w", err)
		}
		pins = append(pins, p)
	}
	return pins, rows.Err()
}

func (r *PostgresRepository) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	s := &Session{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, persona_id, created_at FROM sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.Title, &s.PersonaID, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, title, persona_id, created_at) VALUES ($1, $2, $3, $4)`,
		s.ID, s.Title, s.PersonaID, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}
