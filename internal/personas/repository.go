package personas

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persona lookups.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Persona, error)
	List(ctx context.Context) ([]Persona, error)
}

// PostgresRepository implements Repository using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new persona repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByID returns the persona, or (nil, nil) when it does not exist.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Persona, error) {
	var p Persona
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, system_prompt, temperature, max_tokens, top_p, repeat_penalty, created_at
		 FROM personas
		 WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.SystemPrompt, &p.Temperature, &p.MaxTokens,
		&p.TopP, &p.RepeatPenalty, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying persona: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Persona, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, system_prompt, temperature, max_tokens, top_p, repeat_penalty, created_at
		 FROM personas
		 ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying personas: %w", err)
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		var p Persona
		if err := rows.Scan(&p.ID, &p.Name, &p.SystemPrompt, &p.Temperature, &p.MaxTokens,
			&p.TopP, &p.RepeatPenalty, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning persona row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
