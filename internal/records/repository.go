package records

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines the read-only record lookups the context provider
// consumes. A nil recipientID means "across all recipients"; every query is
// independently capped.
type Repository interface {
	ListRecipients(ctx context.Context) ([]Recipient, error)
	ActiveMedications(ctx context.Context, recipientID *uuid.UUID, limit int) ([]Medication, error)
	UpcomingAppointments(ctx context.Context, recipientID *uuid.UUID, within time.Duration, limit int) ([]Appointment, error)
	RecentMeasurements(ctx context.Context, recipientID *uuid.UUID, lookback time.Duration, limit int) ([]Measurement, error)
	ActiveCaregivers(ctx context.Context, recipientID *uuid.UUID, limit int) ([]Caregiver, error)
}

// PostgresRepository implements Repository using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new care records repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) ListRecipients(ctx context.Context) ([]Recipient, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, full_name, relationship, date_of_birth, conditions, record_number, created_at
		 FROM care_recipients
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recipients: %w", err)
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var rec Recipient
		if err := rows.Scan(&rec.ID, &rec.FullName, &rec.Relationship, &rec.DateOfBirth,
			&rec.Conditions, &rec.RecordNumber, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning recipient row: %w", err)
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

func (r *PostgresRepository) ActiveMedications(ctx context.Context, recipientID *uuid.UUID, limit int) ([]Medication, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, recipient_id, name, dosage, schedule, active, prescriber, pharmacy, started_at
		 FROM medications
		 WHERE active AND ($1::uuid IS NULL OR recipient_id = $1)
		 ORDER BY started_at DESC
		 LIMIT $2`,
		recipientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying medications: %w", err)
	}
	defer rows.Close()

	var meds []Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.RecipientID, &m.Name, &m.Dosage, &m.Schedule,
			&m.Active, &m.Prescriber, &m.Pharmacy, &m.StartedAt); err != nil {
			return nil, fmt.Errorf("scanning medication row: %w", err)
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

func (r *PostgresRepository) UpcomingAppointments(ctx context.Context, recipientID *uuid.UUID, within time.Duration, limit int) ([]Appointment, error) {
	now := time.Now().UTC()
	rows, err := r.pool.Query(ctx,
		`SELECT id, recipient_id, title, scheduled_at, location, provider
		 FROM appointments
		 WHERE scheduled_at >= $1 AND scheduled_at <= $2
		   AND ($3::uuid IS NULL OR recipient_id = $3)
		 ORDER BY scheduled_at ASC
		 LIMIT $4`,
		now, now.Add(within), recipientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying appointments: %w", err)
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.RecipientID, &a.Title, &a.ScheduledAt,
			&a.Location, &a.Provider); err != nil {
			return nil, fmt.Errorf("scanning appointment row: %w", err)
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func (r *PostgresRepository) RecentMeasurements(ctx context.Context, recipientID *uuid.UUID, lookback time.Duration, limit int) ([]Measurement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, recipient_id, kind, value, unit, taken_at, notes
		 FROM measurements
		 WHERE taken_at >= $1 AND ($2::uuid IS NULL OR recipient_id = $2)
		 ORDER BY taken_at DESC
		 LIMIT $3`,
		time.Now().UTC().Add(-lookback), recipientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying measurements: %w", err)
	}
	defer rows.Close()

	var ms []Measurement
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(&m.ID, &m.RecipientID, &m.Kind, &m.Value, &m.Unit,
			&m.TakenAt, &m.Notes); err != nil {
			return nil, fmt.Errorf("scanning measurement row: %w", err)
		}
		ms = append(ms, m)
	}
	return ms, rows.Err()
}

func (r *PostgresRepository) ActiveCaregivers(ctx context.Context, recipientID *uuid.UUID, limit int) ([]Caregiver, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, recipient_id, name, role, phone, active
		 FROM caregivers
		 WHERE active AND ($1::uuid IS NULL OR recipient_id = $1)
		 ORDER BY name ASC
		 LIMIT $2`,
		recipientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying caregivers: %w", err)
	}
	defer rows.Close()

	var cgs []Caregiver
	for rows.Next() {
		var c Caregiver
		if err := rows.Scan(&c.ID, &c.RecipientID, &c.Name, &c.Role, &c.Phone, &c.Active); err != nil {
			return nil, fmt.Errorf("scanning caregiver row: %w", err)
		}
		cgs = append(cgs, c)
	}
	return cgs, rows.Err()
}
