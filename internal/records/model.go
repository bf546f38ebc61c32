// Package records holds the family care records read models and the
// trust-tiered context provider that summarizes them for model prompts.
package records

import (
	"time"

	"github.com/google/uuid"
)

// Recipient is a family member whose care is tracked. RecordNumber is
// sensitive and only disclosed to full-tier adapters.
type Recipient struct {
	ID           uuid.UUID  `json:"id"`
	FullName     string     `json:"full_name"`
	Relationship string     `json:"relationship"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	Conditions   string     `json:"conditions,omitempty"`
	RecordNumber *string    `json:"record_number,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Medication is one prescription. Prescriber and Pharmacy are sensitive.
type Medication struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Name        string    `json:"name"`
	Dosage      string    `json:"dosage"`
	Schedule    string    `json:"schedule"`
	Active      bool      `json:"active"`
	Prescriber  *string   `json:"prescriber,omitempty"`
	Pharmacy    *string   `json:"pharmacy,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// Appointment is a scheduled care event. Provider is sensitive.
type Appointment struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Title       string    `json:"title"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Location    string    `json:"location,omitempty"`
	Provider    *string   `json:"provider,omitempty"`
}

// Measurement is one recorded vital or reading. Value is free-form so
// compound readings like "138/82" fit. Notes are sensitive.
type Measurement struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Kind        string    `json:"kind"`
	Value       string    `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	TakenAt     time.Time `json:"taken_at"`
	Notes       *string   `json:"notes,omitempty"`
}

// Caregiver is a person involved in day-to-day care. Phone is sensitive.
type Caregiver struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Phone       *string   `json:"phone,omitempty"`
	Active      bool      `json:"active"`
}
