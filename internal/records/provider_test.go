package records

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famcare-ai/famcare/internal/inference"
	"github.com/famcare-ai/famcare/internal/nats"
)

type fakeRecordRepo struct {
	recipients   []Recipient
	medications  []Medication
	appointments []Appointment
	measurements []Measurement
	caregivers   []Caregiver

	recipientsErr  error
	medicationsErr error
}

func (f *fakeRecordRepo) ListRecipients(ctx context.Context) ([]Recipient, error) {
	return f.recipients, f.recipientsErr
}

func (f *fakeRecordRepo) ActiveMedications(ctx context.Context, recipientID *uuid.UUID, limit int) ([]Medication, error) {
	if f.medicationsErr != nil {
		return nil, f.medicationsErr
	}
	return filterByRecipient(f.medications, recipientID, func(m Medication) uuid.UUID { return m.RecipientID }), nil
}

func (f *fakeRecordRepo) UpcomingAppointments(ctx context.Context, recipientID *uuid.UUID, within time.Duration, limit int) ([]Appointment, error) {
	return filterByRecipient(f.appointments, recipientID, func(a Appointment) uuid.UUID { return a.RecipientID }), nil
}

func (f *fakeRecordRepo) RecentMeasurements(ctx context.Context, recipientID *uuid.UUID, lookback time.Duration, limit int) ([]Measurement, error) {
	return filterByRecipient(f.measurements, recipientID, func(m Measurement) uuid.UUID { return m.RecipientID }), nil
}

func (f *fakeRecordRepo) ActiveCaregivers(ctx context.Context, recipientID *uuid.UUID, limit int) ([]Caregiver, error) {
	return filterByRecipient(f.caregivers, recipientID, func(c Caregiver) uuid.UUID { return c.RecipientID }), nil
}

func filterByRecipient[T any](items []T, recipientID *uuid.UUID, id func(T) uuid.UUID) []T {
	if recipientID == nil {
		return items
	}
	var out []T
	for _, it := range items {
		if id(it) == *recipientID {
			out = append(out, it)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }

func careRecordsFixture() *fakeRecordRepo {
	father := Recipient{
		ID:           uuid.New(),
		FullName:     "Robert Miller",
		Relationship: "father",
		Conditions:   "hypertension",
		RecordNumber: strPtr("MRN-4417"),
	}
	return &fakeRecordRepo{
		recipients: []Recipient{father},
		medications: []Medication{{
			ID:          uuid.New(),
			RecipientID: father.ID,
			Name:        "Lisinopril",
			Dosage:      "10mg",
			Schedule:    "once daily",
			Active:      true,
			Prescriber:  strPtr("Dr. Chen"),
			Pharmacy:    strPtr("Main St Pharmacy"),
			StartedAt:   time.Now().Add(-30 * 24 * time.Hour),
		}},
		appointments: []Appointment{{
			ID:          uuid.New(),
			RecipientID: father.ID,
			Title:       "Cardiology checkup",
			ScheduledAt: time.Now().Add(3 * 24 * time.Hour),
			Location:    "Riverside Clinic",
			Provider:    strPtr("Dr. Chen"),
		}},
		measurements: []Measurement{{
			ID:          uuid.New(),
			RecipientID: father.ID,
			Kind:        "blood pressure",
			Value:       "138/82",
			Unit:        "mmHg",
			TakenAt:     time.Now().Add(-24 * time.Hour),
			Notes:       strPtr("after morning walk"),
		}},
		caregivers: []Caregiver{{
			ID:          uuid.New(),
			RecipientID: father.ID,
			Name:        "Maria Lopez",
			Role:        "home aide",
			Phone:       strPtr("555-0142"),
			Active:      true,
		}},
	}
}

var (
	localAdapter = inference.Descriptor{ID: "llama3.1:8b", Kind: inference.KindLocal}
	cloudAdapter = inference.Descriptor{ID: "gpt-4o-mini", Kind: inference.KindCloud}
)

func TestGenerateContextualPrompt_FullTierIncludesSensitiveFields(t *testing.T) {
	p := NewContextProvider(careRecordsFixture(), NewTrustPolicy(nil), nil)

	out := p.GenerateContextualPrompt(context.Background(), localAdapter, "what medications is dad on?")
	require.NotEmpty(t, out)

	assert.Contains(t, out, "Lisinopril 10mg, once daily")
	assert.Contains(t, out, "Dr. Chen")
	assert.Contains(t, out, "Main St Pharmacy")
	assert.Contains(t, out, "MRN-4417")
	assert.Contains(t, out, "after morning walk")
	assert.Contains(t, out, "555-0142")
}

func TestGenerateContextualPrompt_BasicTierOmitsSensitiveFields(t *testing.T) {
	p := NewContextProvider(careRecordsFixture(), NewTrustPolicy(nil), nil)

	out := p.GenerateContextualPrompt(context.Background(), cloudAdapter, "what medications is dad on?")
	require.NotEmpty(t, out)

	// Core facts stay visible.
	assert.Contains(t, out, "Lisinopril 10mg, once daily")
	assert.Contains(t, out, "138/82")
	assert.Contains(t, out, "Cardiology checkup")
	assert.Contains(t, out, "Maria Lopez")

	// Sensitive fields are withheld from non-allow-listed cloud adapters.
	assert.NotContains(t, out, "Dr. Chen")
	assert.NotContains(t, out, "Main St Pharmacy")
	assert.NotContains(t, out, "MRN-4417")
	assert.NotContains(t, out, "after morning walk")
	assert.NotContains(t, out, "555-0142")
}

func TestGenerateContextualPrompt_AllowListedCloudGetsFullTier(t *testing.T) {
	p := NewContextProvider(careRecordsFixture(), NewTrustPolicy([]string{cloudAdapter.ID}), nil)

	out := p.GenerateContextualPrompt(context.Background(), cloudAdapter, "what medications is dad on?")
	assert.Contains(t, out, "Dr. Chen")
	assert.Contains(t, out, "MRN-4417")
}

func TestGenerateContextualPrompt_GreetingContributesNothing(t *testing.T) {
	p := NewContextProvider(careRecordsFixture(), NewTrustPolicy(nil), nil)

	for _, q := range []string{"hi", "Hello!", "  good morning  ", "thanks", ""} {
		assert.Empty(t, p.GenerateContextualPrompt(context.Background(), localAdapter, q))
	}
}

func TestGenerateContextualPrompt_RecipientLookupFailureDegrades(t *testing.T) {
	repo := careRecordsFixture()
	repo.recipientsErr = errors.New("connection refused")
	p := NewContextProvider(repo, NewTrustPolicy(nil), nil)

	assert.Empty(t, p.GenerateContextualPrompt(context.Background(), localAdapter, "what medications is dad on?"))
}

func TestGenerateContextualPrompt_SectionFailureLeavesOtherSections(t *testing.T) {
	repo := careRecordsFixture()
	repo.medicationsErr = errors.New("timeout")
	p := NewContextProvider(repo, NewTrustPolicy(nil), nil)

	out := p.GenerateContextualPrompt(context.Background(), localAdapter, "what medications is dad on?")
	require.NotEmpty(t, out)
	assert.NotContains(t, out, "Lisinopril")
	assert.Contains(t, out, "Cardiology checkup")
	assert.Contains(t, out, "138/82")
}

func TestGenerateContextualPrompt_NoRecipients(t *testing.T) {
	p := NewContextProvider(&fakeRecordRepo{}, NewTrustPolicy(nil), nil)

	assert.Empty(t, p.GenerateContextualPrompt(context.Background(), localAdapter, "what medications is dad on?"))
}

func TestGenerateContextualPrompt_AlwaysCarriesGuardrails(t *testing.T) {
	p := NewContextProvider(careRecordsFixture(), NewTrustPolicy(nil), nil)

	for _, desc := range []inference.Descriptor{localAdapter, cloudAdapter} {
		out := p.GenerateContextualPrompt(context.Background(), desc, "how is dad doing?")
		assert.Contains(t, out, "consulting a healthcare professional")
	}
}

type fakeAuditSink struct {
	mu     sync.Mutex
	events []nats.AuditEvent
}

func (f *fakeAuditSink) PublishAuditEvent(ctx context.Context, event nats.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditSink) published() []nats.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]nats.AuditEvent, len(f.events))
	copy(out, f.events)
	return out
}

func TestGenerateContextualPrompt_AuditsFullTierCloudDisclosure(t *testing.T) {
	sink := &fakeAuditSink{}
	p := NewContextProvider(careRecordsFixture(), NewTrustPolicy([]string{cloudAdapter.ID}), sink)

	out := p.GenerateContextualPrompt(context.Background(), cloudAdapter, "what medications is dad on?")
	require.NotEmpty(t, out)

	require.Eventually(t, func() bool {
		return len(sink.published()) == 1
	}, time.Second, 10*time.Millisecond)

	event := sink.published()[0]
	assert.Equal(t, "records.full_disclosure", event.Action)
	assert.Equal(t, cloudAdapter.ID, event.Adapter)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestGenerateContextualPrompt_NoAuditForLocalOrBasicTier(t *testing.T) {
	sink := &fakeAuditSink{}

	// Local adapters never leave the host.
	p := NewContextProvider(careRecordsFixture(), NewTrustPolicy(nil), sink)
	require.NotEmpty(t, p.GenerateContextualPrompt(context.Background(), localAdapter, "what medications is dad on?"))

	// Basic-tier cloud output discloses no sensitive fields.
	require.NotEmpty(t, p.GenerateContextualPrompt(context.Background(), cloudAdapter, "what medications is dad on?"))

	assert.Never(t, func() bool {
		return len(sink.published()) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}
