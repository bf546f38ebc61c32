package records

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/famcare-ai/famcare/internal/inference"
	"github.com/famcare-ai/famcare/internal/nats"
)

// Fetch caps for each record section.
const (
	medicationLimit   = 20
	appointmentLimit  = 10
	measurementLimit  = 15
	caregiverLimit    = 10
	appointmentWindow = 14 * 24 * time.Hour
	measurementWindow = 7 * 24 * time.Hour
)

// greetings that carry no record intent; the provider contributes nothing
// for these.
var greetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "yo": {}, "thanks": {}, "thank you": {},
	"good morning": {}, "good afternoon": {}, "good evening": {}, "good night": {},
	"how are you": {}, "bye": {}, "goodbye": {},
}

// AuditSink receives disclosure audit events. Publishing is best-effort;
// the turn never waits on it.
type AuditSink interface {
	PublishAuditEvent(ctx context.Context, event nats.AuditEvent) error
}

// ContextProvider renders a trust-tiered summary of the care records for
// inclusion in a system prompt. An empty return value means "omit this
// section", never an error: record context is optional enrichment and any
// failure degrades to contributing nothing.
type ContextProvider struct {
	repo   Repository
	policy *TrustPolicy
	audit  AuditSink
}

// NewContextProvider creates a ContextProvider. audit may be nil.
func NewContextProvider(repo Repository, policy *TrustPolicy, audit AuditSink) *ContextProvider {
	return &ContextProvider{repo: repo, policy: policy, audit: audit}
}

// GenerateContextualPrompt builds the record-context block for the given
// adapter and query. Sensitive fields are included only when the adapter's
// trust tier is full; the basic-tier rendering is a strict field subset of
// the full-tier one.
func (p *ContextProvider) GenerateContextualPrompt(ctx context.Context, desc inference.Descriptor, userQuery string) string {
	if !needsRecordContext(userQuery) {
		return ""
	}

	tier := p.policy.TierFor(desc)

	recipients, err := p.repo.ListRecipients(ctx)
	if err != nil {
		slog.Warn("records: listing recipients failed, omitting record context", "error", err)
		return ""
	}
	if len(recipients) == 0 {
		return ""
	}

	// Scope the record queries to the referenced subject when the query
	// names one; otherwise cover all recipients.
	var subjectID *uuid.UUID
	scoped := recipients
	if cands := ResolveSubject(userQuery, recipients); len(cands) > 0 {
		subjectID = &cands[0].Recipient.ID
		scoped = []Recipient{cands[0].Recipient}
	}

	// The four record sections are independent reads; fetch them
	// concurrently. A failed section is logged and left empty.
	var (
		wg    sync.WaitGroup
		meds  []Medication
		appts []Appointment
		ms    []Measurement
		cgs   []Caregiver
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		var err error
		if meds, err = p.repo.ActiveMedications(ctx, subjectID, medicationLimit); err != nil {
			slog.Warn("records: fetching medications failed", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		if appts, err = p.repo.UpcomingAppointments(ctx, subjectID, appointmentWindow, appointmentLimit); err != nil {
			slog.Warn("records: fetching appointments failed", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		if ms, err = p.repo.RecentMeasurements(ctx, subjectID, measurementWindow, measurementLimit); err != nil {
			slog.Warn("records: fetching measurements failed", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		if cgs, err = p.repo.ActiveCaregivers(ctx, subjectID, caregiverLimit); err != nil {
			slog.Warn("records: fetching caregivers failed", "error", err)
		}
	}()
	wg.Wait()

	names := recipientNames(recipients)
	full := tier == TierFull

	var b strings.Builder
	b.WriteString("## Family care records\n")

	fmt.Fprintf(&b, "\n### Family members (%d)\n", len(scoped))
	for _, r := range scoped {
		b.WriteString("- " + r.FullName + " (" + r.Relationship + ")")
		if r.DateOfBirth != nil {
			b.WriteString(", born " + r.DateOfBirth.Format("2006-01-02"))
		}
		if full && r.RecordNumber != nil {
			b.WriteString(", record #" + *r.RecordNumber)
		}
		if r.Conditions != "" {
			b.WriteString("\n  conditions: " + r.Conditions)
		}
		b.WriteByte('\n')
	}

	if len(meds) > 0 {
		fmt.Fprintf(&b, "\n### Active medications (%d)\n", len(meds))
		for _, m := range meds {
			b.WriteString("- " + m.Name + " " + m.Dosage + ", " + m.Schedule + forName(names, m.RecipientID))
			if full {
				if m.Prescriber != nil {
					b.WriteString(", prescribed by " + *m.Prescriber)
				}
				if m.Pharmacy != nil {
					b.WriteString(", filled at " + *m.Pharmacy)
				}
			}
			b.WriteByte('\n')
		}
	}

	if len(appts) > 0 {
		fmt.Fprintf(&b, "\n### Upcoming appointments (%d)\n", len(appts))
		for _, a := range appts {
			b.WriteString("- " + a.ScheduledAt.Format("2006-01-02 15:04") + " " + a.Title + forName(names, a.RecipientID))
			if a.Location != "" {
				b.WriteString(" at " + a.Location)
			}
			if full && a.Provider != nil {
				b.WriteString(", with " + *a.Provider)
			}
			b.WriteByte('\n')
		}
	}

	if len(ms) > 0 {
		fmt.Fprintf(&b, "\n### Recent measurements (%d)\n", len(ms))
		for _, m := range ms {
			b.WriteString("- " + m.TakenAt.Format("2006-01-02") + " " + m.Kind + ": " + m.Value)
			if m.Unit != "" {
				b.WriteString(" " + m.Unit)
			}
			b.WriteString(forName(names, m.RecipientID))
			if full && m.Notes != nil {
				b.WriteString(" (" + *m.Notes + ")")
			}
			b.WriteByte('\n')
		}
	}

	if len(cgs) > 0 {
		fmt.Fprintf(&b, "\n### Active caregivers (%d)\n", len(cgs))
		for _, c := range cgs {
			b.WriteString("- " + c.Name + " (" + c.Role + ")" + forName(names, c.RecipientID))
			if full && c.Phone != nil {
				b.WriteString(", " + *c.Phone)
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nRefer to family members naturally by name or relationship. " +
		"Stay within what the records state; do not frame responses as medical advice, " +
		"and recommend consulting a healthcare professional for medical decisions.")

	// A full-tier disclosure to a cloud adapter is the trust decision
	// worth an audit trail; local adapters never leave the host.
	if full && desc.Kind == inference.KindCloud {
		p.auditDisclosure(desc.ID, len(scoped))
	}

	return b.String()
}

func (p *ContextProvider) auditDisclosure(adapterID string, subjects int) {
	if p.audit == nil {
		return
	}
	event := nats.AuditEvent{
		Action:     "records.full_disclosure",
		Adapter:    adapterID,
		Detail:     fmt.Sprintf("%d family members in scope", subjects),
		OccurredAt: time.Now().UTC(),
	}
	// Fire and forget with a short deadline; the prompt never waits on
	// the event bus.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.audit.PublishAuditEvent(ctx, event); err != nil {
			slog.Warn("records: publishing audit event failed", "error", err)
		}
	}()
}

func needsRecordContext(userQuery string) bool {
	q := strings.ToLower(strings.TrimSpace(userQuery))
	q = strings.Trim(q, ".,!?")
	if q == "" {
		return false
	}
	_, trivial := greetings[q]
	return !trivial
}

func recipientNames(recipients []Recipient) map[uuid.UUID]string {
	names := make(map[uuid.UUID]string, len(recipients))
	for _, r := range recipients {
		names[r.ID] = r.FullName
	}
	return names
}

func forName(names map[uuid.UUID]string, id uuid.UUID) string {
	if name, ok := names[id]; ok {
		return " (" + name + ")"
	}
	return ""
}
