// Package escalation implements the single-step follow-up automation: once a
// record's eligibility window elapses, the prospect is escalated from email
// to the secondary messaging channel. It is independent of the multi-step
// drip registry and deliberately keeps different retry semantics: a failed
// escalation leaves the record eligible and is retried on the next run.
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/outreachd/outreachd/internal/clock"
	"github.com/outreachd/outreachd/internal/dispatch"
	"github.com/outreachd/outreachd/internal/metrics"
	"github.com/outreachd/outreachd/internal/store"
)

// Status is the linear progression of an outreach record. Error is a
// retry-eligible side state surfaced per attempt, never stored as the
// record's status.
type Status string

const (
	StatusEmailSent    Status = "email_sent"
	StatusWhatsAppSent Status = "whatsapp_sent"
	StatusOptedOut     Status = "opted_out"
	StatusError        Status = "error"
)

// ErrorEntry is one append-only failure note. The history accumulates across
// retries and is never cleared.
type ErrorEntry struct {
	At    time.Time `json:"at"`
	Error string    `json:"error"`
}

// Record tracks a single-channel follow-up for one prospect, keyed by the
// normalized recipient address.
type Record struct {
	ID                 string       `json:"id"`
	OwnerID            string       `json:"owner_id"`
	RecipientName      string       `json:"recipient_name"`
	RecipientAddress   string       `json:"recipient_address"`
	RecipientPhone     string       `json:"recipient_phone"`
	Status             Status       `json:"status"`
	FirstContactAt     time.Time    `json:"first_contact_at"`
	FollowUpEligibleAt time.Time    `json:"follow_up_eligible_at"`
	WhatsAppSentAt     *time.Time   `json:"whatsapp_sent_at,omitempty"`
	EscalatedAt        *time.Time   `json:"escalated_at,omitempty"`
	OptedOut           bool         `json:"opted_out"`
	ErrorHistory       []ErrorEntry `json:"error_history,omitempty"`
}

// Eligible reports whether the record should be escalated at now.
func (r *Record) Eligible(now time.Time) bool {
	return r.Status == StatusEmailSent &&
		!r.OptedOut &&
		r.WhatsAppSentAt == nil &&
		!r.FollowUpEligibleAt.After(now)
}

// Outcome is the per-record result of one escalation batch.
type Outcome struct {
	ID     string `json:"id"`
	Status Status `json:"status"` // whatsapp_sent or error
	Error  string `json:"error,omitempty"`
}

// Pipeline runs the escalation batch and owns record lifecycle writes.
type Pipeline struct {
	store         store.Store
	channel       dispatch.Channel
	formatter     dispatch.Formatter
	templateID    string
	followUpDelay time.Duration
	clock         clock.Clock
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewPipeline creates the escalation pipeline. templateID selects the
// follow-up message content; followUpDelay is the eligibility window applied
// when Create is not given an explicit one.
func NewPipeline(
	st store.Store,
	channel dispatch.Channel,
	formatter dispatch.Formatter,
	templateID string,
	followUpDelay time.Duration,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		store:         st,
		channel:       channel,
		formatter:     formatter,
		templateID:    templateID,
		followUpDelay: followUpDelay,
		clock:         clk,
		metrics:       m,
		logger:        logger.With("component", "escalation"),
	}
}

// CreateParams are the inputs for registering a contacted prospect.
type CreateParams struct {
	OwnerID            string
	RecipientName      string
	RecipientAddress   string
	RecipientPhone     string
	FollowUpEligibleAt time.Time
}

// Create registers an outreach record for a prospect whose first email went
// out upstream. Records are keyed by the normalized recipient address, so a
// repeat contact replaces the previous record.
func (p *Pipeline) Create(ctx context.Context, params CreateParams) (*Record, error) {
	if params.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if params.RecipientAddress == "" {
		return nil, fmt.Errorf("recipient address is required")
	}

	now := p.clock.Now()
	eligible := params.FollowUpEligibleAt
	if eligible.IsZero() {
		eligible = now.Add(p.followUpDelay)
	}

	rec := &Record{
		ID:                 strings.ToLower(strings.TrimSpace(params.RecipientAddress)),
		OwnerID:            params.OwnerID,
		RecipientName:      params.RecipientName,
		RecipientAddress:   strings.ToLower(strings.TrimSpace(params.RecipientAddress)),
		RecipientPhone:     params.RecipientPhone,
		Status:             StatusEmailSent,
		FirstContactAt:     now,
		FollowUpEligibleAt: eligible,
	}

	if err := p.store.Put(ctx, store.OutreachRecords, rec.ID, rec); err != nil {
		return nil, fmt.Errorf("failed to persist outreach record: %w", err)
	}

	p.logger.Info("outreach record created",
		"record_id", rec.ID,
		"owner_id", rec.OwnerID,
		"follow_up_eligible_at", rec.FollowUpEligibleAt,
	)
	return rec, nil
}

// Get returns a record by id (normalized recipient address).
func (p *Pipeline) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := p.store.Get(ctx, store.OutreachRecords, strings.ToLower(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// OptOut permanently removes the record from escalation eligibility.
func (p *Pipeline) OptOut(ctx context.Context, id string) (*Record, error) {
	var updated *Record
	err := p.store.Update(ctx, store.OutreachRecords, strings.ToLower(id), func(raw []byte) (any, error) {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode outreach record %s: %w", id, err)
		}
		rec.Status = StatusOptedOut
		rec.OptedOut = true
		updated = &rec
		return &rec, nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("outreach record opted out", "record_id", updated.ID)
	return updated, nil
}

// Run executes one escalation batch. For every eligible record it sends the
// follow-up over the secondary channel; success moves the record to
// whatsapp_sent, failure appends to the error history and leaves the status
// unchanged so the record stays eligible for the next run.
//
// When the store can commit batches atomically all outcomes are written as
// one multi-record commit; otherwise each record is written independently
// and a write failure on one record does not prevent the others.
func (p *Pipeline) Run(ctx context.Context) ([]Outcome, error) {
	now := p.clock.Now()

	eligible, err := p.scanEligible(ctx, now)
	if err != nil {
		return nil, err
	}

	var (
		outcomes  []Outcome
		mutations []store.Mutation
	)

	for _, rec := range eligible {
		outcome := p.escalate(ctx, rec, now)
		outcomes = append(outcomes, outcome)
		mutations = append(mutations, store.Mutation{
			Collection: store.OutreachRecords,
			ID:         rec.ID,
			Doc:        rec,
		})
	}

	if len(mutations) == 0 {
		return outcomes, nil
	}

	if bw, ok := p.store.(store.BatchWriter); ok {
		if err := bw.ApplyBatch(ctx, mutations); err != nil {
			return outcomes, fmt.Errorf("failed to commit escalation outcomes: %w", err)
		}
	} else {
		for _, m := range mutations {
			if err := p.store.Put(ctx, m.Collection, m.ID, m.Doc); err != nil {
				// Independent writes: record the failure and keep going.
				p.logger.Error("failed to persist escalation outcome",
					"record_id", m.ID,
					"error", err,
				)
			}
		}
	}

	p.logger.Info("escalation batch complete", "eligible", len(eligible))
	return outcomes, nil
}

// escalate attempts one record and mutates it in place.
func (p *Pipeline) escalate(ctx context.Context, rec *Record, now time.Time) Outcome {
	content, err := p.formatter.Format(p.templateID, rec.RecipientName, "")
	if err == nil {
		_, err = p.channel.Send(ctx, rec.RecipientPhone, content)
	}

	if err != nil {
		rec.ErrorHistory = append(rec.ErrorHistory, ErrorEntry{At: now, Error: err.Error()})
		p.metrics.EscalationsFailedTotal.Inc()
		p.logger.Warn("escalation attempt failed",
			"record_id", rec.ID,
			"error", err,
			"attempts", len(rec.ErrorHistory),
		)
		return Outcome{ID: rec.ID, Status: StatusError, Error: err.Error()}
	}

	sentAt := now
	rec.Status = StatusWhatsAppSent
	rec.WhatsAppSentAt = &sentAt
	rec.EscalatedAt = &sentAt
	p.metrics.EscalationsSentTotal.Inc()
	p.logger.Info("record escalated", "record_id", rec.ID)
	return Outcome{ID: rec.ID, Status: StatusWhatsAppSent}
}

func (p *Pipeline) scanEligible(ctx context.Context, now time.Time) ([]*Record, error) {
	var eligible []*Record
	err := p.store.Scan(ctx, store.OutreachRecords, func(id string, raw []byte) error {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("failed to decode outreach record %s: %w", id, err)
		}
		if rec.Eligible(now) {
			eligible = append(eligible, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return eligible, nil
}
