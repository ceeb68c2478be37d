package campaign

import "time"

// StepStatus represents the delivery state of a single drip step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepSent    StepStatus = "sent"
	StepSkipped StepStatus = "skipped" // attempted and failed, never retried
)

// Step is one time-offset outreach step inside a schedule. TemplateID is a
// snapshot of the registry entry at creation time, so later registry changes
// do not alter in-flight schedules.
type Step struct {
	Key         string     `json:"key"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	Status      StepStatus `json:"status"`
	TemplateID  string     `json:"template_id"`
}

// Schedule is a prospect-scoped drip campaign: a fixed-length ordered list of
// steps plus the lifecycle flags consumed by the due-step scanner.
type Schedule struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	RecipientName    string    `json:"recipient_name"`
	RecipientAddress string    `json:"recipient_address"`
	ReferralLink     string    `json:"referral_link,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	Paused           bool      `json:"paused"`
	OptedOut         bool      `json:"opted_out"`
	Steps            []Step    `json:"steps"`

	// Version counts step-state writes. The recorder bumps it on every
	// recorded outcome so overlapping batch invocations cannot both mark
	// the same step.
	Version int `json:"version"`
}

// DeliveryLogEntry is the append-only record of one dispatch attempt. The
// rate limiter counts these per owner over its rolling window.
type DeliveryLogEntry struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	ScheduleID       string    `json:"schedule_id"`
	StepKey          string    `json:"step_key"`
	AttemptedAt      time.Time `json:"attempted_at"`
	RecipientAddress string    `json:"recipient_address"`
	Success          bool      `json:"success"`
}
