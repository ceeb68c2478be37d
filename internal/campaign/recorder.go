package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/outreachd/outreachd/internal/store"
)

// ErrStepAlreadyRecorded is returned when the step has already left pending,
// i.e. an overlapping invocation recorded it first.
var ErrStepAlreadyRecorded = errors.New("campaign: step already recorded")

// Recorder is the only writer of step state. It replaces the whole steps
// array inside one store transaction and appends one delivery-log entry per
// attempt. The re-read inside the transaction guards against overlapping
// batch invocations double-recording a step.
type Recorder struct {
	store  store.Store
	logger *slog.Logger
}

// NewRecorder creates an outcome recorder.
func NewRecorder(st store.Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  st,
		logger: logger.With("component", "recorder"),
	}
}

// Record marks the step sent or skipped, sets its attempt time, bumps the
// schedule version, and appends a DeliveryLogEntry. A step transitions out
// of pending exactly once; a second Record for the same step returns
// ErrStepAlreadyRecorded and writes nothing.
func (r *Recorder) Record(ctx context.Context, scheduleID, stepKey string, success bool, now time.Time) error {
	var entry DeliveryLogEntry

	err := r.store.Update(ctx, store.Schedules, scheduleID, func(raw []byte) (any, error) {
		var sched Schedule
		if err := json.Unmarshal(raw, &sched); err != nil {
			return nil, fmt.Errorf("failed to decode schedule %s: %w", scheduleID, err)
		}

		idx := -1
		for i := range sched.Steps {
			if sched.Steps[i].Key == stepKey {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("schedule %s has no step %q", scheduleID, stepKey)
		}
		if sched.Steps[idx].Status != StepPending {
			return nil, ErrStepAlreadyRecorded
		}

		steps := make([]Step, len(sched.Steps))
		copy(steps, sched.Steps)
		sentAt := now
		steps[idx].SentAt = &sentAt
		if success {
			steps[idx].Status = StepSent
		} else {
			steps[idx].Status = StepSkipped
		}
		sched.Steps = steps
		sched.Version++

		entry = DeliveryLogEntry{
			ID:               uuid.New().String(),
			OwnerID:          sched.OwnerID,
			ScheduleID:       sched.ID,
			StepKey:          stepKey,
			AttemptedAt:      now,
			RecipientAddress: sched.RecipientAddress,
			Success:          success,
		}

		return &sched, nil
	})
	if err != nil {
		return err
	}

	// The log write is outside the schedule transaction; losing an entry on
	// a crash here under-counts the rate limiter rather than corrupting
	// step state.
	logKey := LogKey(entry.AttemptedAt, entry.ID)
	if err := r.store.Put(ctx, store.DeliveryLog, logKey, &entry); err != nil {
		return fmt.Errorf("failed to append delivery log: %w", err)
	}

	r.logger.Info("dispatch outcome recorded",
		"schedule_id", scheduleID,
		"step", stepKey,
		"success", success,
	)
	return nil
}

// LogKey builds a time-ordered delivery-log key so scans walk entries in
// attempt order.
func LogKey(t time.Time, id string) string {
	return t.UTC().Format(time.RFC3339Nano) + ":" + id
}
