package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outreachd/outreachd/internal/store"
)

// DueStep pairs a schedule with one of its steps that is ready to dispatch.
type DueStep struct {
	Schedule *Schedule
	Step     Step
}

// Scanner finds due steps. It is a pure read: repeated scans with the same
// now return the same pairs and mutate nothing.
type Scanner struct {
	store store.Store
}

// NewScanner creates a due-step scanner.
func NewScanner(st store.Store) *Scanner {
	return &Scanner{store: st}
}

// DueSteps returns every (schedule, step) pair eligible at now: the schedule
// is neither paused nor opted out, and the step is pending, unattempted, and
// past its scheduled time. The store walks keys in byte order, so each
// eligible step is visited exactly once per scan and ordering is stable
// between scans.
func (s *Scanner) DueSteps(ctx context.Context, now time.Time) ([]DueStep, error) {
	var due []DueStep
	err := s.store.Scan(ctx, store.Schedules, func(id string, raw []byte) error {
		var sched Schedule
		if err := json.Unmarshal(raw, &sched); err != nil {
			return fmt.Errorf("failed to decode schedule %s: %w", id, err)
		}
		if sched.Paused || sched.OptedOut {
			return nil
		}
		for _, step := range sched.Steps {
			if step.Status != StepPending || step.SentAt != nil {
				continue
			}
			if step.ScheduledAt.After(now) {
				continue
			}
			schedCopy := sched
			due = append(due, DueStep{Schedule: &schedCopy, Step: step})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}
