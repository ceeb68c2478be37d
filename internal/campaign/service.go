package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/outreachd/outreachd/internal/clock"
	"github.com/outreachd/outreachd/internal/store"
)

// Service owns schedule creation and the pause/resume/opt-out lifecycle.
type Service struct {
	store    store.Store
	registry *Registry
	clock    clock.Clock
	logger   *slog.Logger
}

// NewService creates a schedule service.
func NewService(st store.Store, registry *Registry, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		registry: registry,
		clock:    clk,
		logger:   logger.With("component", "campaign"),
	}
}

// CreateParams are the inputs for enrolling a prospect.
type CreateParams struct {
	OwnerID          string
	RecipientName    string
	RecipientAddress string
	ReferralLink     string
}

// Create enrolls a prospect into the drip sequence. Each step's scheduled
// time is now + the registry offset; all steps start pending. Two schedules
// for the same recipient are independent; dedup is the caller's concern.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Schedule, error) {
	if p.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if p.RecipientAddress == "" {
		return nil, fmt.Errorf("recipient address is required")
	}

	now := s.clock.Now()
	defs := s.registry.Definitions()
	steps := make([]Step, len(defs))
	for i, d := range defs {
		steps[i] = Step{
			Key:         d.Key,
			ScheduledAt: now.Add(d.Offset),
			Status:      StepPending,
			TemplateID:  d.TemplateID,
		}
	}

	sched := &Schedule{
		ID:               uuid.New().String(),
		OwnerID:          p.OwnerID,
		RecipientName:    p.RecipientName,
		RecipientAddress: strings.ToLower(strings.TrimSpace(p.RecipientAddress)),
		ReferralLink:     p.ReferralLink,
		CreatedAt:        now,
		Steps:            steps,
	}

	if err := s.store.Put(ctx, store.Schedules, sched.ID, sched); err != nil {
		return nil, fmt.Errorf("failed to persist schedule: %w", err)
	}

	s.logger.Info("schedule created",
		"schedule_id", sched.ID,
		"owner_id", sched.OwnerID,
		"recipient", sched.RecipientAddress,
		"steps", len(steps),
	)

	return sched, nil
}

// Get returns a schedule by id.
func (s *Service) Get(ctx context.Context, id string) (*Schedule, error) {
	var sched Schedule
	if err := s.store.Get(ctx, store.Schedules, id, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

// ListByOwner returns all schedules for an owner, oldest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*Schedule, error) {
	var out []*Schedule
	err := s.store.Scan(ctx, store.Schedules, func(id string, raw []byte) error {
		var sched Schedule
		if err := json.Unmarshal(raw, &sched); err != nil {
			return fmt.Errorf("failed to decode schedule %s: %w", id, err)
		}
		if sched.OwnerID == ownerID {
			out = append(out, &sched)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Pause excludes the schedule from due-step scanning. Idempotent.
func (s *Service) Pause(ctx context.Context, id string) (*Schedule, error) {
	return s.updateFlags(ctx, id, func(sched *Schedule) {
		sched.Paused = true
	})
}

// Resume re-enables scanning for a paused schedule. On an opted-out schedule
// it is a no-op: opt-out is terminal and keeps the schedule paused.
func (s *Service) Resume(ctx context.Context, id string) (*Schedule, error) {
	return s.updateFlags(ctx, id, func(sched *Schedule) {
		if sched.OptedOut {
			return
		}
		sched.Paused = false
	})
}

// OptOut permanently removes the schedule from scanning. Sets both flags in
// one write; there is no way back.
func (s *Service) OptOut(ctx context.Context, id string) (*Schedule, error) {
	return s.updateFlags(ctx, id, func(sched *Schedule) {
		sched.OptedOut = true
		sched.Paused = true
	})
}

func (s *Service) updateFlags(ctx context.Context, id string, mutate func(*Schedule)) (*Schedule, error) {
	var updated *Schedule
	err := s.store.Update(ctx, store.Schedules, id, func(raw []byte) (any, error) {
		var sched Schedule
		if err := json.Unmarshal(raw, &sched); err != nil {
			return nil, fmt.Errorf("failed to decode schedule %s: %w", id, err)
		}
		mutate(&sched)
		updated = &sched
		return &sched, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("schedule flags updated",
		"schedule_id", id,
		"paused", updated.Paused,
		"opted_out", updated.OptedOut,
	)
	return updated, nil
}
