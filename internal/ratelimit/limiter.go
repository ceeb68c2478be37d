package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outreachd/outreachd/internal/campaign"
	"github.com/outreachd/outreachd/internal/store"
)

// Config contains rate limit values.
type Config struct {
	// Ceiling is the maximum number of dispatch attempts per owner inside
	// the rolling window.
	Ceiling int

	// Window is the trailing period the ceiling applies to.
	Window time.Duration
}

// DefaultConfig returns the stock 10-per-hour ceiling.
func DefaultConfig() Config {
	return Config{Ceiling: 10, Window: time.Hour}
}

// Limiter bounds outbound volume per owner by counting delivery-log entries
// inside a rolling window. The count covers every attempt, successful or
// not, so a run of failures still backs a sender off. The check is advisory:
// the orchestrator consults it before each dispatch, not once per batch.
type Limiter struct {
	store   store.Store
	ceiling int
	window  time.Duration
}

// New creates a limiter. Zero config fields fall back to defaults.
func New(st store.Store, cfg Config) *Limiter {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &Limiter{
		store:   st,
		ceiling: cfg.Ceiling,
		window:  cfg.Window,
	}
}

// IsLimited reports whether the owner has reached the ceiling within the
// trailing window ending at now.
func (l *Limiter) IsLimited(ctx context.Context, ownerID string, now time.Time) (bool, error) {
	count, err := l.count(ctx, ownerID, now)
	if err != nil {
		return false, err
	}
	return count >= l.ceiling, nil
}

// Count returns the owner's attempt count within the trailing window. It is
// exposed for the admin rate-limit endpoint.
func (l *Limiter) Count(ctx context.Context, ownerID string, now time.Time) (int, error) {
	return l.count(ctx, ownerID, now)
}

func (l *Limiter) count(ctx context.Context, ownerID string, now time.Time) (int, error) {
	cutoff := now.Add(-l.window)
	count := 0
	err := l.store.Scan(ctx, store.DeliveryLog, func(id string, raw []byte) error {
		var entry campaign.DeliveryLogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("failed to decode delivery log entry %s: %w", id, err)
		}
		if entry.OwnerID != ownerID {
			return nil
		}
		if entry.AttemptedAt.After(cutoff) && !entry.AttemptedAt.After(now) {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Ceiling returns the configured ceiling.
func (l *Limiter) Ceiling() int { return l.ceiling }

// Window returns the configured window.
func (l *Limiter) Window() time.Duration { return l.window }
