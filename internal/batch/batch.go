// Package batch wires the due-step scanner, rate limiter, dispatcher and
// outcome recorder into the periodic drip invocation.
package batch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/outreachd/outreachd/internal/campaign"
	"github.com/outreachd/outreachd/internal/clock"
	"github.com/outreachd/outreachd/internal/dispatch"
	"github.com/outreachd/outreachd/internal/metrics"
	"github.com/outreachd/outreachd/internal/ratelimit"
)

// Summary is the aggregate result of one drip batch invocation. Processed
// counts every evaluated pair including rate-limited skips; Sent counts only
// successful dispatches.
type Summary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
}

// Orchestrator runs the drip batch: scan, per-pair limit check, dispatch,
// record. Pairs are processed sequentially; a failure local to one pair
// never aborts the rest of the batch.
type Orchestrator struct {
	scanner    *campaign.Scanner
	limiter    *ratelimit.Limiter
	dispatcher *dispatch.Dispatcher
	recorder   *campaign.Recorder
	clock      clock.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewOrchestrator creates a drip batch orchestrator.
func NewOrchestrator(
	scanner *campaign.Scanner,
	limiter *ratelimit.Limiter,
	dispatcher *dispatch.Dispatcher,
	recorder *campaign.Recorder,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		scanner:    scanner,
		limiter:    limiter,
		dispatcher: dispatcher,
		recorder:   recorder,
		clock:      clk,
		metrics:    m,
		logger:     logger.With("component", "drip_batch"),
	}
}

// Run executes one batch invocation and returns the aggregate counts.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := o.clock.Now()
	var summary Summary

	due, err := o.scanner.DueSteps(ctx, start)
	if err != nil {
		return summary, err
	}

	for _, pair := range due {
		summary.Processed++
		o.metrics.StepsProcessedTotal.Inc()

		now := o.clock.Now()
		limited, err := o.limiter.IsLimited(ctx, pair.Schedule.OwnerID, now)
		if err != nil {
			// Store failure for this pair only; the step stays pending
			// and the batch moves on.
			o.logger.Error("rate limit check failed",
				"schedule_id", pair.Schedule.ID,
				"step", pair.Step.Key,
				"error", err,
			)
			continue
		}
		if limited {
			// Planned skip: no dispatch, no log entry, no state change.
			// The step is retried on the next invocation.
			o.metrics.StepsRateLimitedTotal.Inc()
			o.logger.Info("owner rate limited, skipping step",
				"owner_id", pair.Schedule.OwnerID,
				"schedule_id", pair.Schedule.ID,
				"step", pair.Step.Key,
			)
			continue
		}

		result := o.dispatcher.SendStep(ctx, pair.Schedule, pair.Step)

		if err := o.recorder.Record(ctx, pair.Schedule.ID, pair.Step.Key, result.Success, o.clock.Now()); err != nil {
			if errors.Is(err, campaign.ErrStepAlreadyRecorded) {
				o.logger.Warn("step recorded by an overlapping invocation",
					"schedule_id", pair.Schedule.ID,
					"step", pair.Step.Key,
				)
				continue
			}
			o.logger.Error("failed to record outcome",
				"schedule_id", pair.Schedule.ID,
				"step", pair.Step.Key,
				"error", err,
			)
			continue
		}

		if result.Success {
			summary.Sent++
			o.metrics.StepsSentTotal.Inc()
		} else {
			o.metrics.StepsSkippedTotal.Inc()
		}
	}

	elapsed := o.clock.Now().Sub(start)
	o.metrics.DripBatchSeconds.Observe(elapsed.Seconds())
	o.logger.Info("drip batch complete",
		"processed", summary.Processed,
		"sent", summary.Sent,
		"duration", elapsed,
	)
	return summary, nil
}
