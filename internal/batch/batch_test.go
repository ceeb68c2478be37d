package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/outreachd/outreachd/internal/campaign"
	"github.com/outreachd/outreachd/internal/clock"
	"github.com/outreachd/outreachd/internal/dispatch"
	"github.com/outreachd/outreachd/internal/metrics"
	"github.com/outreachd/outreachd/internal/ratelimit"
	"github.com/outreachd/outreachd/internal/store"
)

// stubFormatter returns fixed content for any template.
type stubFormatter struct{}

func (stubFormatter) Format(templateID, recipientName, referralLink string) (dispatch.Content, error) {
	return dispatch.Content{Subject: templateID, Text: "hello " + recipientName}, nil
}

// stubChannel records sends and fails for configured recipients.
type stubChannel struct {
	failFor map[string]bool
	sent    []string
}

func (c *stubChannel) Send(ctx context.Context, to string, content dispatch.Content) (string, error) {
	if c.failFor[to] {
		return "", &dispatch.DeliveryError{Temporary: false, Message: "recipient rejected"}
	}
	c.sent = append(c.sent, to)
	return uuid.New().String(), nil
}

type fixture struct {
	store   store.Store
	clock   *clock.Fake
	service *campaign.Service
	channel *stubChannel
	batch   *Orchestrator
}

func setup(t *testing.T, t0 time.Time) *fixture {
	t.Helper()

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(t0)
	channel := &stubChannel{failFor: make(map[string]bool)}

	service := campaign.NewService(st, campaign.DefaultRegistry(), clk, logger)
	scanner := campaign.NewScanner(st)
	recorder := campaign.NewRecorder(st, logger)
	limiter := ratelimit.New(st, ratelimit.Config{Ceiling: 10, Window: time.Hour})
	dispatcher := dispatch.NewDispatcher(stubFormatter{}, channel, time.Second, logger)

	return &fixture{
		store:   st,
		clock:   clk,
		service: service,
		channel: channel,
		batch:   NewOrchestrator(scanner, limiter, dispatcher, recorder, clk, metrics.New(), logger),
	}
}

func (f *fixture) seedLogEntries(t *testing.T, ownerID string, n int, at time.Time) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < n; i++ {
		entry := campaign.DeliveryLogEntry{
			ID:          uuid.New().String(),
			OwnerID:     ownerID,
			ScheduleID:  fmt.Sprintf("seed%d", i),
			StepKey:     "day_0",
			AttemptedAt: at,
			Success:     true,
		}
		key := campaign.LogKey(entry.AttemptedAt, entry.ID)
		if err := f.store.Put(ctx, store.DeliveryLog, key, &entry); err != nil {
			t.Fatalf("failed to seed log entry: %v", err)
		}
	}
}

func (f *fixture) countLogEntries(t *testing.T) int {
	t.Helper()

	count := 0
	err := f.store.Scan(context.Background(), store.DeliveryLog, func(id string, raw []byte) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return count
}

func TestEmptyBatch(t *testing.T) {
	f := setup(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	summary, err := f.batch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 0 || summary.Sent != 0 {
		t.Errorf("expected {0 0}, got %+v", summary)
	}
	if got := f.countLogEntries(t); got != 0 {
		t.Errorf("empty batch must not write log entries, got %d", got)
	}
}

func TestAllStepsDue(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := setup(t, t0)
	ctx := context.Background()

	sched, err := f.service.Create(ctx, campaign.CreateParams{
		OwnerID:          "o",
		RecipientName:    "Ada",
		RecipientAddress: "ada@example.com",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	f.clock.Advance(11 * 24 * time.Hour)

	summary, err := f.batch.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 4 || summary.Sent != 4 {
		t.Errorf("expected {4 4}, got %+v", summary)
	}

	got, err := f.service.Get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	for _, step := range got.Steps {
		if step.Status != campaign.StepSent {
			t.Errorf("step %s: expected sent, got %s", step.Key, step.Status)
		}
	}
	if got := f.countLogEntries(t); got != 4 {
		t.Errorf("expected 4 log entries, got %d", got)
	}
}

func TestRateLimitedSkip(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := setup(t, t0)
	ctx := context.Background()

	sched, err := f.service.Create(ctx, campaign.CreateParams{
		OwnerID:          "p4",
		RecipientAddress: "a@b.c",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	f.seedLogEntries(t, "p4", 10, t0.Add(-10*time.Minute))

	summary, err := f.batch.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 || summary.Sent != 0 {
		t.Errorf("expected {1 0}, got %+v", summary)
	}

	// No dispatch, no log entry, no state change.
	if len(f.channel.sent) != 0 {
		t.Errorf("rate-limited pair must not be dispatched, sent %v", f.channel.sent)
	}
	if got := f.countLogEntries(t); got != 10 {
		t.Errorf("rate-limited skip must not append a log entry, got %d", got)
	}
	got, err := f.service.Get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Steps[0].Status != campaign.StepPending {
		t.Errorf("rate-limited step must stay pending, got %s", got.Steps[0].Status)
	}
}

func TestRateLimitRollsOffNextWindow(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := setup(t, t0)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, campaign.CreateParams{OwnerID: "p4", RecipientAddress: "a@b.c"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	f.seedLogEntries(t, "p4", 10, t0.Add(-10*time.Minute))

	f.clock.Advance(51 * time.Minute)

	summary, err := f.batch.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Sent != 1 {
		t.Errorf("expected first attempt after the window to send, got %+v", summary)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := setup(t, t0)
	ctx := context.Background()

	good1, err := f.service.Create(ctx, campaign.CreateParams{OwnerID: "o", RecipientAddress: "a@example.com"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	bad, err := f.service.Create(ctx, campaign.CreateParams{OwnerID: "o", RecipientAddress: "bad@example.com"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	good2, err := f.service.Create(ctx, campaign.CreateParams{OwnerID: "o", RecipientAddress: "c@example.com"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	f.channel.failFor["bad@example.com"] = true
	f.clock.Advance(time.Minute) // only day_0 steps due

	summary, err := f.batch.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 3 {
		t.Errorf("expected 3 processed, got %d", summary.Processed)
	}
	if summary.Sent != 2 {
		t.Errorf("expected 2 sent, got %d", summary.Sent)
	}

	// The failed pair is recorded skipped; the others sent.
	for _, tc := range []struct {
		id   string
		want campaign.StepStatus
	}{
		{good1.ID, campaign.StepSent},
		{bad.ID, campaign.StepSkipped},
		{good2.ID, campaign.StepSent},
	} {
		got, err := f.service.Get(ctx, tc.id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Steps[0].Status != tc.want {
			t.Errorf("schedule %s: expected %s, got %s", tc.id, tc.want, got.Steps[0].Status)
		}
	}

	// All three attempts are logged, including the failure.
	if got := f.countLogEntries(t); got != 3 {
		t.Errorf("expected 3 log entries, got %d", got)
	}
}

func TestFailedStepIsNotRetried(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := setup(t, t0)
	ctx := context.Background()

	sched, err := f.service.Create(ctx, campaign.CreateParams{OwnerID: "o", RecipientAddress: "bad@example.com"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	f.channel.failFor["bad@example.com"] = true
	f.clock.Advance(time.Minute)

	if _, err := f.batch.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Channel recovers, but the skipped step must not be retried.
	f.channel.failFor["bad@example.com"] = false
	f.clock.Advance(time.Minute)

	summary, err := f.batch.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 0 {
		t.Errorf("skipped step must not be due again, got %+v", summary)
	}

	got, err := f.service.Get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Steps[0].Status != campaign.StepSkipped {
		t.Errorf("expected skipped, got %s", got.Steps[0].Status)
	}
}

func TestPausedScheduleNotProcessed(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := setup(t, t0)
	ctx := context.Background()

	sched, err := f.service.Create(ctx, campaign.CreateParams{OwnerID: "o", RecipientAddress: "a@b.c"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.service.Pause(ctx, sched.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	f.clock.Advance(time.Minute)

	summary, err := f.batch.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 0 {
		t.Errorf("paused schedule must not be processed, got %+v", summary)
	}
}

func TestRecordedOutcomesSurviveRestartOfBatch(t *testing.T) {
	// A second run over the same store must only pick up what is still pending.
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := setup(t, t0)
	ctx := context.Background()

	sched, err := f.service.Create(ctx, campaign.CreateParams{OwnerID: "o", RecipientAddress: "a@b.c"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	f.clock.Advance(time.Minute)
	if _, err := f.batch.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	summary, err := f.batch.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 0 {
		t.Errorf("second run must find nothing due, got %+v", summary)
	}

	var raw json.RawMessage
	if err := f.store.Get(ctx, store.Schedules, sched.ID, &raw); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
}
