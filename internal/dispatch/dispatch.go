package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/outreachd/outreachd/internal/campaign"
)

// Content is a rendered message ready for a channel.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

// Formatter renders message content for a template id. Rendering is a
// collaborator concern; the dispatcher only decides which template to
// request.
type Formatter interface {
	Format(templateID, recipientName, referralLink string) (Content, error)
}

// Channel is a single outbound delivery channel's send primitive. It returns
// the provider message id on success.
type Channel interface {
	Send(ctx context.Context, to string, content Content) (string, error)
}

// DeliveryError is a channel failure with permanence information.
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// Result is the structured outcome of one dispatch attempt. Channel errors
// never escape the dispatcher; they land here.
type Result struct {
	Success   bool
	MessageID string
	Error     string
}

// Dispatcher renders and sends one drip step over its channel.
type Dispatcher struct {
	formatter Formatter
	channel   Channel
	timeout   time.Duration
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher for the drip channel.
func NewDispatcher(formatter Formatter, channel Channel, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		formatter: formatter,
		channel:   channel,
		timeout:   timeout,
		logger:    logger.With("component", "dispatcher"),
	}
}

// SendStep renders the step's template snapshot and sends it to the
// schedule's recipient. All failures are converted into the result; SendStep
// never returns an error to the orchestrator.
func (d *Dispatcher) SendStep(ctx context.Context, sched *campaign.Schedule, step campaign.Step) Result {
	content, err := d.formatter.Format(step.TemplateID, sched.RecipientName, sched.ReferralLink)
	if err != nil {
		d.logger.Warn("content formatting failed",
			"schedule_id", sched.ID,
			"step", step.Key,
			"template", step.TemplateID,
			"error", err,
		)
		return Result{Error: err.Error()}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msgID, err := d.channel.Send(sendCtx, sched.RecipientAddress, content)
	if err != nil {
		d.logger.Warn("dispatch failed",
			"schedule_id", sched.ID,
			"step", step.Key,
			"recipient", sched.RecipientAddress,
			"error", err,
		)
		return Result{Error: err.Error()}
	}

	d.logger.Info("step dispatched",
		"schedule_id", sched.ID,
		"step", step.Key,
		"recipient", sched.RecipientAddress,
		"message_id", msgID,
	)
	return Result{Success: true, MessageID: msgID}
}
