package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/outreachd/outreachd/internal/clock"
)

// SMTPConfig configures the relay submission client.
type SMTPConfig struct {
	Addr     string // host:port of the submission relay
	From     string // envelope and header From address
	Username string
	Password string
	StartTLS bool
}

// SMTPChannel delivers email through an authenticated submission relay.
type SMTPChannel struct {
	cfg    SMTPConfig
	clock  clock.Clock
	logger *slog.Logger
}

// NewSMTPChannel creates the email channel.
func NewSMTPChannel(cfg SMTPConfig, clk clock.Clock, logger *slog.Logger) *SMTPChannel {
	return &SMTPChannel{
		cfg:    cfg,
		clock:  clk,
		logger: logger.With("component", "smtp_channel"),
	}
}

// Send submits one message to the relay and returns its Message-ID.
func (c *SMTPChannel) Send(ctx context.Context, to string, content Content) (string, error) {
	msgID := fmt.Sprintf("<%s@%s>", uuid.New().String(), extractDomain(c.cfg.From))
	data := buildMessage(c.cfg.From, to, msgID, content, c.clock.Now())

	var (
		client *smtp.Client
		err    error
	)
	if c.cfg.StartTLS {
		client, err = smtp.DialStartTLS(c.cfg.Addr, nil)
	} else {
		client, err = smtp.Dial(c.cfg.Addr)
	}
	if err != nil {
		return "", &DeliveryError{Temporary: true, Message: fmt.Sprintf("failed to connect to relay: %v", err)}
	}
	defer client.Close()

	if deadline, ok := ctx.Deadline(); ok {
		client.CommandTimeout = time.Until(deadline)
		client.SubmissionTimeout = time.Until(deadline)
	}

	if c.cfg.Username != "" {
		auth := sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return "", &DeliveryError{Temporary: false, Message: fmt.Sprintf("relay auth failed: %v", err)}
		}
	}

	if err := client.SendMail(c.cfg.From, []string{to}, bytes.NewReader(data)); err != nil {
		return "", classifySMTPError(err)
	}

	if err := client.Quit(); err != nil {
		c.logger.Debug("relay quit failed", "error", err)
	}

	c.logger.Debug("message submitted", "to", to, "message_id", msgID)
	return msgID, nil
}

// buildMessage constructs RFC 5322 message data.
func buildMessage(from, to, msgID string, content Content, now time.Time) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", content.Subject))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: %s\r\n", msgID))

	if content.HTML != "" {
		boundary := uuid.New().String()
		buf.WriteString("MIME-Version: 1.0\r\n")
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
		buf.WriteString("\r\n")

		if content.Text != "" {
			buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
			buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
			buf.WriteString("\r\n")
			buf.WriteString(content.Text)
			buf.WriteString("\r\n")
		}

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(content.HTML)
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	} else {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(content.Text)
	}

	return buf.Bytes()
}

// classifySMTPError maps an SMTP status to a DeliveryError. 4xx codes are
// temporary, 5xx permanent; anything unclassified is treated as temporary.
func classifySMTPError(err error) error {
	if smtpErr, ok := err.(*smtp.SMTPError); ok {
		return &DeliveryError{
			Temporary: smtpErr.Code >= 400 && smtpErr.Code < 500,
			Message:   fmt.Sprintf("relay rejected message: %d %s", smtpErr.Code, smtpErr.Message),
		}
	}
	return &DeliveryError{Temporary: true, Message: err.Error()}
}

// extractDomain extracts the domain from an email address.
func extractDomain(email string) string {
	addr, err := mail.ParseAddress(email)
	if err == nil {
		email = addr.Address
	}
	parts := strings.Split(email, "@")
	if len(parts) == 2 {
		return parts[1]
	}
	return "localhost"
}
