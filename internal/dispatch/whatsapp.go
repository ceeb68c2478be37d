package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// WhatsAppConfig configures the messaging gateway client.
type WhatsAppConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// WhatsAppChannel delivers messages through an HTTP messaging gateway.
type WhatsAppChannel struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewWhatsAppChannel creates the secondary-channel client.
func NewWhatsAppChannel(cfg WhatsAppConfig, logger *slog.Logger) *WhatsAppChannel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &WhatsAppChannel{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With("component", "whatsapp_channel"),
	}
}

type gatewaySendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type gatewaySendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Send posts one message to the gateway. Subject-less channels only use the
// text body.
func (c *WhatsAppChannel) Send(ctx context.Context, to string, content Content) (string, error) {
	payload, err := json.Marshal(gatewaySendRequest{To: to, Body: content.Text})
	if err != nil {
		return "", fmt.Errorf("failed to encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &DeliveryError{Temporary: true, Message: fmt.Sprintf("gateway unreachable: %v", err)}
	}
	defer resp.Body.Close()

	var body gatewaySendResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && resp.StatusCode < 300 {
		return "", &DeliveryError{Temporary: true, Message: fmt.Sprintf("invalid gateway response: %v", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Debug("gateway message accepted", "to", to, "message_id", body.MessageID)
		return body.MessageID, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", &DeliveryError{Temporary: true, Message: gatewayErrMessage(resp.StatusCode, body.Error)}
	default:
		return "", &DeliveryError{Temporary: false, Message: gatewayErrMessage(resp.StatusCode, body.Error)}
	}
}

func gatewayErrMessage(status int, detail string) string {
	if detail == "" {
		return fmt.Sprintf("gateway returned status %d", status)
	}
	return fmt.Sprintf("gateway returned status %d: %s", status, detail)
}
