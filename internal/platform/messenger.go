package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/settings"
)

// WhatsAppLink returns the wa.me deep link that opens a chat with contact
// prefilled with message. Spaces are encoded as %20.
func WhatsAppLink(contact, message string) string {
	text := strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
	return "https://wa.me/" + settings.StripSpace(contact) + "?text=" + text
}

// LogMessenger "sends" by logging the deep link a device would open.
type LogMessenger struct {
	log *zap.Logger
}

// NewLogMessenger creates a messenger that writes to log.
func NewLogMessenger(log *zap.Logger) *LogMessenger {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMessenger{log: log}
}

func (m *LogMessenger) Send(ctx context.Context, contact, message string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Delivery(contact, err)
	}
	m.log.Warn("SOS alert", zap.String("contact", contact), zap.String("link", WhatsAppLink(contact, message)))
	return nil
}

// WebhookMessenger posts each alert as JSON to a URL.
type WebhookMessenger struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewWebhookMessenger creates a messenger posting to url, each request
// bounded by timeout.
func NewWebhookMessenger(url string, timeout time.Duration) *WebhookMessenger {
	return &WebhookMessenger{url: url, timeout: timeout, client: &http.Client{}}
}

// WebhookPayload is the body posted for each alert.
type WebhookPayload struct {
	Contact string `json:"contact"`
	Message string `json:"message"`
	Link    string `json:"link"`
}

func (m *WebhookMessenger) Send(ctx context.Context, contact, message string) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	body, err := json.Marshal(WebhookPayload{
		Contact: contact,
		Message: message,
		Link:    WhatsAppLink(contact, message),
	})
	if err != nil {
		return apperrors.Delivery(contact, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return apperrors.Delivery(contact, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return apperrors.Delivery(contact, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.Delivery(contact, fmt.Errorf("webhook returned %s", resp.Status))
	}
	return nil
}
