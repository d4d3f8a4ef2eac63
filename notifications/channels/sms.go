package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relay/notifications"
)

// SMSAdapter sends SMS notifications through a provider HTTP API.
type SMSAdapter struct {
	config SMSConfig
	client *http.Client
}

// SMSConfig holds SMS adapter configuration
type SMSConfig struct {
	APIEndpoint string
	AccountSID  string
	AuthToken   string
	FromNumber  string
	Timeout     time.Duration
}

// NewSMSAdapter creates a new SMS adapter
func NewSMSAdapter(config SMSConfig) *SMSAdapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &SMSAdapter{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Send posts the message to the provider. The recipient must be an
// E.164-shaped phone number; provider rejection of the number is fatal.
func (sa *SMSAdapter) Send(ctx context.Context, notification *notifications.Notification) (*notifications.Outcome, error) {
	recipient := strings.TrimSpace(notification.Recipient)
	if !strings.HasPrefix(recipient, "+") || len(recipient) < 8 {
		return nil, notifications.FatalError(fmt.Errorf("invalid phone number %q", recipient))
	}

	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", sa.config.FromNumber)
	form.Set("Body", notification.Content)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sa.config.APIEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, notifications.FatalError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(sa.config.AccountSID, sa.config.AuthToken)

	resp, err := sa.client.Do(req)
	if err != nil {
		return nil, notifications.RetriableError(fmt.Errorf("sms request failed: %w", err))
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &notifications.Outcome{ProviderID: messageSID(body)}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, notifications.FatalError(fmt.Errorf("sms provider rejected message: %d %s", resp.StatusCode, string(body)))
	default:
		return nil, notifications.RetriableError(fmt.Errorf("sms provider error: %d", resp.StatusCode))
	}
}

// Channel returns the channel type
func (sa *SMSAdapter) Channel() notifications.NotificationType {
	return notifications.TypeSMS
}

// Name returns the provider name
func (sa *SMSAdapter) Name() string {
	return "sms"
}

func messageSID(body []byte) string {
	var parsed struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.SID
}
