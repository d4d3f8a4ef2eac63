package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"relay/notifications"
)

// WebhookAdapter delivers notifications as signed HTTP POST callbacks.
type WebhookAdapter struct {
	config WebhookConfig
	client *http.Client
}

// WebhookConfig holds webhook adapter configuration
type WebhookConfig struct {
	// Signing secret for webhook verification
	SigningSecret string

	Timeout time.Duration

	// Headers to include in webhook requests
	CustomHeaders map[string]string
}

// NewWebhookAdapter creates a new webhook adapter
func NewWebhookAdapter(config WebhookConfig) *WebhookAdapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &WebhookAdapter{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Send posts the notification payload to the recipient URL. A 4xx
// response is fatal; network failures and 5xx responses are retriable.
// Retrying is owned by the delivery pipeline, not the adapter.
func (wa *WebhookAdapter) Send(ctx context.Context, notification *notifications.Notification) (*notifications.Outcome, error) {
	url := strings.TrimSpace(notification.Recipient)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, notifications.FatalError(fmt.Errorf("invalid webhook URL %q", url))
	}

	payload, err := json.Marshal(wa.buildPayload(notification))
	if err != nil {
		return nil, notifications.FatalError(fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, notifications.FatalError(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Relay-Notification-Service/1.0")

	for key, value := range wa.config.CustomHeaders {
		req.Header.Set(key, value)
	}

	if wa.config.SigningSecret != "" {
		req.Header.Set("X-Webhook-Signature", wa.sign(payload))
		req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	}

	resp, err := wa.client.Do(req)
	if err != nil {
		return nil, notifications.RetriableError(fmt.Errorf("webhook request failed: %w", err))
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &notifications.Outcome{ProviderID: notification.ID.String(), Delivered: true}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, notifications.FatalError(fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body)))
	default:
		return nil, notifications.RetriableError(fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body)))
	}
}

// Channel returns the channel type
func (wa *WebhookAdapter) Channel() notifications.NotificationType {
	return notifications.TypeWebhook
}

// Name returns the provider name
func (wa *WebhookAdapter) Name() string {
	return "webhook"
}

func (wa *WebhookAdapter) buildPayload(notification *notifications.Notification) map[string]interface{} {
	payload := map[string]interface{}{
		"id":         notification.ID.String(),
		"type":       string(notification.Type),
		"priority":   string(notification.Priority),
		"subject":    notification.Subject,
		"content":    notification.Content,
		"created_at": notification.CreatedAt,
		"sent_at":    time.Now().UTC(),
	}

	if len(notification.Metadata) > 0 {
		payload["metadata"] = notification.Metadata
	}

	return payload
}

func (wa *WebhookAdapter) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(wa.config.SigningSecret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature verifies a webhook signature (for incoming webhooks)
func VerifySignature(payload []byte, signature string, secret string) bool {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
