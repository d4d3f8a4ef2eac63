package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gorm.io/gorm"

	"relay/notifications"
)

// PushAdapter delivers push notifications. The recipient is a user ID;
// the adapter fans out to every active device registration for that
// user through the provider's HTTP API.
type PushAdapter struct {
	db     *gorm.DB
	config PushConfig
	client *http.Client
}

// PushConfig holds push adapter configuration
type PushConfig struct {
	APIEndpoint string
	ServerKey   string
	Timeout     time.Duration
}

// NewPushAdapter creates a new push adapter
func NewPushAdapter(db *gorm.DB, config PushConfig) *PushAdapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &PushAdapter{
		db:     db,
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Send resolves the user's active subscriptions and pushes to each
// device. A user with no active devices is a fatal error. The send
// succeeds when at least one device accepts it; when none does, the last
// device's error is returned with its own retriable/fatal classification.
func (pa *PushAdapter) Send(ctx context.Context, notification *notifications.Notification) (*notifications.Outcome, error) {
	var subs []notifications.PushSubscription
	if err := pa.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", notification.Recipient, true).
		Find(&subs).Error; err != nil {
		return nil, notifications.RetriableError(fmt.Errorf("failed to resolve subscriptions: %w", err))
	}

	if len(subs) == 0 {
		return nil, notifications.FatalError(fmt.Errorf("no active push subscriptions for user %s", notification.Recipient))
	}

	var lastErr error
	delivered := 0
	for i := range subs {
		if err := pa.pushToDevice(ctx, &subs[i], notification); err != nil {
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 {
		if adapterErr, ok := lastErr.(*notifications.AdapterError); ok {
			return nil, adapterErr
		}
		return nil, notifications.RetriableError(lastErr)
	}

	return &notifications.Outcome{ProviderID: notification.ID.String()}, nil
}

// Channel returns the channel type
func (pa *PushAdapter) Channel() notifications.NotificationType {
	return notifications.TypePush
}

// Name returns the provider name
func (pa *PushAdapter) Name() string {
	return "fcm"
}

func (pa *PushAdapter) pushToDevice(ctx context.Context, sub *notifications.PushSubscription, notification *notifications.Notification) error {
	payload, err := json.Marshal(map[string]interface{}{
		"to": sub.DeviceToken,
		"notification": map[string]string{
			"title": notification.Subject,
			"body":  notification.Content,
		},
		"priority": string(notification.Priority),
	})
	if err != nil {
		return notifications.FatalError(fmt.Errorf("failed to marshal push payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pa.config.APIEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return notifications.FatalError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+pa.config.ServerKey)

	resp, err := pa.client.Do(req)
	if err != nil {
		return notifications.RetriableError(fmt.Errorf("push request failed: %w", err))
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// Stale token: deactivate the registration so future sends
		// skip it.
		pa.db.WithContext(ctx).Model(sub).Update("is_active", false)
		return notifications.FatalError(fmt.Errorf("device token no longer registered"))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return notifications.FatalError(fmt.Errorf("push provider rejected message: %d %s", resp.StatusCode, string(body)))
	default:
		return notifications.RetriableError(fmt.Errorf("push provider error: %d", resp.StatusCode))
	}
}
