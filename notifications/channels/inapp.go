package channels

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"relay/notifications"
)

// InAppAdapter is the local fan-out channel: instead of calling an
// external provider it inserts a row into the user's inbox.
type InAppAdapter struct {
	db *gorm.DB

	// markDelivered makes the adapter report synchronous delivery so
	// the pipeline transitions straight to delivered.
	markDelivered bool
}

// NewInAppAdapter creates a new in-app adapter
func NewInAppAdapter(db *gorm.DB, markDelivered bool) *InAppAdapter {
	return &InAppAdapter{db: db, markDelivered: markDelivered}
}

// Send inserts the inbox row. Store failures are retriable; the
// pipeline's optimistic transitions make replays safe.
func (ia *InAppAdapter) Send(ctx context.Context, notification *notifications.Notification) (*notifications.Outcome, error) {
	if notification.Recipient == "" {
		return nil, notifications.FatalError(fmt.Errorf("in-app notification requires a user id recipient"))
	}

	row := &notifications.InAppNotification{
		UserID:    notification.Recipient,
		Title:     notification.Subject,
		Message:   notification.Content,
		Type:      string(notifications.TypeInApp),
		Priority:  notification.Priority,
		ExpiresAt: notification.ExpiresAt,
	}

	if category, ok := notification.Metadata["category"].(string); ok {
		row.Category = category
	}
	if actionURL, ok := notification.Metadata["action_url"].(string); ok {
		row.ActionURL = actionURL
		row.ActionType = "link"
	}

	if err := ia.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, notifications.RetriableError(fmt.Errorf("failed to insert inbox row: %w", err))
	}

	return &notifications.Outcome{
		ProviderID: row.ID.String(),
		Delivered:  ia.markDelivered,
	}, nil
}

// Channel returns the channel type
func (ia *InAppAdapter) Channel() notifications.NotificationType {
	return notifications.TypeInApp
}

// Name returns the provider name
func (ia *InAppAdapter) Name() string {
	return "inbox"
}
