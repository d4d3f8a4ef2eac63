package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ChannelAdapter is the black-box sender behind one delivery channel.
// An adapter either returns an Outcome or an error; errors are
// classified retriable or fatal via AdapterError.
type ChannelAdapter interface {
	// Send attempts delivery of the notification.
	Send(ctx context.Context, notification *Notification) (*Outcome, error)

	// Channel returns the notification type this adapter handles.
	Channel() NotificationType

	// Name returns the provider name (e.g. "smtp", "fcm", "webhook").
	Name() string
}

// Outcome is a successful adapter result.
type Outcome struct {
	// ProviderID is the provider's message identifier, if any.
	ProviderID string `json:"provider_id,omitempty"`

	// Delivered is set by channels that complete delivery
	// synchronously (the local in-app adapter).
	Delivered bool `json:"delivered"`
}

// AdapterError wraps a channel failure with its retry classification.
// Transient provider errors are retriable; provider rejections of the
// recipient are fatal.
type AdapterError struct {
	Err       error
	Retriable bool
}

func (e *AdapterError) Error() string {
	return e.Err.Error()
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// RetriableError wraps err as a retriable adapter failure.
func RetriableError(err error) *AdapterError {
	return &AdapterError{Err: err, Retriable: true}
}

// FatalError wraps err as a non-retriable adapter failure.
func FatalError(err error) *AdapterError {
	return &AdapterError{Err: err, Retriable: false}
}

// IsRetriable reports whether a delivery error may be retried. Unknown
// error types are treated as retriable so transient infrastructure
// failures are not dropped.
func IsRetriable(err error) bool {
	if adapterErr, ok := err.(*AdapterError); ok {
		return adapterErr.Retriable
	}
	return true
}

// SendRequest represents a request to admit one notification
type SendRequest struct {
	Type     NotificationType     `json:"type" binding:"required"`
	Priority NotificationPriority `json:"priority,omitempty"`

	Recipient string `json:"recipient" binding:"required"`

	Subject     string `json:"subject,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentHTML string `json:"content_html,omitempty"`

	TemplateID *uuid.UUID             `json:"template_id,omitempty"`
	Variables  map[string]interface{} `json:"variables,omitempty"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	MaxRetries *int `json:"max_retries,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// BatchSendRequest represents a request to admit a batch
type BatchSendRequest struct {
	Type        NotificationType     `json:"type" binding:"required"`
	Priority    NotificationPriority `json:"priority,omitempty"`
	TemplateID  *uuid.UUID           `json:"template_id" binding:"required"`
	Recipients  []BatchRecipient     `json:"recipients" binding:"required,min=1,max=1000"`
	Subject     string               `json:"subject,omitempty"`
	ScheduledAt *time.Time           `json:"scheduled_at,omitempty"`
}

// BatchRecipient is one recipient of a batch with its own variables
type BatchRecipient struct {
	Recipient string                 `json:"recipient" binding:"required"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// BatchRowResult records the admission outcome for one batch recipient
type BatchRowResult struct {
	Recipient      string     `json:"recipient"`
	NotificationID *uuid.UUID `json:"notification_id,omitempty"`
	Success        bool       `json:"success"`
	Error          string     `json:"error,omitempty"`
}

// TemplateRequest represents a request to create a template
type TemplateRequest struct {
	Name        string           `json:"name" binding:"required"`
	Type        NotificationType `json:"type" binding:"required"`
	Subject     string           `json:"subject,omitempty"`
	Content     string           `json:"content" binding:"required"`
	ContentHTML string           `json:"content_html,omitempty"`
	Variables   []string         `json:"variables,omitempty"`
}

// PushSubscribeRequest represents a device registration
type PushSubscribeRequest struct {
	UserID      string   `json:"user_id" binding:"required"`
	DeviceToken string   `json:"device_token" binding:"required"`
	Platform    string   `json:"platform" binding:"required,oneof=ios android web"`
	Endpoint    string   `json:"endpoint,omitempty"`
	P256dh      string   `json:"p256dh,omitempty"`
	Auth        string   `json:"auth,omitempty"`
	Topics      []string `json:"topics,omitempty"`
}

// PreferenceRequest sets a user's channel preference
type PreferenceRequest struct {
	UserID          string           `json:"user_id" binding:"required"`
	Type            NotificationType `json:"type" binding:"required"`
	IsEnabled       *bool            `json:"is_enabled" binding:"required"`
	QuietHoursStart string           `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string           `json:"quiet_hours_end,omitempty"`
}

// StatsResult aggregates delivery counts over a window
type StatsResult struct {
	UserID      string           `json:"user_id,omitempty"`
	Period      string           `json:"period"`
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"by_status"`
	ByType      map[string]int64 `json:"by_type"`
	InAppTotal  int64            `json:"in_app_total"`
	InAppUnread int64            `json:"in_app_unread"`
}
