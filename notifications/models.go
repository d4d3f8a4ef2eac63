package notifications

import (
	"time"

	"github.com/google/uuid"
	"relay/core"
)

// NotificationType represents the delivery channel
type NotificationType string

const (
	TypeEmail   NotificationType = "email"
	TypePush    NotificationType = "push"
	TypeInApp   NotificationType = "in_app"
	TypeWebhook NotificationType = "webhook"
	TypeSMS     NotificationType = "sms"
)

// NotificationStatus represents the current status of a notification
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusSending   NotificationStatus = "sending"
	StatusSent      NotificationStatus = "sent"
	StatusDelivered NotificationStatus = "delivered"
	StatusFailed    NotificationStatus = "failed"
	StatusCancelled NotificationStatus = "cancelled"
)

// NotificationPriority represents the priority level
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// statusTransitions enumerates the legal edges of the lifecycle state
// machine. A retriable failure requeues sending back to pending.
var statusTransitions = map[NotificationStatus][]NotificationStatus{
	StatusPending: {StatusSending, StatusCancelled},
	StatusSending: {StatusSent, StatusFailed, StatusPending},
	StatusSent:    {StatusDelivered, StatusFailed},
}

// CanTransition reports whether moving from one status to another is a
// legal edge. Delivered, failed and cancelled are terminal.
func CanTransition(from, to NotificationStatus) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func (s NotificationStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusCancelled
}

// Weight orders priorities for scheduling: urgent before high before
// normal before low.
func (p NotificationPriority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// priorityOrderExpr is the SQL ordering used by the scheduler so that
// priority ranks numerically rather than lexically.
const priorityOrderExpr = "CASE priority WHEN 'urgent' THEN 3 WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END DESC, created_at ASC"

// Notification represents a notification record
type Notification struct {
	core.BaseModel

	Type     NotificationType     `gorm:"type:varchar(20);not null;index" json:"type"`
	Priority NotificationPriority `gorm:"type:varchar(20);default:'normal';index" json:"priority"`
	Status   NotificationStatus   `gorm:"type:varchar(20);default:'pending';index" json:"status"`

	// Channel-specific address: email, user id, device token or URL
	Recipient string `gorm:"type:varchar(500);not null;index" json:"recipient"`

	// Bodies are rendered at admission so retries stay deterministic
	// even if the template mutates later.
	Subject     string `gorm:"type:text" json:"subject,omitempty"`
	Content     string `gorm:"type:text" json:"content"`
	ContentHTML string `gorm:"type:text" json:"content_html,omitempty"`

	TemplateID *uuid.UUID `gorm:"type:uuid;index" json:"template_id,omitempty"`
	Variables  core.JSONB `gorm:"type:jsonb" json:"variables,omitempty"`

	// Scheduling
	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at,omitempty"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at,omitempty"`

	// Retry mechanism
	RetryCount   int    `gorm:"default:0" json:"retry_count"`
	MaxRetries   int    `gorm:"default:3" json:"max_retries"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	BatchID *uuid.UUID `gorm:"type:uuid;index" json:"batch_id,omitempty"`

	// Provider tracking
	ProviderID string `gorm:"type:varchar(255);index" json:"provider_id,omitempty"`

	// Lifecycle timestamps
	SentAt      *time.Time `gorm:"index" json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	Metadata core.JSONB `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// NotificationTemplate represents reusable notification templates
type NotificationTemplate struct {
	core.BaseModel

	Name        string           `gorm:"type:varchar(255);not null;uniqueIndex" json:"name"`
	Type        NotificationType `gorm:"type:varchar(20);not null;index" json:"type"`
	Subject     string           `gorm:"type:text" json:"subject,omitempty"`
	Content     string           `gorm:"type:text;not null" json:"content"`
	ContentHTML string           `gorm:"type:text" json:"content_html,omitempty"`

	// Declarative list of variable names the body may interpolate
	Variables []string `gorm:"serializer:json" json:"variables,omitempty"`
}

// NotificationBatch represents a batch of notifications sent together
type NotificationBatch struct {
	core.BaseModel

	TemplateID *uuid.UUID       `gorm:"type:uuid" json:"template_id,omitempty"`
	Type       NotificationType `gorm:"type:varchar(20);not null;index" json:"type"`

	// Counters are monotonically non-decreasing
	TotalCount     int `gorm:"default:0" json:"total_count"`
	SentCount      int `gorm:"default:0" json:"sent_count"`
	DeliveredCount int `gorm:"default:0" json:"delivered_count"`
	FailedCount    int `gorm:"default:0" json:"failed_count"`

	Status      string     `gorm:"type:varchar(20);default:'processing';index" json:"status"`
	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// InAppNotification is a per-user inbox row produced by in-app fan-out
type InAppNotification struct {
	core.BaseModel

	UserID   string `gorm:"type:varchar(255);not null;index" json:"user_id"`
	Title    string `gorm:"type:varchar(500)" json:"title"`
	Message  string `gorm:"type:text;not null" json:"message"`
	Type     string `gorm:"type:varchar(50);index" json:"type,omitempty"`
	Category string `gorm:"type:varchar(50);index" json:"category,omitempty"`

	Priority NotificationPriority `gorm:"type:varchar(20);default:'normal'" json:"priority"`

	ActionType string     `gorm:"type:varchar(50)" json:"action_type,omitempty"`
	ActionURL  string     `gorm:"type:varchar(500)" json:"action_url,omitempty"`
	ActionData core.JSONB `gorm:"type:jsonb" json:"action_data,omitempty"`

	IsRead     bool `gorm:"default:false;index" json:"is_read"`
	IsArchived bool `gorm:"default:false;index" json:"is_archived"`

	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
}

// PushSubscription represents a registered push device
type PushSubscription struct {
	core.BaseModel

	UserID      string `gorm:"type:varchar(255);not null;index:idx_push_sub_unique,unique" json:"user_id"`
	DeviceToken string `gorm:"type:varchar(500);not null;index:idx_push_sub_unique,unique" json:"device_token"`
	Platform    string `gorm:"type:varchar(20);not null;index:idx_push_sub_unique,unique" json:"platform"` // ios, android, web

	Endpoint string `gorm:"type:varchar(1000)" json:"endpoint,omitempty"`

	// Web-push encryption keys
	P256dh string `gorm:"type:varchar(255)" json:"p256dh,omitempty"`
	Auth   string `gorm:"type:varchar(255)" json:"auth,omitempty"`

	Topics []string `gorm:"serializer:json" json:"topics,omitempty"`

	IsActive   bool       `gorm:"default:true;index" json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// NotificationPreference represents user opt-outs per channel
type NotificationPreference struct {
	core.BaseModel

	UserID string           `gorm:"type:varchar(255);not null;index:idx_notif_pref_unique,unique" json:"user_id"`
	Type   NotificationType `gorm:"type:varchar(20);not null;index:idx_notif_pref_unique,unique" json:"type"`

	IsEnabled bool `gorm:"default:true" json:"is_enabled"`

	// Quiet hours, expressed as "15:04" UTC strings
	QuietHoursStart string `gorm:"type:varchar(5)" json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string `gorm:"type:varchar(5)" json:"quiet_hours_end,omitempty"`
}

// TableName overrides
func (Notification) TableName() string {
	return "notifications"
}

func (NotificationTemplate) TableName() string {
	return "notification_templates"
}

func (NotificationBatch) TableName() string {
	return "notification_batches"
}

func (InAppNotification) TableName() string {
	return "in_app_notifications"
}

func (PushSubscription) TableName() string {
	return "push_subscriptions"
}

func (NotificationPreference) TableName() string {
	return "notification_preferences"
}

// GetModels returns all notification models for database migration
func GetModels() []interface{} {
	return []interface{}{
		&Notification{},
		&NotificationTemplate{},
		&NotificationBatch{},
		&InAppNotification{},
		&PushSubscription{},
		&NotificationPreference{},
	}
}
