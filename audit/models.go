package audit

import (
	"time"

	"relay/core"
)

// EventType classifies an audit event
type EventType string

const (
	EventTypeUserLogin        EventType = "user_login"
	EventTypeUserLogout       EventType = "user_logout"
	EventTypeUserRegister     EventType = "user_register"
	EventTypeUserUpdate       EventType = "user_update"
	EventTypeUserDelete       EventType = "user_delete"
	EventTypePermissionGrant  EventType = "permission_grant"
	EventTypePermissionRevoke EventType = "permission_revoke"
	EventTypeResourceCreate   EventType = "resource_create"
	EventTypeResourceRead     EventType = "resource_read"
	EventTypeResourceUpdate   EventType = "resource_update"
	EventTypeResourceDelete   EventType = "resource_delete"
	EventTypeConfigChange     EventType = "config_change"
	EventTypeSecurityAlert    EventType = "security_alert"
	EventTypeSystemEvent      EventType = "system_event"
)

// Category groups audit events for retention purposes
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryDataAccess     Category = "data_access"
	CategoryConfiguration  Category = "configuration"
	CategorySystem         Category = "system"
	CategorySecurity       Category = "security"
	CategoryCompliance     Category = "compliance"
)

// Severity of an audit event
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EventStatus records whether the audited action succeeded
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
)

// Compliance flags. Stored uppercase, unlike the other enumerations.
const (
	ComplianceGDPR  = "GDPR"
	ComplianceSOX   = "SOX"
	ComplianceHIPAA = "HIPAA"
)

// Retention policies derived from category
const (
	Retention1Year  = "1_year"
	Retention3Years = "3_years"
	Retention7Years = "7_years"
)

// validEventTypes is the closed enumeration accepted by the write API.
var validEventTypes = map[EventType]struct{}{
	EventTypeUserLogin: {}, EventTypeUserLogout: {}, EventTypeUserRegister: {},
	EventTypeUserUpdate: {}, EventTypeUserDelete: {},
	EventTypePermissionGrant: {}, EventTypePermissionRevoke: {},
	EventTypeResourceCreate: {}, EventTypeResourceRead: {},
	EventTypeResourceUpdate: {}, EventTypeResourceDelete: {},
	EventTypeConfigChange: {}, EventTypeSecurityAlert: {}, EventTypeSystemEvent: {},
}

var validCategories = map[Category]struct{}{
	CategoryAuthentication: {}, CategoryAuthorization: {}, CategoryDataAccess: {},
	CategoryConfiguration: {}, CategorySystem: {}, CategorySecurity: {}, CategoryCompliance: {},
}

var validSeverities = map[Severity]struct{}{
	SeverityLow: {}, SeverityMedium: {}, SeverityHigh: {}, SeverityCritical: {},
}

// ValidEventType reports enum membership
func ValidEventType(t EventType) bool {
	_, ok := validEventTypes[t]
	return ok
}

// ValidCategory reports enum membership
func ValidCategory(c Category) bool {
	_, ok := validCategories[c]
	return ok
}

// ValidSeverity reports enum membership
func ValidSeverity(s Severity) bool {
	_, ok := validSeverities[s]
	return ok
}

// RetentionForCategory maps a category to its minimum retention.
func RetentionForCategory(category Category) string {
	switch category {
	case CategorySecurity, CategoryCompliance:
		return Retention7Years
	case CategoryAuthentication, CategoryAuthorization:
		return Retention3Years
	default:
		return Retention1Year
	}
}

// RetentionDuration converts a retention policy to its window.
func RetentionDuration(policy string) time.Duration {
	switch policy {
	case Retention7Years:
		return 7 * 365 * 24 * time.Hour
	case Retention3Years:
		return 3 * 365 * 24 * time.Hour
	default:
		return 365 * 24 * time.Hour
	}
}

// AuditEvent is one immutable audit trail row. There are no updates
// and no deletes except by retention cleanup.
type AuditEvent struct {
	core.BaseModel

	// EventID is the originating bus event id; the unique index makes
	// persistence idempotent under at-least-once delivery. Direct API
	// writes leave it empty.
	EventID *string `gorm:"type:varchar(64);uniqueIndex" json:"event_id,omitempty"`

	EventType EventType   `gorm:"type:varchar(50);not null;index:idx_audit_type_ts" json:"event_type"`
	Category  Category    `gorm:"type:varchar(50);not null;index" json:"category"`
	Severity  Severity    `gorm:"type:varchar(20);not null;index" json:"severity"`
	Status    EventStatus `gorm:"type:varchar(20);default:'success'" json:"status"`

	Action string `gorm:"type:varchar(255);not null" json:"action"`

	UserID         string `gorm:"type:varchar(255);index:idx_audit_user_ts" json:"user_id"`
	OrganizationID string `gorm:"type:varchar(255);index" json:"organization_id,omitempty"`

	ResourceType string `gorm:"type:varchar(100)" json:"resource_type,omitempty"`
	ResourceID   string `gorm:"type:varchar(255)" json:"resource_id,omitempty"`
	ResourceName string `gorm:"type:varchar(500)" json:"resource_name,omitempty"`

	Metadata core.JSONB `gorm:"type:jsonb" json:"metadata,omitempty"`
	Tags     []string   `gorm:"serializer:json" json:"tags,omitempty"`

	ComplianceFlags []string `gorm:"serializer:json" json:"compliance_flags,omitempty"`
	RetentionPolicy string   `gorm:"type:varchar(20);not null" json:"retention_policy"`

	// Timestamp is when the audited action occurred; CreatedAt is when
	// the row was written.
	Timestamp time.Time `gorm:"not null;index:idx_audit_user_ts;index:idx_audit_type_ts" json:"timestamp"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

// SecurityEventStatus is the investigation state
type SecurityEventStatus string

const (
	SecurityOpen          SecurityEventStatus = "open"
	SecurityInvestigating SecurityEventStatus = "investigating"
	SecurityResolved      SecurityEventStatus = "resolved"
	SecurityFalsePositive SecurityEventStatus = "false_positive"
)

// securityTransitions: open -> investigating -> resolved | false_positive;
// false_positive may reopen; resolved is terminal.
var securityTransitions = map[SecurityEventStatus][]SecurityEventStatus{
	SecurityOpen:          {SecurityInvestigating},
	SecurityInvestigating: {SecurityResolved, SecurityFalsePositive},
	SecurityFalsePositive: {SecurityOpen},
}

// CanTransitionSecurity reports whether an investigation state change
// is a legal edge.
func CanTransitionSecurity(from, to SecurityEventStatus) bool {
	for _, allowed := range securityTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SecurityEvent is an investigable security alert.
type SecurityEvent struct {
	core.BaseModel

	Title       string              `gorm:"type:varchar(500);not null" json:"title"`
	Description string              `gorm:"type:text" json:"description,omitempty"`
	Severity    Severity            `gorm:"type:varchar(20);not null;index" json:"severity"`
	Status      SecurityEventStatus `gorm:"type:varchar(20);default:'open';index" json:"status"`

	UserID       string  `gorm:"type:varchar(255);index" json:"user_id,omitempty"`
	AuditEventID *string `gorm:"type:varchar(64)" json:"audit_event_id,omitempty"`

	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `gorm:"type:varchar(255)" json:"resolved_by,omitempty"`

	Metadata core.JSONB `gorm:"type:jsonb" json:"metadata,omitempty"`
}

func (SecurityEvent) TableName() string {
	return "security_events"
}

// GetModels returns all audit models for database migration
func GetModels() []interface{} {
	return []interface{}{
		&AuditEvent{},
		&SecurityEvent{},
	}
}
