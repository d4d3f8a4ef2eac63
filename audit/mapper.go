package audit

import (
	"strings"
	"time"

	"relay/bus"
)

// MapEvent maps a bus envelope onto the canonical audit model,
// deriving classification, compliance flags and retention.
func MapEvent(event *bus.Event) *AuditEvent {
	domain, action := splitSubject(event.Type)

	eventType := deriveEventType(domain, action)
	category := deriveCategory(domain, action)
	severity := deriveSeverity(event.Type)

	audit := &AuditEvent{
		EventID:   stringPtrOrNil(event.ID),
		EventType: eventType,
		Category:  category,
		Severity:  severity,
		Status:    EventStatusSuccess,
		Action:    event.Type,
		UserID:    deriveUserID(event),
		Timestamp: eventTimestamp(event),
	}

	audit.OrganizationID = event.DataString("organization_id")
	audit.ResourceType = domain
	audit.ResourceID = firstDataString(event, "resource_id", "file_id", "order_id", "device_id", "id")
	audit.ResourceName = firstDataString(event, "resource_name", "file_name", "name")

	if len(event.Data) > 0 {
		audit.Metadata = make(map[string]interface{}, len(event.Data))
		for k, v := range event.Data {
			audit.Metadata[k] = v
		}
	}
	audit.Metadata = ensureMetadata(audit.Metadata)
	audit.Metadata["source"] = event.Source

	audit.ComplianceFlags = DeriveComplianceFlags(audit)
	audit.RetentionPolicy = RetentionForCategory(audit.Category)

	return audit
}

// DeriveComplianceFlags derives the {GDPR, SOX, HIPAA} markers from
// the event classification and its resource context.
func DeriveComplianceFlags(event *AuditEvent) []string {
	var flags []string

	if event.EventType == EventTypeUserDelete || event.EventType == EventTypeUserUpdate {
		flags = append(flags, ComplianceGDPR)
	}

	if strings.HasPrefix(string(event.EventType), "permission_") || event.EventType == EventTypeResourceUpdate {
		flags = append(flags, ComplianceSOX)
	}

	if isHealthResource(event) {
		flags = append(flags, ComplianceHIPAA)
	}

	return flags
}

func isHealthResource(event *AuditEvent) bool {
	if strings.Contains(event.ResourceType, "health") || strings.Contains(event.ResourceType, "medical") {
		return true
	}
	if event.Metadata != nil {
		if v, ok := event.Metadata["health_data"].(bool); ok && v {
			return true
		}
	}
	return false
}

func deriveEventType(domain, action string) EventType {
	switch domain {
	case "user":
		switch action {
		case "registered", "created":
			return EventTypeUserRegister
		case "logged_in", "login":
			return EventTypeUserLogin
		case "logged_out", "logout":
			return EventTypeUserLogout
		case "updated":
			return EventTypeUserUpdate
		case "deleted":
			return EventTypeUserDelete
		}
	case "permission":
		switch action {
		case "revoked", "removed":
			return EventTypePermissionRevoke
		default:
			return EventTypePermissionGrant
		}
	case "config", "settings":
		return EventTypeConfigChange
	case "security":
		return EventTypeSecurityAlert
	}

	// Sharing grants access: classify as a permission grant.
	if action == "shared" {
		return EventTypePermissionGrant
	}

	switch {
	case strings.HasSuffix(action, "created") || action == "uploaded" || action == "added" || action == "member_added":
		return EventTypeResourceCreate
	case strings.HasSuffix(action, "updated") || action == "changed":
		return EventTypeResourceUpdate
	case strings.HasSuffix(action, "deleted") || action == "removed":
		return EventTypeResourceDelete
	case action == "read" || action == "viewed" || action == "accessed" || action == "downloaded":
		return EventTypeResourceRead
	}

	return EventTypeSystemEvent
}

func deriveCategory(domain, action string) Category {
	switch domain {
	case "user", "auth", "session":
		return CategoryAuthentication
	case "permission", "role":
		return CategoryAuthorization
	case "payment", "subscription":
		return CategoryConfiguration
	case "file", "device", "document", "storage":
		return CategoryDataAccess
	case "security":
		return CategorySecurity
	}

	if strings.Contains(action, "member_") {
		return CategoryAuthorization
	}

	return CategorySystem
}

// deriveSeverity ranks by keyword: destructive or failing actions are
// high, mutating or sharing actions medium, everything else low.
func deriveSeverity(subject string) Severity {
	for _, keyword := range []string{"deleted", "removed", "failed", "offline"} {
		if strings.Contains(subject, keyword) {
			return SeverityHigh
		}
	}
	for _, keyword := range []string{"updated", "shared", "member_added"} {
		if strings.Contains(subject, keyword) {
			return SeverityMedium
		}
	}
	return SeverityLow
}

func deriveUserID(event *bus.Event) string {
	if userID := event.DataString("user_id"); userID != "" {
		return userID
	}
	if sharedBy := event.DataString("shared_by"); sharedBy != "" {
		return sharedBy
	}
	return "system"
}

func eventTimestamp(event *bus.Event) time.Time {
	if !event.Timestamp.IsZero() {
		return event.Timestamp.UTC()
	}
	return time.Now().UTC()
}

func splitSubject(subject string) (domain, action string) {
	parts := strings.SplitN(subject, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return subject, ""
}

func firstDataString(event *bus.Event, keys ...string) string {
	for _, key := range keys {
		if v := event.DataString(key); v != "" {
			return v
		}
	}
	return ""
}

func ensureMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return make(map[string]interface{})
	}
	return m
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
