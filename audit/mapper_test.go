package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/bus"
)

func TestMapUserRegistered(t *testing.T) {
	event := bus.NewEvent("user.registered", "auth", map[string]interface{}{
		"user_id": "u1",
		"email":   "a@b.c",
	})

	record := MapEvent(event)

	require.NotNil(t, record.EventID)
	assert.Equal(t, event.ID, *record.EventID)
	assert.Equal(t, EventTypeUserRegister, record.EventType)
	assert.Equal(t, CategoryAuthentication, record.Category)
	assert.Equal(t, SeverityLow, record.Severity)
	assert.Equal(t, Retention3Years, record.RetentionPolicy)
	assert.Empty(t, record.ComplianceFlags)
	assert.Equal(t, "user.registered", record.Action)
	assert.Equal(t, "u1", record.UserID)
	assert.Equal(t, "auth", record.Metadata["source"])
}

func TestMapEventTypeDerivation(t *testing.T) {
	tests := []struct {
		subject string
		want    EventType
	}{
		{"user.registered", EventTypeUserRegister},
		{"user.logged_in", EventTypeUserLogin},
		{"user.logged_out", EventTypeUserLogout},
		{"user.updated", EventTypeUserUpdate},
		{"user.deleted", EventTypeUserDelete},
		{"file.shared", EventTypePermissionGrant},
		{"permission.granted", EventTypePermissionGrant},
		{"permission.revoked", EventTypePermissionRevoke},
		{"file.uploaded", EventTypeResourceCreate},
		{"order.created", EventTypeResourceCreate},
		{"organization.member_added", EventTypeResourceCreate},
		{"device.updated", EventTypeResourceUpdate},
		{"file.deleted", EventTypeResourceDelete},
		{"document.removed", EventTypeResourceDelete},
		{"file.downloaded", EventTypeResourceRead},
		{"config.changed", EventTypeConfigChange},
		{"security.alert_raised", EventTypeSecurityAlert},
		{"wallet.balance_low", EventTypeSystemEvent},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			record := MapEvent(bus.NewEvent(tt.subject, "test", nil))
			assert.Equal(t, tt.want, record.EventType)
		})
	}
}

func TestMapCategoryDerivation(t *testing.T) {
	tests := []struct {
		subject string
		want    Category
	}{
		{"user.registered", CategoryAuthentication},
		{"permission.granted", CategoryAuthorization},
		{"organization.member_added", CategoryAuthorization},
		{"payment.completed", CategoryConfiguration},
		{"subscription.renewed", CategoryConfiguration},
		{"file.shared", CategoryDataAccess},
		{"device.offline", CategoryDataAccess},
		{"order.created", CategorySystem},
		{"security.alert_raised", CategorySecurity},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			record := MapEvent(bus.NewEvent(tt.subject, "test", nil))
			assert.Equal(t, tt.want, record.Category)
		})
	}
}

func TestMapSeverityDerivation(t *testing.T) {
	tests := []struct {
		subject string
		want    Severity
	}{
		{"user.deleted", SeverityHigh},
		{"organization.member_removed", SeverityHigh},
		{"payment.failed", SeverityHigh},
		{"device.offline", SeverityHigh},
		{"user.updated", SeverityMedium},
		{"file.shared", SeverityMedium},
		{"organization.member_added", SeverityMedium},
		{"user.registered", SeverityLow},
		{"order.created", SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			record := MapEvent(bus.NewEvent(tt.subject, "test", nil))
			assert.Equal(t, tt.want, record.Severity)
		})
	}
}

func TestMapUserIDFallbacks(t *testing.T) {
	withUser := MapEvent(bus.NewEvent("file.shared", "files", map[string]interface{}{"user_id": "u1"}))
	assert.Equal(t, "u1", withUser.UserID)

	withSharer := MapEvent(bus.NewEvent("file.shared", "files", map[string]interface{}{"shared_by": "u2"}))
	assert.Equal(t, "u2", withSharer.UserID)

	anonymous := MapEvent(bus.NewEvent("file.shared", "files", nil))
	assert.Equal(t, "system", anonymous.UserID)
}

func TestMapResourceExtraction(t *testing.T) {
	record := MapEvent(bus.NewEvent("file.shared", "files", map[string]interface{}{
		"user_id":   "u1",
		"file_id":   "f42",
		"file_name": "report.pdf",
	}))

	assert.Equal(t, "file", record.ResourceType)
	assert.Equal(t, "f42", record.ResourceID)
	assert.Equal(t, "report.pdf", record.ResourceName)
}

func TestDeriveComplianceFlags(t *testing.T) {
	gdpr := MapEvent(bus.NewEvent("user.deleted", "users", map[string]interface{}{"user_id": "u1"}))
	assert.Contains(t, gdpr.ComplianceFlags, ComplianceGDPR)

	alsoGDPR := MapEvent(bus.NewEvent("user.updated", "users", map[string]interface{}{"user_id": "u1"}))
	assert.Contains(t, alsoGDPR.ComplianceFlags, ComplianceGDPR)

	sox := MapEvent(bus.NewEvent("file.shared", "files", map[string]interface{}{"user_id": "u1"}))
	assert.Contains(t, sox.ComplianceFlags, ComplianceSOX)

	soxUpdate := MapEvent(bus.NewEvent("device.updated", "devices", nil))
	assert.Contains(t, soxUpdate.ComplianceFlags, ComplianceSOX)

	hipaa := MapEvent(bus.NewEvent("health_record.updated", "ehr", map[string]interface{}{"user_id": "u1"}))
	assert.Contains(t, hipaa.ComplianceFlags, ComplianceHIPAA)

	hipaaMeta := MapEvent(bus.NewEvent("file.shared", "files", map[string]interface{}{"health_data": true}))
	assert.Contains(t, hipaaMeta.ComplianceFlags, ComplianceHIPAA)

	plain := MapEvent(bus.NewEvent("user.registered", "auth", nil))
	assert.Empty(t, plain.ComplianceFlags)
}

func TestRetentionForCategory(t *testing.T) {
	assert.Equal(t, Retention7Years, RetentionForCategory(CategorySecurity))
	assert.Equal(t, Retention7Years, RetentionForCategory(CategoryCompliance))
	assert.Equal(t, Retention3Years, RetentionForCategory(CategoryAuthentication))
	assert.Equal(t, Retention3Years, RetentionForCategory(CategoryAuthorization))
	assert.Equal(t, Retention1Year, RetentionForCategory(CategoryDataAccess))
	assert.Equal(t, Retention1Year, RetentionForCategory(CategoryConfiguration))
	assert.Equal(t, Retention1Year, RetentionForCategory(CategorySystem))
}

func TestMapNullMetadataCoercedToEmpty(t *testing.T) {
	record := MapEvent(bus.NewEvent("order.created", "orders", nil))
	require.NotNil(t, record.Metadata)
}
