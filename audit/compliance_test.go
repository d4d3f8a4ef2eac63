package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedGDPREvents writes user_update events inside the period; the
// i-th event omits ip_address when withIP returns false.
func seedGDPREvents(t *testing.T, service *Service, count int, withIP func(i int) bool) {
	base := time.Now().UTC().Add(-24 * time.Hour)
	for i := 0; i < count; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		metadata := map[string]interface{}{
			"justification": "support ticket 42",
		}
		if withIP(i) {
			metadata["ip_address"] = "10.0.0.1"
		}

		_, err := service.Log(context.Background(), &LogRequest{
			EventType: EventTypeUserUpdate,
			Category:  CategoryAuthentication,
			Action:    "user.updated",
			UserID:    "u1",
			Metadata:  metadata,
			Timestamp: &ts,
		})
		require.NoError(t, err)
	}
}

func reportPeriod() (time.Time, time.Time) {
	now := time.Now().UTC()
	return now.Add(-48 * time.Hour), now
}

func TestComplianceScoreBoundary(t *testing.T) {
	service, _ := setupService(t)

	// 10 relevant events, one missing ip_address.
	seedGDPREvents(t, service, 10, func(i int) bool { return i != 3 })

	start, end := reportPeriod()
	report, err := service.GenerateComplianceReport(context.Background(), &ComplianceReportRequest{
		Standard:    ComplianceGDPR,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10), report.TotalEvents)
	assert.Equal(t, int64(9), report.CompliantEvents)
	assert.InDelta(t, 90.0, report.ComplianceScore, 0.001)
	assert.Equal(t, "medium", report.RiskLevel)

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "missing ip_address", report.Findings[0].Reason)
	assert.NotEmpty(t, report.Findings[0].AuditEventID)
}

func TestComplianceRiskLevels(t *testing.T) {
	tests := []struct {
		name          string
		total         int
		nonCompliant  int
		expectedLevel string
	}{
		{"all compliant is low risk", 10, 0, "low"},
		{"one of ten is medium risk", 10, 1, "medium"},
		{"three of ten is high risk", 10, 3, "high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _ := setupService(t)
			seedGDPREvents(t, service, tt.total, func(i int) bool { return i >= tt.nonCompliant })

			start, end := reportPeriod()
			report, err := service.GenerateComplianceReport(context.Background(), &ComplianceReportRequest{
				Standard:    ComplianceGDPR,
				PeriodStart: start,
				PeriodEnd:   end,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedLevel, report.RiskLevel)
		})
	}
}

func TestComplianceEmptyPeriodScoresPerfect(t *testing.T) {
	service, _ := setupService(t)

	start, end := reportPeriod()
	report, err := service.GenerateComplianceReport(context.Background(), &ComplianceReportRequest{
		Standard:    ComplianceSOX,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), report.TotalEvents)
	assert.Equal(t, 100.0, report.ComplianceScore)
	assert.Equal(t, "low", report.RiskLevel)
	assert.Empty(t, report.Findings)
}

func TestComplianceSensitiveEventNeedsJustification(t *testing.T) {
	service, _ := setupService(t)

	ts := time.Now().UTC().Add(-time.Hour)
	_, err := service.Log(context.Background(), &LogRequest{
		EventType: EventTypeUserDelete,
		Category:  CategoryAuthentication,
		Action:    "user.deleted",
		UserID:    "u1",
		Metadata:  map[string]interface{}{"ip_address": "10.0.0.1"},
		Timestamp: &ts,
	})
	require.NoError(t, err)

	start, end := reportPeriod()
	report, err := service.GenerateComplianceReport(context.Background(), &ComplianceReportRequest{
		Standard:    ComplianceGDPR,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.TotalEvents)
	assert.Equal(t, int64(0), report.CompliantEvents)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "sensitive event without recorded justification", report.Findings[0].Reason)
}

func TestComplianceUnsupportedStandard(t *testing.T) {
	service, _ := setupService(t)

	start, end := reportPeriod()
	_, err := service.GenerateComplianceReport(context.Background(), &ComplianceReportRequest{
		Standard:    "PCI",
		PeriodStart: start,
		PeriodEnd:   end,
	})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestComplianceInvalidPeriod(t *testing.T) {
	service, _ := setupService(t)

	now := time.Now().UTC()
	_, err := service.GenerateComplianceReport(context.Background(), &ComplianceReportRequest{
		Standard:    ComplianceGDPR,
		PeriodStart: now,
		PeriodEnd:   now.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestReportGenerationIsAudited(t *testing.T) {
	service, _ := setupService(t)

	start, end := reportPeriod()
	_, err := service.GenerateComplianceReport(context.Background(), &ComplianceReportRequest{
		Standard:    ComplianceGDPR,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	require.NoError(t, err)

	var record AuditEvent
	require.NoError(t, service.db.Where("action = ?", "compliance.report_generated").First(&record).Error)
	assert.Equal(t, CategoryCompliance, record.Category)
	assert.Equal(t, Retention7Years, record.RetentionPolicy)
	assert.Equal(t, ComplianceGDPR, record.Metadata["standard"])
}

func TestSupportedStandards(t *testing.T) {
	assert.Equal(t, []string{ComplianceGDPR, ComplianceSOX, ComplianceHIPAA}, SupportedStandards())
}
