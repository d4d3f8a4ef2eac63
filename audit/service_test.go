package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"relay/bus"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(GetModels()...)
	require.NoError(t, err)

	return db
}

func setupService(t *testing.T) (*Service, *bus.MemoryBus) {
	db := setupTestDB(t)
	memBus := bus.NewMemoryBus()
	t.Cleanup(func() { memBus.Close() })

	service := NewService(db, memBus, DefaultConfig(), zap.NewNop())
	return service, memBus
}

func validLogRequest() *LogRequest {
	return &LogRequest{
		EventType: EventTypeUserLogin,
		Category:  CategoryAuthentication,
		Action:    "user.logged_in",
		UserID:    "u1",
	}
}

func TestLogPersistsEvent(t *testing.T) {
	service, _ := setupService(t)

	record, err := service.Log(context.Background(), validLogRequest())
	require.NoError(t, err)

	assert.Equal(t, SeverityLow, record.Severity)
	assert.Equal(t, EventStatusSuccess, record.Status)
	assert.Equal(t, Retention3Years, record.RetentionPolicy)
	assert.NotNil(t, record.Metadata)

	var count int64
	service.db.Model(&AuditEvent{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestLogValidation(t *testing.T) {
	service, _ := setupService(t)

	tests := []struct {
		name   string
		mutate func(*LogRequest)
	}{
		{"empty action", func(r *LogRequest) { r.Action = "" }},
		{"blank action", func(r *LogRequest) { r.Action = "   " }},
		{"overlong action", func(r *LogRequest) {
			long := make([]byte, 256)
			for i := range long {
				long[i] = 'a'
			}
			r.Action = string(long)
		}},
		{"unknown event type", func(r *LogRequest) { r.EventType = "made_up" }},
		{"unknown category", func(r *LogRequest) { r.Category = "made_up" }},
		{"unknown severity", func(r *LogRequest) { r.Severity = "shrug" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validLogRequest()
			tt.mutate(req)
			_, err := service.Log(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestLogSeverityDefaultsToLow(t *testing.T) {
	service, _ := setupService(t)

	req := validLogRequest()
	req.Severity = ""
	record, err := service.Log(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, SeverityLow, record.Severity)
}

func TestLogHighSeverityPublishesAlert(t *testing.T) {
	service, memBus := setupService(t)

	alerts := make(chan *bus.Event, 1)
	_, err := memBus.Subscribe("audit.event_recorded", func(ctx context.Context, event *bus.Event) {
		alerts <- event
	})
	require.NoError(t, err)

	req := validLogRequest()
	req.Severity = SeverityCritical
	record, err := service.Log(context.Background(), req)
	require.NoError(t, err)

	memBus.Flush()
	select {
	case alert := <-alerts:
		assert.Equal(t, record.ID.String(), alert.Data["audit_id"])
		assert.Equal(t, "critical", alert.Data["severity"])
		assert.Equal(t, "u1", alert.Data["user_id"])
	default:
		t.Fatal("expected audit.event_recorded to be published")
	}
}

func TestLogBatchPartialFailure(t *testing.T) {
	service, _ := setupService(t)

	invalid := validLogRequest()
	invalid.Action = ""

	result, err := service.LogBatch(context.Background(), []LogRequest{
		*validLogRequest(),
		*invalid,
		*validLogRequest(),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.SuccessfulCount)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Results, 3)

	assert.True(t, result.Results[0].Success)
	assert.NotEmpty(t, result.Results[0].ID)
	assert.False(t, result.Results[1].Success)
	assert.Equal(t, "action cannot be empty", result.Results[1].Error)
	assert.True(t, result.Results[2].Success)
}

func TestLogBatchSizeBounds(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.LogBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)

	tooMany := make([]LogRequest, service.config.MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = *validLogRequest()
	}
	_, err = service.LogBatch(context.Background(), tooMany)
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestIntakeCapturesAndDeduplicates(t *testing.T) {
	service, memBus := setupService(t)
	require.NoError(t, service.StartIntake())
	defer service.StopIntake()

	event := bus.NewEvent("user.registered", "auth", map[string]interface{}{
		"user_id": "u1",
		"email":   "a@b.c",
	})
	event.ID = "dup1"

	// The same envelope arrives twice with a short gap.
	require.NoError(t, memBus.Publish(context.Background(), event))
	memBus.Flush()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, memBus.Publish(context.Background(), event))
	memBus.Flush()

	var count int64
	service.db.Model(&AuditEvent{}).Count(&count)
	assert.Equal(t, int64(1), count)
	assert.True(t, service.Seen().Contains("dup1"))

	var record AuditEvent
	require.NoError(t, service.db.First(&record).Error)
	assert.Equal(t, EventTypeUserRegister, record.EventType)
	assert.Equal(t, CategoryAuthentication, record.Category)
	assert.Equal(t, Retention3Years, record.RetentionPolicy)
}

func TestIntakeIgnoresOwnSubject(t *testing.T) {
	service, memBus := setupService(t)
	require.NoError(t, service.StartIntake())
	defer service.StopIntake()

	require.NoError(t, memBus.Publish(context.Background(),
		bus.NewEvent("audit.event_recorded", "audit-service", map[string]interface{}{"audit_id": "x"})))
	memBus.Flush()

	var count int64
	service.db.Model(&AuditEvent{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestIntakeUniqueEventIDSurvivesSeenSetEviction(t *testing.T) {
	service, _ := setupService(t)

	event := bus.NewEvent("user.registered", "auth", map[string]interface{}{"user_id": "u1"})
	event.ID = "replay"

	// First capture goes through the normal path.
	service.HandleBusEvent(context.Background(), event)

	// Simulate seen-set loss (eviction or restart): the unique
	// event_id index still keeps the store idempotent.
	service.seen = NewSeenSet(service.config.DedupCacheSize, service.config.DedupCacheEvict)
	service.HandleBusEvent(context.Background(), event)

	var count int64
	service.db.Model(&AuditEvent{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestAuditEventsAreImmutableThroughReads(t *testing.T) {
	service, _ := setupService(t)

	record, err := service.Log(context.Background(), validLogRequest())
	require.NoError(t, err)

	before, err := service.Query(context.Background(), QueryFilters{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, before, 1)

	// Reads hand out copies; mutating them must not affect the store.
	before[0].Action = "tampered"

	after, err := service.Query(context.Background(), QueryFilters{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, record.Action, after[0].Action)
}

func TestQueryNewestFirst(t *testing.T) {
	service, _ := setupService(t)

	old := validLogRequest()
	oldTime := time.Now().UTC().Add(-time.Hour)
	old.Timestamp = &oldTime
	old.Action = "older"
	_, err := service.Log(context.Background(), old)
	require.NoError(t, err)

	recent := validLogRequest()
	recent.Action = "newer"
	_, err = service.Log(context.Background(), recent)
	require.NoError(t, err)

	events, err := service.Query(context.Background(), QueryFilters{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "newer", events[0].Action)
	assert.Equal(t, "older", events[1].Action)
}

func TestQueryValidation(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.Query(context.Background(), QueryFilters{Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = service.Query(context.Background(), QueryFilters{Limit: 1001})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = service.Query(context.Background(), QueryFilters{Offset: -1})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	now := time.Now().UTC()
	earlier := now.Add(-time.Hour)

	_, err = service.Query(context.Background(), QueryFilters{StartTime: &now, EndTime: &earlier})
	assert.ErrorIs(t, err, ErrInvalidRange)

	wayBack := now.Add(-400 * 24 * time.Hour)
	_, err = service.Query(context.Background(), QueryFilters{StartTime: &wayBack, EndTime: &now})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestUserActivityBounds(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.UserActivity(context.Background(), "u1", 0)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = service.UserActivity(context.Background(), "u1", 366)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = service.UserActivity(context.Background(), "u1", 30)
	assert.NoError(t, err)
}

func TestSecurityEventsBounds(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.SecurityEvents(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = service.SecurityEvents(context.Background(), 91)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSecurityEventsSelectsHighSeverity(t *testing.T) {
	service, _ := setupService(t)

	low := validLogRequest()
	_, err := service.Log(context.Background(), low)
	require.NoError(t, err)

	high := validLogRequest()
	high.Severity = SeverityHigh
	high.Action = "user.suspicious_login"
	_, err = service.Log(context.Background(), high)
	require.NoError(t, err)

	events, err := service.SecurityEvents(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "user.suspicious_login", events[0].Action)
}

func TestSummarizeRiskScore(t *testing.T) {
	service, _ := setupService(t)

	for i := 0; i < 3; i++ {
		_, err := service.Log(context.Background(), validLogRequest())
		require.NoError(t, err)
	}
	critical := validLogRequest()
	critical.Severity = SeverityCritical
	_, err := service.Log(context.Background(), critical)
	require.NoError(t, err)

	summary, err := service.Summarize(context.Background(), "u1", 7)
	require.NoError(t, err)

	assert.Equal(t, int64(4), summary.TotalEvents)
	assert.Equal(t, int64(3), summary.BySeverity["low"])
	assert.Equal(t, int64(1), summary.BySeverity["critical"])
	assert.InDelta(t, 25.0, summary.RiskScore, 0.01)
	require.NotNil(t, summary.LastEventTime)
}

func TestCleanupHonoursComplianceRetention(t *testing.T) {
	service, _ := setupService(t)

	now := time.Now().UTC()

	// Authentication event (3-year window) from two years ago: an
	// admin request for 30 days must NOT delete it.
	twoYearsAgo := now.AddDate(-2, 0, 0)
	authEvent := validLogRequest()
	authEvent.Timestamp = &twoYearsAgo
	_, err := service.Log(context.Background(), authEvent)
	require.NoError(t, err)

	// System event (1-year window) from two years ago is deletable.
	sysEvent := &LogRequest{
		EventType: EventTypeSystemEvent,
		Category:  CategorySystem,
		Action:    "cron.tick",
		Timestamp: &twoYearsAgo,
	}
	_, err = service.Log(context.Background(), sysEvent)
	require.NoError(t, err)

	deleted, err := service.Cleanup(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining []AuditEvent
	require.NoError(t, service.db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, CategoryAuthentication, remaining[0].Category)
}

func TestCleanupBounds(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.Cleanup(context.Background(), 29)
	assert.ErrorIs(t, err, ErrInvalidCleanup)

	_, err = service.Cleanup(context.Background(), 2556)
	assert.ErrorIs(t, err, ErrInvalidCleanup)
}

func TestSecurityAlertLifecycle(t *testing.T) {
	service, _ := setupService(t)

	alert, err := service.CreateSecurityAlert(context.Background(), &SecurityAlertRequest{
		Title:    "Repeated failed logins",
		Severity: SeverityHigh,
		UserID:   "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, SecurityOpen, alert.Status)

	investigating, err := service.UpdateSecurityStatus(context.Background(), alert.ID.String(), SecurityInvestigating, "")
	require.NoError(t, err)
	assert.Equal(t, SecurityInvestigating, investigating.Status)

	falsePositive, err := service.UpdateSecurityStatus(context.Background(), alert.ID.String(), SecurityFalsePositive, "")
	require.NoError(t, err)
	assert.Equal(t, SecurityFalsePositive, falsePositive.Status)

	// A false positive may be reopened, but must pass through
	// investigating again before closing.
	reopened, err := service.UpdateSecurityStatus(context.Background(), alert.ID.String(), SecurityOpen, "")
	require.NoError(t, err)
	assert.Equal(t, SecurityOpen, reopened.Status)

	_, err = service.UpdateSecurityStatus(context.Background(), alert.ID.String(), SecurityResolved, "analyst")
	assert.ErrorIs(t, err, ErrIllegalSecurity)

	_, err = service.UpdateSecurityStatus(context.Background(), alert.ID.String(), SecurityInvestigating, "")
	require.NoError(t, err)

	resolved, err := service.UpdateSecurityStatus(context.Background(), alert.ID.String(), SecurityResolved, "analyst")
	require.NoError(t, err)
	assert.Equal(t, SecurityResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "analyst", resolved.ResolvedBy)

	// Resolved is terminal.
	_, err = service.UpdateSecurityStatus(context.Background(), alert.ID.String(), SecurityOpen, "")
	assert.ErrorIs(t, err, ErrIllegalSecurity)
}

func TestCanTransitionSecurity(t *testing.T) {
	assert.True(t, CanTransitionSecurity(SecurityOpen, SecurityInvestigating))
	assert.True(t, CanTransitionSecurity(SecurityInvestigating, SecurityResolved))
	assert.True(t, CanTransitionSecurity(SecurityInvestigating, SecurityFalsePositive))
	assert.True(t, CanTransitionSecurity(SecurityFalsePositive, SecurityOpen))
	assert.False(t, CanTransitionSecurity(SecurityOpen, SecurityResolved))
	assert.False(t, CanTransitionSecurity(SecurityOpen, SecurityFalsePositive))
	assert.False(t, CanTransitionSecurity(SecurityResolved, SecurityOpen))
	assert.False(t, CanTransitionSecurity(SecurityFalsePositive, SecurityResolved))
}
