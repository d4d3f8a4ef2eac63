package notifications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"relay/audit"
	"relay/bus"
)

// TestRegistrationPipeline runs both services against one in-process
// bus: a user.registered event must yield exactly one audit row and a
// welcome email that proceeds pending -> sending -> sent, with
// notification.sent published (and itself captured by the audit
// subscriber).
func TestRegistrationPipeline(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()

	notifService := NewService(setupTestDB(t), memBus, DefaultConfig(), zap.NewNop())
	notifService.RegisterAdapter(newFakeAdapter(TypeEmail))

	dispatcher := NewDispatcher(notifService, zap.NewNop())

	triggers := NewEventTriggers(notifService, zap.NewNop())
	require.NoError(t, triggers.Start(memBus))
	defer triggers.Stop()

	auditService := audit.NewService(setupAuditDB(t), memBus, audit.DefaultConfig(), zap.NewNop())
	require.NoError(t, auditService.StartIntake())
	defer auditService.StopIntake()

	event := bus.NewEvent("user.registered", "auth", map[string]interface{}{
		"user_id": "u1",
		"email":   "a@b.c",
	})
	event.ID = "e1"

	require.NoError(t, memBus.Publish(context.Background(), event))
	memBus.Flush()

	// Audit side: one immutable row with the derived classification.
	rows, err := auditService.Query(context.Background(), audit.QueryFilters{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, audit.EventTypeUserRegister, rows[0].EventType)
	assert.Equal(t, audit.CategoryAuthentication, rows[0].Category)
	assert.Equal(t, audit.SeverityLow, rows[0].Severity)
	assert.Equal(t, audit.Retention3Years, rows[0].RetentionPolicy)
	assert.Empty(t, rows[0].ComplianceFlags)

	// Notification side: one pending email admitted by the trigger.
	var notification Notification
	require.NoError(t, notifService.db.First(&notification).Error)
	assert.Equal(t, TypeEmail, notification.Type)
	assert.Equal(t, "a@b.c", notification.Recipient)
	assert.Equal(t, StatusPending, notification.Status)

	// Drive the pipeline to completion.
	require.Equal(t, 1, dispatcher.RunSchedulerOnce(context.Background()))
	dispatcher.Deliver(context.Background(), <-dispatcher.queue)
	memBus.Flush()

	final, err := notifService.GetNotification(context.Background(), notification.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, final.Status)

	// The lifecycle event itself lands on the audit trail via *.*.
	captured, err := auditService.Query(context.Background(), audit.QueryFilters{
		Action: "notification.sent",
	})
	require.NoError(t, err)
	assert.Len(t, captured, 1)
}

// setupAuditDB gives the audit service its own store, matching the
// deployed topology.
func setupAuditDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(audit.GetModels()...))
	return db
}
