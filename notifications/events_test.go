package notifications

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relay/bus"
)

func setupTriggers(t *testing.T) (*Service, *EventTriggers, *bus.MemoryBus) {
	service, memBus := setupService(t)
	triggers := NewEventTriggers(service, zap.NewNop())
	require.NoError(t, triggers.Start(memBus))
	t.Cleanup(triggers.Stop)
	return service, triggers, memBus
}

func TestUserRegisteredProducesWelcomeEmail(t *testing.T) {
	service, _, memBus := setupTriggers(t)

	event := bus.NewEvent("user.registered", "auth", map[string]interface{}{
		"user_id": "u1",
		"email":   "a@b.c",
		"name":    "Ada",
	})
	require.NoError(t, memBus.Publish(context.Background(), event))
	memBus.Flush()

	var rows []Notification
	require.NoError(t, service.db.Find(&rows).Error)
	require.Len(t, rows, 1)

	assert.Equal(t, TypeEmail, rows[0].Type)
	assert.Equal(t, "a@b.c", rows[0].Recipient)
	assert.Equal(t, StatusPending, rows[0].Status)
	assert.Contains(t, rows[0].Content, "Ada")
}

func TestTriggerHandlersAreIdempotent(t *testing.T) {
	service, _, memBus := setupTriggers(t)

	event := bus.NewEvent("user.registered", "auth", map[string]interface{}{
		"user_id": "u1",
		"email":   "a@b.c",
	})

	// At-least-once delivery: the same envelope arrives twice.
	require.NoError(t, memBus.Publish(context.Background(), event))
	memBus.Flush()
	require.NoError(t, memBus.Publish(context.Background(), event))
	memBus.Flush()

	var count int64
	require.NoError(t, service.db.Model(&Notification{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPaymentCompletedProducesReceiptAndInApp(t *testing.T) {
	service, _, memBus := setupTriggers(t)

	event := bus.NewEvent("payment.completed", "billing", map[string]interface{}{
		"user_id": "u1",
		"email":   "a@b.c",
		"amount":  "12.50",
	})
	require.NoError(t, memBus.Publish(context.Background(), event))
	memBus.Flush()

	var emails, inApps int64
	service.db.Model(&Notification{}).Where("type = ?", TypeEmail).Count(&emails)
	service.db.Model(&Notification{}).Where("type = ?", TypeInApp).Count(&inApps)

	assert.Equal(t, int64(1), emails)
	assert.Equal(t, int64(1), inApps)

	var receipt Notification
	require.NoError(t, service.db.Where("type = ?", TypeEmail).First(&receipt).Error)
	assert.Contains(t, receipt.Content, "12.50")
}

func TestWalletBalanceLowIsHighPriority(t *testing.T) {
	service, _, memBus := setupTriggers(t)

	event := bus.NewEvent("wallet.balance_low", "wallet", map[string]interface{}{
		"user_id": "u1",
	})
	require.NoError(t, memBus.Publish(context.Background(), event))
	memBus.Flush()

	var row Notification
	require.NoError(t, service.db.First(&row).Error)
	assert.Equal(t, TypeInApp, row.Type)
	assert.Equal(t, PriorityHigh, row.Priority)
}

func TestTriggersIgnoreUnrelatedSubjects(t *testing.T) {
	service, _, memBus := setupTriggers(t)

	require.NoError(t, memBus.Publish(context.Background(),
		bus.NewEvent("billing.invoice_generated", "billing", map[string]interface{}{"user_id": "u1"})))
	memBus.Flush()

	var count int64
	require.NoError(t, service.db.Model(&Notification{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestTriggerWithoutRecipientIsSkipped(t *testing.T) {
	service, _, memBus := setupTriggers(t)

	// No email in payload: nothing to send a welcome to.
	require.NoError(t, memBus.Publish(context.Background(),
		bus.NewEvent("user.registered", "auth", map[string]interface{}{"user_id": "u1"})))
	memBus.Flush()

	var count int64
	require.NoError(t, service.db.Model(&Notification{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestProcessedLedgerEviction(t *testing.T) {
	service, memBus := setupService(t)
	triggers := NewEventTriggers(service, zap.NewNop())
	require.NoError(t, triggers.Start(memBus))
	defer triggers.Stop()

	for i := 0; i < processedCap+10; i++ {
		triggers.markProcessed(fmt.Sprintf("evt-%d", i))
	}

	assert.LessOrEqual(t, len(triggers.processed), processedCap)
	// Recently recorded ids are still deduplicated.
	assert.False(t, triggers.markProcessed(fmt.Sprintf("evt-%d", processedCap+9)))
	// Evicted ids may be processed again.
	assert.True(t, triggers.markProcessed("evt-0"))
}
