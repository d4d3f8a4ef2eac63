package notifications

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"relay/bus"
)

// triggerSubjects is the enumerated set of domain events the service
// reacts to. The handler surface grows with product intent, never by
// wildcard subscription.
var triggerSubjects = []string{
	"user.registered",
	"user.logged_in",
	"payment.completed",
	"file.shared",
	"file.uploaded",
	"order.created",
	"task.assigned",
	"invitation.created",
	"wallet.balance_low",
	"organization.member_added",
	"device.offline",
}

// EventTriggers subscribes to domain events and synthesizes
// notifications from them. Handlers are idempotent per event ID to
// tolerate at-least-once delivery.
type EventTriggers struct {
	service *Service
	logger  *zap.Logger

	mu        sync.Mutex
	processed map[string]struct{}
	order     []string

	subs []bus.Subscription
}

// processedCap bounds the idempotency ledger; on overflow the oldest
// half is evicted.
const processedCap = 10000

// NewEventTriggers creates the trigger consumer.
func NewEventTriggers(service *Service, logger *zap.Logger) *EventTriggers {
	return &EventTriggers{
		service:   service,
		logger:    logger,
		processed: make(map[string]struct{}),
	}
}

// Start subscribes every trigger subject on the bus.
func (t *EventTriggers) Start(eventBus bus.Bus) error {
	for _, subject := range triggerSubjects {
		sub, err := eventBus.Subscribe(subject, t.Handle)
		if err != nil {
			t.Stop()
			return err
		}
		t.subs = append(t.subs, sub)
	}
	return nil
}

// Stop unsubscribes all trigger subjects.
func (t *EventTriggers) Stop() {
	for _, sub := range t.subs {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Warn("failed to unsubscribe trigger", zap.Error(err))
		}
	}
	t.subs = nil
}

// Handle processes one domain event. Replays of an already-processed
// event ID are dropped.
func (t *EventTriggers) Handle(ctx context.Context, event *bus.Event) {
	if event.ID == "" || !t.markProcessed(event.ID) {
		return
	}

	eventsConsumed.WithLabelValues(event.Type).Inc()

	requests := t.synthesize(event)
	for _, req := range requests {
		if _, err := t.service.Send(ctx, req); err != nil {
			t.logger.Warn("failed to admit triggered notification",
				zap.String("event", event.Type),
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}
	}
}

// synthesize maps a domain event to the notifications it produces.
func (t *EventTriggers) synthesize(event *bus.Event) []*SendRequest {
	userID := event.DataString("user_id")
	email := event.DataString("email")

	switch event.Type {
	case "user.registered":
		if email == "" {
			return nil
		}
		return []*SendRequest{{
			Type:      TypeEmail,
			Recipient: email,
			Subject:   "Welcome aboard",
			Content:   "Welcome {{name}}! Your account is ready.",
			Variables: map[string]interface{}{"name": nameOrDefault(event, "there")},
		}}

	case "user.logged_in":
		return inAppOnly(userID, "Welcome back", "Good to see you again.")

	case "payment.completed":
		var requests []*SendRequest
		if email != "" {
			requests = append(requests, &SendRequest{
				Type:      TypeEmail,
				Recipient: email,
				Subject:   "Payment receipt",
				Content:   "We received your payment of {{amount}}.",
				Variables: event.Data,
			})
		}
		requests = append(requests, inAppOnly(userID, "Payment completed", "Your payment went through.")...)
		return requests

	case "file.shared":
		requests := inAppOnly(userID, "File shared with you", "{{shared_by}} shared {{file_name}} with you.")
		for _, req := range requests {
			req.Variables = event.Data
		}
		if email != "" {
			requests = append(requests, &SendRequest{
				Type:      TypeEmail,
				Recipient: email,
				Subject:   "A file was shared with you",
				Content:   "{{shared_by}} shared {{file_name}} with you.",
				Variables: event.Data,
			})
		}
		return requests

	case "file.uploaded":
		return inAppOnly(userID, "Upload complete", "Your file was uploaded successfully.")

	case "order.created":
		if email == "" {
			return nil
		}
		return []*SendRequest{{
			Type:      TypeEmail,
			Recipient: email,
			Subject:   "Order confirmation",
			Content:   "Your order {{order_id}} has been placed.",
			Variables: event.Data,
		}}

	case "task.assigned":
		requests := inAppOnly(userID, "Task assigned", "You have been assigned {{task_name}}.")
		for _, req := range requests {
			req.Variables = event.Data
		}
		return requests

	case "invitation.created":
		if email == "" {
			return nil
		}
		return []*SendRequest{{
			Type:      TypeEmail,
			Recipient: email,
			Subject:   "You have been invited",
			Content:   "{{inviter}} invited you to join {{organization}}.",
			Variables: event.Data,
		}}

	case "wallet.balance_low":
		requests := inAppOnly(userID, "Low balance", "Your wallet balance dropped below the threshold.")
		for _, req := range requests {
			req.Priority = PriorityHigh
		}
		return requests

	case "organization.member_added":
		return inAppOnly(userID, "New membership", "You were added to an organization.")

	case "device.offline":
		requests := inAppOnly(userID, "Device offline", "Your device {{device_name}} went offline.")
		for _, req := range requests {
			req.Variables = event.Data
			req.Priority = PriorityHigh
		}
		return requests
	}

	return nil
}

// markProcessed records an event ID, returning false when it was
// already seen.
func (t *EventTriggers) markProcessed(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.processed[id]; seen {
		return false
	}

	if len(t.order) >= processedCap {
		evict := t.order[:processedCap/2]
		for _, old := range evict {
			delete(t.processed, old)
		}
		t.order = append([]string(nil), t.order[processedCap/2:]...)
	}

	t.processed[id] = struct{}{}
	t.order = append(t.order, id)
	return true
}

func inAppOnly(userID, title, message string) []*SendRequest {
	if userID == "" {
		return nil
	}
	return []*SendRequest{{
		Type:      TypeInApp,
		Recipient: userID,
		Subject:   title,
		Content:   message,
	}}
}

func nameOrDefault(event *bus.Event, fallback string) string {
	if name := event.DataString("name"); name != "" {
		return name
	}
	return fallback
}
