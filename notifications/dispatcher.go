package notifications

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backoff returns the retry delay for the given attempt:
// min(cap, base * 2^attempt) scaled by a uniform jitter in [0.5, 1.5).
func Backoff(base, cap time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > cap || delay <= 0 {
		delay = cap
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

// Dispatcher runs the delivery pipeline: a scheduler promotes due
// pending notifications to sending in priority order, and a bounded
// pool of workers performs the adapter calls. The queue channel
// provides backpressure between the two.
type Dispatcher struct {
	service *Service
	config  *Config
	logger  *zap.Logger

	queue  chan *Notification
	stop   chan struct{}
	ticker *time.Ticker
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the service's store and
// registered adapters.
func NewDispatcher(service *Service, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		service: service,
		config:  service.config,
		logger:  logger,
		queue:   make(chan *Notification, service.config.QueueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the scheduler and the delivery workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ticker = time.NewTicker(d.config.SchedulerInterval)

	for i := 0; i < d.config.DeliveryWorkers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.wg.Add(1)
	go d.schedulerLoop(ctx)

	d.logger.Info("dispatcher started",
		zap.Int("workers", d.config.DeliveryWorkers),
		zap.Duration("interval", d.config.SchedulerInterval),
	)
}

// Stop drains the delivery queue up to the configured drain timeout
// and waits for workers to settle.
func (d *Dispatcher) Stop() {
	close(d.stop)
	if d.ticker != nil {
		d.ticker.Stop()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.config.DrainTimeout):
		d.logger.Warn("drain timeout reached, abandoning in-flight deliveries")
	}
}

// RunSchedulerOnce performs a single scheduling pass. Exposed for the
// service loop and for tests.
func (d *Dispatcher) RunSchedulerOnce(ctx context.Context) int {
	now := time.Now().UTC()

	// Expire notifications whose send deadline has passed before they
	// ever dispatched.
	d.service.db.WithContext(ctx).Model(&Notification{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", StatusPending, now).
		Updates(map[string]interface{}{
			"status":        StatusFailed,
			"failed_at":     now,
			"error_message": "expired before dispatch",
		})

	var due []Notification
	if err := d.service.db.WithContext(ctx).
		Where("status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)", StatusPending, now).
		Order(priorityOrderExpr).
		Limit(d.config.QueueSize).
		Find(&due).Error; err != nil {
		d.logger.Error("scheduler query failed", zap.Error(err))
		return 0
	}

	promoted := 0
	for i := range due {
		notification := due[i]

		ok, err := d.service.transition(ctx, notification.ID, StatusPending, StatusSending, nil)
		if err != nil {
			d.logger.Error("failed to promote notification", zap.Error(err))
			continue
		}
		if !ok {
			// Another scheduler pass or a cancellation won the race.
			continue
		}
		notification.Status = StatusSending

		select {
		case d.queue <- &notification:
			promoted++
			queueDepth.Set(float64(len(d.queue)))
		case <-d.stop:
			// Shutting down: put the row back so the next process run
			// picks it up.
			d.requeue(ctx, &notification, nil)
			return promoted
		}
	}

	return promoted
}

func (d *Dispatcher) schedulerLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ticker.C:
			d.RunSchedulerOnce(ctx)
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case notification := <-d.queue:
			queueDepth.Set(float64(len(d.queue)))
			d.Deliver(ctx, notification)
		case <-d.stop:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case notification := <-d.queue:
					d.Deliver(ctx, notification)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Deliver performs one adapter call and resolves the outcome. Exposed
// for tests; production flow reaches it through the worker pool.
func (d *Dispatcher) Deliver(ctx context.Context, notification *Notification) {
	adapter, ok := d.service.adapters[notification.Type]
	if !ok {
		d.fail(ctx, notification, "no adapter for channel "+string(notification.Type))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, d.config.ProviderTimeout)
	outcome, err := adapter.Send(callCtx, notification)
	cancel()

	if err != nil {
		if IsRetriable(err) {
			d.retryOrFail(ctx, notification, err)
		} else {
			d.fail(ctx, notification, err.Error())
		}
		return
	}

	d.succeed(ctx, notification, adapter, outcome)
}

func (d *Dispatcher) succeed(ctx context.Context, notification *Notification, adapter ChannelAdapter, outcome *Outcome) {
	now := time.Now().UTC()

	extra := map[string]interface{}{
		"sent_at":     now,
		"provider_id": outcome.ProviderID,
	}

	ok, err := d.service.transition(ctx, notification.ID, StatusSending, StatusSent, extra)
	if err != nil || !ok {
		d.logger.Error("failed to mark sent",
			zap.String("id", notification.ID.String()),
			zap.Error(err),
		)
		return
	}

	deliveriesTotal.WithLabelValues(string(notification.Type), string(StatusSent)).Inc()

	d.service.publishLifecycle(ctx, "notification.sent", map[string]interface{}{
		"id":        notification.ID.String(),
		"type":      string(notification.Type),
		"recipient": notification.Recipient,
		"status":    string(StatusSent),
		"priority":  string(notification.Priority),
	})

	terminal := StatusSent
	if outcome.Delivered {
		if ok, err := d.service.transition(ctx, notification.ID, StatusSent, StatusDelivered, map[string]interface{}{
			"delivered_at": now,
		}); err == nil && ok {
			terminal = StatusDelivered
			d.service.publishLifecycle(ctx, "notification.delivered", map[string]interface{}{
				"id":        notification.ID.String(),
				"type":      string(notification.Type),
				"recipient": notification.Recipient,
			})
		}
	}

	if notification.BatchID != nil {
		d.service.updateBatchCounters(ctx, *notification.BatchID, terminal)
	}

	d.logger.Debug("notification sent",
		zap.String("id", notification.ID.String()),
		zap.String("channel", string(notification.Type)),
		zap.String("provider", adapter.Name()),
	)
}

// retryOrFail increments the retry count and either requeues with
// backoff or fails the notification when retries are exhausted. The
// count never exceeds max_retries.
func (d *Dispatcher) retryOrFail(ctx context.Context, notification *Notification, cause error) {
	attempt := notification.RetryCount + 1

	if attempt < notification.MaxRetries {
		d.requeue(ctx, notification, cause)
		return
	}

	if attempt > notification.MaxRetries {
		attempt = notification.MaxRetries
	}
	d.failWithCount(ctx, notification, cause.Error(), &attempt)
}

func (d *Dispatcher) requeue(ctx context.Context, notification *Notification, cause error) {
	updates := map[string]interface{}{}
	if cause != nil {
		nextAttempt := notification.RetryCount + 1
		delay := Backoff(d.config.BackoffBase, d.config.BackoffCap, nextAttempt)
		updates["retry_count"] = nextAttempt
		updates["scheduled_at"] = time.Now().UTC().Add(delay)
		updates["error_message"] = cause.Error()

		retriesTotal.WithLabelValues(string(notification.Type)).Inc()

		d.logger.Debug("notification requeued",
			zap.String("id", notification.ID.String()),
			zap.Int("attempt", nextAttempt),
			zap.Duration("delay", delay),
		)
	}

	ok, err := d.service.transition(ctx, notification.ID, StatusSending, StatusPending, updates)
	if err != nil || !ok {
		d.logger.Error("failed to requeue notification",
			zap.String("id", notification.ID.String()),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) fail(ctx context.Context, notification *Notification, message string) {
	d.failWithCount(ctx, notification, message, nil)
}

func (d *Dispatcher) failWithCount(ctx context.Context, notification *Notification, message string, retryCount *int) {
	now := time.Now().UTC()

	updates := map[string]interface{}{
		"failed_at":     now,
		"error_message": message,
	}
	if retryCount != nil {
		updates["retry_count"] = *retryCount
	}

	ok, err := d.service.transition(ctx, notification.ID, StatusSending, StatusFailed, updates)
	if err != nil || !ok {
		d.logger.Error("failed to mark failed",
			zap.String("id", notification.ID.String()),
			zap.Error(err),
		)
		return
	}

	deliveriesTotal.WithLabelValues(string(notification.Type), string(StatusFailed)).Inc()

	d.service.publishLifecycle(ctx, "notification.failed", map[string]interface{}{
		"id":        notification.ID.String(),
		"type":      string(notification.Type),
		"recipient": notification.Recipient,
		"error":     message,
	})

	if notification.BatchID != nil {
		d.service.updateBatchCounters(ctx, *notification.BatchID, StatusFailed)
	}
}
