package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"relay/bus"
	"relay/core"
)

var (
	ErrInvalidRequest       = errors.New("invalid notification request")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrCannotCancel         = errors.New("notification cannot be cancelled")
	ErrBatchTooLarge        = errors.New("batch exceeds recipient limit")
	ErrBlockedByPreference  = errors.New("notification blocked by user preference")
	ErrStoreUnavailable     = errors.New("notification store unavailable")
)

// Service implements the notification delivery engine. Every
// collaborator is a constructor input: store, bus client, adapters and
// configuration.
type Service struct {
	db        *gorm.DB
	bus       bus.Bus
	templates *TemplateStore
	adapters  map[NotificationType]ChannelAdapter
	config    *Config
	logger    *zap.Logger
}

// NewService creates a new notification service
func NewService(db *gorm.DB, eventBus bus.Bus, config *Config, logger *zap.Logger) *Service {
	return &Service{
		db:        db,
		bus:       eventBus,
		templates: NewTemplateStore(db),
		adapters:  make(map[NotificationType]ChannelAdapter),
		config:    config,
		logger:    logger,
	}
}

// RegisterAdapter registers the adapter for its channel. One adapter
// per channel; later registrations replace earlier ones.
func (s *Service) RegisterAdapter(adapter ChannelAdapter) {
	s.adapters[adapter.Channel()] = adapter
}

// Templates returns the template store
func (s *Service) Templates() *TemplateStore {
	return s.templates
}

// Send admits a single notification. Bodies are rendered from the
// template at admission; the notification is persisted in state
// pending and picked up by the scheduler.
func (s *Service) Send(ctx context.Context, req *SendRequest) (*Notification, error) {
	if err := s.validateSendRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if req.Type == TypeInApp || req.Type == TypePush {
		allowed, err := s.allowedByPreference(ctx, req.Recipient, req.Type)
		if err != nil {
			s.logger.Warn("preference check failed", zap.Error(err))
		} else if !allowed {
			return nil, ErrBlockedByPreference
		}
	}

	notification, err := s.buildNotification(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return notification, nil
}

// SendBatch admits one notification per recipient. Invalid recipients
// are recorded per-row and never block the others; batch counters are
// updated as deliveries settle.
func (s *Service) SendBatch(ctx context.Context, req *BatchSendRequest) (*NotificationBatch, []BatchRowResult, error) {
	if len(req.Recipients) == 0 || len(req.Recipients) > s.config.BatchMaxRecipients {
		return nil, nil, fmt.Errorf("%w: %d recipients", ErrBatchTooLarge, len(req.Recipients))
	}

	template, err := s.templates.Get(ctx, *req.TemplateID)
	if err != nil {
		return nil, nil, err
	}

	batch := &NotificationBatch{
		TemplateID:  req.TemplateID,
		Type:        req.Type,
		TotalCount:  len(req.Recipients),
		Status:      "processing",
		ScheduledAt: req.ScheduledAt,
		StartedAt:   core.TimePtr(time.Now().UTC()),
	}

	results := make([]BatchRowResult, len(req.Recipients))

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return fmt.Errorf("failed to create batch: %w", err)
		}

		for i, recipient := range req.Recipients {
			results[i].Recipient = recipient.Recipient

			if strings.TrimSpace(recipient.Recipient) == "" {
				results[i].Error = "recipient cannot be empty"
				continue
			}

			subject, content, contentHTML := s.templates.Render(template, recipient.Variables)
			if req.Subject != "" {
				subject = RenderString(req.Subject, recipient.Variables)
			}

			notification := &Notification{
				Type:        req.Type,
				Priority:    defaultPriority(req.Priority),
				Status:      StatusPending,
				Recipient:   recipient.Recipient,
				Subject:     subject,
				Content:     content,
				ContentHTML: contentHTML,
				TemplateID:  req.TemplateID,
				Variables:   recipient.Variables,
				ScheduledAt: req.ScheduledAt,
				MaxRetries:  s.config.DefaultMaxRetries,
				BatchID:     &batch.ID,
			}

			if err := tx.Create(notification).Error; err != nil {
				results[i].Error = err.Error()
				continue
			}

			results[i].NotificationID = &notification.ID
			results[i].Success = true
		}

		failed := 0
		for _, row := range results {
			if !row.Success {
				failed++
			}
		}
		if failed > 0 {
			return tx.Model(batch).Update("failed_count", failed).Error
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return batch, results, nil
}

// Cancel cancels a notification that has not started sending.
func (s *Service) Cancel(ctx context.Context, notificationID uuid.UUID) error {
	ok, err := s.transition(ctx, notificationID, StatusPending, StatusCancelled, nil)
	if err != nil {
		return err
	}
	if !ok {
		var notification Notification
		if err := s.db.WithContext(ctx).First(&notification, "id = ?", notificationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotificationNotFound
			}
			return err
		}
		return fmt.Errorf("%w: status is %s", ErrCannotCancel, notification.Status)
	}
	return nil
}

// RetryNow resets a failed notification for an immediate manual retry.
func (s *Service) RetryNow(ctx context.Context, notificationID uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND status = ?", notificationID, StatusFailed).
		Updates(map[string]interface{}{
			"status":        StatusPending,
			"retry_count":   0,
			"error_message": "",
			"scheduled_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reset notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// GetNotification returns a notification by ID
func (s *Service) GetNotification(ctx context.Context, notificationID uuid.UUID) (*Notification, error) {
	var notification Notification
	if err := s.db.WithContext(ctx).First(&notification, "id = ?", notificationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &notification, nil
}

// HandleDeliveryReceipt transitions sent to delivered on a provider
// receipt callback and publishes notification.delivered.
func (s *Service) HandleDeliveryReceipt(ctx context.Context, notificationID uuid.UUID) error {
	now := time.Now().UTC()
	ok, err := s.transition(ctx, notificationID, StatusSent, StatusDelivered, map[string]interface{}{
		"delivered_at": now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotificationNotFound
	}

	notification, err := s.GetNotification(ctx, notificationID)
	if err != nil {
		return err
	}

	s.publishLifecycle(ctx, "notification.delivered", map[string]interface{}{
		"id":        notification.ID.String(),
		"type":      string(notification.Type),
		"recipient": notification.Recipient,
	})
	return nil
}

// TrackClick records a user interaction callback and publishes
// notification.clicked.
func (s *Service) TrackClick(ctx context.Context, notificationID uuid.UUID, userID string) error {
	if _, err := s.GetNotification(ctx, notificationID); err != nil {
		return err
	}

	s.publishLifecycle(ctx, "notification.clicked", map[string]interface{}{
		"id":      notificationID.String(),
		"user_id": userID,
	})
	return nil
}

// ── in-app inbox ─────────────────────────────────────────────────────

// ListInApp returns a user's inbox newest-first.
func (s *Service) ListInApp(ctx context.Context, userID string, limit, offset int) ([]InAppNotification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var rows []InAppNotification
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_archived = ?", userID, false).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list in-app notifications: %w", err)
	}

	return rows, nil
}

// UnreadCount returns the user's unread inbox count.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&InAppNotification{}).
		Where("user_id = ? AND is_read = ? AND is_archived = ?", userID, false, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return count, nil
}

// MarkRead marks one inbox row read. Idempotent; the row must belong
// to the user.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID, userID string) error {
	result := s.db.WithContext(ctx).Model(&InAppNotification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		s.db.WithContext(ctx).Model(&InAppNotification{}).
			Where("id = ? AND user_id = ?", id, userID).Count(&count)
		if count == 0 {
			return ErrNotificationNotFound
		}
	}
	return nil
}

// MarkAllRead marks every unread inbox row read for the user.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&InAppNotification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark all read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ArchiveInApp archives one inbox row.
func (s *Service) ArchiveInApp(ctx context.Context, id uuid.UUID, userID string) error {
	result := s.db.WithContext(ctx).Model(&InAppNotification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_archived", true)
	if result.Error != nil {
		return fmt.Errorf("failed to archive: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// ── push subscriptions ───────────────────────────────────────────────

// RegisterPushSubscription inserts a device registration, or
// reactivates the existing row for the same (user, token, platform).
func (s *Service) RegisterPushSubscription(ctx context.Context, req *PushSubscribeRequest) (*PushSubscription, error) {
	var existing PushSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND device_token = ? AND platform = ?", req.UserID, req.DeviceToken, req.Platform).
		First(&existing).Error

	now := time.Now().UTC()

	if err == nil {
		existing.IsActive = true
		existing.Endpoint = req.Endpoint
		existing.P256dh = req.P256dh
		existing.Auth = req.Auth
		existing.Topics = req.Topics
		existing.LastUsedAt = &now
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to reactivate subscription: %w", err)
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up subscription: %w", err)
	}

	subscription := &PushSubscription{
		UserID:      req.UserID,
		DeviceToken: req.DeviceToken,
		Platform:    req.Platform,
		Endpoint:    req.Endpoint,
		P256dh:      req.P256dh,
		Auth:        req.Auth,
		Topics:      req.Topics,
		IsActive:    true,
		LastUsedAt:  &now,
	}
	if err := s.db.WithContext(ctx).Create(subscription).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	return subscription, nil
}

// Unsubscribe deactivates a device registration.
func (s *Service) Unsubscribe(ctx context.Context, userID, deviceToken string) error {
	result := s.db.WithContext(ctx).Model(&PushSubscription{}).
		Where("user_id = ? AND device_token = ?", userID, deviceToken).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to unsubscribe: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// ActiveSubscriptions returns a user's active push registrations.
func (s *Service) ActiveSubscriptions(ctx context.Context, userID string) ([]PushSubscription, error) {
	var subs []PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// ── preferences ──────────────────────────────────────────────────────

// SetPreference upserts a user's channel preference.
func (s *Service) SetPreference(ctx context.Context, req *PreferenceRequest) (*NotificationPreference, error) {
	var pref NotificationPreference
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", req.UserID, req.Type).
		First(&pref).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		pref = NotificationPreference{UserID: req.UserID, Type: req.Type}
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up preference: %w", err)
	}

	pref.IsEnabled = *req.IsEnabled
	pref.QuietHoursStart = req.QuietHoursStart
	pref.QuietHoursEnd = req.QuietHoursEnd

	if err := s.db.WithContext(ctx).Save(&pref).Error; err != nil {
		return nil, fmt.Errorf("failed to save preference: %w", err)
	}

	// An insert skips a false is_enabled in favour of the column
	// default, so the flag is written explicitly.
	if err := s.db.WithContext(ctx).Model(&pref).Update("is_enabled", *req.IsEnabled).Error; err != nil {
		return nil, fmt.Errorf("failed to save preference: %w", err)
	}
	pref.IsEnabled = *req.IsEnabled

	return &pref, nil
}

// GetPreferences lists a user's channel preferences.
func (s *Service) GetPreferences(ctx context.Context, userID string) ([]NotificationPreference, error) {
	var prefs []NotificationPreference
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&prefs).Error; err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	return prefs, nil
}

func (s *Service) allowedByPreference(ctx context.Context, userID string, notifType NotificationType) (bool, error) {
	var pref NotificationPreference
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, notifType).
		First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	return pref.IsEnabled, nil
}

// ── stats ────────────────────────────────────────────────────────────

// GetStats aggregates delivery counts over a window.
func (s *Service) GetStats(ctx context.Context, userID, period string) (*StatsResult, error) {
	since, err := periodStart(period)
	if err != nil {
		return nil, err
	}

	stats := &StatsResult{
		UserID:   userID,
		Period:   period,
		ByStatus: make(map[string]int64),
		ByType:   make(map[string]int64),
	}

	query := s.db.WithContext(ctx).Model(&Notification{})
	if userID != "" {
		query = query.Where("recipient = ?", userID)
	}
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}

	type bucket struct {
		Status string
		Type   string
		Count  int64
	}
	var buckets []bucket
	if err := query.Select("status, type, count(*) as count").
		Group("status, type").
		Scan(&buckets).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}

	for _, b := range buckets {
		stats.Total += b.Count
		stats.ByStatus[b.Status] += b.Count
		stats.ByType[b.Type] += b.Count
	}

	if userID != "" {
		inbox := s.db.WithContext(ctx).Model(&InAppNotification{}).Where("user_id = ?", userID)
		if !since.IsZero() {
			inbox = inbox.Where("created_at >= ?", since)
		}
		if err := inbox.Count(&stats.InAppTotal).Error; err != nil {
			return nil, fmt.Errorf("failed to count inbox: %w", err)
		}
		unread, err := s.UnreadCount(ctx, userID)
		if err != nil {
			return nil, err
		}
		stats.InAppUnread = unread
	}

	return stats, nil
}

func periodStart(period string) (time.Time, error) {
	now := time.Now().UTC()
	switch period {
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	case "7d":
		return now.AddDate(0, 0, -7), nil
	case "30d":
		return now.AddDate(0, 0, -30), nil
	case "all", "":
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("%w: period must be today, 7d, 30d or all", ErrInvalidRequest)
}

// ── internals ────────────────────────────────────────────────────────

func (s *Service) validateSendRequest(req *SendRequest) error {
	switch req.Type {
	case TypeEmail, TypePush, TypeInApp, TypeWebhook, TypeSMS:
	default:
		return fmt.Errorf("unknown notification type %q", req.Type)
	}

	if strings.TrimSpace(req.Recipient) == "" {
		return errors.New("recipient is required")
	}

	if req.Content == "" && req.TemplateID == nil {
		return errors.New("content or template_id is required")
	}

	if req.ScheduledAt != nil && req.ScheduledAt.Before(time.Now().UTC().Add(-time.Minute)) {
		return errors.New("scheduled_at cannot be in the past")
	}

	return nil
}

// buildNotification renders bodies and assembles the row. A missing
// template is fatal at admission.
func (s *Service) buildNotification(ctx context.Context, req *SendRequest) (*Notification, error) {
	notification := &Notification{
		Type:        req.Type,
		Priority:    defaultPriority(req.Priority),
		Status:      StatusPending,
		Recipient:   req.Recipient,
		Subject:     req.Subject,
		Content:     req.Content,
		ContentHTML: req.ContentHTML,
		TemplateID:  req.TemplateID,
		Variables:   req.Variables,
		ScheduledAt: req.ScheduledAt,
		ExpiresAt:   req.ExpiresAt,
		MaxRetries:  s.config.DefaultMaxRetries,
		Metadata:    req.Metadata,
	}

	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		notification.MaxRetries = *req.MaxRetries
	}

	if req.TemplateID != nil {
		template, err := s.templates.Get(ctx, *req.TemplateID)
		if err != nil {
			return nil, err
		}
		subject, content, contentHTML := s.templates.Render(template, req.Variables)
		if notification.Subject == "" {
			notification.Subject = subject
		}
		if notification.Content == "" {
			notification.Content = content
		}
		if notification.ContentHTML == "" {
			notification.ContentHTML = contentHTML
		}
	} else if len(req.Variables) > 0 {
		notification.Subject = RenderString(notification.Subject, req.Variables)
		notification.Content = RenderString(notification.Content, req.Variables)
		notification.ContentHTML = RenderString(notification.ContentHTML, req.Variables)
	}

	return notification, nil
}

func defaultPriority(p NotificationPriority) NotificationPriority {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p
	}
	return PriorityNormal
}

// transition performs an optimistic status change: the UPDATE asserts
// the previous status, so concurrent workers cannot double-apply an
// edge. Returns false when the row was not in the expected state.
func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to NotificationStatus, extra map[string]interface{}) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition %s: %w", id, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// publishLifecycle publishes a lifecycle event best-effort: a publish
// failure is logged and dropped, never rolled back into state changes.
func (s *Service) publishLifecycle(ctx context.Context, subject string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}

	event := bus.NewEvent(subject, s.config.ServiceName, data)
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish lifecycle event",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}

	eventsPublished.WithLabelValues(subject).Inc()
}

// updateBatchCounters settles one delivery outcome into the owning
// batch and publishes notification.batch_completed when the batch
// reaches its terminal counts.
func (s *Service) updateBatchCounters(ctx context.Context, batchID uuid.UUID, outcome NotificationStatus) {
	column := ""
	switch outcome {
	case StatusSent:
		column = "sent_count"
	case StatusDelivered:
		column = "delivered_count"
	case StatusFailed:
		column = "failed_count"
	default:
		return
	}

	updates := map[string]interface{}{column: gorm.Expr(column+" + ?", 1)}
	if outcome == StatusDelivered {
		// Delivered implies sent.
		updates["sent_count"] = gorm.Expr("sent_count + ?", 1)
	}

	if err := s.db.WithContext(ctx).Model(&NotificationBatch{}).
		Where("id = ?", batchID).
		Updates(updates).Error; err != nil {
		s.logger.Warn("failed to update batch counters", zap.Error(err))
		return
	}

	var batch NotificationBatch
	if err := s.db.WithContext(ctx).First(&batch, "id = ?", batchID).Error; err != nil {
		return
	}

	if batch.Status == "processing" && batch.SentCount+batch.FailedCount >= batch.TotalCount {
		now := time.Now().UTC()
		result := s.db.WithContext(ctx).Model(&NotificationBatch{}).
			Where("id = ? AND status = ?", batchID, "processing").
			Updates(map[string]interface{}{
				"status":       "completed",
				"completed_at": now,
			})
		if result.Error == nil && result.RowsAffected > 0 {
			s.publishLifecycle(ctx, "notification.batch_completed", map[string]interface{}{
				"batch_id": batchID.String(),
				"sent":     batch.SentCount,
				"failed":   batch.FailedCount,
			})
		}
	}
}
