package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"relay/bus"
)

var (
	ErrInvalidEvent    = errors.New("invalid audit event")
	ErrInvalidQuery    = errors.New("invalid audit query")
	ErrEventNotFound   = errors.New("audit event not found")
	ErrInvalidRange    = errors.New("invalid time range")
	ErrInvalidCleanup  = errors.New("invalid cleanup request")
	ErrIllegalSecurity = errors.New("illegal security state transition")
)

// Service implements the audit capture service: universal bus intake,
// direct write API, queries, reports and retention cleanup.
type Service struct {
	db       *gorm.DB
	bus      bus.Bus
	seen     *SeenSet
	config   *Config
	logger   *zap.Logger
	validate *validator.Validate

	intakeSub bus.Subscription
}

// NewService creates a new audit service
func NewService(db *gorm.DB, eventBus bus.Bus, config *Config, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		bus:      eventBus,
		seen:     NewSeenSet(config.DedupCacheSize, config.DedupCacheEvict),
		config:   config,
		logger:   logger,
		validate: validator.New(),
	}
}

// Seen exposes the dedup set for inspection.
func (s *Service) Seen() *SeenSet {
	return s.seen
}

// ── bus intake ───────────────────────────────────────────────────────

// StartIntake subscribes the wildcard pattern so every two-token
// subject on the bus is captured.
func (s *Service) StartIntake() error {
	sub, err := s.bus.Subscribe("*.*", s.HandleBusEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe audit intake: %w", err)
	}
	s.intakeSub = sub
	s.logger.Info("audit intake subscribed", zap.String("pattern", "*.*"))
	return nil
}

// StopIntake unsubscribes the wildcard consumer.
func (s *Service) StopIntake() {
	if s.intakeSub != nil {
		if err := s.intakeSub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe intake", zap.Error(err))
		}
		s.intakeSub = nil
	}
}

// HandleBusEvent captures one bus event: deduplicate, map, persist.
// Failures are logged and dropped so the bus is never back-pressured.
func (s *Service) HandleBusEvent(ctx context.Context, event *bus.Event) {
	// The service's own outbound subject would otherwise be recaptured
	// on every high-severity event.
	if strings.HasPrefix(event.Type, "audit.") {
		return
	}

	if event.ID != "" && !s.seen.Observe(event.ID) {
		dedupDrops.Inc()
		return
	}

	record := MapEvent(event)

	if err := s.persist(ctx, record); err != nil {
		s.logger.Error("failed to persist audit event",
			zap.String("subject", event.Type),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return
	}

	eventsCaptured.WithLabelValues(string(record.Category), string(record.Severity)).Inc()

	if record.Severity == SeverityHigh || record.Severity == SeverityCritical {
		s.publishAlert(ctx, record)
	}
}

// persist inserts one row; a conflict on event_id means a replica or a
// redelivery already wrote it, which is not an error.
func (s *Service) persist(ctx context.Context, record *AuditEvent) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record).Error
}

// publishAlert emits audit.event_recorded, the service's single
// outbound event. Best-effort.
func (s *Service) publishAlert(ctx context.Context, record *AuditEvent) {
	event := bus.NewEvent("audit.event_recorded", s.config.ServiceName, map[string]interface{}{
		"audit_id":   record.ID.String(),
		"event_type": string(record.EventType),
		"category":   string(record.Category),
		"severity":   string(record.Severity),
		"user_id":    record.UserID,
	})

	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish audit alert", zap.Error(err))
		return
	}
	alertsPublished.Inc()
}

// ── direct write API ─────────────────────────────────────────────────

// LogRequest is a direct write of one audit event.
type LogRequest struct {
	EventType EventType   `json:"event_type" validate:"required"`
	Category  Category    `json:"category" validate:"required"`
	Severity  Severity    `json:"severity,omitempty"`
	Status    EventStatus `json:"status,omitempty"`

	Action string `json:"action" validate:"required,max=255"`

	UserID         string `json:"user_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`

	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	ResourceName string `json:"resource_name,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Tags     []string               `json:"tags,omitempty"`

	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// BatchResult reports per-event outcomes positionally.
type BatchResult struct {
	SuccessfulCount int              `json:"successful_count"`
	FailedCount     int              `json:"failed_count"`
	Results         []BatchRowResult `json:"results"`
}

// BatchRowResult is the outcome for the i-th submitted event.
type BatchRowResult struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Log validates and persists one directly-submitted audit event.
func (s *Service) Log(ctx context.Context, req *LogRequest) (*AuditEvent, error) {
	record, err := s.buildRecord(req)
	if err != nil {
		return nil, err
	}

	if err := s.persist(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist audit event: %w", err)
	}

	eventsCaptured.WithLabelValues(string(record.Category), string(record.Severity)).Inc()

	if record.Severity == SeverityHigh || record.Severity == SeverityCritical {
		s.publishAlert(ctx, record)
	}

	return record, nil
}

// LogBatch validates each event independently; one invalid event never
// blocks the others.
func (s *Service) LogBatch(ctx context.Context, requests []LogRequest) (*BatchResult, error) {
	if len(requests) == 0 || len(requests) > s.config.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size must be between 1 and %d", ErrInvalidEvent, s.config.MaxBatchSize)
	}

	result := &BatchResult{Results: make([]BatchRowResult, len(requests))}

	for i := range requests {
		record, err := s.Log(ctx, &requests[i])
		if err != nil {
			result.FailedCount++
			result.Results[i] = BatchRowResult{Success: false, Error: errorMessage(err)}
			continue
		}
		result.SuccessfulCount++
		result.Results[i] = BatchRowResult{ID: record.ID.String(), Success: true}
	}

	return result, nil
}

// buildRecord applies the validation rules shared by both write paths
// and derives compliance and retention metadata.
func (s *Service) buildRecord(req *LogRequest) (*AuditEvent, error) {
	req.Action = strings.TrimSpace(req.Action)
	if req.Action == "" {
		return nil, fmt.Errorf("%w: action cannot be empty", ErrInvalidEvent)
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if !ValidEventType(req.EventType) {
		return nil, fmt.Errorf("%w: unknown event_type %q", ErrInvalidEvent, req.EventType)
	}
	if !ValidCategory(req.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidEvent, req.Category)
	}

	severity := req.Severity
	if severity == "" {
		severity = SeverityLow
	}
	if !ValidSeverity(severity) {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, severity)
	}

	status := req.Status
	if status == "" {
		status = EventStatusSuccess
	}

	timestamp := time.Now().UTC()
	if req.Timestamp != nil {
		timestamp = req.Timestamp.UTC()
	}

	record := &AuditEvent{
		EventType:      req.EventType,
		Category:       req.Category,
		Severity:       severity,
		Status:         status,
		Action:         req.Action,
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		ResourceName:   req.ResourceName,
		Metadata:       ensureMetadata(req.Metadata),
		Tags:           req.Tags,
		Timestamp:      timestamp,
	}

	record.ComplianceFlags = DeriveComplianceFlags(record)
	record.RetentionPolicy = RetentionForCategory(record.Category)

	return record, nil
}

// ── query API ────────────────────────────────────────────────────────

// QueryFilters narrows an audit listing.
type QueryFilters struct {
	EventType *EventType `json:"event_type,omitempty"`
	Category  *Category  `json:"category,omitempty"`
	Severity  *Severity  `json:"severity,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	Action    string     `json:"action,omitempty"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// maxQuerySpan bounds time-range queries to one year.
const maxQuerySpan = 365 * 24 * time.Hour

// Query lists audit events newest-first.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]AuditEvent, error) {
	limit := filters.Limit
	if limit == 0 {
		limit = s.config.DefaultQueryLimit
	}
	if limit < 1 || limit > s.config.MaxQueryLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, s.config.MaxQueryLimit)
	}
	if filters.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must be non-negative", ErrInvalidQuery)
	}

	if filters.StartTime != nil && filters.EndTime != nil {
		if !filters.StartTime.Before(*filters.EndTime) {
			return nil, fmt.Errorf("%w: start must precede end", ErrInvalidRange)
		}
		if filters.EndTime.Sub(*filters.StartTime) > maxQuerySpan {
			return nil, fmt.Errorf("%w: span exceeds 365 days", ErrInvalidRange)
		}
	}

	query := s.db.WithContext(ctx).Model(&AuditEvent{})

	if filters.EventType != nil {
		query = query.Where("event_type = ?", *filters.EventType)
	}
	if filters.Category != nil {
		query = query.Where("category = ?", *filters.Category)
	}
	if filters.Severity != nil {
		query = query.Where("severity = ?", *filters.Severity)
	}
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp < ?", *filters.EndTime)
	}

	var events []AuditEvent
	if err := query.Order("timestamp DESC").
		Limit(limit).Offset(filters.Offset).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	return events, nil
}

// UserActivity lists one user's events over the trailing window.
func (s *Service) UserActivity(ctx context.Context, userID string, days int) ([]AuditEvent, error) {
	if days < 1 || days > 365 {
		return nil, fmt.Errorf("%w: days must be between 1 and 365", ErrInvalidQuery)
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	var events []AuditEvent
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND timestamp >= ?", userID, since).
		Order("timestamp DESC").
		Limit(s.config.MaxQueryLimit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load user activity: %w", err)
	}

	return events, nil
}

// UserSummary aggregates a user's recent activity with a coarse risk
// score: high-severity share drives the score up.
type UserSummary struct {
	UserID        string           `json:"user_id"`
	Days          int              `json:"days"`
	TotalEvents   int64            `json:"total_events"`
	ByCategory    map[string]int64 `json:"by_category"`
	BySeverity    map[string]int64 `json:"by_severity"`
	RiskScore     float64          `json:"risk_score"`
	LastEventTime *time.Time       `json:"last_event_time,omitempty"`
}

// Summarize computes a user's activity summary.
func (s *Service) Summarize(ctx context.Context, userID string, days int) (*UserSummary, error) {
	if days < 1 || days > 365 {
		return nil, fmt.Errorf("%w: days must be between 1 and 365", ErrInvalidQuery)
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	summary := &UserSummary{
		UserID:     userID,
		Days:       days,
		ByCategory: make(map[string]int64),
		BySeverity: make(map[string]int64),
	}

	type bucket struct {
		Category string
		Severity string
		Count    int64
	}
	var buckets []bucket
	if err := s.db.WithContext(ctx).Model(&AuditEvent{}).
		Select("category, severity, count(*) as count").
		Where("user_id = ? AND timestamp >= ?", userID, since).
		Group("category, severity").
		Scan(&buckets).Error; err != nil {
		return nil, fmt.Errorf("failed to summarize activity: %w", err)
	}

	var weighted float64
	for _, b := range buckets {
		summary.TotalEvents += b.Count
		summary.ByCategory[b.Category] += b.Count
		summary.BySeverity[b.Severity] += b.Count
		switch Severity(b.Severity) {
		case SeverityCritical:
			weighted += float64(b.Count) * 1.0
		case SeverityHigh:
			weighted += float64(b.Count) * 0.7
		case SeverityMedium:
			weighted += float64(b.Count) * 0.3
		}
	}
	if summary.TotalEvents > 0 {
		summary.RiskScore = 100 * weighted / float64(summary.TotalEvents)
	}

	var last AuditEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		First(&last).Error
	if err == nil {
		summary.LastEventTime = &last.Timestamp
	}

	return summary, nil
}

// SecurityEvents lists recent high-severity and security-category
// events over a window of at most 90 days.
func (s *Service) SecurityEvents(ctx context.Context, days int) ([]AuditEvent, error) {
	if days < 1 || days > 90 {
		return nil, fmt.Errorf("%w: days must be between 1 and 90", ErrInvalidQuery)
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	var events []AuditEvent
	if err := s.db.WithContext(ctx).
		Where("timestamp >= ? AND (category = ? OR severity IN ?)",
			since, CategorySecurity, []Severity{SeverityHigh, SeverityCritical}).
		Order("timestamp DESC").
		Limit(s.config.MaxQueryLimit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load security events: %w", err)
	}

	return events, nil
}

// ── security alerts ──────────────────────────────────────────────────

// SecurityAlertRequest creates an investigable alert.
type SecurityAlertRequest struct {
	Title        string                 `json:"title" validate:"required,max=500"`
	Description  string                 `json:"description,omitempty"`
	Severity     Severity               `json:"severity" validate:"required"`
	UserID       string                 `json:"user_id,omitempty"`
	AuditEventID string                 `json:"audit_event_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// CreateSecurityAlert opens a new investigation.
func (s *Service) CreateSecurityAlert(ctx context.Context, req *SecurityAlertRequest) (*SecurityEvent, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if !ValidSeverity(req.Severity) {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, req.Severity)
	}

	alert := &SecurityEvent{
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		Status:      SecurityOpen,
		UserID:      req.UserID,
		Metadata:    ensureMetadata(req.Metadata),
	}
	if req.AuditEventID != "" {
		alert.AuditEventID = &req.AuditEventID
	}

	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return nil, fmt.Errorf("failed to create security alert: %w", err)
	}

	return alert, nil
}

// UpdateSecurityStatus moves an investigation along its state machine.
func (s *Service) UpdateSecurityStatus(ctx context.Context, id string, to SecurityEventStatus, resolvedBy string) (*SecurityEvent, error) {
	var alert SecurityEvent
	if err := s.db.WithContext(ctx).First(&alert, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to load security alert: %w", err)
	}

	if !CanTransitionSecurity(alert.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalSecurity, alert.Status, to)
	}

	alert.Status = to
	if to == SecurityResolved {
		alert.ResolvedAt = timePtr(time.Now().UTC())
		alert.ResolvedBy = resolvedBy
	}
	if to == SecurityOpen {
		alert.ResolvedAt = nil
		alert.ResolvedBy = ""
	}

	if err := s.db.WithContext(ctx).Save(&alert).Error; err != nil {
		return nil, fmt.Errorf("failed to update security alert: %w", err)
	}

	return &alert, nil
}

// ListSecurityAlerts lists investigations newest-first.
func (s *Service) ListSecurityAlerts(ctx context.Context, status SecurityEventStatus, limit int) ([]SecurityEvent, error) {
	if limit <= 0 || limit > s.config.MaxQueryLimit {
		limit = s.config.DefaultQueryLimit
	}

	query := s.db.WithContext(ctx).Model(&SecurityEvent{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var alerts []SecurityEvent
	if err := query.Order("created_at DESC").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list security alerts: %w", err)
	}

	return alerts, nil
}

// ── retention cleanup ────────────────────────────────────────────────

// Cleanup deletes events older than retentionDays, except that rows
// still inside their compliance retention window are always kept: the
// longer of the two windows wins, regardless of the admin request.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < s.config.MinCleanupDays || retentionDays > s.config.MaxCleanupDays {
		return 0, fmt.Errorf("%w: retention_days must be between %d and %d",
			ErrInvalidCleanup, s.config.MinCleanupDays, s.config.MaxCleanupDays)
	}

	now := time.Now().UTC()
	requested := now.AddDate(0, 0, -retentionDays)

	var total int64
	for _, policy := range []string{Retention1Year, Retention3Years, Retention7Years} {
		policyCutoff := now.Add(-RetentionDuration(policy))

		cutoff := requested
		if policyCutoff.Before(cutoff) {
			cutoff = policyCutoff
		}

		result := s.db.WithContext(ctx).
			Where("retention_policy = ? AND timestamp < ?", policy, cutoff).
			Delete(&AuditEvent{})
		if result.Error != nil {
			return total, fmt.Errorf("failed to clean up %s events: %w", policy, result.Error)
		}
		total += result.RowsAffected
	}

	s.logger.Info("retention cleanup completed",
		zap.Int("requested_days", retentionDays),
		zap.Int64("deleted", total),
	)

	return total, nil
}

// ── helpers ──────────────────────────────────────────────────────────

func errorMessage(err error) string {
	// Unwrap the sentinel prefix so API clients see the plain reason.
	msg := err.Error()
	if cut, ok := strings.CutPrefix(msg, ErrInvalidEvent.Error()+": "); ok {
		return cut
	}
	return msg
}

func timePtr(t time.Time) *time.Time {
	return &t
}
