package audit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Controller handles HTTP requests for the audit service
type Controller struct {
	service *Service
}

// NewController creates a new audit controller
func NewController(service *Service) *Controller {
	return &Controller{service: service}
}

// LogEvent logs one audit event
// @Summary Log audit event
// @Description Directly record one audit event
// @Tags audit
// @Accept json
// @Produce json
// @Param event body LogRequest true "Audit event"
// @Success 200 {object} AuditEvent
// @Router /audit/events [post]
func (c *Controller) LogEvent(ctx *gin.Context) {
	var req LogRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	record, err := c.service.Log(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": record})
}

// LogBatch logs up to 100 events, validated independently
// @Summary Log audit events in batch
// @Tags audit
// @Accept json
// @Produce json
// @Router /audit/events/batch [post]
func (c *Controller) LogBatch(ctx *gin.Context) {
	var req struct {
		Events []LogRequest `json:"events" binding:"required,min=1,max=100"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	result, err := c.service.LogBatch(ctx.Request.Context(), req.Events)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// QueryEvents runs a filtered query
// @Summary Query audit events
// @Tags audit
// @Accept json
// @Produce json
// @Param filters body QueryFilters true "Filters"
// @Router /audit/events/query [post]
func (c *Controller) QueryEvents(ctx *gin.Context) {
	var filters QueryFilters
	if err := ctx.ShouldBindJSON(&filters); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	events, err := c.service.Query(ctx.Request.Context(), filters)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": events, "count": len(events)})
}

// UserActivities lists one user's recent events
// @Summary User activity
// @Tags audit
// @Param user_id path string true "User ID"
// @Param days query int false "Window in days (1-365)"
// @Router /audit/users/{user_id}/activities [get]
func (c *Controller) UserActivities(ctx *gin.Context) {
	days, _ := strconv.Atoi(ctx.DefaultQuery("days", "30"))

	events, err := c.service.UserActivity(ctx.Request.Context(), ctx.Param("user_id"), days)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": events, "count": len(events)})
}

// UserSummary aggregates a user's activity with a risk score
// @Summary User activity summary
// @Tags audit
// @Param user_id path string true "User ID"
// @Param days query int false "Window in days (1-365)"
// @Router /audit/users/{user_id}/summary [get]
func (c *Controller) UserSummary(ctx *gin.Context) {
	days, _ := strconv.Atoi(ctx.DefaultQuery("days", "30"))

	summary, err := c.service.Summarize(ctx.Request.Context(), ctx.Param("user_id"), days)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": summary})
}

// CreateAlert opens a security investigation
// @Summary Create security alert
// @Tags security
// @Accept json
// @Param alert body SecurityAlertRequest true "Alert"
// @Router /audit/security/alerts [post]
func (c *Controller) CreateAlert(ctx *gin.Context) {
	var req SecurityAlertRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	alert, err := c.service.CreateSecurityAlert(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": alert})
}

// UpdateAlertStatus moves an investigation along its state machine
// @Summary Update security alert status
// @Tags security
// @Param id path string true "Alert ID"
// @Router /audit/security/alerts/{id}/status [post]
func (c *Controller) UpdateAlertStatus(ctx *gin.Context) {
	var req struct {
		Status     SecurityEventStatus `json:"status" binding:"required"`
		ResolvedBy string              `json:"resolved_by,omitempty"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	alert, err := c.service.UpdateSecurityStatus(ctx.Request.Context(), ctx.Param("id"), req.Status, req.ResolvedBy)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": alert})
}

// ListSecurityEvents lists recent high-severity events
// @Summary List security events
// @Tags security
// @Param days query int false "Window in days (1-90)"
// @Router /audit/security/events [get]
func (c *Controller) ListSecurityEvents(ctx *gin.Context) {
	days, _ := strconv.Atoi(ctx.DefaultQuery("days", "7"))

	events, err := c.service.SecurityEvents(ctx.Request.Context(), days)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": events, "count": len(events)})
}

// GenerateReport generates a compliance report
// @Summary Generate compliance report
// @Tags compliance
// @Accept json
// @Param report body ComplianceReportRequest true "Report selection"
// @Router /audit/compliance/reports [post]
func (c *Controller) GenerateReport(ctx *gin.Context) {
	var req ComplianceReportRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	report, err := c.service.GenerateComplianceReport(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": report})
}

// ListStandards lists supported compliance standards
// @Summary List compliance standards
// @Tags compliance
// @Router /audit/compliance/standards [get]
func (c *Controller) ListStandards(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"data": SupportedStandards()})
}

// Cleanup runs retention cleanup (admin only)
// @Summary Retention cleanup
// @Tags maintenance
// @Param retention_days query int true "Requested retention in days (30-2555)"
// @Router /audit/maintenance/cleanup [post]
func (c *Controller) Cleanup(ctx *gin.Context) {
	days, err := strconv.Atoi(ctx.Query("retention_days"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "retention_days is required"})
		return
	}

	deleted, err := c.service.Cleanup(ctx.Request.Context(), days)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// Health is the liveness endpoint
func (c *Controller) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": c.service.config.ServiceName,
	})
}

func respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEventNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrInvalidQuery),
		errors.Is(err, ErrInvalidRange), errors.Is(err, ErrInvalidCleanup),
		errors.Is(err, ErrIllegalSecurity):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
