package notifications

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Controller handles HTTP requests for notifications
type Controller struct {
	service *Service
}

// NewController creates a new notification controller
func NewController(service *Service) *Controller {
	return &Controller{service: service}
}

// SendNotification admits a single notification
// @Summary Send a notification
// @Description Admit one notification for delivery through its channel
// @Tags notifications
// @Accept json
// @Produce json
// @Param notification body SendRequest true "Notification details"
// @Success 200 {object} Notification
// @Failure 422 {object} map[string]interface{}
// @Router /notifications/send [post]
func (c *Controller) SendNotification(ctx *gin.Context) {
	var req SendRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	notification, err := c.service.Send(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": notification})
}

// SendBatch admits a batch of notifications
// @Summary Send batch notifications
// @Description Admit up to 1000 recipients sharing one template
// @Tags notifications
// @Accept json
// @Produce json
// @Param batch body BatchSendRequest true "Batch details"
// @Success 200 {object} NotificationBatch
// @Router /notifications/batch [post]
func (c *Controller) SendBatch(ctx *gin.Context) {
	var req BatchSendRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	batch, results, err := c.service.SendBatch(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": batch, "results": results})
}

// GetNotification gets a notification by ID
// @Summary Get notification
// @Tags notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} Notification
// @Router /notifications/{id} [get]
func (c *Controller) GetNotification(ctx *gin.Context) {
	id, ok := parseID(ctx)
	if !ok {
		return
	}

	notification, err := c.service.GetNotification(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": notification})
}

// CancelNotification cancels a pending notification
// @Summary Cancel notification
// @Tags notifications
// @Param id path string true "Notification ID"
// @Router /notifications/{id}/cancel [post]
func (c *Controller) CancelNotification(ctx *gin.Context) {
	id, ok := parseID(ctx)
	if !ok {
		return
	}

	if err := c.service.Cancel(ctx.Request.Context(), id); err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "notification cancelled"})
}

// RetryNotification resets a failed notification for a manual retry
// @Summary Retry notification
// @Tags notifications
// @Param id path string true "Notification ID"
// @Router /notifications/{id}/retry [post]
func (c *Controller) RetryNotification(ctx *gin.Context) {
	id, ok := parseID(ctx)
	if !ok {
		return
	}

	if err := c.service.RetryNow(ctx.Request.Context(), id); err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "notification requeued"})
}

// DeliveryReceipt records a provider delivery receipt
// @Summary Record delivery receipt
// @Tags notifications
// @Param id path string true "Notification ID"
// @Router /notifications/{id}/delivered [post]
func (c *Controller) DeliveryReceipt(ctx *gin.Context) {
	id, ok := parseID(ctx)
	if !ok {
		return
	}

	if err := c.service.HandleDeliveryReceipt(ctx.Request.Context(), id); err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "delivery recorded"})
}

// TrackClick records a user interaction callback
// @Summary Track notification click
// @Tags notifications
// @Param id path string true "Notification ID"
// @Param user_id query string true "User ID"
// @Router /notifications/{id}/click [post]
func (c *Controller) TrackClick(ctx *gin.Context) {
	id, ok := parseID(ctx)
	if !ok {
		return
	}

	if err := c.service.TrackClick(ctx.Request.Context(), id, ctx.Query("user_id")); err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "click recorded"})
}

// ListInApp lists a user's inbox
// @Summary List in-app notifications
// @Tags in-app
// @Produce json
// @Param id path string true "User ID"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Router /notifications/in-app/{id} [get]
func (c *Controller) ListInApp(ctx *gin.Context) {
	userID := ctx.Param("id")
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(ctx.DefaultQuery("offset", "0"))

	rows, err := c.service.ListInApp(ctx.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": rows, "limit": limit, "offset": offset})
}

// UnreadCount returns a user's unread inbox count
// @Summary Unread count
// @Tags in-app
// @Param id path string true "User ID"
// @Router /notifications/in-app/{id}/unread-count [get]
func (c *Controller) UnreadCount(ctx *gin.Context) {
	count, err := c.service.UnreadCount(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// MarkRead marks one inbox row read
// @Summary Mark in-app notification read
// @Tags in-app
// @Param id path string true "In-app notification ID"
// @Param user_id query string true "Owning user ID"
// @Router /notifications/in-app/{id}/read [post]
func (c *Controller) MarkRead(ctx *gin.Context) {
	id, ok := parseID(ctx)
	if !ok {
		return
	}

	userID := ctx.Query("user_id")
	if userID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if err := c.service.MarkRead(ctx.Request.Context(), id, userID); err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "marked read"})
}

// MarkAllRead marks all of a user's inbox rows read
// @Summary Mark all read
// @Tags in-app
// @Param id path string true "User ID"
// @Router /notifications/in-app/{id}/read-all [post]
func (c *Controller) MarkAllRead(ctx *gin.Context) {
	updated, err := c.service.MarkAllRead(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"updated": updated})
}

// ArchiveInApp archives one inbox row
// @Summary Archive in-app notification
// @Tags in-app
// @Param id path string true "In-app notification ID"
// @Param user_id query string true "Owning user ID"
// @Router /notifications/in-app/{id}/archive [post]
func (c *Controller) ArchiveInApp(ctx *gin.Context) {
	id, ok := parseID(ctx)
	if !ok {
		return
	}

	userID := ctx.Query("user_id")
	if userID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if err := c.service.ArchiveInApp(ctx.Request.Context(), id, userID); err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "archived"})
}

// PushSubscribe registers a push device
// @Summary Register push subscription
// @Tags push
// @Accept json
// @Param subscription body PushSubscribeRequest true "Device registration"
// @Router /notifications/push/subscribe [post]
func (c *Controller) PushSubscribe(ctx *gin.Context) {
	var req PushSubscribeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	sub, err := c.service.RegisterPushSubscription(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": sub})
}

// PushUnsubscribe removes a push device
// @Summary Remove push subscription
// @Tags push
// @Param user_id query string true "User ID"
// @Param device_token query string true "Device token"
// @Router /notifications/push/unsubscribe [delete]
func (c *Controller) PushUnsubscribe(ctx *gin.Context) {
	userID := ctx.Query("user_id")
	deviceToken := ctx.Query("device_token")
	if userID == "" || deviceToken == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "user_id and device_token are required"})
		return
	}

	if err := c.service.Unsubscribe(ctx.Request.Context(), userID, deviceToken); err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "unsubscribed"})
}

// CreateTemplate creates a notification template
// @Summary Create template
// @Tags templates
// @Accept json
// @Param template body TemplateRequest true "Template"
// @Router /notifications/templates [post]
func (c *Controller) CreateTemplate(ctx *gin.Context) {
	var req TemplateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	template, err := c.service.Templates().Create(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": template})
}

// ListTemplates lists templates
// @Summary List templates
// @Tags templates
// @Router /notifications/templates [get]
func (c *Controller) ListTemplates(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(ctx.DefaultQuery("offset", "0"))

	templates, err := c.service.Templates().List(ctx.Request.Context(), limit, offset)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": templates})
}

// GetTemplate gets a template by ID
// @Summary Get template
// @Tags templates
// @Param id path string true "Template ID"
// @Router /notifications/templates/{id} [get]
func (c *Controller) GetTemplate(ctx *gin.Context) {
	id, ok := parseID(ctx)
	if !ok {
		return
	}

	template, err := c.service.Templates().Get(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": template})
}

// GetStats aggregates delivery stats over a window
// @Summary Notification stats
// @Tags notifications
// @Param user_id query string false "User ID"
// @Param period query string false "today, 7d, 30d or all"
// @Router /notifications/stats [get]
func (c *Controller) GetStats(ctx *gin.Context) {
	stats, err := c.service.GetStats(ctx.Request.Context(), ctx.Query("user_id"), ctx.DefaultQuery("period", "all"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": stats})
}

// GetPreferences lists a user's channel preferences
// @Summary Get preferences
// @Tags preferences
// @Param id path string true "User ID"
// @Router /notifications/preferences/{id} [get]
func (c *Controller) GetPreferences(ctx *gin.Context) {
	prefs, err := c.service.GetPreferences(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": prefs})
}

// SetPreference upserts a user's channel preference
// @Summary Set preference
// @Tags preferences
// @Accept json
// @Param preference body PreferenceRequest true "Preference"
// @Router /notifications/preferences [post]
func (c *Controller) SetPreference(ctx *gin.Context) {
	var req PreferenceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	pref, err := c.service.SetPreference(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"data": pref})
}

// Health is the liveness endpoint
func (c *Controller) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": c.service.config.ServiceName,
	})
}

func parseID(ctx *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps service errors onto the HTTP status taxonomy:
// validation 400, not-found 404, blocked/semantic 400, store
// unavailability 503.
func respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotificationNotFound), errors.Is(err, ErrTemplateNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrBatchTooLarge),
		errors.Is(err, ErrTemplateInvalid), errors.Is(err, ErrBlockedByPreference),
		errors.Is(err, ErrCannotCancel):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrStoreUnavailable):
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
