package notifications

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all notification routes under the given
// group (mounted at /api/v1/notifications).
func RegisterRoutes(router *gin.RouterGroup, controller *Controller) {
	router.POST("/send", controller.SendNotification)
	router.POST("/batch", controller.SendBatch)
	router.GET("/stats", controller.GetStats)

	// In-app inbox. The path parameter is a user id for list-style
	// endpoints and a row id for read/archive.
	inApp := router.Group("/in-app")
	{
		inApp.GET("/:id", controller.ListInApp)
		inApp.GET("/:id/unread-count", controller.UnreadCount)
		inApp.POST("/:id/read", controller.MarkRead)
		inApp.POST("/:id/read-all", controller.MarkAllRead)
		inApp.POST("/:id/archive", controller.ArchiveInApp)
	}

	push := router.Group("/push")
	{
		push.POST("/subscribe", controller.PushSubscribe)
		push.DELETE("/unsubscribe", controller.PushUnsubscribe)
	}

	templates := router.Group("/templates")
	{
		templates.POST("", controller.CreateTemplate)
		templates.GET("", controller.ListTemplates)
		templates.GET("/:id", controller.GetTemplate)
	}

	preferences := router.Group("/preferences")
	{
		preferences.GET("/:id", controller.GetPreferences)
		preferences.POST("", controller.SetPreference)
	}

	// Single-notification operations and provider callbacks.
	router.GET("/:id", controller.GetNotification)
	router.POST("/:id/cancel", controller.CancelNotification)
	router.POST("/:id/retry", controller.RetryNotification)
	router.POST("/:id/delivered", controller.DeliveryReceipt)
	router.POST("/:id/click", controller.TrackClick)
}
