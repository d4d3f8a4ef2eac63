package audit

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all audit routes under the given group
// (mounted at /api/v1/audit).
func RegisterRoutes(router *gin.RouterGroup, controller *Controller) {
	events := router.Group("/events")
	{
		events.POST("", controller.LogEvent)
		events.POST("/batch", controller.LogBatch)
		events.POST("/query", controller.QueryEvents)
	}

	users := router.Group("/users")
	{
		users.GET("/:user_id/activities", controller.UserActivities)
		users.GET("/:user_id/summary", controller.UserSummary)
	}

	security := router.Group("/security")
	{
		security.POST("/alerts", controller.CreateAlert)
		security.POST("/alerts/:id/status", controller.UpdateAlertStatus)
		security.GET("/events", controller.ListSecurityEvents)
	}

	compliance := router.Group("/compliance")
	{
		compliance.POST("/reports", controller.GenerateReport)
		compliance.GET("/standards", controller.ListStandards)
	}

	router.POST("/maintenance/cleanup", controller.Cleanup)
}
