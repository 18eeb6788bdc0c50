package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/opslane/workstream-coordinator/internal/common/logger"
	"github.com/opslane/workstream-coordinator/internal/coordinator"
)

// SetupRoutes configures the workstream API routes.
func SetupRoutes(router *gin.RouterGroup, coord *coordinator.Coordinator, hub *Hub, log *logger.Logger) {
	handler := NewHandler(coord, hub, log)

	workstreams := router.Group("/workstreams")
	{
		workstreams.GET("", handler.ListWorkstreams)
		workstreams.POST("", handler.CreateWorkstream)
		workstreams.GET("/:id", handler.GetWorkstream)
		workstreams.GET("/:id/events", handler.StreamEvents)
		workstreams.GET("/:id/diff", handler.GetDiff)
		workstreams.POST("/:id/prompt", handler.SendPrompt)
		workstreams.POST("/:id/permission", handler.RespondToPermission)
		workstreams.POST("/:id/pause", handler.PauseWorkstream)
		workstreams.POST("/:id/resume", handler.ResumeWorkstream)
		workstreams.POST("/:id/stop", handler.StopWorkstream)
		workstreams.POST("/:id/commit", handler.CommitChanges)
	}
}
