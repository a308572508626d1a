package routes

import (
	"github.com/angwiki/modqueue-backend/internal/handler"
	"github.com/angwiki/modqueue-backend/internal/middleware"
	"github.com/angwiki/modqueue-backend/pkg/jwt"
	"github.com/gin-gonic/gin"
)

// Setup configures all API routes
func Setup(
	router *gin.Engine,
	submitHandler *handler.SubmitHandler,
	moderationHandler *handler.ModerationHandler,
	jwtManager *jwt.Manager,
) {
	api := router.Group("/api/v1")

	// Submission endpoints: open to anonymous actors, the interception
	// pipeline decides what gets queued.
	submit := api.Group("/submit", middleware.ResolveActor(jwtManager))
	{
		submit.POST("/edit", submitHandler.Edit)
		submit.POST("/upload", submitHandler.Upload)
		submit.POST("/move", submitHandler.Move)
		submit.POST("/stash", submitHandler.Stage)
	}

	// Review endpoints: moderator capability required
	moderation := api.Group("/moderation", middleware.RequireModerator(jwtManager))
	{
		moderation.GET("/entries", moderationHandler.List)
		moderation.GET("/entries/:id", moderationHandler.Get)
		moderation.GET("/pending-count", moderationHandler.PendingCount)
		moderation.GET("/badge", moderationHandler.Badge)

		moderation.POST("/entries/:id/approve", moderationHandler.Approve)
		moderation.POST("/entries/:id/reject", moderationHandler.Reject)
		moderation.POST("/entries/:id/merge", moderationHandler.Merge)

		moderation.POST("/approve-batch", moderationHandler.ApproveBatch)
		moderation.POST("/approve-all", moderationHandler.ApproveAll)
		moderation.POST("/reject-batch", moderationHandler.RejectBatch)
	}
}
