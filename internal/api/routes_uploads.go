package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/handlers"
)

func registerUploadRoutes(api *gin.RouterGroup, handler *handlers.UploadHandler) {
	uploads := api.Group("/uploads")
	{
		uploads.POST("/goals/:goal_id/cover", handler.CreateCoverUpload)
		uploads.POST("/goals/:goal_id/cover/confirm", handler.ConfirmCoverUpload)
		uploads.GET("/goals/:goal_id/cover", handler.GetCover)
	}
}
