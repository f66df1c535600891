package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/handlers"
)

// registerQRRoutes mounts both sharing flows. The view and verify endpoints
// are public: they are what a scanned QR code resolves to.
func registerQRRoutes(engine *gin.Engine, api *gin.RouterGroup, handler *handlers.QRHandler) {
	public := engine.Group("/api/qr")
	{
		public.GET("/view", handler.View)
		public.GET("/view-goal", handler.ViewGoal)
		public.POST("/verify-goal-access", handler.VerifyGoalAccess)
	}

	qr := api.Group("/qr")
	{
		qr.POST("/goals/:goal_id/tokens", handler.IssueToken)
		qr.GET("/goals/:goal_id/tokens", handler.ListTokens)
		qr.GET("/goals/:goal_id/tokens/:token/image", handler.TokenImage)
		qr.DELETE("/tokens/:token", handler.RevokeToken)
		qr.GET("/generate-permanent-qr/:goal_id", handler.GeneratePermanent)
	}
}
