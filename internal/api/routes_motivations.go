package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/handlers"
)

// Gin keeps a separate routing tree per HTTP method, so the create/list
// wildcard can be the goal while update/delete address the motivation itself.
func registerMotivationRoutes(api *gin.RouterGroup, handler *handlers.MotivationHandler) {
	motivations := api.Group("/motivations")
	{
		motivations.POST("/:goal_id", handler.Create)
		motivations.GET("/:goal_id", handler.List)
		motivations.PUT("/:motivation_id", handler.Update)
		motivations.DELETE("/:motivation_id", handler.Delete)
	}
}
