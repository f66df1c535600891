package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/handlers"
)

func registerGoalRoutes(api *gin.RouterGroup, handler *handlers.GoalHandler) {
	goals := api.Group("/goals")
	{
		goals.POST("/add", handler.Create)
		goals.GET("/allgoals", handler.List)
		goals.GET("/goal/:id", handler.Get)
		goals.PATCH("/update/:id", handler.Update)
		goals.DELETE("/delete/:id", handler.Delete)
	}
}
