package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/handlers"
)

func registerProfileRoutes(api *gin.RouterGroup, handler *handlers.ProfileHandler) {
	user := api.Group("/user")
	{
		user.GET("/me", handler.Me)
		user.POST("/create-profile", handler.CreateProfile)
		user.PUT("/update-profile", handler.UpdateProfile)
	}
}
