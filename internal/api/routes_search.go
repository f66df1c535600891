package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/handlers"
)

// Live search is a public surface: visitors browse goals without an account.
func registerSearchRoutes(engine *gin.Engine, handler *handlers.SearchHandler) {
	search := engine.Group("/api/search")
	{
		search.GET("/ws", handler.Live)
		search.GET("/live-search", handler.LiveSearch)
	}
}
