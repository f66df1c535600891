package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/handlers"
)

func registerAuditRoutes(api *gin.RouterGroup, handler *handlers.AuditHandler) {
	api.GET("/audit", handler.List)
	api.GET("/audit/export", handler.Export)
}
