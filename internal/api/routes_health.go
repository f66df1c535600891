package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/handlers"
	"github.com/sataplan/server/internal/monitoring"
)

// registerHealthRoutes mounts the public health endpoints. Without an
// evaluator the probes answer 404 so orchestrators fail fast instead of
// trusting a hardcoded OK.
func registerHealthRoutes(engine *gin.Engine, evaluator *monitoring.CachedEvaluator) {
	if evaluator == nil {
		engine.GET("/api/health", disabledHealthHandler)
		engine.GET("/api/health/ready", disabledHealthHandler)
		return
	}

	handler := handlers.NewHealthHandler(evaluator)
	engine.GET("/api/health", handler.Overview)
	engine.GET("/api/health/ready", handler.Ready)
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}
