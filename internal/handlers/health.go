package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/monitoring"
)

// HealthHandler serves liveness and readiness reports from the cached
// probe evaluator.
type HealthHandler struct {
	health *monitoring.CachedEvaluator
}

func NewHealthHandler(health *monitoring.CachedEvaluator) *HealthHandler {
	return &HealthHandler{health: health}
}

// Overview reports process liveness together with the component summary.
func (h *HealthHandler) Overview(c *gin.Context) {
	ctx := requestContext(c)
	live := h.health.Liveness(ctx)
	ready := h.health.Readiness(ctx)
	writeHealthReport(c, monitoring.MergeReports(live, ready))
}

// Ready reports dependency readiness (database ping, cache).
func (h *HealthHandler) Ready(c *gin.Context) {
	writeHealthReport(c, h.health.Readiness(requestContext(c)))
}

func writeHealthReport(c *gin.Context, report monitoring.HealthReport) {
	status := http.StatusOK
	if !report.Success {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checks":     report.Checks,
		"checked_at": time.Now().UTC(),
	})
}
