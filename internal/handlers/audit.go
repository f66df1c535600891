package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/services"
	apperrors "github.com/sataplan/server/pkg/errors"
	"github.com/sataplan/server/pkg/response"
)

// AuditHandler serves the caller's own audit trail. Entries belonging to
// other users are never reachable through this handler.
type AuditHandler struct {
	audit *services.AuditService
}

func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 50)

	filters := services.AuditFilters{
		UserID:   userID,
		Action:   c.Query("action"),
		Result:   c.Query("result"),
		Resource: c.Query("resource"),
	}

	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filters.Since = &t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			filters.Until = &t
		}
	}

	logs, total, err := h.audit.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{Page: page, PerPage: per, Total: total})
}

// GET /api/audit/export
func (h *AuditHandler) Export(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	// Same filters as List, minus pagination; the user scope is fixed.
	filters := services.AuditFilters{
		UserID:   userID,
		Action:   c.Query("action"),
		Result:   c.Query("result"),
		Resource: c.Query("resource"),
	}

	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filters.Since = &t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			filters.Until = &t
		}
	}

	logs, err := h.audit.Export(requestContext(c), filters)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, logs)
}
