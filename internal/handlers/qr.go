package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/services"
	apperrors "github.com/sataplan/server/pkg/errors"
	"github.com/sataplan/server/pkg/response"
)

// QRHandler serves both goal-sharing flows: single-use QR codes backed by
// access tokens and reusable password-gated QR codes.
type QRHandler struct {
	qr *services.QRService
}

func NewQRHandler(qr *services.QRService) *QRHandler {
	return &QRHandler{qr: qr}
}

type issueTokenRequest struct {
	// TTL is the validity window in seconds. Absent means the configured
	// default; zero default means the token never expires on its own.
	TTL *int64 `json:"ttl"`
}

type verifyGoalAccessRequest struct {
	GoalID   string `json:"goal_id" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// POST /api/qr/goals/:goal_id/tokens
func (h *QRHandler) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if !bindAndValidate(c, &req) {
			return
		}
	}

	ttl := time.Duration(0)
	if req.TTL != nil {
		if *req.TTL <= 0 {
			response.Error(c, apperrors.NewBadRequest("ttl must be a positive number of seconds"))
			return
		}
		ttl = time.Duration(*req.TTL) * time.Second
	}

	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	code, err := h.qr.IssueOneTimeCode(requestContext(c), userID, c.Param("goal_id"), ttl)
	if err != nil {
		respondQRError(c, err)
		return
	}

	if c.Query("format") == "png" {
		c.Header("Content-Disposition", qrAttachment(code.Token.GoalID))
		c.Data(http.StatusCreated, "image/png", code.PNG)
		return
	}

	// The raw token appears in this response and nowhere else.
	response.Success(c, http.StatusCreated, gin.H{
		"id":         code.Token.ID,
		"goal_id":    code.Token.GoalID,
		"token":      code.RawToken,
		"url":        code.URL,
		"issued_at":  code.Token.IssuedAt,
		"expires_at": code.Token.ExpiresAt,
	})
}

// GET /api/qr/goals/:goal_id/tokens/:token/image
func (h *QRHandler) TokenImage(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	goalID := c.Param("goal_id")
	png, err := h.qr.RenderTokenImage(requestContext(c), userID, goalID, c.Param("token"))
	if err != nil {
		respondQRError(c, err)
		return
	}

	c.Header("Content-Disposition", qrAttachment(goalID))
	c.Data(http.StatusOK, "image/png", png)
}

// GET /api/qr/view?token=...
//
// Public endpoint hit when a visitor scans a single-use code. Consuming the
// token also mints a short-lived grant so the visitor can reload the view.
func (h *QRHandler) View(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, apperrors.NewBadRequest("token query parameter is required"))
		return
	}

	view, grant, err := h.qr.RedeemOneTime(requestContext(c), token)
	if err != nil {
		respondQRError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"goal_id":      view.GoalID,
		"goal_details": view.GoalDetails,
		"grant_token":  grant,
	})
}

// DELETE /api/qr/tokens/:token
func (h *QRHandler) RevokeToken(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	if err := h.qr.RevokeToken(requestContext(c), userID, c.Param("token")); err != nil {
		respondQRError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/qr/goals/:goal_id/tokens
func (h *QRHandler) ListTokens(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	tokens, err := h.qr.ListTokens(requestContext(c), userID, c.Param("goal_id"))
	if err != nil {
		respondQRError(c, err)
		return
	}

	response.Success(c, http.StatusOK, tokens)
}

// GET /api/qr/generate-permanent-qr/:goal_id
//
// Rotates the goal's access password and streams the QR image. The plaintext
// secret travels once in the X-Goal-Password header.
func (h *QRHandler) GeneratePermanent(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	goalID := c.Param("goal_id")
	code, err := h.qr.IssuePermanentCode(requestContext(c), userID, goalID)
	if err != nil {
		respondQRError(c, err)
		return
	}

	c.Header("X-Goal-Password", code.Secret)
	c.Header("Content-Disposition", qrAttachment(goalID))
	c.Data(http.StatusOK, "image/png", code.PNG)
}

// POST /api/qr/verify-goal-access
func (h *QRHandler) VerifyGoalAccess(c *gin.Context) {
	var req verifyGoalAccessRequest
	if !bindAndValidate(c, &req) {
		return
	}

	grant, err := h.qr.VerifyGoalAccess(requestContext(c), req.GoalID, req.Password)
	if err != nil {
		respondQRError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"grant_token": grant})
}

// GET /api/qr/view-goal?token=...
//
// Public endpoint accepting a goal grant minted by either sharing flow.
func (h *QRHandler) ViewGoal(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, apperrors.NewBadRequest("token query parameter is required"))
		return
	}

	view, err := h.qr.ViewWithGrant(requestContext(c), token)
	if err != nil {
		respondQRError(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

func respondQRError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrGoalNotFound), errors.Is(err, services.ErrAccessTokenNotFound):
		response.Error(c, apperrors.ErrNotFound)
	case errors.Is(err, services.ErrAccessTokenUsed):
		response.Error(c, apperrors.ErrAccessTokenUsed)
	case errors.Is(err, services.ErrAccessTokenExpired):
		response.Error(c, apperrors.ErrAccessTokenExpired)
	case errors.Is(err, services.ErrAccessTokenInvalid):
		response.Error(c, apperrors.NewBadRequest("token is required"))
	case errors.Is(err, services.ErrQRPasswordNotSet):
		response.Error(c, apperrors.NewBadRequest("this goal has no access password; generate a QR code first"))
	case errors.Is(err, services.ErrQRAccessDenied):
		response.Error(c, apperrors.ErrGoalAccessDenied)
	case errors.Is(err, services.ErrQRGrantInvalid):
		response.Error(c, apperrors.ErrUnauthorized)
	default:
		response.Error(c, err)
	}
}

func qrAttachment(goalID string) string {
	return fmt.Sprintf("attachment; filename=%q", "goal-"+goalID+".png")
}
