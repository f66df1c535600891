package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/services"
	apperrors "github.com/sataplan/server/pkg/errors"
	"github.com/sataplan/server/pkg/response"
)

// MotivationHandler manages the quotes and links attached to goals.
type MotivationHandler struct {
	motivations *services.MotivationService
}

func NewMotivationHandler(motivations *services.MotivationService) *MotivationHandler {
	return &MotivationHandler{motivations: motivations}
}

type createMotivationRequest struct {
	Quote string `json:"quote" validate:"omitempty,max=500"`
	Link  string `json:"link" validate:"omitempty,url,max=2048"`
}

type updateMotivationRequest struct {
	Quote *string `json:"quote" validate:"omitempty,max=500"`
	Link  *string `json:"link" validate:"omitempty,max=2048"`
}

// POST /api/motivations/:goal_id
func (h *MotivationHandler) Create(c *gin.Context) {
	var req createMotivationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	motivation, err := h.motivations.Create(requestContext(c), userID, c.Param("goal_id"), services.CreateMotivationInput{
		Quote: req.Quote,
		Link:  req.Link,
	})
	if err != nil {
		respondMotivationError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, motivation)
}

// GET /api/motivations/:goal_id
func (h *MotivationHandler) List(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	motivations, err := h.motivations.List(requestContext(c), userID, c.Param("goal_id"))
	if err != nil {
		respondMotivationError(c, err)
		return
	}

	response.Success(c, http.StatusOK, motivations)
}

// PUT /api/motivations/:motivation_id
func (h *MotivationHandler) Update(c *gin.Context) {
	var req updateMotivationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	motivation, err := h.motivations.Update(requestContext(c), userID, c.Param("motivation_id"), services.UpdateMotivationInput{
		Quote: req.Quote,
		Link:  req.Link,
	})
	if err != nil {
		respondMotivationError(c, err)
		return
	}

	response.Success(c, http.StatusOK, motivation)
}

// DELETE /api/motivations/:motivation_id
func (h *MotivationHandler) Delete(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	if err := h.motivations.Delete(requestContext(c), userID, c.Param("motivation_id")); err != nil {
		respondMotivationError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func respondMotivationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrGoalNotFound), errors.Is(err, services.ErrMotivationNotFound):
		response.Error(c, apperrors.ErrNotFound)
	case errors.Is(err, services.ErrDuplicateMotivation):
		response.Error(c, apperrors.NewBadRequest("this quote already exists for the goal"))
	default:
		response.Error(c, err)
	}
}
