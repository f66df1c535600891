package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/services"
	apperrors "github.com/sataplan/server/pkg/errors"
	"github.com/sataplan/server/pkg/response"
)

// GoalHandler exposes goal CRUD under /api/goals. Every route operates on
// the caller's own goals; other users' goals answer 404.
type GoalHandler struct {
	goals *services.GoalService
}

func NewGoalHandler(goals *services.GoalService) *GoalHandler {
	return &GoalHandler{goals: goals}
}

type createGoalRequest struct {
	Name        string `json:"name" validate:"required,max=80"`
	Description string `json:"description" validate:"omitempty,max=2000"`
}

type updateGoalRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=80"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// POST /api/goals/add
func (h *GoalHandler) Create(c *gin.Context) {
	var req createGoalRequest
	if !bindAndValidate(c, &req) {
		return
	}

	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	goal, err := h.goals.Create(requestContext(c), userID, services.CreateGoalInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		respondGoalError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, goal)
}

// GET /api/goals/allgoals
func (h *GoalHandler) List(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	offset := parseIntQuery(c, "offset", 0)
	limit := parseIntQuery(c, "limit", 10)

	goals, total, err := h.goals.List(requestContext(c), userID, services.ListGoalsOptions{
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		respondGoalError(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, goals, &response.Meta{
		Offset: offset,
		Limit:  limit,
		Total:  total,
	})
}

// GET /api/goals/goal/:id
func (h *GoalHandler) Get(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	goal, err := h.goals.Get(requestContext(c), userID, c.Param("id"))
	if err != nil {
		respondGoalError(c, err)
		return
	}

	response.Success(c, http.StatusOK, goal)
}

// PATCH /api/goals/update/:id
func (h *GoalHandler) Update(c *gin.Context) {
	var req updateGoalRequest
	if !bindAndValidate(c, &req) {
		return
	}

	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	goal, err := h.goals.Update(requestContext(c), userID, c.Param("id"), services.UpdateGoalInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		respondGoalError(c, err)
		return
	}

	response.Success(c, http.StatusOK, goal)
}

// DELETE /api/goals/delete/:id
func (h *GoalHandler) Delete(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	if err := h.goals.Delete(requestContext(c), userID, c.Param("id")); err != nil {
		respondGoalError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func respondGoalError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrGoalNotFound) {
		response.Error(c, apperrors.ErrNotFound)
		return
	}
	response.Error(c, err)
}
