package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/internal/services"
	apperrors "github.com/sataplan/server/pkg/errors"
	"github.com/sataplan/server/pkg/response"
)

// ProfileHandler exposes the current-user account endpoints under /api/user.
type ProfileHandler struct {
	users    *services.UserService
	profiles *services.ProfileService
}

func NewProfileHandler(users *services.UserService, profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{users: users, profiles: profiles}
}

type createProfileRequest struct {
	FirstName string `json:"firstname" validate:"omitempty,max=128"`
	LastName  string `json:"lastname" validate:"omitempty,max=128"`
	Bio       string `json:"bio" validate:"omitempty,max=1000"`
}

type updateProfileRequest struct {
	FirstName   *string        `json:"firstname" validate:"omitempty,max=128"`
	LastName    *string        `json:"lastname" validate:"omitempty,max=128"`
	Bio         *string        `json:"bio" validate:"omitempty,max=1000"`
	Preferences map[string]any `json:"preferences"`
}

// GET /api/user/me
func (h *ProfileHandler) Me(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := gin.H{
		"id":          user.ID,
		"username":    user.Username,
		"email":       user.Email,
		"mfa_enabled": user.MFAEnabled,
		"created_at":  user.CreatedAt,
	}
	if user.Profile != nil {
		payload["first_name"] = user.Profile.FirstName
		payload["last_name"] = user.Profile.LastName
		payload["bio"] = user.Profile.Bio
		payload["preferences"] = decodePreferences(user.Profile)
	}

	response.Success(c, http.StatusOK, payload)
}

// POST /api/user/create-profile
func (h *ProfileHandler) CreateProfile(c *gin.Context) {
	var req createProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	profile, err := h.profiles.Create(requestContext(c), userID, services.CreateProfileInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Bio:       req.Bio,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, marshalProfile(profile))
}

// PUT /api/user/update-profile
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	profile, err := h.profiles.Update(requestContext(c), userID, services.UpdateProfileInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Bio:         req.Bio,
		Preferences: req.Preferences,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, marshalProfile(profile))
}

func marshalProfile(profile *models.Profile) gin.H {
	if profile == nil {
		return gin.H{}
	}
	return gin.H{
		"id":          profile.ID,
		"user_id":     profile.UserID,
		"firstname":   profile.FirstName,
		"lastname":    profile.LastName,
		"bio":         profile.Bio,
		"preferences": decodePreferences(profile),
	}
}

func decodePreferences(profile *models.Profile) map[string]any {
	if profile == nil || len(profile.Preferences) == 0 {
		return map[string]any{}
	}
	var prefs map[string]any
	if err := json.Unmarshal(profile.Preferences, &prefs); err != nil {
		return map[string]any{}
	}
	return prefs
}
