package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/services"
	apperrors "github.com/sataplan/server/pkg/errors"
	"github.com/sataplan/server/pkg/response"
)

// UploadHandler hands out presigned slots for goal cover images and
// resolves download URLs for stored covers.
type UploadHandler struct {
	uploads *services.UploadService
}

func NewUploadHandler(uploads *services.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

type createCoverUploadRequest struct {
	ContentType string `json:"content_type" validate:"required"`
	Size        int64  `json:"size" validate:"required,min=1"`
}

type confirmCoverUploadRequest struct {
	Key string `json:"key" validate:"required"`
}

// CreateCoverUpload reserves a presigned PUT slot for a goal cover.
func (h *UploadHandler) CreateCoverUpload(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	var req createCoverUploadRequest
	if !bindAndValidate(c, &req) {
		return
	}

	slot, err := h.uploads.CreateCoverUpload(requestContext(c), userID, c.Param("goal_id"), req.ContentType, req.Size)
	if err != nil {
		respondUploadError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, slot)
}

// ConfirmCoverUpload records a completed upload against the goal.
func (h *UploadHandler) ConfirmCoverUpload(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	var req confirmCoverUploadRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.uploads.ConfirmCoverUpload(requestContext(c), userID, c.Param("goal_id"), req.Key); err != nil {
		respondUploadError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"confirmed": true})
}

// GetCover resolves a presigned download URL for the stored cover.
func (h *UploadHandler) GetCover(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	url, err := h.uploads.CoverDownloadURL(requestContext(c), userID, c.Param("goal_id"))
	if err != nil {
		respondUploadError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"download_url": url})
}

func respondUploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnsupportedCoverType):
		response.Error(c, apperrors.NewBadRequest("cover images must be JPEG, PNG or WebP"))
	case errors.Is(err, services.ErrCoverTooLarge):
		response.Error(c, apperrors.NewBadRequest("cover images are limited to 5 MiB"))
	case errors.Is(err, services.ErrCoverNotFound):
		response.Error(c, apperrors.ErrNotFound)
	case errors.Is(err, services.ErrGoalNotFound):
		response.Error(c, apperrors.ErrNotFound)
	default:
		response.Error(c, err)
	}
}
