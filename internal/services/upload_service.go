package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/internal/storage"
	apperrors "github.com/sataplan/server/pkg/errors"
)

const (
	maxCoverBytes    = 5 << 20
	coverPresignTTL  = 15 * time.Minute
	coverKeyTemplate = "goals/%04d/%02d/%02d/%s.%s"
)

// coverContentTypes maps accepted upload content types to key extensions.
var coverContentTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

var (
	// ErrUnsupportedCoverType rejects uploads that are not JPEG, PNG or WebP.
	ErrUnsupportedCoverType = errors.New("upload service: unsupported content type")
	// ErrCoverTooLarge rejects uploads above the size limit.
	ErrCoverTooLarge = errors.New("upload service: file too large")
	// ErrCoverNotFound indicates the goal has no stored cover image.
	ErrCoverNotFound = errors.New("upload service: cover not found")
)

// UploadOption customises the UploadService.
type UploadOption func(*UploadService)

// WithUploadClock injects a custom time source.
func WithUploadClock(clock func() time.Time) UploadOption {
	return func(s *UploadService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// CoverUpload carries the presigned slot handed to the owner.
type CoverUpload struct {
	Key       string `json:"key"`
	UploadURL string `json:"upload_url"`
}

// UploadService hands out presigned URLs for goal cover images. A nil
// presigner means object storage is disabled and every operation reports that.
type UploadService struct {
	db        *gorm.DB
	presigner storage.Presigner
	audit     *AuditService
	now       func() time.Time
}

// NewUploadService constructs an UploadService. The presigner may be nil when
// object storage is not configured.
func NewUploadService(db *gorm.DB, presigner storage.Presigner, audit *AuditService, opts ...UploadOption) (*UploadService, error) {
	if db == nil {
		return nil, errors.New("upload service: db is required")
	}

	service := &UploadService{
		db:        db,
		presigner: presigner,
		audit:     audit,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Enabled reports whether object storage is configured.
func (s *UploadService) Enabled() bool {
	return s.presigner != nil
}

// CreateCoverUpload validates the declared upload and returns a presigned PUT
// slot. The client uploads directly to object storage and then confirms.
func (s *UploadService) CreateCoverUpload(ctx context.Context, userID, goalID, contentType string, size int64) (*CoverUpload, error) {
	ctx = ensureContext(ctx)

	if s.presigner == nil {
		return nil, apperrors.ErrStorageDisabled
	}

	if _, err := s.ownedGoal(ctx, userID, goalID); err != nil {
		return nil, err
	}

	ext, ok := coverContentTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return nil, ErrUnsupportedCoverType
	}
	if size <= 0 || size > maxCoverBytes {
		return nil, ErrCoverTooLarge
	}

	now := s.now().UTC()
	key := fmt.Sprintf(coverKeyTemplate, now.Year(), int(now.Month()), now.Day(), uuid.NewString(), ext)

	url, err := s.presigner.PresignPut(ctx, key, contentType, coverPresignTTL)
	if err != nil {
		return nil, fmt.Errorf("upload service: presign put: %w", err)
	}

	return &CoverUpload{Key: key, UploadURL: url}, nil
}

// ConfirmCoverUpload records the uploaded key on the goal, replacing any
// previous cover reference.
func (s *UploadService) ConfirmCoverUpload(ctx context.Context, userID, goalID, key string) error {
	ctx = ensureContext(ctx)

	if s.presigner == nil {
		return apperrors.ErrStorageDisabled
	}

	goal, err := s.ownedGoal(ctx, userID, goalID)
	if err != nil {
		return err
	}

	key = strings.TrimSpace(key)
	if key == "" || !strings.HasPrefix(key, "goals/") {
		return ErrCoverNotFound
	}

	if err := s.db.WithContext(ctx).Model(&models.Goal{}).
		Where("id = ?", goal.ID).
		Update("cover_image_key", key).Error; err != nil {
		return fmt.Errorf("upload service: store cover key: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &goal.UserID,
		Action:   "goal.cover_uploaded",
		Resource: goal.ID,
		Result:   "success",
		Metadata: map[string]any{"key": key},
	})

	return nil
}

// CoverDownloadURL returns a presigned GET URL for the stored cover image.
func (s *UploadService) CoverDownloadURL(ctx context.Context, userID, goalID string) (string, error) {
	ctx = ensureContext(ctx)

	if s.presigner == nil {
		return "", apperrors.ErrStorageDisabled
	}

	goal, err := s.ownedGoal(ctx, userID, goalID)
	if err != nil {
		return "", err
	}

	if goal.CoverImageKey == "" {
		return "", ErrCoverNotFound
	}

	url, err := s.presigner.PresignGet(ctx, goal.CoverImageKey, coverPresignTTL)
	if err != nil {
		return "", fmt.Errorf("upload service: presign get: %w", err)
	}
	return url, nil
}

func (s *UploadService) ownedGoal(ctx context.Context, userID, goalID string) (*models.Goal, error) {
	userID = strings.TrimSpace(userID)
	goalID = strings.TrimSpace(goalID)
	if userID == "" || goalID == "" {
		return nil, ErrGoalNotFound
	}

	var goal models.Goal
	err := s.db.WithContext(ctx).
		Take(&goal, "id = ? AND user_id = ?", goalID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGoalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("upload service: find goal: %w", err)
	}
	return &goal, nil
}
