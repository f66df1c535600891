package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
	apperrors "github.com/sataplan/server/pkg/errors"
)

var (
	// ErrProfileNotFound indicates the user has not created a profile yet.
	ErrProfileNotFound = apperrors.New("PROFILE_NOT_FOUND", "Profile not found", http.StatusNotFound)
	// ErrProfileExists signals that the user already has a profile.
	ErrProfileExists = apperrors.New("PROFILE_EXISTS", "Profile already exists", http.StatusConflict)
)

// CreateProfileInput describes the fields accepted when creating a profile.
type CreateProfileInput struct {
	FirstName string
	LastName  string
	Bio       string
}

// UpdateProfileInput enumerates mutable profile attributes. A nil pointer means no change.
type UpdateProfileInput struct {
	FirstName   *string
	LastName    *string
	Bio         *string
	Preferences map[string]any
}

// ProfileService manages the one-per-user profile record.
type ProfileService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewProfileService constructs a ProfileService instance.
func NewProfileService(db *gorm.DB, audit *AuditService) (*ProfileService, error) {
	if db == nil {
		return nil, errors.New("profile service: db is required")
	}
	return &ProfileService{db: db, audit: audit}, nil
}

// Create stores the user's profile. Each user has at most one.
func (s *ProfileService) Create(ctx context.Context, userID string, input CreateProfileInput) (*models.Profile, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	profile := &models.Profile{
		UserID:    userID,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Bio:       strings.TrimSpace(input.Bio),
	}

	if err := s.db.WithContext(ctx).Create(profile).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrProfileExists
		}
		return nil, fmt.Errorf("profile service: create profile: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "profile.create",
		Resource: userID,
		Result:   "success",
	})

	return profile, nil
}

// Get loads the user's profile.
func (s *ProfileService) Get(ctx context.Context, userID string) (*models.Profile, error) {
	ctx = ensureContext(ctx)

	var profile models.Profile
	err := s.db.WithContext(ctx).Take(&profile, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile service: get profile: %w", err)
	}
	return &profile, nil
}

// Update applies the provided changes to the user's profile.
func (s *ProfileService) Update(ctx context.Context, userID string, input UpdateProfileInput) (*models.Profile, error) {
	ctx = ensureContext(ctx)

	profile, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}

	if input.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*input.LastName)
	}
	if input.Bio != nil {
		updates["bio"] = strings.TrimSpace(*input.Bio)
	}
	if input.Preferences != nil {
		encoded, err := json.Marshal(input.Preferences)
		if err != nil {
			return nil, fmt.Errorf("profile service: marshal preferences: %w", err)
		}
		updates["preferences"] = datatypes.JSON(encoded)
	}

	if len(updates) == 0 {
		return profile, nil
	}

	if err := s.db.WithContext(ctx).Model(profile).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("profile service: update profile: %w", err)
	}

	if err := s.db.WithContext(ctx).Take(profile, "user_id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("profile service: reload profile: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "profile.update",
		Resource: userID,
		Result:   "success",
	})

	return profile, nil
}
