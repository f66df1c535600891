package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
	apperrors "github.com/sataplan/server/pkg/errors"
)

const maxQuoteLength = 500

var (
	// ErrMotivationNotFound indicates the motivation does not exist or is out of reach.
	ErrMotivationNotFound = errors.New("motivation service: motivation not found")
	// ErrDuplicateMotivation signals that the same quote is already attached to the goal.
	ErrDuplicateMotivation = errors.New("motivation service: duplicate quote")
)

// CreateMotivationInput carries the fields of a new motivation. At least one
// of Quote and Link must be present.
type CreateMotivationInput struct {
	Quote string
	Link  string
}

// UpdateMotivationInput enumerates mutable motivation attributes.
type UpdateMotivationInput struct {
	Quote *string
	Link  *string
}

// MotivationService manages quotes and links attached to goals.
type MotivationService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewMotivationService constructs a MotivationService instance.
func NewMotivationService(db *gorm.DB, audit *AuditService) (*MotivationService, error) {
	if db == nil {
		return nil, errors.New("motivation service: db is required")
	}
	return &MotivationService{db: db, audit: audit}, nil
}

// Create attaches a motivation to one of the user's goals.
func (s *MotivationService) Create(ctx context.Context, userID, goalID string, input CreateMotivationInput) (*models.Motivation, error) {
	ctx = ensureContext(ctx)

	if err := s.ensureGoalOwnership(ctx, userID, goalID); err != nil {
		return nil, err
	}

	quote := strings.TrimSpace(input.Quote)
	link := strings.TrimSpace(input.Link)

	if quote == "" && link == "" {
		return nil, apperrors.NewBadRequest("a quote or a link is required")
	}
	if len(quote) > maxQuoteLength {
		return nil, apperrors.NewBadRequest("quote is too long")
	}

	if quote != "" {
		var count int64
		err := s.db.WithContext(ctx).
			Model(&models.Motivation{}).
			Where("goal_id = ? AND quote = ?", goalID, quote).
			Count(&count).Error
		if err != nil {
			return nil, fmt.Errorf("motivation service: check duplicate quote: %w", err)
		}
		if count > 0 {
			return nil, ErrDuplicateMotivation
		}
	}

	motivation := &models.Motivation{
		GoalID: goalID,
		Quote:  quote,
		Link:   link,
	}

	if err := s.db.WithContext(ctx).Create(motivation).Error; err != nil {
		return nil, fmt.Errorf("motivation service: create motivation: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "motivation.create",
		Resource: goalID,
		Result:   "success",
		Metadata: map[string]any{"motivation_id": motivation.ID},
	})

	return motivation, nil
}

// List returns the motivations of one of the user's goals, oldest first.
func (s *MotivationService) List(ctx context.Context, userID, goalID string) ([]models.Motivation, error) {
	ctx = ensureContext(ctx)

	if err := s.ensureGoalOwnership(ctx, userID, goalID); err != nil {
		return nil, err
	}

	var motivations []models.Motivation
	err := s.db.WithContext(ctx).
		Where("goal_id = ?", goalID).
		Order("created_at ASC").
		Find(&motivations).Error
	if err != nil {
		return nil, fmt.Errorf("motivation service: list motivations: %w", err)
	}
	return motivations, nil
}

// Update applies the provided changes to a motivation the user owns.
func (s *MotivationService) Update(ctx context.Context, userID, motivationID string, input UpdateMotivationInput) (*models.Motivation, error) {
	ctx = ensureContext(ctx)

	motivation, err := s.findOwned(ctx, userID, motivationID)
	if err != nil {
		return nil, err
	}

	quote := motivation.Quote
	link := motivation.Link

	if input.Quote != nil {
		quote = strings.TrimSpace(*input.Quote)
	}
	if input.Link != nil {
		link = strings.TrimSpace(*input.Link)
	}

	if quote == "" && link == "" {
		return nil, apperrors.NewBadRequest("a quote or a link is required")
	}
	if len(quote) > maxQuoteLength {
		return nil, apperrors.NewBadRequest("quote is too long")
	}

	if quote != "" && quote != motivation.Quote {
		var count int64
		err := s.db.WithContext(ctx).
			Model(&models.Motivation{}).
			Where("goal_id = ? AND quote = ? AND id <> ?", motivation.GoalID, quote, motivation.ID).
			Count(&count).Error
		if err != nil {
			return nil, fmt.Errorf("motivation service: check duplicate quote: %w", err)
		}
		if count > 0 {
			return nil, ErrDuplicateMotivation
		}
	}

	updates := map[string]any{"quote": quote, "link": link}
	if err := s.db.WithContext(ctx).Model(motivation).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("motivation service: update motivation: %w", err)
	}

	motivation.Quote = quote
	motivation.Link = link

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "motivation.update",
		Resource: motivation.GoalID,
		Result:   "success",
		Metadata: map[string]any{"motivation_id": motivation.ID},
	})

	return motivation, nil
}

// Delete removes a motivation the user owns.
func (s *MotivationService) Delete(ctx context.Context, userID, motivationID string) error {
	ctx = ensureContext(ctx)

	motivation, err := s.findOwned(ctx, userID, motivationID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(motivation).Error; err != nil {
		return fmt.Errorf("motivation service: delete motivation: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "motivation.delete",
		Resource: motivation.GoalID,
		Result:   "success",
		Metadata: map[string]any{"motivation_id": motivation.ID},
	})

	return nil
}

func (s *MotivationService) ensureGoalOwnership(ctx context.Context, userID, goalID string) error {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Goal{}).
		Where("id = ? AND user_id = ?", goalID, userID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("motivation service: check goal: %w", err)
	}
	if count == 0 {
		return ErrGoalNotFound
	}
	return nil
}

func (s *MotivationService) findOwned(ctx context.Context, userID, motivationID string) (*models.Motivation, error) {
	var motivation models.Motivation
	err := s.db.WithContext(ctx).
		Joins("JOIN goals ON goals.id = motivations.goal_id").
		Where("motivations.id = ? AND goals.user_id = ?", motivationID, userID).
		Take(&motivation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMotivationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("motivation service: load motivation: %w", err)
	}
	return &motivation, nil
}
