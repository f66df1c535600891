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

const maxGoalNameLength = 80

var (
	// ErrGoalNotFound indicates the goal does not exist or belongs to another user.
	ErrGoalNotFound = errors.New("goal service: goal not found")
)

// CreateGoalInput describes the fields accepted when creating a goal.
type CreateGoalInput struct {
	Name        string
	Description string
}

// UpdateGoalInput enumerates mutable goal attributes. A nil pointer means no change.
type UpdateGoalInput struct {
	Name        *string
	Description *string
}

// ListGoalsOptions controls offset pagination for goal listings.
type ListGoalsOptions struct {
	Offset int
	Limit  int
}

// GoalService manages the CRUD lifecycle of goals. Every operation is scoped
// to the owning user; a goal owned by someone else behaves as if it did not exist.
type GoalService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewGoalService constructs a GoalService instance.
func NewGoalService(db *gorm.DB, audit *AuditService) (*GoalService, error) {
	if db == nil {
		return nil, errors.New("goal service: db is required")
	}
	return &GoalService{db: db, audit: audit}, nil
}

// Create persists a new goal for the user.
func (s *GoalService) Create(ctx context.Context, userID string, input CreateGoalInput) (*models.Goal, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("goal name is required")
	}
	if len(name) > maxGoalNameLength {
		return nil, apperrors.NewBadRequest("goal name is too long")
	}

	goal := &models.Goal{
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
	}

	if err := s.db.WithContext(ctx).Create(goal).Error; err != nil {
		return nil, fmt.Errorf("goal service: create goal: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "goal.create",
		Resource: goal.ID,
		Result:   "success",
		Metadata: map[string]any{"name": goal.Name},
	})

	return goal, nil
}

// List returns the user's goals ordered by recency, plus the total count.
func (s *GoalService) List(ctx context.Context, userID string, opts ListGoalsOptions) ([]models.Goal, int64, error) {
	ctx = ensureContext(ctx)

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := s.db.WithContext(ctx).Model(&models.Goal{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("goal service: count goals: %w", err)
	}

	var goals []models.Goal
	if err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&goals).Error; err != nil {
		return nil, 0, fmt.Errorf("goal service: list goals: %w", err)
	}

	return goals, total, nil
}

// Get loads a single goal with its motivations.
func (s *GoalService) Get(ctx context.Context, userID, goalID string) (*models.Goal, error) {
	ctx = ensureContext(ctx)

	var goal models.Goal
	err := s.db.WithContext(ctx).
		Preload("Motivations").
		Where("id = ? AND user_id = ?", goalID, userID).
		Take(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGoalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("goal service: get goal: %w", err)
	}
	return &goal, nil
}

// Update applies the provided changes to an existing goal.
func (s *GoalService) Update(ctx context.Context, userID, goalID string, input UpdateGoalInput) (*models.Goal, error) {
	ctx = ensureContext(ctx)

	var goal models.Goal
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", goalID, userID).
		Take(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGoalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("goal service: load goal: %w", err)
	}

	updates := map[string]any{}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewBadRequest("goal name is required")
		}
		if len(name) > maxGoalNameLength {
			return nil, apperrors.NewBadRequest("goal name is too long")
		}
		if name != goal.Name {
			updates["name"] = name
		}
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
	}

	if len(updates) == 0 {
		return &goal, nil
	}

	if err := s.db.WithContext(ctx).Model(&goal).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("goal service: update goal: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "goal.update",
		Resource: goal.ID,
		Result:   "success",
		Metadata: updates,
	})

	return &goal, nil
}

// Delete removes a goal together with its motivations and access tokens.
func (s *GoalService) Delete(ctx context.Context, userID, goalID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", goalID, userID).
		Delete(&models.Goal{})
	if result.Error != nil {
		return fmt.Errorf("goal service: delete goal: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrGoalNotFound
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "goal.delete",
		Resource: goalID,
		Result:   "success",
	})

	return nil
}
