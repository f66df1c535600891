package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
)

var (
	_ AccessTokenStore = (*GormAccessTokenStore)(nil)
	_ GoalDirectory    = (*GormGoalDirectory)(nil)
)

// GormAccessTokenStore persists access tokens in the relational database.
type GormAccessTokenStore struct {
	db *gorm.DB
}

// NewAccessTokenStore constructs a database-backed AccessTokenStore.
func NewAccessTokenStore(db *gorm.DB) (*GormAccessTokenStore, error) {
	if db == nil {
		return nil, errors.New("access token store: db is required")
	}
	return &GormAccessTokenStore{db: db}, nil
}

// Create inserts a new token record.
func (s *GormAccessTokenStore) Create(ctx context.Context, token *models.AccessToken) error {
	if token == nil {
		return errors.New("access token store: token is required")
	}
	return s.db.WithContext(ctx).Create(token).Error
}

// FindByHash loads a token by its digest.
func (s *GormAccessTokenStore) FindByHash(ctx context.Context, tokenHash string) (*models.AccessToken, error) {
	var token models.AccessToken
	err := s.db.WithContext(ctx).Take(&token, "token_hash = ?", tokenHash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccessTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("access token store: find by hash: %w", err)
	}
	return &token, nil
}

// FindByID loads a token by identifier, scoped to the owning goal.
func (s *GormAccessTokenStore) FindByID(ctx context.Context, goalID, tokenID string) (*models.AccessToken, error) {
	var token models.AccessToken
	err := s.db.WithContext(ctx).Take(&token, "id = ? AND goal_id = ?", tokenID, goalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccessTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("access token store: find by id: %w", err)
	}
	return &token, nil
}

// ListByGoal returns all tokens issued for a goal, newest first.
func (s *GormAccessTokenStore) ListByGoal(ctx context.Context, goalID string) ([]models.AccessToken, error) {
	var tokens []models.AccessToken
	err := s.db.WithContext(ctx).
		Where("goal_id = ?", goalID).
		Order("issued_at DESC").
		Find(&tokens).Error
	if err != nil {
		return nil, fmt.Errorf("access token store: list by goal: %w", err)
	}
	return tokens, nil
}

// Consume flips the consumed flag in a single conditional write. The predicate
// requires the token to be unconsumed and unexpired, so concurrent calls for
// the same digest resolve to exactly one winner.
func (s *GormAccessTokenStore) Consume(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.AccessToken{}).
		Where("token_hash = ? AND consumed = ?", tokenHash, false).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Updates(map[string]any{
			"consumed":    true,
			"consumed_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("access token store: consume: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ConsumeByID marks a token consumed by identifier. Unlike Consume it ignores
// expiry: revocation of an expired token is a harmless no-op state-wise.
func (s *GormAccessTokenStore) ConsumeByID(ctx context.Context, goalID, tokenID string, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.AccessToken{}).
		Where("id = ? AND goal_id = ? AND consumed = ?", tokenID, goalID, false).
		Updates(map[string]any{
			"consumed":    true,
			"consumed_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("access token store: consume by id: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteStale removes tokens that can no longer grant access: expired ones,
// and consumed ones whose consumption predates the cutoff.
func (s *GormAccessTokenStore) DeleteStale(ctx context.Context, consumedBefore, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("(expires_at IS NOT NULL AND expires_at < ?)", now).
		Or("(consumed = ? AND consumed_at < ?)", true, consumedBefore).
		Delete(&models.AccessToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("access token store: delete stale: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GormGoalDirectory answers goal existence queries for the token service.
type GormGoalDirectory struct {
	db *gorm.DB
}

// NewGoalDirectory constructs a database-backed GoalDirectory.
func NewGoalDirectory(db *gorm.DB) (*GormGoalDirectory, error) {
	if db == nil {
		return nil, errors.New("goal directory: db is required")
	}
	return &GormGoalDirectory{db: db}, nil
}

// Exists reports whether the goal is present.
func (d *GormGoalDirectory) Exists(ctx context.Context, goalID string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).
		Model(&models.Goal{}).
		Where("id = ?", goalID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("goal directory: exists: %w", err)
	}
	return count > 0, nil
}
