package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
)

const (
	defaultSearchPageSize = 10
	maxSearchPageSize     = 50
)

// SearchOptions carries a live-search request frame.
type SearchOptions struct {
	Query    string `json:"query"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// SearchService answers goal searches for the live-search endpoints.
type SearchService struct {
	db *gorm.DB
}

// NewSearchService constructs a SearchService using the provided database handle.
func NewSearchService(db *gorm.DB) (*SearchService, error) {
	if db == nil {
		return nil, errors.New("search service: db is required")
	}
	return &SearchService{db: db}, nil
}

// SearchGoals returns goals whose name or description contains the query,
// case-insensitively, with the matching total for pagination metadata. A blank
// query matches nothing.
func (s *SearchService) SearchGoals(ctx context.Context, opts SearchOptions) ([]models.Goal, int64, error) {
	ctx = ensureContext(ctx)

	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return []models.Goal{}, 0, nil
	}

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultSearchPageSize
	}
	if pageSize > maxSearchPageSize {
		pageSize = maxSearchPageSize
	}

	pattern := "%" + strings.ToLower(query) + "%"

	var total int64
	base := s.db.WithContext(ctx).Model(&models.Goal{}).
		Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("search service: count goals: %w", err)
	}

	goals := []models.Goal{}
	if err := base.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&goals).Error; err != nil {
		return nil, 0, fmt.Errorf("search service: search goals: %w", err)
	}

	return goals, total, nil
}
