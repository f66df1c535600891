package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	UserID    *string
	Username  string
	Action    string
	Resource  string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// toModel validates the entry and converts it into its storage form.
func (e AuditEntry) toModel() (models.AuditLog, error) {
	if strings.TrimSpace(e.Action) == "" {
		return models.AuditLog{}, errors.New("audit service: action is required")
	}
	if strings.TrimSpace(e.Result) == "" {
		return models.AuditLog{}, errors.New("audit service: result is required")
	}

	row := models.AuditLog{
		Action:    strings.TrimSpace(e.Action),
		Resource:  strings.TrimSpace(e.Resource),
		Result:    strings.TrimSpace(e.Result),
		Username:  strings.TrimSpace(e.Username),
		IPAddress: strings.TrimSpace(e.IPAddress),
		UserAgent: strings.TrimSpace(e.UserAgent),
	}
	if e.UserID != nil {
		if id := strings.TrimSpace(*e.UserID); id != "" {
			row.UserID = &id
		}
	}
	if e.Metadata != nil {
		encoded, err := json.Marshal(e.Metadata)
		if err != nil {
			return models.AuditLog{}, fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(encoded)
	}
	return row, nil
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	UserID   string
	Action   string
	Result   string
	Resource string
	Since    *time.Time
	Until    *time.Time
}

// apply narrows the query to rows matching every set filter.
func (f AuditFilters) apply(tx *gorm.DB) *gorm.DB {
	for column, value := range map[string]string{
		"user_id":  f.UserID,
		"action":   f.Action,
		"result":   f.Result,
		"resource": f.Resource,
	} {
		if value != "" {
			tx = tx.Where(column+" = ?", value)
		}
	}
	if f.Since != nil {
		tx = tx.Where("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		tx = tx.Where("created_at <= ?", *f.Until)
	}
	return tx
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

func (o AuditListOptions) window() (offset, limit int) {
	page := o.Page
	if page <= 0 {
		page = 1
	}
	limit = o.PageSize
	if limit <= 0 || limit > maxAuditPageSize {
		limit = defaultAuditPageSize
	}
	return (page - 1) * limit, limit
}

// AuditService persists and retrieves audit log entries.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db}, nil
}

// Log stores an audit entry, marshalling metadata into JSON form.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	row, err := entry.toModel()
	if err != nil {
		return err
	}
	return s.db.WithContext(ensureContext(ctx)).Create(&row).Error
}

// List returns paginated audit logs ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	query := opts.Filters.apply(s.db.WithContext(ensureContext(ctx)).Model(&models.AuditLog{}))

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	offset, limit := opts.window()
	var results []models.AuditLog
	if err := query.
		Preload("User").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}
	return results, total, nil
}

// Export returns audit logs that match the provided filters without pagination.
func (s *AuditService) Export(ctx context.Context, filters AuditFilters) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := filters.apply(s.db.WithContext(ensureContext(ctx)).Model(&models.AuditLog{})).
		Preload("User").
		Order("created_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("audit service: export logs: %w", err)
	}
	return logs, nil
}

// CleanupOlderThan removes audit logs older than the supplied retention window (in days).
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.WithContext(ensureContext(ctx)).
		Where("created_at < ?", cutoff).
		Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
