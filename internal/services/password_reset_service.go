package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/pkg/crypto"
	"github.com/sataplan/server/pkg/mail"
)

const (
	defaultResetExpiry     = 30 * time.Minute
	defaultResetTokenBytes = 48
)

var (
	// ErrResetNotFound indicates the reset token does not exist.
	ErrResetNotFound = errors.New("password reset: not found")
	// ErrResetExpired indicates the reset token has expired.
	ErrResetExpired = errors.New("password reset: expired")
	// ErrResetUsed signals that the reset token has already been consumed.
	ErrResetUsed = errors.New("password reset: already used")
)

// ResetOption customises the PasswordResetService.
type ResetOption func(*PasswordResetService)

// WithResetBaseURL sets the base URL used in password reset links.
func WithResetBaseURL(url string) ResetOption {
	return func(s *PasswordResetService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithResetExpiry overrides the token lifetime.
func WithResetExpiry(d time.Duration) ResetOption {
	return func(s *PasswordResetService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithResetTokenSize adjusts the number of random bytes in generated tokens.
func WithResetTokenSize(size int) ResetOption {
	return func(s *PasswordResetService) {
		if size > 0 {
			s.tokenLength = size
		}
	}
}

// WithResetClock injects a custom time source.
func WithResetClock(clock func() time.Time) ResetOption {
	return func(s *PasswordResetService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// PasswordResetService manages single-use password reset tokens delivered by
// email. Requests for unknown addresses are silently ignored so the endpoint
// cannot be used to probe which emails are registered.
type PasswordResetService struct {
	db          *gorm.DB
	mailer      mail.Mailer
	audit       *AuditService
	baseURL     string
	expiry      time.Duration
	tokenLength int
	now         func() time.Time
}

// NewPasswordResetService constructs a reset service with the provided dependencies.
func NewPasswordResetService(db *gorm.DB, mailer mail.Mailer, audit *AuditService, opts ...ResetOption) (*PasswordResetService, error) {
	if db == nil {
		return nil, errors.New("password reset service: db is required")
	}

	service := &PasswordResetService{
		db:          db,
		mailer:      mailer,
		audit:       audit,
		expiry:      defaultResetExpiry,
		tokenLength: defaultResetTokenBytes,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Request issues a reset token for the account behind the email address and
// dispatches it when a mailer is configured. The returned token is empty when
// no matching account exists.
func (s *PasswordResetService) Request(ctx context.Context, email string) (string, error) {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errors.New("password reset service: email is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("password reset service: find user: %w", err)
	}

	token, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return "", fmt.Errorf("password reset service: generate token: %w", err)
	}

	now := s.now()
	reset := models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: crypto.HashToken(token),
		ExpiresAt: now.Add(s.expiry),
	}

	// A fresh request supersedes any earlier outstanding token.
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", user.ID).
		Delete(&models.PasswordResetToken{}).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("password reset service: cleanup existing: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(&reset).Error; err != nil {
		return "", fmt.Errorf("password reset service: create token: %w", err)
	}

	if s.mailer != nil {
		message := mail.Message{
			To:      []string{user.Email},
			Subject: "Reset your Sataplan password",
			Body:    s.resetBody(s.resetLink(token)),
		}
		if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			return "", fmt.Errorf("password reset service: send email: %w", mailErr)
		}
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   "user.password_reset_requested",
		Resource: user.ID,
		Result:   "success",
	})

	return token, nil
}

// Reset consumes a token and replaces the account password. Consumption is a
// conditional write on the unused state, so a token can conclude at most one
// reset even under concurrent attempts.
func (s *PasswordResetService) Reset(ctx context.Context, token, newPassword string) (string, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrResetNotFound
	}

	if err := validatePassword(newPassword); err != nil {
		return "", err
	}

	var reset models.PasswordResetToken
	err := s.db.WithContext(ctx).
		Take(&reset, "token_hash = ?", crypto.HashToken(token)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrResetNotFound
	}
	if err != nil {
		return "", fmt.Errorf("password reset service: find token: %w", err)
	}

	now := s.now()

	if reset.UsedAt != nil {
		return "", ErrResetUsed
	}
	if reset.ExpiresAt.Before(now) {
		return "", ErrResetExpired
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return "", fmt.Errorf("password reset service: hash password: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.PasswordResetToken{}).
			Where("id = ? AND used_at IS NULL", reset.ID).
			Update("used_at", now)
		if result.Error != nil {
			return fmt.Errorf("password reset service: consume token: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrResetUsed
		}

		if err := tx.Model(&models.User{}).
			Where("id = ?", reset.UserID).
			Update("password", hashed).Error; err != nil {
			return fmt.Errorf("password reset service: update password: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &reset.UserID,
		Action:   "user.password_reset",
		Resource: reset.UserID,
		Result:   "success",
	})

	return reset.UserID, nil
}

// CleanupExpired removes tokens that are expired or already consumed.
func (s *PasswordResetService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	now := s.now()
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Or("used_at IS NOT NULL").
		Delete(&models.PasswordResetToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("password reset service: cleanup tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *PasswordResetService) resetLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
}

func (s *PasswordResetService) resetBody(link string) string {
	return fmt.Sprintf("We received a request to reset your Sataplan password.\n\nUse the link below within the next 30 minutes:\n%s\n\nIf you did not request a reset, you can ignore this message.\n", link)
}
