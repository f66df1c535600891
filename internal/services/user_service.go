package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/pkg/crypto"
	apperrors "github.com/sataplan/server/pkg/errors"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 50
	minPasswordLength = 8
	maxPasswordLength = 64

	maxFailedLogins = 5
	lockoutDuration = 15 * time.Minute
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrUserExists signals a username or email collision at registration.
	ErrUserExists = apperrors.New("USER_EXISTS", "Username or email already exists", http.StatusBadRequest)
	// ErrAccountLocked marks an account in its lockout window after repeated failures.
	ErrAccountLocked = apperrors.New("AUTH_ACCOUNT_LOCKED", "Account temporarily locked, try again later", http.StatusForbidden)
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// reservedUsernames can never be registered, regardless of case.
var reservedUsernames = []string{"admin", "root", "system", "support"}

// commonPasswords is a small denylist of passwords rejected outright.
var commonPasswords = []string{"password", "12345678", "qwerty", "admin"}

// disposableEmailDomains lists throwaway mail providers rejected at signup.
var disposableEmailDomains = []string{
	"temp-mail.org",
	"tempmail.com",
	"throwawaymail.com",
	"guerrillamail.com",
	"mailinator.com",
}

// RegisterInput describes the fields accepted at signup.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginMetadata carries client context recorded on successful authentication.
type LoginMetadata struct {
	IPAddress string
}

// UserOption customises the UserService.
type UserOption func(*UserService)

// WithUserClock injects a custom time source, primarily for lockout tests.
func WithUserClock(clock func() time.Time) UserOption {
	return func(s *UserService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// UserService manages registration and credential verification, including the
// failed-attempt lockout window.
type UserService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, audit *AuditService, opts ...UserOption) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}

	service := &UserService{
		db:    db,
		audit: audit,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Register provisions a new account after applying the signup policy.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmailDomain(email); err != nil {
		return nil, err
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Username: username,
		Email:    email,
		Password: hashed,
		IsActive: true,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   "user.register",
		Resource: user.ID,
		Result:   "success",
		Metadata: map[string]any{"email": user.Email},
	})

	return user, nil
}

// Authenticate verifies the supplied credentials. The login may be a username
// or an email address. Five consecutive failures lock the account for fifteen
// minutes; a successful login resets the counter.
func (s *UserService) Authenticate(ctx context.Context, login, password string, meta LoginMetadata) (*models.User, error) {
	ctx = ensureContext(ctx)

	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", login, strings.ToLower(login)).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find user: %w", err)
	}

	now := s.now()

	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		return nil, ErrAccountLocked
	}

	if !user.IsActive {
		return nil, apperrors.ErrInvalidCredentials
	}

	if !crypto.VerifyPassword(user.Password, password) {
		if err := s.recordFailedLogin(ctx, &user, now); err != nil {
			return nil, err
		}
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:    &user.ID,
			Username:  user.Username,
			Action:    "user.login",
			Resource:  user.ID,
			Result:    "failure",
			IPAddress: meta.IPAddress,
		})
		return nil, apperrors.ErrInvalidCredentials
	}

	updates := map[string]any{
		"failed_attempts": 0,
		"locked_until":    nil,
		"last_login_at":   now,
	}
	if ip := strings.TrimSpace(meta.IPAddress); ip != "" {
		updates["last_login_ip"] = ip
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: record login: %w", err)
	}

	user.FailedAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    &user.ID,
		Username:  user.Username,
		Action:    "user.login",
		Resource:  user.ID,
		Result:    "success",
		IPAddress: meta.IPAddress,
	})

	return &user, nil
}

// GetByID loads a user together with their profile.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Profile").
		Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// ChangePassword validates the new password against the policy and stores its hash.
func (s *UserService) ChangePassword(ctx context.Context, id, newPassword string) error {
	ctx = ensureContext(ctx)

	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("user service: hash new password: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("password", hashed)
	if result.Error != nil {
		return fmt.Errorf("user service: change password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "user.password_change",
		Resource: id,
		Result:   "success",
	})

	return nil
}

// SetMFAEnabled flips the MFA flag once enrolment or teardown completes.
func (s *UserService) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("mfa_enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("user service: update mfa flag: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	action := "user.mfa_enable"
	if !enabled {
		action = "user.mfa_disable"
	}
	recordAudit(s.audit, ctx, AuditEntry{
		Action:   action,
		Resource: id,
		Result:   "success",
	})

	return nil
}

func (s *UserService) recordFailedLogin(ctx context.Context, user *models.User, now time.Time) error {
	attempts := user.FailedAttempts + 1
	updates := map[string]any{"failed_attempts": attempts}

	if attempts >= maxFailedLogins {
		lockedUntil := now.Add(lockoutDuration)
		updates["locked_until"] = lockedUntil
		updates["failed_attempts"] = 0

		recordAudit(s.audit, ctx, AuditEntry{
			UserID:   &user.ID,
			Username: user.Username,
			Action:   "user.lockout",
			Resource: user.ID,
			Result:   "failure",
			Metadata: map[string]any{"locked_until": lockedUntil},
		})
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("user service: record failed login: %w", err)
	}
	return nil
}

func validateUsername(username string) error {
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return apperrors.NewBadRequest("username must be between 3 and 50 characters")
	}
	if !usernamePattern.MatchString(username) {
		return apperrors.NewBadRequest("username may only contain letters, digits and underscores")
	}
	lower := strings.ToLower(username)
	for _, reserved := range reservedUsernames {
		if lower == reserved {
			return apperrors.NewBadRequest("this username is reserved")
		}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return apperrors.NewBadRequest("password must be between 8 and 64 characters")
	}

	lower := strings.ToLower(password)
	for _, common := range commonPasswords {
		if lower == common {
			return apperrors.NewBadRequest("password is too common")
		}
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return apperrors.NewBadRequest("password needs upper and lower case letters, a digit and a special character")
	}
	return nil
}

func validateEmailDomain(email string) error {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return apperrors.NewBadRequest("email address is invalid")
	}
	domain := strings.ToLower(email[at+1:])
	for _, blocked := range disposableEmailDomains {
		if domain == blocked {
			return apperrors.NewBadRequest("disposable email addresses are not allowed")
		}
	}
	return nil
}
