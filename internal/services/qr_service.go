package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"

	"github.com/sataplan/server/internal/auth"
	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/pkg/crypto"
)

const (
	defaultQRSize          = 256
	defaultQRSecretBytes   = 8
	defaultPublicViewPath  = "/view"
	defaultPermanentFormat = "%s/?goal_id=%s"
)

var (
	// ErrQRAccessDenied indicates a failed goal password check.
	ErrQRAccessDenied = errors.New("qr service: access denied")
	// ErrQRPasswordNotSet indicates the goal has no access password to check against.
	ErrQRPasswordNotSet = errors.New("qr service: goal has no access password")
	// ErrQRGrantInvalid indicates the presented goal grant is missing, expired or malformed.
	ErrQRGrantInvalid = errors.New("qr service: invalid grant")
)

// QROption customises the QRService.
type QROption func(*QRService)

// WithQRBaseURL sets the public base URL encoded into QR images.
func WithQRBaseURL(url string) QROption {
	return func(s *QRService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithQRSize controls the pixel size of rendered QR codes.
func WithQRSize(size int) QROption {
	return func(s *QRService) {
		if size > 0 {
			s.qrSize = size
		}
	}
}

// OneTimeCode bundles everything produced when a single-use QR code is issued.
// RawToken appears here and nowhere else; only its digest is persisted.
type OneTimeCode struct {
	Token    *models.AccessToken
	RawToken string
	URL      string
	PNG      []byte
}

// PermanentCode carries a freshly rotated goal password alongside the QR image.
// The secret is shown exactly once; afterwards only its bcrypt hash survives.
type PermanentCode struct {
	Secret string
	URL    string
	PNG    []byte
}

// GoalView is the public payload served to QR visitors.
type GoalView struct {
	GoalID      string      `json:"goal_id"`
	GoalDetails GoalDetails `json:"goal_details"`
}

// GoalDetails describes a goal to a visitor without exposing owner data.
type GoalDetails struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Motivations []MotivationView `json:"motivations"`
}

// MotivationView is the visitor-facing shape of a motivation.
type MotivationView struct {
	ID    string `json:"id"`
	Quote string `json:"quote,omitempty"`
	Link  string `json:"link,omitempty"`
}

// QRService implements both goal-sharing flows: single-use QR codes backed by
// access tokens, and reusable password-gated QR codes. Successful checks in
// either flow mint a short-lived goal grant that the public view endpoint
// accepts.
type QRService struct {
	db     *gorm.DB
	tokens *AccessTokenService
	jwt    *auth.JWTService
	audit  *AuditService

	baseURL     string
	qrSize      int
	secretBytes int
}

// NewQRService constructs a QRService with the provided collaborators.
func NewQRService(db *gorm.DB, tokens *AccessTokenService, jwtService *auth.JWTService, audit *AuditService, opts ...QROption) (*QRService, error) {
	if db == nil {
		return nil, errors.New("qr service: db is required")
	}
	if tokens == nil {
		return nil, errors.New("qr service: access token service is required")
	}
	if jwtService == nil {
		return nil, errors.New("qr service: jwt service is required")
	}

	service := &QRService{
		db:          db,
		tokens:      tokens,
		jwt:         jwtService,
		audit:       audit,
		qrSize:      defaultQRSize,
		secretBytes: defaultQRSecretBytes,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// IssueOneTimeCode creates a single-use access token for an owned goal and
// renders the QR image pointing at the public view URL.
func (s *QRService) IssueOneTimeCode(ctx context.Context, userID, goalID string, ttl time.Duration) (*OneTimeCode, error) {
	ctx = ensureContext(ctx)

	if _, err := s.ownedGoal(ctx, userID, goalID); err != nil {
		return nil, err
	}

	token, raw, err := s.tokens.Generate(ctx, goalID, ttl)
	if err != nil {
		return nil, err
	}

	url := s.viewURL(raw)
	png, err := qrcode.Encode(url, qrcode.Medium, s.qrSize)
	if err != nil {
		return nil, fmt.Errorf("qr service: encode image: %w", err)
	}

	return &OneTimeCode{Token: token, RawToken: raw, URL: url, PNG: png}, nil
}

// RenderTokenImage re-renders the QR image for a raw token the owner already
// holds. The token must belong to the named goal.
func (s *QRService) RenderTokenImage(ctx context.Context, userID, goalID, rawToken string) ([]byte, error) {
	ctx = ensureContext(ctx)

	if _, err := s.ownedGoal(ctx, userID, goalID); err != nil {
		return nil, err
	}

	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrAccessTokenNotFound
	}

	var token models.AccessToken
	err := s.db.WithContext(ctx).
		Take(&token, "token_hash = ? AND goal_id = ?", crypto.HashToken(rawToken), goalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccessTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("qr service: find token: %w", err)
	}

	png, err := qrcode.Encode(s.viewURL(rawToken), qrcode.Medium, s.qrSize)
	if err != nil {
		return nil, fmt.Errorf("qr service: encode image: %w", err)
	}
	return png, nil
}

// IssuePermanentCode rotates the goal's access password and renders the
// reusable QR image. The previous password stops working immediately.
func (s *QRService) IssuePermanentCode(ctx context.Context, userID, goalID string) (*PermanentCode, error) {
	ctx = ensureContext(ctx)

	goal, err := s.ownedGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}

	secret, err := crypto.GenerateToken(s.secretBytes)
	if err != nil {
		return nil, fmt.Errorf("qr service: generate secret: %w", err)
	}

	hashed, err := crypto.HashPassword(secret)
	if err != nil {
		return nil, fmt.Errorf("qr service: hash secret: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Goal{}).
		Where("id = ?", goal.ID).
		Update("access_password_hash", hashed).Error; err != nil {
		return nil, fmt.Errorf("qr service: store secret: %w", err)
	}

	url := fmt.Sprintf(defaultPermanentFormat, s.baseURL, goal.ID)
	png, err := qrcode.Encode(url, qrcode.Medium, s.qrSize)
	if err != nil {
		return nil, fmt.Errorf("qr service: encode image: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &goal.UserID,
		Action:   "qr.permanent.issued",
		Resource: goal.ID,
		Result:   "success",
	})

	return &PermanentCode{Secret: secret, URL: url, PNG: png}, nil
}

// VerifyGoalAccess checks a visitor-supplied password against the goal's
// stored hash and mints a short-lived permanent-flow grant on success.
func (s *QRService) VerifyGoalAccess(ctx context.Context, goalID, password string) (string, error) {
	ctx = ensureContext(ctx)

	goalID = strings.TrimSpace(goalID)
	if goalID == "" {
		return "", ErrGoalNotFound
	}

	var goal models.Goal
	err := s.db.WithContext(ctx).Take(&goal, "id = ?", goalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrGoalNotFound
	}
	if err != nil {
		return "", fmt.Errorf("qr service: find goal: %w", err)
	}

	if !goal.HasAccessPassword() {
		return "", ErrQRPasswordNotSet
	}
	if !crypto.VerifyPassword(goal.AccessPasswordHash, password) {
		recordAudit(s.audit, ctx, AuditEntry{
			Action:   "qr.access.denied",
			Resource: goal.ID,
			Result:   "failure",
		})
		return "", ErrQRAccessDenied
	}

	grant, err := s.jwt.GenerateGoalGrant(goal.ID, auth.GrantPermanent)
	if err != nil {
		return "", fmt.Errorf("qr service: mint grant: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "qr.access.granted",
		Resource: goal.ID,
		Result:   "success",
	})

	return grant, nil
}

// RedeemOneTime consumes a single-use token and returns the goal view together
// with a short-lived grant the visitor can use to refresh the view.
func (s *QRService) RedeemOneTime(ctx context.Context, rawToken string) (*GoalView, string, error) {
	ctx = ensureContext(ctx)

	goalID, err := s.tokens.Verify(ctx, rawToken)
	if err != nil {
		return nil, "", err
	}

	view, err := s.loadGoalView(ctx, goalID)
	if err != nil {
		return nil, "", err
	}

	grant, err := s.jwt.GenerateGoalGrant(goalID, auth.GrantOneTime)
	if err != nil {
		return nil, "", fmt.Errorf("qr service: mint grant: %w", err)
	}

	return view, grant, nil
}

// ViewWithGrant serves the goal view to a visitor holding a goal grant from
// either sharing flow.
func (s *QRService) ViewWithGrant(ctx context.Context, grantToken string) (*GoalView, error) {
	ctx = ensureContext(ctx)

	claims, err := s.jwt.ValidateGoalGrant(grantToken)
	if err != nil {
		return nil, ErrQRGrantInvalid
	}

	return s.loadGoalView(ctx, claims.GoalID)
}

// RevokeToken lets the owner invalidate a one-time code before a visitor
// redeems it. Tokens on other users' goals answer not-found.
func (s *QRService) RevokeToken(ctx context.Context, userID, tokenID string) error {
	ctx = ensureContext(ctx)

	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return ErrAccessTokenNotFound
	}

	var token models.AccessToken
	err := s.db.WithContext(ctx).Take(&token, "id = ?", tokenID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAccessTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("qr service: find token: %w", err)
	}

	if _, err := s.ownedGoal(ctx, userID, token.GoalID); err != nil {
		return ErrAccessTokenNotFound
	}

	return s.tokens.Revoke(ctx, token.GoalID, token.ID)
}

// ListTokens returns the issuance state of every code minted for an owned goal.
func (s *QRService) ListTokens(ctx context.Context, userID, goalID string) ([]models.AccessToken, error) {
	ctx = ensureContext(ctx)

	if _, err := s.ownedGoal(ctx, userID, goalID); err != nil {
		return nil, err
	}
	return s.tokens.List(ctx, goalID)
}

func (s *QRService) ownedGoal(ctx context.Context, userID, goalID string) (*models.Goal, error) {
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
		return nil, fmt.Errorf("qr service: find goal: %w", err)
	}
	return &goal, nil
}

func (s *QRService) loadGoalView(ctx context.Context, goalID string) (*GoalView, error) {
	var goal models.Goal
	err := s.db.WithContext(ctx).
		Preload("Motivations", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Take(&goal, "id = ?", goalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGoalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("qr service: load goal: %w", err)
	}

	motivations := make([]MotivationView, 0, len(goal.Motivations))
	for _, motivation := range goal.Motivations {
		motivations = append(motivations, MotivationView{
			ID:    motivation.ID,
			Quote: motivation.Quote,
			Link:  motivation.Link,
		})
	}

	return &GoalView{
		GoalID: goal.ID,
		GoalDetails: GoalDetails{
			Name:        goal.Name,
			Description: goal.Description,
			Motivations: motivations,
		},
	}, nil
}

func (s *QRService) viewURL(rawToken string) string {
	return fmt.Sprintf("%s%s?token=%s", s.baseURL, defaultPublicViewPath, rawToken)
}
