package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/pkg/crypto"
	"github.com/sataplan/server/pkg/metrics"
)

const defaultAccessTokenBytes = 32

var (
	// ErrAccessTokenNotFound indicates the token does not exist.
	ErrAccessTokenNotFound = errors.New("access token: not found")
	// ErrAccessTokenUsed signals a replay: the token has already been consumed.
	ErrAccessTokenUsed = errors.New("access token: already used")
	// ErrAccessTokenExpired indicates the token is past its expiry.
	ErrAccessTokenExpired = errors.New("access token: expired")
	// ErrAccessTokenInvalid is returned for malformed input (blank token, negative TTL).
	ErrAccessTokenInvalid = errors.New("access token: invalid input")
)

// AccessTokenStore abstracts persistence for one-time access tokens. Consume
// and ConsumeByID are conditional writes: they flip the consumed flag only
// when it is still false, and report whether this call won the transition.
type AccessTokenStore interface {
	Create(ctx context.Context, token *models.AccessToken) error
	FindByHash(ctx context.Context, tokenHash string) (*models.AccessToken, error)
	FindByID(ctx context.Context, goalID, tokenID string) (*models.AccessToken, error)
	ListByGoal(ctx context.Context, goalID string) ([]models.AccessToken, error)
	Consume(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	ConsumeByID(ctx context.Context, goalID, tokenID string, now time.Time) (bool, error)
	DeleteStale(ctx context.Context, consumedBefore, now time.Time) (int64, error)
}

// GoalDirectory is the read-only view of goals the token service needs.
type GoalDirectory interface {
	Exists(ctx context.Context, goalID string) (bool, error)
}

// AccessTokenOption customises the AccessTokenService.
type AccessTokenOption func(*AccessTokenService)

// WithAccessTokenClock injects a custom time source.
func WithAccessTokenClock(clock func() time.Time) AccessTokenOption {
	return func(s *AccessTokenService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithAccessTokenSize adjusts the number of random bytes in generated tokens.
func WithAccessTokenSize(size int) AccessTokenOption {
	return func(s *AccessTokenService) {
		if size > 0 {
			s.tokenBytes = size
		}
	}
}

// WithAccessTokenTTL sets the lifetime applied when Generate is called with a
// zero TTL. The default is no expiry: such tokens die only by consumption.
func WithAccessTokenTTL(d time.Duration) AccessTokenOption {
	return func(s *AccessTokenService) {
		if d > 0 {
			s.defaultTTL = d
		}
	}
}

// AccessTokenService issues, verifies, and revokes single-use goal access
// tokens. The raw token is returned to the caller exactly once at issuance;
// only its SHA-256 digest is persisted, so a verified token can never be
// recovered from the store and replayed.
type AccessTokenService struct {
	store AccessTokenStore
	goals GoalDirectory
	audit *AuditService

	tokenBytes int
	defaultTTL time.Duration
	now        func() time.Time
}

// NewAccessTokenService constructs the token service from its collaborators.
func NewAccessTokenService(store AccessTokenStore, goals GoalDirectory, audit *AuditService, opts ...AccessTokenOption) (*AccessTokenService, error) {
	if store == nil {
		return nil, errors.New("access token service: store is required")
	}
	if goals == nil {
		return nil, errors.New("access token service: goal directory is required")
	}

	service := &AccessTokenService{
		store:      store,
		goals:      goals,
		audit:      audit,
		tokenBytes: defaultAccessTokenBytes,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Generate mints a fresh token for the goal and returns the record together
// with the raw token. A positive ttl bounds the token's lifetime; zero falls
// back to the service default, which may mean no expiry at all.
func (s *AccessTokenService) Generate(ctx context.Context, goalID string, ttl time.Duration) (*models.AccessToken, string, error) {
	ctx = ensureContext(ctx)

	goalID = strings.TrimSpace(goalID)
	if goalID == "" {
		return nil, "", ErrAccessTokenInvalid
	}
	if ttl < 0 {
		return nil, "", ErrAccessTokenInvalid
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	exists, err := s.goals.Exists(ctx, goalID)
	if err != nil {
		return nil, "", fmt.Errorf("access token service: check goal: %w", err)
	}
	if !exists {
		return nil, "", ErrGoalNotFound
	}

	raw, err := crypto.GenerateToken(s.tokenBytes)
	if err != nil {
		return nil, "", fmt.Errorf("access token service: generate token: %w", err)
	}

	now := s.now()
	token := &models.AccessToken{
		GoalID:    goalID,
		TokenHash: crypto.HashToken(raw),
		IssuedAt:  now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		token.ExpiresAt = &expiresAt
	}

	if err := s.store.Create(ctx, token); err != nil {
		return nil, "", fmt.Errorf("access token service: persist token: %w", err)
	}

	metrics.AccessTokensIssued.Inc()

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "qr.token.issued",
		Resource: goalID,
		Result:   "success",
		Metadata: map[string]any{
			"token_id":   token.ID,
			"expires_at": token.ExpiresAt,
		},
	})

	return token, raw, nil
}

// Verify consumes a token and returns the goal it unlocks. A token grants
// access at most once: the consumed flag is flipped by a conditional write,
// so of two simultaneous calls with the same token exactly one succeeds and
// the other observes ErrAccessTokenUsed.
func (s *AccessTokenService) Verify(ctx context.Context, rawToken string) (string, error) {
	ctx = ensureContext(ctx)

	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return "", ErrAccessTokenInvalid
	}

	token, err := s.store.FindByHash(ctx, crypto.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, ErrAccessTokenNotFound) {
			metrics.AccessTokenVerifications.WithLabelValues("not_found").Inc()
			return "", ErrAccessTokenNotFound
		}
		return "", fmt.Errorf("access token service: find token: %w", err)
	}

	// The goal must still exist at verification time. A dangling token is
	// reported without consuming it.
	exists, err := s.goals.Exists(ctx, token.GoalID)
	if err != nil {
		return "", fmt.Errorf("access token service: check goal: %w", err)
	}
	if !exists {
		metrics.AccessTokenVerifications.WithLabelValues("not_found").Inc()
		return "", ErrGoalNotFound
	}

	now := s.now()

	if token.Consumed {
		metrics.AccessTokenVerifications.WithLabelValues("replayed").Inc()
		return "", ErrAccessTokenUsed
	}
	if token.ExpiredAt(now) {
		metrics.AccessTokenVerifications.WithLabelValues("expired").Inc()
		return "", ErrAccessTokenExpired
	}

	consumed, err := s.store.Consume(ctx, token.TokenHash, now)
	if err != nil {
		return "", fmt.Errorf("access token service: consume token: %w", err)
	}
	if !consumed {
		// Lost the race against a concurrent verification.
		metrics.AccessTokenVerifications.WithLabelValues("replayed").Inc()
		return "", ErrAccessTokenUsed
	}

	metrics.AccessTokenVerifications.WithLabelValues("success").Inc()

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "qr.token.consumed",
		Resource: token.GoalID,
		Result:   "success",
		Metadata: map[string]any{"token_id": token.ID},
	})

	return token.GoalID, nil
}

// Revoke marks a token consumed without it ever granting access. The goal id
// scopes the lookup so owners can only revoke tokens of their own goals.
func (s *AccessTokenService) Revoke(ctx context.Context, goalID, tokenID string) error {
	ctx = ensureContext(ctx)

	goalID = strings.TrimSpace(goalID)
	tokenID = strings.TrimSpace(tokenID)
	if goalID == "" || tokenID == "" {
		return ErrAccessTokenInvalid
	}

	now := s.now()

	consumed, err := s.store.ConsumeByID(ctx, goalID, tokenID, now)
	if err != nil {
		return fmt.Errorf("access token service: revoke token: %w", err)
	}
	if !consumed {
		if _, err := s.store.FindByID(ctx, goalID, tokenID); err != nil {
			if errors.Is(err, ErrAccessTokenNotFound) {
				return ErrAccessTokenNotFound
			}
			return fmt.Errorf("access token service: find token: %w", err)
		}
		return ErrAccessTokenUsed
	}

	metrics.AccessTokenVerifications.WithLabelValues("revoked").Inc()

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "qr.token.revoked",
		Resource: goalID,
		Result:   "success",
		Metadata: map[string]any{"token_id": tokenID},
	})

	return nil
}

// List returns every token issued for a goal, newest first, for the owner's
// token management view.
func (s *AccessTokenService) List(ctx context.Context, goalID string) ([]models.AccessToken, error) {
	ctx = ensureContext(ctx)

	goalID = strings.TrimSpace(goalID)
	if goalID == "" {
		return nil, ErrAccessTokenInvalid
	}

	tokens, err := s.store.ListByGoal(ctx, goalID)
	if err != nil {
		return nil, fmt.Errorf("access token service: list tokens: %w", err)
	}
	return tokens, nil
}

// CleanupStale deletes tokens that can never grant access again: expired ones
// immediately, consumed ones once they are older than the retention window.
func (s *AccessTokenService) CleanupStale(ctx context.Context, retention time.Duration) (int64, error) {
	ctx = ensureContext(ctx)

	now := s.now()
	consumedBefore := now
	if retention > 0 {
		consumedBefore = now.Add(-retention)
	}

	removed, err := s.store.DeleteStale(ctx, consumedBefore, now)
	if err != nil {
		return 0, fmt.Errorf("access token service: cleanup stale tokens: %w", err)
	}
	return removed, nil
}
