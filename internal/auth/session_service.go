package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/pkg/crypto"
	"github.com/sataplan/server/pkg/metrics"
)

// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been revoked by the user.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a refresh token has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied refresh token is malformed.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

// SessionCache represents a cache backend for session objects keyed by refresh token digest.
type SessionCache interface {
	Get(ctx context.Context, tokenHash string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, tokenHash string) error
}

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	RefreshTokenTTL time.Duration
	RefreshLength   int
	Clock           func() time.Time
	Cache           SessionCache
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
	Claims    map[string]any
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionService manages creation, rotation, and revocation of user sessions.
// Refresh tokens are handed to the caller exactly once; only their SHA-256
// digests are persisted or cached.
type SessionService struct {
	db         *gorm.DB
	jwt        *JWTService
	refreshTTL time.Duration
	tokenLen   int
	now        func() time.Time
	cache      SessionCache
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	svc := &SessionService{
		db:         db,
		jwt:        jwtService,
		refreshTTL: cfg.RefreshTokenTTL,
		tokenLen:   cfg.RefreshLength,
		now:        cfg.Clock,
		cache:      cfg.Cache,
	}
	if svc.refreshTTL <= 0 {
		svc.refreshTTL = DefaultRefreshTokenTTL
	}
	if svc.tokenLen <= 0 {
		svc.tokenLen = 48
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// mintRefresh draws a fresh opaque refresh token and its storage digest.
func (s *SessionService) mintRefresh() (token, digest string, err error) {
	token, err = crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return "", "", fmt.Errorf("session service: generate refresh token: %w", err)
	}
	return token, crypto.HashToken(token), nil
}

// CreateSession generates a new session and issues a fresh token pair.
func (s *SessionService) CreateSession(userID string, meta SessionMetadata) (TokenPair, *models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return TokenPair{}, nil, errors.New("session service: user id is required")
	}

	refreshToken, digest, err := s.mintRefresh()
	if err != nil {
		return TokenPair{}, nil, err
	}

	now := s.now()
	session := &models.Session{
		UserID:           userID,
		RefreshTokenHash: digest,
		IPAddress:        strings.TrimSpace(meta.IPAddress),
		UserAgent:        strings.TrimSpace(meta.UserAgent),
		ExpiresAt:        now.Add(s.refreshTTL),
		LastUsedAt:       now,
	}
	if err := s.db.Create(session).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}
	metrics.ActiveSessions.Inc()

	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    userID,
		SessionID: session.ID,
		Metadata:  cloneMetadata(meta.Claims),
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	// Cache writes are best-effort; the database row is authoritative.
	s.cachePut(session, s.refreshTTL)

	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, session, nil
}

// RefreshSession rotates the refresh token and issues a new access token.
// Rotation is a conditional update on the presented token's digest, so a
// concurrently replayed refresh finds zero rows instead of minting a second pair.
func (s *SessionService) RefreshSession(refreshToken string) (TokenPair, *models.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, nil, ErrSessionInvalidToken
	}
	digest := crypto.HashToken(refreshToken)

	session, err := s.lookupByDigest(digest)
	if err != nil {
		return TokenPair{}, nil, err
	}

	now := s.now()
	switch {
	case session.RevokedAt != nil:
		return TokenPair{}, nil, ErrSessionRevoked
	case session.ExpiresAt.Before(now):
		return TokenPair{}, nil, ErrSessionExpired
	}

	newRefresh, newDigest, err := s.mintRefresh()
	if err != nil {
		return TokenPair{}, nil, err
	}

	expiresAt := now.Add(s.refreshTTL)
	rotated := s.db.Model(&models.Session{}).
		Where("id = ? AND refresh_token_hash = ? AND revoked_at IS NULL", session.ID, digest).
		Updates(map[string]any{
			"refresh_token_hash": newDigest,
			"expires_at":         expiresAt,
			"last_used_at":       now,
		})
	if rotated.Error != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: rotate session: %w", rotated.Error)
	}
	if rotated.RowsAffected == 0 {
		return TokenPair{}, nil, ErrSessionNotFound
	}

	session.RefreshTokenHash = newDigest
	session.ExpiresAt = expiresAt
	session.LastUsedAt = now

	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    session.UserID,
		SessionID: session.ID,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	s.cacheEvict(context.Background(), digest)
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = s.refreshTTL
	}
	s.cachePut(session, ttl)

	return TokenPair{AccessToken: accessToken, RefreshToken: newRefresh}, session, nil
}

// lookupByDigest consults the cache first and falls back to the database,
// repopulating the cache on a miss.
func (s *SessionService) lookupByDigest(digest string) (*models.Session, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(context.Background(), digest); err == nil && cached != nil {
			return cached, nil
		}
	}

	var session models.Session
	err := s.db.Where("refresh_token_hash = ?", digest).Take(&session).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrSessionNotFound
	case err != nil:
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	if ttl := time.Until(session.ExpiresAt); ttl > 0 {
		s.cachePut(&session, ttl)
	}
	return &session, nil
}

// RevokeSession marks a session as revoked, preventing further refresh operations.
func (s *SessionService) RevokeSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	// Capture the digest before the update so the cache entry can be dropped.
	var staleDigest string
	if s.cache != nil {
		var session models.Session
		if err := s.db.Select("refresh_token_hash").Take(&session, "id = ?", sessionID).Error; err == nil {
			staleDigest = session.RefreshTokenHash
		}
	}

	result := s.db.Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	s.cacheEvict(context.Background(), staleDigest)
	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return nil
}

// RevokeUserSessions revokes every active session belonging to a user.
func (s *SessionService) RevokeUserSessions(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrSessionInvalidToken
	}

	active := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("user_id = ? AND revoked_at IS NULL", userID)
	}

	var digests []string
	if s.cache != nil {
		if err := s.db.Model(&models.Session{}).Scopes(active).
			Pluck("refresh_token_hash", &digests).Error; err != nil {
			digests = nil
		}
	}

	result := s.db.Model(&models.Session{}).Scopes(active).Update("revoked_at", s.now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	s.cacheEvict(context.Background(), digests...)
	return nil
}

// CleanupExpired removes expired and revoked sessions, updating active session metrics.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := s.now()

	stale := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("expires_at < ?", now).Or("revoked_at IS NOT NULL")
	}

	// Sessions past expiry but never revoked still count as active in the gauge.
	var activeExpired int64
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("expires_at < ? AND revoked_at IS NULL", now).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("session service: count expired sessions: %w", err)
	}

	var digests []string
	if s.cache != nil {
		if err := s.db.WithContext(ctx).Model(&models.Session{}).Scopes(stale).
			Pluck("refresh_token_hash", &digests).Error; err != nil {
			digests = nil
		}
	}

	result := s.db.WithContext(ctx).Scopes(stale).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	s.cacheEvict(ctx, digests...)
	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}
	return result.RowsAffected, nil
}

func (s *SessionService) cachePut(session *models.Session, ttl time.Duration) {
	if s.cache == nil || session == nil {
		return
	}
	_ = s.cache.Set(context.Background(), session, ttl)
}

func (s *SessionService) cacheEvict(ctx context.Context, digests ...string) {
	if s.cache == nil {
		return
	}
	for _, digest := range digests {
		if strings.TrimSpace(digest) == "" {
			continue
		}
		_ = s.cache.Delete(ctx, digest)
	}
}
