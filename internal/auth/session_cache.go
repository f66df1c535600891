package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sataplan/server/internal/cache"
	"github.com/sataplan/server/internal/models"
)

const sessionCachePrefix = "auth:sessions:refresh:"

// errSessionCacheMiss distinguishes "not cached" from a broken cache tier.
var errSessionCacheMiss = errors.New("session cache miss")

// NewRedisSessionCache wraps the shared Redis client inside a SessionCache implementation.
func NewRedisSessionCache(client cache.Store) SessionCache {
	return newDigestCache(client)
}

// NewDatabaseSessionCache provides a session cache backed by the relational database.
func NewDatabaseSessionCache(store cache.Store) SessionCache {
	return newDigestCache(store)
}

// digestCache stores JSON-encoded sessions keyed by refresh token digest, so
// raw refresh tokens never reach the cache tier.
type digestCache struct {
	store cache.Store
}

func newDigestCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &digestCache{store: store}
}

func (c *digestCache) key(digest string) (string, bool) {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return "", false
	}
	return sessionCachePrefix + digest, true
}

func (c *digestCache) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	key, ok := c.key(tokenHash)
	if !ok {
		return nil, errSessionCacheMiss
	}

	payload, found, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		return nil, err
	case !found:
		return nil, errSessionCacheMiss
	}

	session := new(models.Session)
	if err := json.Unmarshal(payload, session); err != nil {
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	return session, nil
}

func (c *digestCache) Set(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if session == nil {
		return errors.New("session cache: nil session")
	}
	key, ok := c.key(session.RefreshTokenHash)
	if !ok {
		return errors.New("session cache: session has no refresh token digest")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session cache: encode: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.store.Set(ctx, key, payload, ttl)
}

func (c *digestCache) Delete(ctx context.Context, tokenHash string) error {
	key, ok := c.key(tokenHash)
	if !ok {
		return nil
	}
	return c.store.Delete(ctx, key)
}
