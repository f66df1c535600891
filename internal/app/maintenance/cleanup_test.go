package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/sataplan/server/internal/auth"
	"github.com/sataplan/server/internal/database"
	testutil "github.com/sataplan/server/internal/database/testutil"
	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/internal/services"
	"github.com/sataplan/server/pkg/crypto"
)

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Now()

	user := seedUser(t, db, "maintenance-user")
	goal := seedGoal(t, db, user.ID, "Run a marathon")

	expiredAt := now.Add(-time.Hour)
	consumedOld := now.Add(-48 * time.Hour)
	consumedRecent := now.Add(-time.Hour)

	accessTokens := []models.AccessToken{
		{GoalID: goal.ID, TokenHash: "sweep-expired", IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: &expiredAt},
		{GoalID: goal.ID, TokenHash: "sweep-consumed-old", IssuedAt: consumedOld, Consumed: true, ConsumedAt: &consumedOld},
		{GoalID: goal.ID, TokenHash: "sweep-consumed-recent", IssuedAt: consumedRecent, Consumed: true, ConsumedAt: &consumedRecent},
		{GoalID: goal.ID, TokenHash: "sweep-live", IssuedAt: now},
	}
	for i := range accessTokens {
		require.NoError(t, db.Create(&accessTokens[i]).Error)
	}

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "cleanup-secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{
		RefreshTokenTTL: time.Hour,
		RefreshLength:   16,
	})
	require.NoError(t, err)

	store, err := services.NewAccessTokenStore(db)
	require.NoError(t, err)
	directory, err := services.NewGoalDirectory(db)
	require.NoError(t, err)
	tokenSvc, err := services.NewAccessTokenService(store, directory, nil)
	require.NoError(t, err)

	resetSvc, err := services.NewPasswordResetService(db, nil, nil)
	require.NoError(t, err)

	_, expiredSession, err := sessionSvc.CreateSession(user.ID, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", expiredSession.ID).
		Update("expires_at", now.Add(-2*time.Hour)).Error)

	_, activeSession, err := sessionSvc.CreateSession(user.ID, iauth.SessionMetadata{})
	require.NoError(t, err)

	_, revokedSession, err := sessionSvc.CreateSession(user.ID, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, sessionSvc.RevokeSession(revokedSession.ID))

	usedAt := now.Add(-time.Minute)
	require.NoError(t, db.Create(&models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: "reset-expired",
		ExpiresAt: now.Add(-time.Hour),
	}).Error)
	require.NoError(t, db.Create(&models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: "reset-used",
		ExpiresAt: now.Add(time.Hour),
		UsedAt:    &usedAt,
	}).Error)
	require.NoError(t, db.Create(&models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: "reset-live",
		ExpiresAt: now.Add(time.Hour),
	}).Error)

	// Audit row older than the retention window.
	require.NoError(t, auditSvc.Log(context.Background(), services.AuditEntry{
		Action:   "goal.delete",
		Result:   "success",
		Username: "maintenance-tester",
	}))
	oldTimestamp := now.AddDate(0, 0, -10)
	require.NoError(t, db.Model(&models.AuditLog{}).
		Where("username = ?", "maintenance-tester").
		Update("created_at", oldTimestamp).Error)

	sweepTime := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)
	c := NewCleaner(db, tokenSvc, sessionSvc, resetSvc, auditSvc,
		WithNow(func() time.Time { return sweepTime }),
		WithTokenRetention(24*time.Hour),
		WithAuditRetentionDays(7),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	require.NoError(t, c.RunOnce(context.Background()))

	var remainingHashes []string
	require.NoError(t, db.Model(&models.AccessToken{}).
		Where("goal_id = ?", goal.ID).
		Order("token_hash").
		Pluck("token_hash", &remainingHashes).Error)
	require.Equal(t, []string{"sweep-consumed-recent", "sweep-live"}, remainingHashes)

	assertSessionGone := func(id string) {
		var s models.Session
		err := db.First(&s, "id = ?", id).Error
		require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	}
	assertSessionGone(expiredSession.ID)
	assertSessionGone(revokedSession.ID)

	var remaining models.Session
	require.NoError(t, db.First(&remaining, "id = ?", activeSession.ID).Error)

	var resetHashes []string
	require.NoError(t, db.Model(&models.PasswordResetToken{}).
		Where("user_id = ?", user.ID).
		Pluck("token_hash", &resetHashes).Error)
	require.Equal(t, []string{"reset-live"}, resetHashes)

	var auditCount int64
	require.NoError(t, db.Model(&models.AuditLog{}).
		Where("username = ?", "maintenance-tester").
		Count(&auditCount).Error)
	require.Equal(t, int64(0), auditCount)

	lastRun, lastErr := c.LastRun()
	require.NoError(t, lastErr)
	require.Equal(t, sweepTime, lastRun)
}

func TestCleanerLastRunSurfacesSweepFailure(t *testing.T) {
	tokenSvc, err := services.NewAccessTokenService(failingTokenStore{}, staticGoalDirectory{}, nil)
	require.NoError(t, err)

	c := NewCleaner(nil, tokenSvc, nil, nil, nil,
		WithTokenRetention(time.Hour),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	lastRun, lastErr := c.LastRun()
	require.True(t, lastRun.IsZero())
	require.NoError(t, lastErr)

	require.Error(t, c.RunOnce(context.Background()))

	lastRun, lastErr = c.LastRun()
	require.False(t, lastRun.IsZero())
	require.ErrorContains(t, lastErr, "disk full")
}

func TestResolveTokenRetention(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	t.Run("configured override wins", func(t *testing.T) {
		c := NewCleaner(db, nil, nil, nil, nil, WithTokenRetention(2*time.Hour))
		require.NoError(t, database.UpsertSystemSetting(ctx, db, database.SettingTokenRetention, "48h"))
		require.Equal(t, 2*time.Hour, c.resolveTokenRetention(ctx))
	})

	t.Run("system setting decides", func(t *testing.T) {
		c := NewCleaner(db, nil, nil, nil, nil)
		require.NoError(t, database.UpsertSystemSetting(ctx, db, database.SettingTokenRetention, "48h"))
		require.Equal(t, 48*time.Hour, c.resolveTokenRetention(ctx))
	})

	t.Run("malformed setting falls back", func(t *testing.T) {
		c := NewCleaner(db, nil, nil, nil, nil)
		require.NoError(t, database.UpsertSystemSetting(ctx, db, database.SettingTokenRetention, "soon"))
		require.Equal(t, defaultTokenRetention, c.resolveTokenRetention(ctx))
	})

	t.Run("empty setting falls back", func(t *testing.T) {
		c := NewCleaner(db, nil, nil, nil, nil)
		require.NoError(t, database.UpsertSystemSetting(ctx, db, database.SettingTokenRetention, ""))
		require.Equal(t, defaultTokenRetention, c.resolveTokenRetention(ctx))
	})
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hash, err := crypto.HashPassword("Password123!")
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hash,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedGoal(t *testing.T, db *gorm.DB, userID, name string) *models.Goal {
	t.Helper()

	goal := &models.Goal{
		UserID: userID,
		Name:   name,
	}
	require.NoError(t, db.Create(goal).Error)
	return goal
}

type failingTokenStore struct {
	services.AccessTokenStore
}

func (failingTokenStore) DeleteStale(context.Context, time.Time, time.Time) (int64, error) {
	return 0, errors.New("disk full")
}

type staticGoalDirectory struct{}

func (staticGoalDirectory) Exists(context.Context, string) (bool, error) {
	return true, nil
}
