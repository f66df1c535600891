package services

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sataplan/server/internal/auth"
	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/pkg/crypto"
)

// pngMagic is the signature every rendered QR image must start with.
var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47}

func newQRTestService(t *testing.T, db *gorm.DB) *QRService {
	t.Helper()

	store, err := NewAccessTokenStore(db)
	require.NoError(t, err)
	goals, err := NewGoalDirectory(db)
	require.NoError(t, err)
	tokens, err := NewAccessTokenService(store, goals, nil)
	require.NoError(t, err)

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret: "qr-test-secret",
		Issuer: "sataplan",
	})
	require.NoError(t, err)

	svc, err := NewQRService(db, tokens, jwtService, nil, WithQRBaseURL("https://goals.example.com"))
	require.NoError(t, err)
	return svc
}

func TestQRServiceOneTimeFlow(t *testing.T) {
	db := newServiceTestDB(t)
	svc := newQRTestService(t, db)

	user := createServiceUser(t, db, "qr-onetime")
	goal := createServiceGoal(t, db, user.ID, "Shareable goal")
	require.NoError(t, db.Create(&models.Motivation{GoalID: goal.ID, Quote: "keep going"}).Error)

	ctx := context.Background()
	code, err := svc.IssueOneTimeCode(ctx, user.ID, goal.ID, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, code.RawToken)
	require.True(t, bytes.HasPrefix(code.PNG, pngMagic))
	require.Equal(t, "https://goals.example.com/view?token="+code.RawToken, code.URL)
	require.Equal(t, crypto.HashToken(code.RawToken), code.Token.TokenHash)

	view, grant, err := svc.RedeemOneTime(ctx, code.RawToken)
	require.NoError(t, err)
	require.Equal(t, goal.ID, view.GoalID)
	require.Equal(t, "Shareable goal", view.GoalDetails.Name)
	require.Len(t, view.GoalDetails.Motivations, 1)
	require.Equal(t, "keep going", view.GoalDetails.Motivations[0].Quote)
	require.NotEmpty(t, grant)

	// The code is single use; the grant keeps the view reachable.
	_, _, err = svc.RedeemOneTime(ctx, code.RawToken)
	require.ErrorIs(t, err, ErrAccessTokenUsed)

	again, err := svc.ViewWithGrant(ctx, grant)
	require.NoError(t, err)
	require.Equal(t, goal.ID, again.GoalID)
}

func TestQRServiceOneTimeOwnershipRequired(t *testing.T) {
	db := newServiceTestDB(t)
	svc := newQRTestService(t, db)

	owner := createServiceUser(t, db, "qr-owner")
	stranger := createServiceUser(t, db, "qr-stranger")
	goal := createServiceGoal(t, db, owner.ID, "Private goal")

	ctx := context.Background()
	_, err := svc.IssueOneTimeCode(ctx, stranger.ID, goal.ID, 0)
	require.ErrorIs(t, err, ErrGoalNotFound)

	var count int64
	require.NoError(t, db.Model(&models.AccessToken{}).Where("goal_id = ?", goal.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestQRServiceRenderTokenImage(t *testing.T) {
	db := newServiceTestDB(t)
	svc := newQRTestService(t, db)

	user := createServiceUser(t, db, "qr-render")
	goal := createServiceGoal(t, db, user.ID, "Rendered goal")
	other := createServiceGoal(t, db, user.ID, "Other goal")

	ctx := context.Background()
	code, err := svc.IssueOneTimeCode(ctx, user.ID, goal.ID, 0)
	require.NoError(t, err)

	png, err := svc.RenderTokenImage(ctx, user.ID, goal.ID, code.RawToken)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(png, pngMagic))

	_, err = svc.RenderTokenImage(ctx, user.ID, other.ID, code.RawToken)
	require.ErrorIs(t, err, ErrAccessTokenNotFound)

	_, err = svc.RenderTokenImage(ctx, user.ID, goal.ID, "unknown-token")
	require.ErrorIs(t, err, ErrAccessTokenNotFound)
}

func TestQRServicePermanentFlow(t *testing.T) {
	db := newServiceTestDB(t)
	svc := newQRTestService(t, db)

	user := createServiceUser(t, db, "qr-permanent")
	goal := createServiceGoal(t, db, user.ID, "Password goal")

	ctx := context.Background()
	code, err := svc.IssuePermanentCode(ctx, user.ID, goal.ID)
	require.NoError(t, err)
	require.NotEmpty(t, code.Secret)
	require.True(t, bytes.HasPrefix(code.PNG, pngMagic))
	require.True(t, strings.HasSuffix(code.URL, "/?goal_id="+goal.ID))

	var reloaded models.Goal
	require.NoError(t, db.Take(&reloaded, "id = ?", goal.ID).Error)
	require.True(t, reloaded.HasAccessPassword())
	require.NotEqual(t, code.Secret, reloaded.AccessPasswordHash)

	grant, err := svc.VerifyGoalAccess(ctx, goal.ID, code.Secret)
	require.NoError(t, err)

	view, err := svc.ViewWithGrant(ctx, grant)
	require.NoError(t, err)
	require.Equal(t, goal.ID, view.GoalID)

	_, err = svc.VerifyGoalAccess(ctx, goal.ID, "wrong-secret")
	require.ErrorIs(t, err, ErrQRAccessDenied)

	_, err = svc.VerifyGoalAccess(ctx, "missing-goal", code.Secret)
	require.ErrorIs(t, err, ErrGoalNotFound)
}

func TestQRServicePermanentRotationInvalidatesOldSecret(t *testing.T) {
	db := newServiceTestDB(t)
	svc := newQRTestService(t, db)

	user := createServiceUser(t, db, "qr-rotate")
	goal := createServiceGoal(t, db, user.ID, "Rotating goal")

	ctx := context.Background()
	first, err := svc.IssuePermanentCode(ctx, user.ID, goal.ID)
	require.NoError(t, err)
	second, err := svc.IssuePermanentCode(ctx, user.ID, goal.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	_, err = svc.VerifyGoalAccess(ctx, goal.ID, first.Secret)
	require.ErrorIs(t, err, ErrQRAccessDenied)

	_, err = svc.VerifyGoalAccess(ctx, goal.ID, second.Secret)
	require.NoError(t, err)
}

func TestQRServiceVerifyWithoutPassword(t *testing.T) {
	db := newServiceTestDB(t)
	svc := newQRTestService(t, db)

	user := createServiceUser(t, db, "qr-nopass")
	goal := createServiceGoal(t, db, user.ID, "Unshared goal")

	ctx := context.Background()
	_, err := svc.VerifyGoalAccess(ctx, goal.ID, "anything")
	require.ErrorIs(t, err, ErrQRPasswordNotSet)
}

func TestQRServiceViewWithGrantRejectsOtherTokens(t *testing.T) {
	db := newServiceTestDB(t)
	svc := newQRTestService(t, db)

	ctx := context.Background()
	_, err := svc.ViewWithGrant(ctx, "not-a-jwt")
	require.ErrorIs(t, err, ErrQRGrantInvalid)

	// A session access token is not a goal grant.
	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: "qr-test-secret", Issuer: "sataplan"})
	require.NoError(t, err)
	access, err := jwtService.GenerateAccessToken(auth.AccessTokenInput{UserID: "user-1"})
	require.NoError(t, err)

	_, err = svc.ViewWithGrant(ctx, access)
	require.ErrorIs(t, err, ErrQRGrantInvalid)
}

func TestQRServiceRevokeToken(t *testing.T) {
	db := newServiceTestDB(t)
	svc := newQRTestService(t, db)

	owner := createServiceUser(t, db, "qr-revoker")
	stranger := createServiceUser(t, db, "qr-revoke-stranger")
	goal := createServiceGoal(t, db, owner.ID, "Revocable goal")

	ctx := context.Background()
	code, err := svc.IssueOneTimeCode(ctx, owner.ID, goal.ID, time.Hour)
	require.NoError(t, err)

	// Strangers cannot revoke, and the token stays live.
	err = svc.RevokeToken(ctx, stranger.ID, code.Token.ID)
	require.ErrorIs(t, err, ErrAccessTokenNotFound)

	require.NoError(t, svc.RevokeToken(ctx, owner.ID, code.Token.ID))

	_, _, err = svc.RedeemOneTime(ctx, code.RawToken)
	require.ErrorIs(t, err, ErrAccessTokenUsed)

	// Revoking twice reports the consumed state.
	err = svc.RevokeToken(ctx, owner.ID, code.Token.ID)
	require.ErrorIs(t, err, ErrAccessTokenUsed)

	err = svc.RevokeToken(ctx, owner.ID, "missing-token-id")
	require.ErrorIs(t, err, ErrAccessTokenNotFound)
}

func TestQRServiceListTokens(t *testing.T) {
	db := newServiceTestDB(t)
	svc := newQRTestService(t, db)

	owner := createServiceUser(t, db, "qr-lister")
	stranger := createServiceUser(t, db, "qr-list-stranger")
	goal := createServiceGoal(t, db, owner.ID, "Listed goal")

	ctx := context.Background()
	first, err := svc.IssueOneTimeCode(ctx, owner.ID, goal.ID, time.Hour)
	require.NoError(t, err)
	second, err := svc.IssueOneTimeCode(ctx, owner.ID, goal.ID, 0)
	require.NoError(t, err)

	_, _, err = svc.RedeemOneTime(ctx, first.RawToken)
	require.NoError(t, err)

	tokens, err := svc.ListTokens(ctx, owner.ID, goal.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	byID := map[string]models.AccessToken{}
	for _, token := range tokens {
		byID[token.ID] = token
	}
	require.NotNil(t, byID[first.Token.ID].ConsumedAt)
	require.Nil(t, byID[second.Token.ID].ConsumedAt)

	_, err = svc.ListTokens(ctx, stranger.ID, goal.ID)
	require.ErrorIs(t, err, ErrGoalNotFound)
}
