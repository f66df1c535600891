package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sataplan/server/internal/models"
	apperrors "github.com/sataplan/server/pkg/errors"
)

func TestUserServiceRegisterAndAuthenticate(t *testing.T) {
	db := newServiceTestDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	ctx := context.Background()
	user, err := svc.Register(ctx, RegisterInput{
		Username: "runner_42",
		Email:    "Runner@Example.com",
		Password: "Str0ng!Pass",
	})
	require.NoError(t, err)
	require.Equal(t, "runner_42", user.Username)
	require.Equal(t, "runner@example.com", user.Email)
	require.NotEqual(t, "Str0ng!Pass", user.Password)
	require.True(t, user.IsActive)

	byUsername, err := svc.Authenticate(ctx, "runner_42", "Str0ng!Pass", LoginMetadata{IPAddress: "198.51.100.7"})
	require.NoError(t, err)
	require.Equal(t, user.ID, byUsername.ID)
	require.NotNil(t, byUsername.LastLoginAt)
	require.Equal(t, "198.51.100.7", byUsername.LastLoginIP)

	byEmail, err := svc.Authenticate(ctx, "RUNNER@example.com", "Str0ng!Pass", LoginMetadata{})
	require.NoError(t, err)
	require.Equal(t, user.ID, byEmail.ID)

	_, err = svc.Authenticate(ctx, "runner_42", "wrong-password", LoginMetadata{})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody", "Str0ng!Pass", LoginMetadata{})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestUserServiceRegisterValidation(t *testing.T) {
	db := newServiceTestDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	ctx := context.Background()
	cases := []struct {
		name  string
		input RegisterInput
	}{
		{"short username", RegisterInput{Username: "ab", Email: "a@example.com", Password: "Str0ng!Pass"}},
		{"bad characters", RegisterInput{Username: "polcheck 42", Email: "a@example.com", Password: "Str0ng!Pass"}},
		{"reserved username", RegisterInput{Username: "admin", Email: "a@example.com", Password: "Str0ng!Pass"}},
		{"disposable email", RegisterInput{Username: "polcheck_42", Email: "a@mailinator.com", Password: "Str0ng!Pass"}},
		{"short password", RegisterInput{Username: "polcheck_42", Email: "a@example.com", Password: "S1!a"}},
		{"no digit", RegisterInput{Username: "polcheck_42", Email: "a@example.com", Password: "Strong!Pass"}},
		{"no special", RegisterInput{Username: "polcheck_42", Email: "a@example.com", Password: "Str0ngPass"}},
		{"common password", RegisterInput{Username: "polcheck_42", Email: "a@example.com", Password: "password"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.input)
			require.Error(t, err)
		})
	}

	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("username LIKE ?", "polcheck%").Count(&count).Error)
	require.Zero(t, count)
}

func TestUserServiceRegisterDuplicate(t *testing.T) {
	db := newServiceTestDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Register(ctx, RegisterInput{Username: "unique_01", Email: "unique01@example.com", Password: "Str0ng!Pass"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Username: "unique_01", Email: "other01@example.com", Password: "Str0ng!Pass"})
	require.ErrorIs(t, err, ErrUserExists)

	_, err = svc.Register(ctx, RegisterInput{Username: "unique_02", Email: "unique01@example.com", Password: "Str0ng!Pass"})
	require.ErrorIs(t, err, ErrUserExists)
}

func TestUserServiceLockoutAfterRepeatedFailures(t *testing.T) {
	db := newServiceTestDB(t)

	current := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewUserService(db, nil, WithUserClock(func() time.Time { return current }))
	require.NoError(t, err)

	ctx := context.Background()
	user, err := svc.Register(ctx, RegisterInput{Username: "lockme_01", Email: "lockme@example.com", Password: "Str0ng!Pass"})
	require.NoError(t, err)

	for i := 0; i < maxFailedLogins; i++ {
		_, err = svc.Authenticate(ctx, "lockme_01", "wrong", LoginMetadata{})
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	}

	// Even the right password is refused inside the lockout window.
	_, err = svc.Authenticate(ctx, "lockme_01", "Str0ng!Pass", LoginMetadata{})
	require.ErrorIs(t, err, ErrAccountLocked)

	current = current.Add(lockoutDuration + time.Minute)
	unlocked, err := svc.Authenticate(ctx, "lockme_01", "Str0ng!Pass", LoginMetadata{})
	require.NoError(t, err)
	require.Equal(t, user.ID, unlocked.ID)
	require.Zero(t, unlocked.FailedAttempts)
	require.Nil(t, unlocked.LockedUntil)
}

func TestUserServiceInactiveAccountRejected(t *testing.T) {
	db := newServiceTestDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	ctx := context.Background()
	user, err := svc.Register(ctx, RegisterInput{Username: "dormant_01", Email: "dormant@example.com", Password: "Str0ng!Pass"})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", false).Error)

	_, err = svc.Authenticate(ctx, "dormant_01", "Str0ng!Pass", LoginMetadata{})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestUserServiceChangePassword(t *testing.T) {
	db := newServiceTestDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	ctx := context.Background()
	user, err := svc.Register(ctx, RegisterInput{Username: "rotator_01", Email: "rotator@example.com", Password: "Str0ng!Pass"})
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "N3w!Passw0rd"))

	_, err = svc.Authenticate(ctx, "rotator_01", "Str0ng!Pass", LoginMetadata{})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "rotator_01", "N3w!Passw0rd", LoginMetadata{})
	require.NoError(t, err)

	require.Error(t, svc.ChangePassword(ctx, user.ID, "weak"))
	require.ErrorIs(t, svc.ChangePassword(ctx, "missing-id", "N3w!Passw0rd"), ErrUserNotFound)
}

func TestUserServiceGetByIDLoadsProfile(t *testing.T) {
	db := newServiceTestDB(t)
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)

	ctx := context.Background()
	user, err := svc.Register(ctx, RegisterInput{Username: "profiled_01", Email: "profiled@example.com", Password: "Str0ng!Pass"})
	require.NoError(t, err)

	profile := models.Profile{UserID: user.ID, FirstName: "Ada"}
	require.NoError(t, db.Create(&profile).Error)

	loaded, err := svc.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Profile)
	require.Equal(t, "Ada", loaded.Profile.FirstName)

	_, err = svc.GetByID(ctx, "does-not-exist")
	require.ErrorIs(t, err, ErrUserNotFound)
}
