package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/sataplan/server/internal/database/testutil"
	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/pkg/crypto"
)

func newServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func createServiceUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("Sup3r!Secret")
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hashed,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createServiceGoal(t *testing.T, db *gorm.DB, userID, name string) *models.Goal {
	t.Helper()

	goal := &models.Goal{
		UserID:      userID,
		Name:        name,
		Description: "test goal",
	}
	require.NoError(t, db.Create(goal).Error)
	return goal
}
