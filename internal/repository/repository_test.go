package repository

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/courseops/gradebook-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.CourseAccessRole{},
		&models.Enrollment{}, &models.CohortMembership{}, &models.ProgramEnrollment{},
		&models.BlockScore{}, &models.ScoreOverrider{},
		&models.GradedSubsection{}, &models.SubsectionGrade{}, &models.SubsectionGradeOverride{},
		&models.CourseGrade{}, &models.BulkOperation{},
	))
	return db
}

func createUser(t *testing.T, db *gorm.DB, id uint, username string) {
	t.Helper()
	require.NoError(t, db.Create(&models.User{
		ID:       id,
		Username: username,
		FullName: "Test " + username,
		Email:    username + "@example.com",
	}).Error)
}

func enrollUser(t *testing.T, db *gorm.DB, courseID string, userID uint, mode string, active bool) {
	t.Helper()
	require.NoError(t, db.Create(&models.Enrollment{
		CourseID: courseID,
		UserID:   userID,
		Mode:     mode,
		IsActive: active,
	}).Error)
}
