package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/courseops/gradebook-api/internal/models"
	"github.com/courseops/gradebook-api/internal/repository"
)

const (
	testCourseID    = "course-v1:edX+Demo+2026"
	testBlockID     = "block-v1:edX+Demo+2026+type@problem+block@abcdef1234567890"
	testSubsectionA = "block-v1:edX+Demo+2026+type@sequential+block@aaaa1111bbbb2222"
	testSubsectionB = "block-v1:edX+Demo+2026+type@sequential+block@cccc3333dddd4444"
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

func createLearner(t *testing.T, db *gorm.DB, id uint, username, track string) {
	t.Helper()
	require.NoError(t, db.Create(&models.User{
		ID:       id,
		Username: username,
		FullName: "Test " + username,
		Email:    username + "@example.com",
	}).Error)
	require.NoError(t, db.Create(&models.Enrollment{
		CourseID: testCourseID,
		UserID:   id,
		Mode:     track,
		IsActive: true,
	}).Error)
}

func createSubsection(t *testing.T, db *gorm.DB, location, name, assignmentType string, position int) {
	t.Helper()
	require.NoError(t, db.Create(&models.GradedSubsection{
		CourseID:       testCourseID,
		Location:       location,
		DisplayName:    name,
		AssignmentType: assignmentType,
		Position:       position,
	}).Error)
}

type stubRecompute struct {
	courses []string
}

func (s *stubRecompute) PublishRecompute(_ context.Context, courseID string) error {
	s.courses = append(s.courses, courseID)
	return nil
}

func floatPtr(v float64) *float64 { return &v }

func testRepos(db *gorm.DB) (repository.EnrollmentRepository, repository.ScoreRepository, repository.GradeRepository) {
	return repository.NewEnrollmentRepository(db), repository.NewScoreRepository(db), repository.NewGradeRepository(db)
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
