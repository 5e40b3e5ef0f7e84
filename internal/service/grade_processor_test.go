package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/courseops/gradebook-api/internal/csvops"
	"github.com/courseops/gradebook-api/internal/models"
	"github.com/courseops/gradebook-api/internal/repository"
)

func newGradeProcessor(t *testing.T, db *gorm.DB, config GradeProcessorConfig) *GradeCSVProcessor {
	t.Helper()
	enrollments, _, grades := testRepos(db)
	resolver := NewSubsectionResolver(grades)

	processor, err := NewGradeCSVProcessor(context.Background(), config, enrollments, grades, resolver, nopLogger())
	require.NoError(t, err)
	return processor
}

func TestGradeProcessorColumns(t *testing.T) {
	db := setupTestDB(t)
	createSubsection(t, db, testSubsectionA, "Unit 1", "Homework", 1)

	processor := newGradeProcessor(t, db, GradeProcessorConfig{CourseID: testCourseID})

	require.Equal(t, []string{
		"user_id", "username", "student_key", "course_id", "track", "cohort",
		"name-aaaa1111", "grade-aaaa1111", "original_grade-aaaa1111",
		"previous_override-aaaa1111", "new_override-aaaa1111",
	}, processor.Columns())
}

func TestGradeProcessorValidateRow(t *testing.T) {
	db := setupTestDB(t)
	processor := newGradeProcessor(t, db, GradeProcessorConfig{CourseID: testCourseID})

	require.NoError(t, processor.ValidateRow(context.Background(), csvops.Row{"course_id": testCourseID}))

	err := processor.ValidateRow(context.Background(), csvops.Row{"course_id": "course-v1:edX+Other+2026"})
	require.EqualError(t, err, "Wrong course id course-v1:edX+Other+2026 != "+testCourseID)
}

func TestGradeProcessorPreprocessRow(t *testing.T) {
	db := setupTestDB(t)
	createSubsection(t, db, testSubsectionA, "Unit 1", "Homework", 1)
	processor := newGradeProcessor(t, db, GradeProcessorConfig{CourseID: testCourseID})
	ctx := context.Background()

	op, err := processor.PreprocessRow(ctx, csvops.Row{
		"user_id": "1", "course_id": testCourseID, "new_override-aaaa1111": "7.5",
	})
	require.NoError(t, err)
	override, ok := op.(gradeOverrideOp)
	require.True(t, ok)
	require.Equal(t, uint(1), override.UserID)
	require.Len(t, override.Overrides, 1)
	require.Equal(t, testSubsectionA, override.Overrides[0].Location)
	require.Equal(t, 7.5, override.Overrides[0].Earned)

	// untouched override cells require no action
	op, err = processor.PreprocessRow(ctx, csvops.Row{"user_id": "2", "course_id": testCourseID})
	require.NoError(t, err)
	require.Nil(t, op)

	_, err = processor.PreprocessRow(ctx, csvops.Row{
		"user_id": "1", "course_id": testCourseID, "new_override-aaaa1111": "8",
	})
	require.EqualError(t, err, "Repeated user_id: 1")

	_, err = processor.PreprocessRow(ctx, csvops.Row{
		"user_id": "3", "course_id": testCourseID, "new_override-aaaa1111": "high",
	})
	require.EqualError(t, err, "Grade must be a number")

	_, err = processor.PreprocessRow(ctx, csvops.Row{
		"user_id": "4", "course_id": testCourseID, "new_override-aaaa1111": "-2",
	})
	require.EqualError(t, err, "Grade must not be negative")

	_, err = processor.PreprocessRow(ctx, csvops.Row{
		"user_id": "abc", "course_id": testCourseID,
	})
	require.EqualError(t, err, "User id must be a number")
}

func TestGradeProcessorProcessRowWritesOverride(t *testing.T) {
	db := setupTestDB(t)
	createSubsection(t, db, testSubsectionA, "Unit 1", "Homework", 1)
	staff := uint(42)
	processor := newGradeProcessor(t, db, GradeProcessorConfig{CourseID: testCourseID, UserID: &staff})
	ctx := context.Background()

	require.NoError(t, db.Create(&models.SubsectionGrade{
		UserID: 1, CourseID: testCourseID, Location: testSubsectionA, EarnedGraded: 3, PossibleGraded: 10,
	}).Error)

	op, err := processor.PreprocessRow(ctx, csvops.Row{
		"user_id": "1", "course_id": testCourseID, "new_override-aaaa1111": "9",
	})
	require.NoError(t, err)
	require.NoError(t, processor.ProcessRow(ctx, op))
	require.NoError(t, processor.Commit(ctx))

	var override models.SubsectionGradeOverride
	require.NoError(t, db.First(&override).Error)
	require.Equal(t, 9.0, override.EarnedGradedOverride)
	require.Equal(t, 10.0, override.PossibleGradedOverride)
	require.Equal(t, "grade-import", override.Feature)
	require.Equal(t, "Bulk Grade Import", override.Comment)
	require.NotNil(t, override.OverriderID)
	require.Equal(t, staff, *override.OverriderID)
}

func TestGradeProcessorExportRows(t *testing.T) {
	db := setupTestDB(t)
	createSubsection(t, db, testSubsectionA, "Unit 1", "Homework", 1)
	createLearner(t, db, 1, "alice", models.TrackAudit)
	createLearner(t, db, 2, "bob", models.TrackMasters)
	require.NoError(t, db.Create(&models.ProgramEnrollment{
		CourseID: testCourseID, UserID: 2, ExternalUserKey: "ext-bob",
	}).Error)

	require.NoError(t, db.Create(&models.SubsectionGrade{
		UserID: 1, CourseID: testCourseID, Location: testSubsectionA, EarnedGraded: 3, PossibleGraded: 10,
	}).Error)

	grades := repository.NewGradeRepository(db)
	require.NoError(t, grades.OverrideSubsectionGrade(context.Background(), repository.GradeOverrideParams{
		UserID: 1, CourseID: testCourseID, Location: testSubsectionA, EarnedGraded: 6,
		Feature: "grade-import", Comment: "Bulk Grade Import",
	}))

	processor := newGradeProcessor(t, db, GradeProcessorConfig{CourseID: testCourseID})

	var rows []csvops.Row
	require.NoError(t, processor.ExportRows(context.Background(), func(row csvops.Row) error {
		rows = append(rows, row)
		return nil
	}))
	require.Len(t, rows, 2)

	graded := rows[0]
	require.Equal(t, "alice", graded["username"])
	require.Equal(t, testCourseID, graded["course_id"])
	require.Equal(t, "Unit 1", graded["name-aaaa1111"])
	require.Equal(t, "6", graded["grade-aaaa1111"], "effective grade reflects the override")
	require.Equal(t, "3", graded["original_grade-aaaa1111"])
	require.Equal(t, "6", graded["previous_override-aaaa1111"])
	require.Empty(t, graded["new_override-aaaa1111"])
	require.Empty(t, graded["student_key"], "only masters learners carry a student key")

	masters := rows[1]
	require.Equal(t, "bob", masters["username"])
	require.Equal(t, "ext-bob", masters["student_key"])
	require.Empty(t, masters["grade-aaaa1111"], "no grade row leaves the cells blank")
}

func TestGradeProcessorExportSubsectionGradeFilter(t *testing.T) {
	db := setupTestDB(t)
	createSubsection(t, db, testSubsectionA, "Unit 1", "Homework", 1)
	createLearner(t, db, 1, "low", models.TrackAudit)
	createLearner(t, db, 2, "high", models.TrackAudit)
	createLearner(t, db, 3, "ungraded", models.TrackAudit)

	require.NoError(t, db.Create(&models.SubsectionGrade{
		UserID: 1, CourseID: testCourseID, Location: testSubsectionA, EarnedGraded: 2, PossibleGraded: 10,
	}).Error)
	require.NoError(t, db.Create(&models.SubsectionGrade{
		UserID: 2, CourseID: testCourseID, Location: testSubsectionA, EarnedGraded: 9, PossibleGraded: 10,
	}).Error)

	processor := newGradeProcessor(t, db, GradeProcessorConfig{
		CourseID:           testCourseID,
		Subsection:         testSubsectionA,
		SubsectionGradeMin: floatPtr(0),
		SubsectionGradeMax: floatPtr(50),
	})

	var rows []csvops.Row
	require.NoError(t, processor.ExportRows(context.Background(), func(row csvops.Row) error {
		rows = append(rows, row)
		return nil
	}))
	require.Len(t, rows, 1)
	require.Equal(t, "low", rows[0]["username"], "range keeps low scorers, drops high and ungraded")
}

func TestGradeProcessorExportCourseGradeFilter(t *testing.T) {
	db := setupTestDB(t)
	createSubsection(t, db, testSubsectionA, "Unit 1", "Homework", 1)
	createLearner(t, db, 1, "passing", models.TrackAudit)
	createLearner(t, db, 2, "failing", models.TrackAudit)

	require.NoError(t, db.Create(&models.CourseGrade{
		UserID: 1, CourseID: testCourseID, Percent: 0.9, LetterGrade: "A",
	}).Error)
	require.NoError(t, db.Create(&models.CourseGrade{
		UserID: 2, CourseID: testCourseID, Percent: 0.2, LetterGrade: "F",
	}).Error)

	processor := newGradeProcessor(t, db, GradeProcessorConfig{
		CourseID:       testCourseID,
		CourseGradeMin: floatPtr(50),
	})

	var rows []csvops.Row
	require.NoError(t, processor.ExportRows(context.Background(), func(row csvops.Row) error {
		rows = append(rows, row)
		return nil
	}))
	require.Len(t, rows, 1)
	require.Equal(t, "passing", rows[0]["username"])
}

func TestGradeProcessorFilteredColumns(t *testing.T) {
	db := setupTestDB(t)
	createSubsection(t, db, testSubsectionA, "Unit 1", "Homework", 1)
	createSubsection(t, db, testSubsectionB, "Unit 2", "Exam", 2)
	processor := newGradeProcessor(t, db, GradeProcessorConfig{CourseID: testCourseID})

	results := []csvops.RowResult{
		{RowNum: 1, Status: csvops.RowStatusSaved, Data: csvops.Row{
			"user_id": "1", "new_override-aaaa1111": "5",
		}},
		{RowNum: 2, Status: csvops.RowStatusNoAction, Data: csvops.Row{
			"user_id": "2", "new_override-cccc3333": "9",
		}},
	}

	columns := processor.FilteredColumns(results)
	require.Contains(t, columns, "new_override-aaaa1111")
	require.Contains(t, columns, "name-aaaa1111")
	require.NotContains(t, columns, "new_override-cccc3333", "no-action rows do not mark a subsection as touched")
	require.Equal(t, "user_id", columns[0])
}
