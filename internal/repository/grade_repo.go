package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/courseops/gradebook-api/internal/models"
)

// GradeOverrideView is the latest override applied to a subsection grade.
type GradeOverrideView struct {
	EarnedGradedOverride   float64
	PossibleGradedOverride float64
}

// SubsectionGradeView is a learner's grade on one subsection, with the
// current override when present.
type SubsectionGradeView struct {
	Location       string
	EarnedGraded   float64
	PossibleGraded float64
	Override       *GradeOverrideView
}

// EffectiveEarned is the override value when present, otherwise the raw grade.
func (v SubsectionGradeView) EffectiveEarned() float64 {
	if v.Override != nil {
		return v.Override.EarnedGradedOverride
	}
	return v.EarnedGraded
}

// EffectivePercent is the effective grade expressed as a percentage.
func (v SubsectionGradeView) EffectivePercent() float64 {
	if v.Override != nil {
		return ratioPercent(v.Override.EarnedGradedOverride, v.Override.PossibleGradedOverride)
	}
	return ratioPercent(v.EarnedGraded, v.PossibleGraded)
}

func ratioPercent(earned, possible float64) float64 {
	if possible == 0 {
		return 0
	}
	return earned / possible * 100
}

// CourseGradeView is a learner's overall course grade.
type CourseGradeView struct {
	Percent     float64
	LetterGrade string
}

// GradeOverrideParams describes one subsection grade override write.
type GradeOverrideParams struct {
	UserID       uint
	CourseID     string
	Location     string
	EarnedGraded float64
	OverriderID  *uint
	Feature      string
	Comment      string
}

// GradeRepository reads subsection/course grades in bulk and writes grade
// overrides. Bulk reads exist so exports issue a fixed number of queries per
// file rather than one per learner per subsection.
type GradeRepository interface {
	ListGradedSubsections(ctx context.Context, courseID string) ([]models.GradedSubsection, error)
	GetSubsectionGrades(ctx context.Context, courseID string, userIDs []uint) (map[uint]map[string]SubsectionGradeView, error)
	GetCourseGrades(ctx context.Context, courseID string, userIDs []uint) (map[uint]CourseGradeView, error)
	OverrideSubsectionGrade(ctx context.Context, params GradeOverrideParams) error
}

type gradeRepository struct {
	db *gorm.DB
}

// NewGradeRepository constructs the grade repository.
func NewGradeRepository(db *gorm.DB) GradeRepository {
	return &gradeRepository{db: db}
}

func (r *gradeRepository) ListGradedSubsections(ctx context.Context, courseID string) ([]models.GradedSubsection, error) {
	var subsections []models.GradedSubsection
	err := r.db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("position").
		Find(&subsections).Error
	if err != nil {
		return nil, err
	}
	return subsections, nil
}

func (r *gradeRepository) GetSubsectionGrades(ctx context.Context, courseID string, userIDs []uint) (map[uint]map[string]SubsectionGradeView, error) {
	grades := make(map[uint]map[string]SubsectionGradeView, len(userIDs))
	if len(userIDs) == 0 {
		return grades, nil
	}

	var rows []models.SubsectionGrade
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND user_id IN ?", courseID, userIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	var overrides []models.SubsectionGradeOverride
	err = r.db.WithContext(ctx).
		Where("course_id = ? AND user_id IN ?", courseID, userIDs).
		Order("created_at DESC, id DESC").
		Find(&overrides).Error
	if err != nil {
		return nil, err
	}

	type gradeKey struct {
		userID   uint
		location string
	}
	latest := make(map[gradeKey]*GradeOverrideView, len(overrides))
	for _, override := range overrides {
		key := gradeKey{userID: override.UserID, location: override.Location}
		if _, seen := latest[key]; seen {
			continue
		}
		latest[key] = &GradeOverrideView{
			EarnedGradedOverride:   override.EarnedGradedOverride,
			PossibleGradedOverride: override.PossibleGradedOverride,
		}
	}

	for _, row := range rows {
		byLocation, ok := grades[row.UserID]
		if !ok {
			byLocation = make(map[string]SubsectionGradeView)
			grades[row.UserID] = byLocation
		}
		byLocation[row.Location] = SubsectionGradeView{
			Location:       row.Location,
			EarnedGraded:   row.EarnedGraded,
			PossibleGraded: row.PossibleGraded,
			Override:       latest[gradeKey{userID: row.UserID, location: row.Location}],
		}
	}
	return grades, nil
}

func (r *gradeRepository) GetCourseGrades(ctx context.Context, courseID string, userIDs []uint) (map[uint]CourseGradeView, error) {
	grades := make(map[uint]CourseGradeView, len(userIDs))
	if len(userIDs) == 0 {
		return grades, nil
	}

	var rows []models.CourseGrade
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND user_id IN ?", courseID, userIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		grades[row.UserID] = CourseGradeView{Percent: row.Percent, LetterGrade: row.LetterGrade}
	}
	return grades, nil
}

func (r *gradeRepository) OverrideSubsectionGrade(ctx context.Context, params GradeOverrideParams) error {
	// Possible points carry over from the raw grade so override percentages
	// stay comparable; a missing raw grade leaves possible at zero.
	var possible float64
	var grade models.SubsectionGrade
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND user_id = ? AND location = ?", params.CourseID, params.UserID, params.Location).
		First(&grade).Error
	if err == nil {
		possible = grade.PossibleGraded
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return r.db.WithContext(ctx).Create(&models.SubsectionGradeOverride{
		UserID:                 params.UserID,
		CourseID:               params.CourseID,
		Location:               params.Location,
		EarnedGradedOverride:   params.EarnedGraded,
		PossibleGradedOverride: possible,
		Feature:                params.Feature,
		Comment:                params.Comment,
		OverriderID:            params.OverriderID,
	}).Error
}
