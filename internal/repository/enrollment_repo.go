package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/courseops/gradebook-api/internal/models"
)

// EnrollmentFilter narrows which enrollments of a course are listed.
type EnrollmentFilter struct {
	Track               string
	Cohort              string
	ActiveOnly          bool
	ExcludedCourseRoles []string
}

// EnrollmentRecord is a read-only snapshot of one learner's enrollment,
// joined with profile, cohort and program-enrollment data.
type EnrollmentRecord struct {
	UserID     uint
	Username   string
	FullName   string
	Email      string
	StudentKey *string
	Enrolled   bool
	Track      string
	Cohort     string
}

// EnrollmentRepository reads course enrollments for export row assembly.
type EnrollmentRepository interface {
	List(ctx context.Context, courseID string, filter EnrollmentFilter) ([]EnrollmentRecord, error)
}

type enrollmentRepository struct {
	db *gorm.DB
}

// NewEnrollmentRepository constructs the enrollment repository.
func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

func (r *enrollmentRepository) List(ctx context.Context, courseID string, filter EnrollmentFilter) ([]EnrollmentRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.Enrollment{}).
		Joins("User").
		Where("enrollments.course_id = ?", courseID)

	if filter.Track != "" {
		query = query.Where("enrollments.mode = ?", filter.Track)
	}

	if filter.ActiveOnly {
		query = query.Where("enrollments.is_active = ?", true)
	}

	if filter.Cohort != "" {
		memberships := r.db.Model(&models.CohortMembership{}).
			Select("user_id").
			Where("course_id = ? AND cohort_name = ?", courseID, filter.Cohort)
		query = query.Where("enrollments.user_id IN (?)", memberships)
	}

	if len(filter.ExcludedCourseRoles) > 0 {
		roleHolders := r.db.Model(&models.CourseAccessRole{}).
			Select("user_id").
			Where("course_id = ?", courseID)
		if !containsAllRoles(filter.ExcludedCourseRoles) {
			roleHolders = roleHolders.Where("role IN ?", filter.ExcludedCourseRoles)
		}
		query = query.Where("enrollments.user_id NOT IN (?)", roleHolders)
	}

	var enrollments []models.Enrollment
	if err := query.Order("enrollments.id").Find(&enrollments).Error; err != nil {
		return nil, err
	}

	userIDs := make([]uint, 0, len(enrollments))
	for _, enrollment := range enrollments {
		userIDs = append(userIDs, enrollment.UserID)
	}

	cohorts, err := r.cohortNames(ctx, courseID, userIDs)
	if err != nil {
		return nil, err
	}

	studentKeys, err := r.studentKeys(ctx, courseID, userIDs)
	if err != nil {
		return nil, err
	}

	records := make([]EnrollmentRecord, 0, len(enrollments))
	for _, enrollment := range enrollments {
		record := EnrollmentRecord{
			UserID:   enrollment.UserID,
			Username: enrollment.User.Username,
			FullName: enrollment.User.FullName,
			Email:    enrollment.User.Email,
			Enrolled: enrollment.IsActive,
			Track:    enrollment.Mode,
			Cohort:   cohorts[enrollment.UserID],
		}
		if key, ok := studentKeys[enrollment.UserID]; ok {
			record.StudentKey = &key
		}
		records = append(records, record)
	}

	return records, nil
}

func (r *enrollmentRepository) cohortNames(ctx context.Context, courseID string, userIDs []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}

	var memberships []models.CohortMembership
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND user_id IN ?", courseID, userIDs).
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}

	for _, membership := range memberships {
		names[membership.UserID] = membership.CohortName
	}
	return names, nil
}

func (r *enrollmentRepository) studentKeys(ctx context.Context, courseID string, userIDs []uint) (map[uint]string, error) {
	keys := make(map[uint]string, len(userIDs))
	if len(userIDs) == 0 {
		return keys, nil
	}

	var links []models.ProgramEnrollment
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND user_id IN ?", courseID, userIDs).
		Find(&links).Error
	if err != nil {
		return nil, err
	}

	for _, link := range links {
		keys[link.UserID] = link.ExternalUserKey
	}
	return keys, nil
}

func containsAllRoles(roles []string) bool {
	for _, role := range roles {
		if role == "all" {
			return true
		}
	}
	return false
}
