package models

import "time"

// Enrollment tracks/modes a learner can be enrolled under.
const (
	TrackAudit    = "audit"
	TrackVerified = "verified"
	TrackMasters  = "masters"
)

// Enrollment links a user to a course under a given track.
type Enrollment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CourseID  string    `gorm:"size:255;index:idx_enrollment_course_user,unique;not null" json:"course_id"`
	UserID    uint      `gorm:"index:idx_enrollment_course_user,unique;not null" json:"user_id"`
	Mode      string    `gorm:"size:32;not null" json:"mode"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      User      `gorm:"constraint:OnDelete:CASCADE" json:"user"`
}

// CohortMembership assigns a learner to an administrative cohort within a course.
type CohortMembership struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	CourseID   string `gorm:"size:255;index:idx_cohort_course_user,unique;not null" json:"course_id"`
	UserID     uint   `gorm:"index:idx_cohort_course_user,unique;not null" json:"user_id"`
	CohortName string `gorm:"size:255;not null" json:"cohort_name"`
}

// ProgramEnrollment links a course enrollment to an external program,
// carrying the institution-issued student key. Learners without a program
// link simply have no row here.
type ProgramEnrollment struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	CourseID        string `gorm:"size:255;index:idx_program_course_user,unique;not null" json:"course_id"`
	UserID          uint   `gorm:"index:idx_program_course_user,unique;not null" json:"user_id"`
	ExternalUserKey string `gorm:"size:255;not null" json:"external_user_key"`
}
