package models

import "time"

// GradedSubsection is one gradable grouping of blocks within a course,
// listed in course order via Position.
type GradedSubsection struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	CourseID       string `gorm:"size:255;index;not null" json:"course_id"`
	Location       string `gorm:"size:255;uniqueIndex;not null" json:"location"`
	DisplayName    string `gorm:"size:255" json:"display_name"`
	AssignmentType string `gorm:"size:64" json:"assignment_type"`
	Position       int    `gorm:"not null" json:"position"`
}

// SubsectionGrade is a learner's raw grade on one graded subsection.
type SubsectionGrade struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	UserID         uint    `gorm:"index:idx_subsection_grade_key,unique;not null" json:"user_id"`
	CourseID       string  `gorm:"size:255;index:idx_subsection_grade_key,unique;not null" json:"course_id"`
	Location       string  `gorm:"size:255;index:idx_subsection_grade_key,unique;not null" json:"location"`
	EarnedGraded   float64 `json:"earned_graded"`
	PossibleGraded float64 `json:"possible_graded"`
}

// SubsectionGradeOverride is a staff-entered replacement for a subsection
// grade. Written append-only through the override API; the latest row wins.
type SubsectionGradeOverride struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	UserID                 uint      `gorm:"index:idx_grade_override_lookup;not null" json:"user_id"`
	CourseID               string    `gorm:"size:255;index:idx_grade_override_lookup;not null" json:"course_id"`
	Location               string    `gorm:"size:255;index:idx_grade_override_lookup;not null" json:"location"`
	EarnedGradedOverride   float64   `json:"earned_graded_override"`
	PossibleGradedOverride float64   `json:"possible_graded_override"`
	Feature                string    `gorm:"size:64" json:"feature"`
	Comment                string    `gorm:"size:255" json:"comment"`
	OverriderID            *uint     `json:"overrider_id"`
	CreatedAt              time.Time `gorm:"index" json:"created_at"`
}

// CourseGrade is a learner's overall grade for a course. Percent is 0..1.
type CourseGrade struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	UserID      uint    `gorm:"index:idx_course_grade_key,unique;not null" json:"user_id"`
	CourseID    string  `gorm:"size:255;index:idx_course_grade_key,unique;not null" json:"course_id"`
	Percent     float64 `json:"percent"`
	LetterGrade string  `gorm:"size:8" json:"letter_grade"`
}
