package models

import "time"

// User is a platform account, either a learner or course staff.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:150;uniqueIndex;not null" json:"username"`
	FullName  string    `gorm:"size:255" json:"full_name"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CourseAccessRole grants a user a staff-like role within a single course.
// Roles held in one course never affect another course.
type CourseAccessRole struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	CourseID string `gorm:"size:255;index;not null" json:"course_id"`
	UserID   uint   `gorm:"index;not null" json:"user_id"`
	Role     string `gorm:"size:64;not null" json:"role"`
	User     User   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
