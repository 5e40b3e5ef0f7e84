package models

import "time"

// BlockScore keeps a learner's point score for a single gradable block.
// One row per (student, course, block).
type BlockScore struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StudentID uint      `gorm:"index:idx_block_score_key,unique;not null" json:"student_id"`
	CourseID  string    `gorm:"size:255;index:idx_block_score_key,unique;not null" json:"course_id"`
	BlockID   string    `gorm:"size:255;index:idx_block_score_key,unique;not null" json:"block_id"`
	Score     float64   `json:"score"`
	MaxScore  float64   `json:"max_score"`
	State     string    `gorm:"type:text" json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoreOverrider records who overrode a block score. Append-only audit log,
// ordered by creation time; never updated or deleted.
type ScoreOverrider struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	BlockScoreID uint       `gorm:"index;not null" json:"block_score_id"`
	UserID       uint       `gorm:"not null" json:"user_id"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	BlockScore   BlockScore `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	User         User       `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
