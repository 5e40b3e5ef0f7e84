package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/courseops/gradebook-api/internal/models"
)

// UnknownLastScoreOverrider is reported when an override event exists but the
// overriding user can no longer be resolved.
const UnknownLastScoreOverrider = "unknown"

// ErrNegativeScore rejects score writes below zero before anything is persisted.
var ErrNegativeScore = errors.New("score must be positive")

// ScoreRecord is a learner's stored score for one block, with override audit info.
type ScoreRecord struct {
	StudentID uint
	BlockID   string
	Score     float64
	MaxScore  float64
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
	// WhoLastGraded is empty when the score was never overridden and
	// UnknownLastScoreOverrider when the overrider cannot be resolved.
	WhoLastGraded string
}

// ScoreRepository reads and writes per-block point scores.
type ScoreRepository interface {
	SetScore(ctx context.Context, blockID string, studentID uint, score, maxPoints float64, overriderID *uint) error
	GetScore(ctx context.Context, blockID string, studentID uint) (*ScoreRecord, error)
	GetScores(ctx context.Context, blockID string, studentIDs []uint) (map[uint]ScoreRecord, error)
}

type scoreRepository struct {
	db *gorm.DB
}

// NewScoreRepository constructs the score repository.
func NewScoreRepository(db *gorm.DB) ScoreRepository {
	return &scoreRepository{db: db}
}

func (r *scoreRepository) SetScore(ctx context.Context, blockID string, studentID uint, score, maxPoints float64, overriderID *uint) error {
	if score < 0 {
		return ErrNegativeScore
	}

	courseID, err := models.CourseIDForBlock(blockID)
	if err != nil {
		return err
	}

	record := models.BlockScore{
		StudentID: studentID,
		CourseID:  courseID,
		BlockID:   blockID,
		Score:     score,
		MaxScore:  maxPoints,
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "student_id"}, {Name: "course_id"}, {Name: "block_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"score":      score,
				"max_score":  maxPoints,
				"updated_at": tx.NowFunc(),
			}),
		}).Create(&record).Error
		if err != nil {
			return err
		}

		if record.ID == 0 {
			var existing models.BlockScore
			err := tx.Where("student_id = ? AND course_id = ? AND block_id = ?", studentID, courseID, blockID).
				First(&existing).Error
			if err != nil {
				return err
			}
			record = existing
		}

		if overriderID != nil {
			return tx.Create(&models.ScoreOverrider{
				BlockScoreID: record.ID,
				UserID:       *overriderID,
			}).Error
		}
		return nil
	})
}

func (r *scoreRepository) GetScore(ctx context.Context, blockID string, studentID uint) (*ScoreRecord, error) {
	scores, err := r.GetScores(ctx, blockID, []uint{studentID})
	if err != nil {
		return nil, err
	}
	record, ok := scores[studentID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (r *scoreRepository) GetScores(ctx context.Context, blockID string, studentIDs []uint) (map[uint]ScoreRecord, error) {
	courseID, err := models.CourseIDForBlock(blockID)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).
		Where("course_id = ? AND block_id = ?", courseID, blockID)
	if len(studentIDs) > 0 {
		query = query.Where("student_id IN ?", studentIDs)
	}

	var rows []models.BlockScore
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	scoreIDs := make([]uint, 0, len(rows))
	for _, row := range rows {
		scoreIDs = append(scoreIDs, row.ID)
	}

	overriders, err := r.lastOverriders(ctx, scoreIDs)
	if err != nil {
		return nil, err
	}

	records := make(map[uint]ScoreRecord, len(rows))
	for _, row := range rows {
		records[row.StudentID] = ScoreRecord{
			StudentID:     row.StudentID,
			BlockID:       row.BlockID,
			Score:         row.Score,
			MaxScore:      row.MaxScore,
			State:         row.State,
			CreatedAt:     row.CreatedAt,
			UpdatedAt:     row.UpdatedAt,
			WhoLastGraded: overriders[row.ID],
		}
	}
	return records, nil
}

// lastOverriders resolves the username of the most recent override event per
// block score. Scores that were never overridden stay absent from the result.
func (r *scoreRepository) lastOverriders(ctx context.Context, scoreIDs []uint) (map[uint]string, error) {
	usernames := make(map[uint]string, len(scoreIDs))
	if len(scoreIDs) == 0 {
		return usernames, nil
	}

	type overrideRow struct {
		BlockScoreID uint
		Username     string
	}

	var events []overrideRow
	err := r.db.WithContext(ctx).Model(&models.ScoreOverrider{}).
		Select("score_overriders.block_score_id, users.username").
		Joins("LEFT JOIN users ON users.id = score_overriders.user_id").
		Where("score_overriders.block_score_id IN ?", scoreIDs).
		Order("score_overriders.created_at DESC, score_overriders.id DESC").
		Scan(&events).Error
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		if _, seen := usernames[event.BlockScoreID]; seen {
			continue
		}
		if event.Username == "" {
			usernames[event.BlockScoreID] = UnknownLastScoreOverrider
		} else {
			usernames[event.BlockScoreID] = event.Username
		}
	}
	return usernames, nil
}
