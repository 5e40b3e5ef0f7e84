package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/courseops/gradebook-api/internal/csvops"
	"github.com/courseops/gradebook-api/internal/models"
	"github.com/courseops/gradebook-api/internal/repository"
)

const lastGradedTimeFormat = "2006-01-02 15:04"

// ScoreProcessorConfig carries the per-request state of a score CSV
// operation. Fields are explicit so operations reconstructed from persisted
// history deserialize into a typed struct.
type ScoreProcessorConfig struct {
	BlockID     string  `json:"block_id" validate:"required"`
	DisplayName string  `json:"display_name"`
	MaxPoints   float64 `json:"max_points" validate:"gt=0"`
	Track       string  `json:"track"`
	Cohort      string  `json:"cohort"`
	// UserID is the staff member applying overrides.
	UserID *uint `json:"user_id"`
	// HandleUndo captures pre-import scores for undo records. Expensive
	// for large files, so off unless explicitly requested.
	HandleUndo bool `json:"handle_undo"`
}

// ScoreCSVProcessor imports and exports point overrides for a single block.
type ScoreCSVProcessor struct {
	config      ScoreProcessorConfig
	courseID    string
	enrollments repository.EnrollmentRepository
	scores      repository.ScoreRepository
	signer      *csvops.Signer
	recompute   GradeRecomputePublisher
	logger      zerolog.Logger

	usersSeen map[uint]struct{}
	undo      []ScoreUndo
	saved     int
}

type scoreOp struct {
	UserID    uint
	NewPoints float64
	MaxPoints float64
}

type ScoreUndo struct {
	UserID    uint
	Points    float64
	MaxPoints float64
}

// NewScoreCSVProcessor constructs a score processor bound to one block.
func NewScoreCSVProcessor(
	config ScoreProcessorConfig,
	enrollments repository.EnrollmentRepository,
	scores repository.ScoreRepository,
	signer *csvops.Signer,
	recompute GradeRecomputePublisher,
	logger zerolog.Logger,
) (*ScoreCSVProcessor, error) {
	courseID, err := models.CourseIDForBlock(config.BlockID)
	if err != nil {
		return nil, err
	}
	if config.MaxPoints <= 0 {
		config.MaxPoints = 1
	}

	return &ScoreCSVProcessor{
		config:      config,
		courseID:    courseID,
		enrollments: enrollments,
		scores:      scores,
		signer:      signer,
		recompute:   recompute,
		logger:      logger.With().Str("component", "score_csv_processor").Logger(),
		usersSeen:   make(map[uint]struct{}),
	}, nil
}

// Kind implements csvops.Importer.
func (p *ScoreCSVProcessor) Kind() string { return models.OperationKindScore }

// UniquePath implements csvops.Importer.
func (p *ScoreCSVProcessor) UniquePath() string { return p.config.BlockID }

// ConfigSnapshot implements csvops.Importer.
func (p *ScoreCSVProcessor) ConfigSnapshot() map[string]interface{} {
	snapshot := map[string]interface{}{
		"block_id":     p.config.BlockID,
		"display_name": p.config.DisplayName,
		"max_points":   p.config.MaxPoints,
		"track":        p.config.Track,
		"cohort":       p.config.Cohort,
		"handle_undo":  p.config.HandleUndo,
	}
	if p.config.UserID != nil {
		snapshot["user_id"] = *p.config.UserID
	}
	return snapshot
}

// Columns implements csvops.Exporter.
func (p *ScoreCSVProcessor) Columns() []string {
	return []string{
		"user_id", "username", "full_name", "student_uid",
		"enrolled", "track", "cohort", "block_id", "title", "date_last_graded",
		"who_last_graded", csvops.ChecksumColumn, "Previous Points", "New Points",
	}
}

// RequiredColumns implements csvops.Importer.
func (p *ScoreCSVProcessor) RequiredColumns() []string {
	return []string{"user_id", "block_id", csvops.ChecksumColumn, "Previous Points", "New Points"}
}

// ValidateRow guards against pasted rows from another block's file, bad
// numbers, out-of-range points and tampered rows.
func (p *ScoreCSVProcessor) ValidateRow(_ context.Context, row csvops.Row) error {
	if row["block_id"] != p.config.BlockID {
		return csvops.ValidationError("The CSV does not match this problem. Check that you uploaded the right CSV.")
	}

	if value := strings.TrimSpace(row["New Points"]); value != "" {
		points, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return csvops.ValidationError("Points must be numbers.")
		}
		if points > p.config.MaxPoints {
			return csvops.ValidationError(fmt.Sprintf("Points must not be greater than %s.", formatPoints(p.config.MaxPoints)))
		}
		if points < 0 {
			return csvops.ValidationError("Points must be greater than 0")
		}
	}

	if !p.signer.Verify(row[csvops.ChecksumColumn], row["user_id"], row["block_id"], row["Previous Points"]) {
		return csvops.ValidationError("Checksum mismatch. Download a fresh CSV export and apply your changes there.")
	}

	return nil
}

// PreprocessRow emits an operation for each learner's first row carrying a
// points value. Later rows for the same learner are silently skipped.
func (p *ScoreCSVProcessor) PreprocessRow(_ context.Context, row csvops.Row) (interface{}, error) {
	value := strings.TrimSpace(row["New Points"])
	if value == "" {
		return nil, nil
	}

	userID, err := parseUserID(row["user_id"])
	if err != nil {
		return nil, csvops.ValidationError("User id must be a number")
	}
	if _, seen := p.usersSeen[userID]; seen {
		return nil, nil
	}
	p.usersSeen[userID] = struct{}{}

	points, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, csvops.ValidationError("Points must be numbers.")
	}

	return scoreOp{UserID: userID, NewPoints: points, MaxPoints: p.config.MaxPoints}, nil
}

// ProcessRow applies one score override.
func (p *ScoreCSVProcessor) ProcessRow(ctx context.Context, rawOp interface{}) error {
	op, ok := rawOp.(scoreOp)
	if !ok {
		return fmt.Errorf("unexpected operation type %T", rawOp)
	}

	if p.config.HandleUndo {
		// fetching the current score for every row is expensive on large files
		previous, err := p.scores.GetScore(ctx, p.config.BlockID, op.UserID)
		if err != nil {
			return err
		}
		if previous != nil {
			p.undo = append(p.undo, ScoreUndo{UserID: op.UserID, Points: previous.Score, MaxPoints: previous.MaxScore})
		}
	}

	err := p.scores.SetScore(ctx, p.config.BlockID, op.UserID, op.NewPoints, op.MaxPoints, p.config.UserID)
	if err != nil {
		return err
	}
	p.saved++
	return nil
}

// Commit triggers an asynchronous full-course grade recompute once scores
// have landed.
func (p *ScoreCSVProcessor) Commit(ctx context.Context) error {
	if p.saved == 0 {
		return nil
	}
	if err := p.recompute.PublishRecompute(ctx, p.courseID); err != nil {
		p.logger.Warn().Err(err).Str("course_id", p.courseID).Msg("failed to request grade recompute")
	}
	return nil
}

// UndoRecords exposes the pre-import scores captured when HandleUndo is set.
func (p *ScoreCSVProcessor) UndoRecords() []ScoreUndo {
	return p.undo
}

// ExportRows implements csvops.Exporter: one row per enrollment, with score
// fields left blank for learners who have no score yet.
func (p *ScoreCSVProcessor) ExportRows(ctx context.Context, emit func(csvops.Row) error) error {
	scores, err := p.scores.GetScores(ctx, p.config.BlockID, nil)
	if err != nil {
		return err
	}

	enrollments, err := p.enrollments.List(ctx, p.courseID, repository.EnrollmentFilter{
		Track:  p.config.Track,
		Cohort: p.config.Cohort,
	})
	if err != nil {
		return err
	}

	for _, enrollment := range enrollments {
		userID := strconv.FormatUint(uint64(enrollment.UserID), 10)
		row := csvops.Row{
			"user_id":    userID,
			"username":   enrollment.Username,
			"full_name":  enrollment.FullName,
			"enrolled":   strconv.FormatBool(enrollment.Enrolled),
			"track":      enrollment.Track,
			"cohort":     enrollment.Cohort,
			"block_id":   p.config.BlockID,
			"title":      p.config.DisplayName,
			"New Points": "",
		}
		if enrollment.StudentKey != nil {
			row["student_uid"] = *enrollment.StudentKey
		}

		if score, ok := scores[enrollment.UserID]; ok {
			row["Previous Points"] = formatPoints(score.Score)
			row["date_last_graded"] = score.UpdatedAt.Format(lastGradedTimeFormat)
			row["who_last_graded"] = score.WhoLastGraded
		}
		row[csvops.ChecksumColumn] = p.signer.Checksum(userID, p.config.BlockID, row["Previous Points"])

		if err := emit(row); err != nil {
			return err
		}
	}
	return nil
}

func parseUserID(value string) (uint, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(parsed), nil
}

func formatPoints(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
