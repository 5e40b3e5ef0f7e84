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

const (
	gradeOverrideFeature = "grade-import"
	gradeOverrideComment = "Bulk Grade Import"
)

// GradeProcessorConfig carries the per-request state of a grade CSV
// operation. The filter fields shape both the export row set and the column
// set: a subsection or assignment-type filter removes the other subsections'
// columns entirely.
type GradeProcessorConfig struct {
	CourseID string `json:"course_id" validate:"required"`
	// UserID is the staff member applying overrides.
	UserID *uint `json:"user_id"`

	Track          string `json:"track"`
	Cohort         string `json:"cohort"`
	Subsection     string `json:"subsection"`
	AssignmentType string `json:"assignment_type"`

	// Grade range filters are percentages in [0, 100]. The subsection pair
	// only applies together with a Subsection filter.
	SubsectionGradeMin *float64 `json:"subsection_grade_min"`
	SubsectionGradeMax *float64 `json:"subsection_grade_max"`
	CourseGradeMin     *float64 `json:"course_grade_min"`
	CourseGradeMax     *float64 `json:"course_grade_max"`

	ActiveOnly          bool     `json:"active_only"`
	ExcludedCourseRoles []string `json:"excluded_course_roles"`
}

// GradeCSVProcessor imports and exports subsection grade overrides for a
// whole course. Each resolved subsection contributes a group of columns
// addressed by its short id; the import reads only the new_override cells.
type GradeCSVProcessor struct {
	config      GradeProcessorConfig
	subsections *SubsectionSet
	enrollments repository.EnrollmentRepository
	grades      repository.GradeRepository
	logger      zerolog.Logger

	usersSeen map[uint]struct{}
	saved     int
}

type gradeOverrideOp struct {
	UserID    uint
	Overrides []subsectionOverride
}

type subsectionOverride struct {
	Location string
	Earned   float64
}

// NewGradeCSVProcessor resolves the course's graded subsections and builds a
// processor over them. Resolution happens up front so the column set is fixed
// for the lifetime of the operation.
func NewGradeCSVProcessor(
	ctx context.Context,
	config GradeProcessorConfig,
	enrollments repository.EnrollmentRepository,
	grades repository.GradeRepository,
	resolver *SubsectionResolver,
	logger zerolog.Logger,
) (*GradeCSVProcessor, error) {
	subsections, err := resolver.Resolve(ctx, config.CourseID, config.Subsection, config.AssignmentType)
	if err != nil {
		return nil, err
	}

	return &GradeCSVProcessor{
		config:      config,
		subsections: subsections,
		enrollments: enrollments,
		grades:      grades,
		logger:      logger.With().Str("component", "grade_csv_processor").Logger(),
		usersSeen:   make(map[uint]struct{}),
	}, nil
}

// Kind implements csvops.Importer.
func (p *GradeCSVProcessor) Kind() string { return models.OperationKindGrade }

// UniquePath implements csvops.Importer.
func (p *GradeCSVProcessor) UniquePath() string { return p.config.CourseID }

// ConfigSnapshot implements csvops.Importer.
func (p *GradeCSVProcessor) ConfigSnapshot() map[string]interface{} {
	snapshot := map[string]interface{}{
		"course_id":       p.config.CourseID,
		"track":           p.config.Track,
		"cohort":          p.config.Cohort,
		"subsection":      p.config.Subsection,
		"assignment_type": p.config.AssignmentType,
		"active_only":     p.config.ActiveOnly,
	}
	if p.config.UserID != nil {
		snapshot["user_id"] = *p.config.UserID
	}
	if len(p.config.ExcludedCourseRoles) > 0 {
		snapshot["excluded_course_roles"] = p.config.ExcludedCourseRoles
	}
	return snapshot
}

// Columns implements csvops.Exporter. The base identity columns come first,
// then the per-subsection groups in course order.
func (p *GradeCSVProcessor) Columns() []string {
	columns := []string{"user_id", "username", "student_key", "course_id", "track", "cohort"}
	return appendColumns(columns, p.subsections.ColumnNames(gradeColumnPrefixes))
}

// RequiredColumns implements csvops.Importer. Only identity columns are
// mandatory; a file exported with a subsection filter legitimately lacks the
// other subsections' columns.
func (p *GradeCSVProcessor) RequiredColumns() []string {
	return []string{"user_id", "course_id"}
}

// ValidateRow rejects rows pasted in from another course's file.
func (p *GradeCSVProcessor) ValidateRow(_ context.Context, row csvops.Row) error {
	if row["course_id"] != p.config.CourseID {
		return csvops.ValidationError(fmt.Sprintf("Wrong course id %s != %s", row["course_id"], p.config.CourseID))
	}
	return nil
}

// PreprocessRow collects the row's new_override cells into one operation.
// Rows with no filled-in override cells produce no operation. A user id seen
// on an earlier row is an error, not a silent skip, since two rows could
// carry conflicting overrides for the same subsection.
func (p *GradeCSVProcessor) PreprocessRow(_ context.Context, row csvops.Row) (interface{}, error) {
	userID, err := parseUserID(row["user_id"])
	if err != nil {
		return nil, csvops.ValidationError("User id must be a number")
	}
	if _, seen := p.usersSeen[userID]; seen {
		return nil, csvops.ValidationError(fmt.Sprintf("Repeated user_id: %d", userID))
	}
	p.usersSeen[userID] = struct{}{}

	var overrides []subsectionOverride
	for _, subsection := range p.subsections.Ordered() {
		value := strings.TrimSpace(row["new_override-"+subsection.ShortID])
		if value == "" {
			continue
		}
		earned, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, csvops.ValidationError("Grade must be a number")
		}
		if earned < 0 {
			return nil, csvops.ValidationError("Grade must not be negative")
		}
		overrides = append(overrides, subsectionOverride{Location: subsection.Location, Earned: earned})
	}

	if len(overrides) == 0 {
		return nil, nil
	}
	return gradeOverrideOp{UserID: userID, Overrides: overrides}, nil
}

// ProcessRow writes one learner's overrides.
func (p *GradeCSVProcessor) ProcessRow(ctx context.Context, rawOp interface{}) error {
	op, ok := rawOp.(gradeOverrideOp)
	if !ok {
		return fmt.Errorf("unexpected operation type %T", rawOp)
	}

	for _, override := range op.Overrides {
		err := p.grades.OverrideSubsectionGrade(ctx, repository.GradeOverrideParams{
			UserID:       op.UserID,
			CourseID:     p.config.CourseID,
			Location:     override.Location,
			EarnedGraded: override.Earned,
			OverriderID:  p.config.UserID,
			Feature:      gradeOverrideFeature,
			Comment:      gradeOverrideComment,
		})
		if err != nil {
			return err
		}
		p.saved++
	}
	return nil
}

// Commit implements csvops.Importer. Overrides are written row by row, so
// there is nothing left to flush.
func (p *GradeCSVProcessor) Commit(_ context.Context) error {
	if p.saved > 0 {
		p.logger.Info().Str("course_id", p.config.CourseID).Int("overrides", p.saved).Msg("applied grade overrides")
	}
	return nil
}

// ExportRows implements csvops.Exporter: one row per enrollment passing the
// grade range filters, with the per-subsection grade columns filled from two
// bulk queries.
func (p *GradeCSVProcessor) ExportRows(ctx context.Context, emit func(csvops.Row) error) error {
	enrollments, err := p.enrollments.List(ctx, p.config.CourseID, repository.EnrollmentFilter{
		Track:               p.config.Track,
		Cohort:              p.config.Cohort,
		ActiveOnly:          p.config.ActiveOnly,
		ExcludedCourseRoles: p.config.ExcludedCourseRoles,
	})
	if err != nil {
		return err
	}

	userIDs := make([]uint, 0, len(enrollments))
	for _, enrollment := range enrollments {
		userIDs = append(userIDs, enrollment.UserID)
	}

	subsectionGrades, err := p.grades.GetSubsectionGrades(ctx, p.config.CourseID, userIDs)
	if err != nil {
		return err
	}

	courseGrades, err := p.grades.GetCourseGrades(ctx, p.config.CourseID, userIDs)
	if err != nil {
		return err
	}

	for _, enrollment := range enrollments {
		byLocation := subsectionGrades[enrollment.UserID]

		if !p.passesSubsectionFilter(byLocation) {
			continue
		}
		if !p.passesCourseGradeFilter(courseGrades[enrollment.UserID]) {
			continue
		}

		row := csvops.Row{
			"user_id":   strconv.FormatUint(uint64(enrollment.UserID), 10),
			"username":  enrollment.Username,
			"course_id": p.config.CourseID,
			"track":     enrollment.Track,
			"cohort":    enrollment.Cohort,
		}
		// External keys only exist for learners enrolled through a program.
		if enrollment.Track == models.TrackMasters && enrollment.StudentKey != nil {
			row["student_key"] = *enrollment.StudentKey
		}

		for _, subsection := range p.subsections.Ordered() {
			row["name-"+subsection.ShortID] = subsection.DisplayName
			row["new_override-"+subsection.ShortID] = ""

			grade, ok := byLocation[subsection.Location]
			if !ok {
				continue
			}
			row["grade-"+subsection.ShortID] = formatPoints(grade.EffectiveEarned())
			row["original_grade-"+subsection.ShortID] = formatPoints(grade.EarnedGraded)
			if grade.Override != nil {
				row["previous_override-"+subsection.ShortID] = formatPoints(grade.Override.EarnedGradedOverride)
			}
		}

		if err := emit(row); err != nil {
			return err
		}
	}
	return nil
}

func (p *GradeCSVProcessor) passesSubsectionFilter(byLocation map[string]repository.SubsectionGradeView) bool {
	return passesSubsectionRange(byLocation, p.config.Subsection, p.config.SubsectionGradeMin, p.config.SubsectionGradeMax)
}

func (p *GradeCSVProcessor) passesCourseGradeFilter(grade repository.CourseGradeView) bool {
	return passesCourseGradeRange(grade, p.config.CourseGradeMin, p.config.CourseGradeMax)
}

// passesSubsectionRange applies a subsection grade percentage range. The
// range only makes sense against a single filtered subsection; learners with
// no grade on it are excluded while the range is active.
func passesSubsectionRange(byLocation map[string]repository.SubsectionGradeView, subsection string, min, max *float64) bool {
	if subsection == "" || (min == nil && max == nil) {
		return true
	}

	grade, ok := byLocation[subsection]
	if !ok {
		return false
	}

	percent := grade.EffectivePercent()
	if min != nil && percent < *min {
		return false
	}
	if max != nil && percent > *max {
		return false
	}
	return true
}

// passesCourseGradeRange applies a course grade percentage range. A learner
// with no persisted course grade counts as zero percent.
func passesCourseGradeRange(grade repository.CourseGradeView, min, max *float64) bool {
	if min == nil && max == nil {
		return true
	}

	percent := grade.Percent * 100
	if min != nil && percent < *min {
		return false
	}
	if max != nil && percent > *max {
		return false
	}
	return true
}

// FilteredColumns trims the column set of an error report to the subsections
// the import actually touched: a subsection keeps its column group only if
// some row carries a non-blank new_override cell for it.
func (p *GradeCSVProcessor) FilteredColumns(results []csvops.RowResult) []string {
	touched := make(map[string]struct{})
	for _, result := range results {
		if result.Status == csvops.RowStatusNoAction {
			continue
		}
		for _, subsection := range p.subsections.Ordered() {
			if strings.TrimSpace(result.Data["new_override-"+subsection.ShortID]) != "" {
				touched[subsection.ShortID] = struct{}{}
			}
		}
	}

	columns := []string{"user_id", "username", "student_key", "course_id", "track", "cohort"}
	for _, subsection := range p.subsections.Ordered() {
		if _, ok := touched[subsection.ShortID]; !ok {
			continue
		}
		for _, prefix := range gradeColumnPrefixes {
			columns = append(columns, prefix+"-"+subsection.ShortID)
		}
	}
	return columns
}
