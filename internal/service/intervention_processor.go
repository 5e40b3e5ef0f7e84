package service

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/courseops/gradebook-api/internal/csvops"
	"github.com/courseops/gradebook-api/internal/models"
	"github.com/courseops/gradebook-api/internal/repository"
	"github.com/courseops/gradebook-api/pkg/analytics"
)

// EngagementFetcher pulls engagement counters for a course's learners.
type EngagementFetcher interface {
	CourseEngagement(ctx context.Context, courseID string) ([]analytics.LearnerEngagement, error)
}

// InterventionProcessorConfig shapes an intervention export. The track is
// always masters; the report exists for program-enrolled learners only.
type InterventionProcessorConfig struct {
	CourseID string `json:"course_id" validate:"required"`

	Cohort         string `json:"cohort"`
	Subsection     string `json:"subsection"`
	AssignmentType string `json:"assignment_type"`

	SubsectionGradeMin *float64 `json:"subsection_grade_min"`
	SubsectionGradeMax *float64 `json:"subsection_grade_max"`
	CourseGradeMin     *float64 `json:"course_grade_min"`
	CourseGradeMax     *float64 `json:"course_grade_max"`
}

// InterventionCSVProcessor exports intervention rows: per-learner grades
// joined with engagement counters from the analytics service. Export only;
// there is no import side.
type InterventionCSVProcessor struct {
	config      InterventionProcessorConfig
	subsections *SubsectionSet
	enrollments repository.EnrollmentRepository
	grades      repository.GradeRepository
	engagement  EngagementFetcher
	logger      zerolog.Logger
}

// NewInterventionCSVProcessor resolves the course's graded subsections and
// builds the export processor.
func NewInterventionCSVProcessor(
	ctx context.Context,
	config InterventionProcessorConfig,
	enrollments repository.EnrollmentRepository,
	grades repository.GradeRepository,
	resolver *SubsectionResolver,
	engagement EngagementFetcher,
	logger zerolog.Logger,
) (*InterventionCSVProcessor, error) {
	subsections, err := resolver.Resolve(ctx, config.CourseID, config.Subsection, config.AssignmentType)
	if err != nil {
		return nil, err
	}

	return &InterventionCSVProcessor{
		config:      config,
		subsections: subsections,
		enrollments: enrollments,
		grades:      grades,
		engagement:  engagement,
		logger:      logger.With().Str("component", "intervention_csv_processor").Logger(),
	}, nil
}

// Columns implements csvops.Exporter.
func (p *InterventionCSVProcessor) Columns() []string {
	columns := []string{
		"user_id", "username", "email", "student_key", "full_name", "course_id", "track", "cohort",
		"number of videos overall", "number of videos last week",
		"number of problems overall", "number of problems last week",
		"number of correct problems overall", "number of correct problems last week",
		"number of problem attempts overall", "number of problem attempts last week",
		"number of forum posts overall", "number of forum posts last week",
		"date last active",
	}
	columns = appendColumns(columns, p.subsections.ColumnNames(interventionColumnPrefixes))
	return appendColumns(columns, []string{"course grade letter", "course grade numeric"})
}

// ExportRows implements csvops.Exporter. Engagement data is keyed by
// username; learners unknown to the analytics service get zero counters.
func (p *InterventionCSVProcessor) ExportRows(ctx context.Context, emit func(csvops.Row) error) error {
	enrollments, err := p.enrollments.List(ctx, p.config.CourseID, repository.EnrollmentFilter{
		Track:  models.TrackMasters,
		Cohort: p.config.Cohort,
	})
	if err != nil {
		return err
	}

	engagement, err := p.engagement.CourseEngagement(ctx, p.config.CourseID)
	if err != nil {
		return err
	}
	byUsername := make(map[string]analytics.LearnerEngagement, len(engagement))
	for _, learner := range engagement {
		byUsername[learner.Username] = learner
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
		courseGrade := courseGrades[enrollment.UserID]

		if !passesSubsectionRange(byLocation, p.config.Subsection, p.config.SubsectionGradeMin, p.config.SubsectionGradeMax) {
			continue
		}
		if !passesCourseGradeRange(courseGrade, p.config.CourseGradeMin, p.config.CourseGradeMax) {
			continue
		}

		learner := byUsername[enrollment.Username]
		row := csvops.Row{
			"user_id":   strconv.FormatUint(uint64(enrollment.UserID), 10),
			"username":  enrollment.Username,
			"email":     enrollment.Email,
			"full_name": enrollment.FullName,
			"course_id": p.config.CourseID,
			"track":     enrollment.Track,
			"cohort":    enrollment.Cohort,

			"number of videos overall":             strconv.Itoa(learner.VideosOverall),
			"number of videos last week":           strconv.Itoa(learner.VideosLastWeek),
			"number of problems overall":           strconv.Itoa(learner.ProblemsOverall),
			"number of problems last week":         strconv.Itoa(learner.ProblemsLastWeek),
			"number of correct problems overall":   strconv.Itoa(learner.CorrectProblemsOverall),
			"number of correct problems last week": strconv.Itoa(learner.CorrectProblemsLastWeek),
			"number of problem attempts overall":   strconv.Itoa(learner.ProblemAttemptsOverall),
			"number of problem attempts last week": strconv.Itoa(learner.ProblemAttemptsLastWeek),
			"number of forum posts overall":        strconv.Itoa(learner.ForumPostsOverall),
			"number of forum posts last week":      strconv.Itoa(learner.ForumPostsLastWeek),
			"date last active":                     learner.DateLastActive,

			"course grade letter":  courseGrade.LetterGrade,
			"course grade numeric": formatPoints(courseGrade.Percent),
		}
		if enrollment.StudentKey != nil {
			row["student_key"] = *enrollment.StudentKey
		}

		for _, subsection := range p.subsections.Ordered() {
			row["name-"+subsection.ShortID] = subsection.DisplayName
			if grade, ok := byLocation[subsection.Location]; ok {
				row["grade-"+subsection.ShortID] = formatPoints(grade.EffectiveEarned())
			}
		}

		if err := emit(row); err != nil {
			return err
		}
	}
	return nil
}
