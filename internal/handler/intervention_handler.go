package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/courseops/gradebook-api/internal/dto"
	"github.com/courseops/gradebook-api/internal/repository"
	"github.com/courseops/gradebook-api/internal/service"
	"github.com/courseops/gradebook-api/internal/utils"
)

// InterventionHandler wires the intervention report export route.
type InterventionHandler struct {
	enrollments repository.EnrollmentRepository
	grades      repository.GradeRepository
	resolver    *service.SubsectionResolver
	engagement  service.EngagementFetcher
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewInterventionHandler constructs the handler.
func NewInterventionHandler(
	enrollments repository.EnrollmentRepository,
	grades repository.GradeRepository,
	resolver *service.SubsectionResolver,
	engagement service.EngagementFetcher,
	validator *validator.Validate,
	logger zerolog.Logger,
) *InterventionHandler {
	return &InterventionHandler{
		enrollments: enrollments,
		grades:      grades,
		resolver:    resolver,
		engagement:  engagement,
		validator:   validator,
		logger:      logger.With().Str("component", "intervention_handler").Logger(),
	}
}

// Register attaches the intervention export to the course group.
func (h *InterventionHandler) Register(router fiber.Router) {
	router.Get("/intervention/csv", h.export)
}

func (h *InterventionHandler) export(c *fiber.Ctx) error {
	courseID := c.Params("course_id")

	var query dto.InterventionExportQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	config := service.InterventionProcessorConfig{
		CourseID:       courseID,
		Cohort:         query.Cohort,
		Subsection:     query.Assignment,
		AssignmentType: query.AssignmentType,
	}

	var err error
	if config.SubsectionGradeMin, err = parseOptionalFloat(query.AssignmentGradeMin); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if config.SubsectionGradeMax, err = parseOptionalFloat(query.AssignmentGradeMax); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if config.CourseGradeMin, err = parseOptionalFloat(query.CourseGradeMin); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if config.CourseGradeMax, err = parseOptionalFloat(query.CourseGradeMax); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.validator.Struct(config); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	processor, err := service.NewInterventionCSVProcessor(
		c.Context(), config, h.enrollments, h.grades, h.resolver, h.engagement, h.logger)
	if err != nil {
		return h.internalError(c, err)
	}

	requestLogger(h.logger, c).Info().Str("course_id", courseID).Msg("exporting intervention csv")
	filename := exportFilename(courseID, "intervention")
	if err := sendCSV(c, "intervention", filename, processor, processor.Columns()); err != nil {
		return h.internalError(c, err)
	}
	return nil
}

func (h *InterventionHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
