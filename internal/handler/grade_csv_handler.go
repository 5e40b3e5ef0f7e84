package handler

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/courseops/gradebook-api/internal/csvops"
	"github.com/courseops/gradebook-api/internal/dto"
	"github.com/courseops/gradebook-api/internal/models"
	"github.com/courseops/gradebook-api/internal/repository"
	"github.com/courseops/gradebook-api/internal/service"
	"github.com/courseops/gradebook-api/internal/utils"
)

// GradeCSVHandler wires the grade CSV import/export and history routes.
type GradeCSVHandler struct {
	enrollments repository.EnrollmentRepository
	grades      repository.GradeRepository
	operations  repository.OperationRepository
	resolver    *service.SubsectionResolver
	runner      *csvops.Runner
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewGradeCSVHandler constructs the handler.
func NewGradeCSVHandler(
	enrollments repository.EnrollmentRepository,
	grades repository.GradeRepository,
	operations repository.OperationRepository,
	resolver *service.SubsectionResolver,
	runner *csvops.Runner,
	validator *validator.Validate,
	logger zerolog.Logger,
) *GradeCSVHandler {
	return &GradeCSVHandler{
		enrollments: enrollments,
		grades:      grades,
		operations:  operations,
		resolver:    resolver,
		runner:      runner,
		validator:   validator,
		logger:      logger.With().Str("component", "grade_csv_handler").Logger(),
	}
}

// Register attaches the grade CSV endpoints to the course group.
func (h *GradeCSVHandler) Register(router fiber.Router) {
	router.Get("/grades/csv", h.export)
	router.Post("/grades/csv", h.importCSV)
	router.Get("/grades/history", h.history)
}

func (h *GradeCSVHandler) export(c *fiber.Ctx) error {
	courseID := c.Params("course_id")

	var query dto.GradeExportQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	if query.ErrorID != "" {
		return h.exportErrorReport(c, courseID, query.ErrorID)
	}

	processor, err := h.buildProcessor(c, courseID, query)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	requestLogger(h.logger, c).Info().Str("course_id", courseID).Msg("exporting grade csv")
	if err := sendCSV(c, models.OperationKindGrade, exportFilename(courseID), processor, processor.Columns()); err != nil {
		return h.internalError(c, err)
	}
	return nil
}

// exportErrorReport re-exports a prior import's rows, trimmed to the
// subsections that run actually touched, with status and error columns.
func (h *GradeCSVHandler) exportErrorReport(c *fiber.Ctx, courseID, operationID string) error {
	operation, results, err := h.runner.ErrorReport(c.Context(), operationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "operation not found")
		}
		return h.internalError(c, err)
	}
	if operation.UniquePath != courseID {
		return utils.SendError(c, fiber.StatusForbidden, "operation belongs to another course")
	}

	config, err := gradeConfigFromOperation(operation)
	if err != nil {
		return h.internalError(c, err)
	}

	processor, err := service.NewGradeCSVProcessor(c.Context(), config, h.enrollments, h.grades, h.resolver, h.logger)
	if err != nil {
		return h.internalError(c, err)
	}

	columns := append(processor.FilteredColumns(results), "status", "error")
	rows := make([]csvops.Row, 0, len(results))
	for _, result := range results {
		row := make(csvops.Row, len(result.Data)+2)
		for column, value := range result.Data {
			row[column] = value
		}
		row["status"] = result.Status
		row["error"] = result.Error
		rows = append(rows, row)
	}

	exporter := &csvops.RowExporter{Header: columns, Rows: rows}
	filename := exportFilename(courseID, "graded-results")
	if err := sendCSV(c, models.OperationKindGrade, filename, exporter, columns); err != nil {
		return h.internalError(c, err)
	}
	return nil
}

func (h *GradeCSVHandler) importCSV(c *fiber.Ctx) error {
	courseID := c.Params("course_id")
	logger := requestLogger(h.logger, c)

	if resultID := c.FormValue("result_id"); resultID != "" {
		status, err := h.runner.Poll(c.Context(), resultID)
		if err != nil {
			return h.internalError(c, err)
		}
		return utils.SendRaw(c, fiber.StatusOK, status)
	}

	var query dto.GradeExportQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	processor, err := h.buildProcessor(c, courseID, query)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	header, err := c.FormFile("csv")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "missing csv file")
	}
	file, err := header.Open()
	if err != nil {
		return h.internalError(c, err)
	}
	defer file.Close()

	status, err := h.runner.ProcessUpload(c.Context(), processor, file, staffUserFromContext(c))
	if err != nil {
		if code, ok := uploadErrorStatus(err); ok {
			return utils.SendError(c, code, err.Error())
		}
		return h.internalError(c, err)
	}

	logger.Info().
		Str("course_id", courseID).
		Str("file", header.Filename).
		Int("saved", status.Saved).
		Int("total", status.Total).
		Int("errors", len(status.ErrorRows)).
		Bool("waiting", status.Waiting).
		Msg("processed grade csv")
	return utils.SendRaw(c, fiber.StatusOK, status)
}

func (h *GradeCSVHandler) history(c *fiber.Ctx) error {
	courseID := c.Params("course_id")

	operations, err := h.operations.ListCommitted(c.Context(), models.OperationKindGrade, courseID)
	if err != nil {
		return h.internalError(c, err)
	}

	entries := make([]dto.OperationHistoryEntry, 0, len(operations))
	for _, operation := range operations {
		entries = append(entries, dto.OperationHistoryEntry{
			ID:        operation.ID,
			UserID:    operation.CreatedBy,
			Timestamp: operation.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			RowCount:  operation.RowCount,
			Saved:     operation.SavedCount,
			Summary:   fmt.Sprintf("%d of %d saved", operation.SavedCount, operation.RowCount),
			Config:    operation.Config,
		})
	}
	return utils.SendRaw(c, fiber.StatusOK, entries)
}

func (h *GradeCSVHandler) buildProcessor(c *fiber.Ctx, courseID string, query dto.GradeExportQuery) (*service.GradeCSVProcessor, error) {
	config := service.GradeProcessorConfig{
		CourseID:       courseID,
		UserID:         staffUserFromContext(c),
		Track:          query.Track,
		Cohort:         query.Cohort,
		Subsection:     query.Assignment,
		AssignmentType: query.AssignmentType,
		ActiveOnly:     true,
	}
	if query.ExcludedCourseRoles != "" {
		config.ExcludedCourseRoles = splitAndTrim(query.ExcludedCourseRoles)
	}

	var err error
	if config.SubsectionGradeMin, err = parseOptionalFloat(query.AssignmentGradeMin); err != nil {
		return nil, err
	}
	if config.SubsectionGradeMax, err = parseOptionalFloat(query.AssignmentGradeMax); err != nil {
		return nil, err
	}
	if config.CourseGradeMin, err = parseOptionalFloat(query.CourseGradeMin); err != nil {
		return nil, err
	}
	if config.CourseGradeMax, err = parseOptionalFloat(query.CourseGradeMax); err != nil {
		return nil, err
	}

	if err := h.validator.Struct(config); err != nil {
		return nil, err
	}
	return service.NewGradeCSVProcessor(c.Context(), config, h.enrollments, h.grades, h.resolver, h.logger)
}

// gradeConfigFromOperation rebuilds a processor configuration from the
// snapshot persisted with the operation.
func gradeConfigFromOperation(operation models.BulkOperation) (service.GradeProcessorConfig, error) {
	payload, err := json.Marshal(operation.Config)
	if err != nil {
		return service.GradeProcessorConfig{}, fmt.Errorf("failed to encode operation config: %w", err)
	}
	var config service.GradeProcessorConfig
	if err := json.Unmarshal(payload, &config); err != nil {
		return service.GradeProcessorConfig{}, fmt.Errorf("failed to decode operation config: %w", err)
	}
	return config, nil
}

func (h *GradeCSVHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
