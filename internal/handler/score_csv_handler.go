package handler

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/courseops/gradebook-api/internal/csvops"
	"github.com/courseops/gradebook-api/internal/dto"
	"github.com/courseops/gradebook-api/internal/models"
	"github.com/courseops/gradebook-api/internal/repository"
	"github.com/courseops/gradebook-api/internal/service"
	"github.com/courseops/gradebook-api/internal/utils"
)

// ScoreCSVHandler wires the per-block score CSV import/export routes.
type ScoreCSVHandler struct {
	enrollments repository.EnrollmentRepository
	scores      repository.ScoreRepository
	signer      *csvops.Signer
	recompute   service.GradeRecomputePublisher
	runner      *csvops.Runner
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewScoreCSVHandler constructs the handler.
func NewScoreCSVHandler(
	enrollments repository.EnrollmentRepository,
	scores repository.ScoreRepository,
	signer *csvops.Signer,
	recompute service.GradeRecomputePublisher,
	runner *csvops.Runner,
	validator *validator.Validate,
	logger zerolog.Logger,
) *ScoreCSVHandler {
	return &ScoreCSVHandler{
		enrollments: enrollments,
		scores:      scores,
		signer:      signer,
		recompute:   recompute,
		runner:      runner,
		validator:   validator,
		logger:      logger.With().Str("component", "score_csv_handler").Logger(),
	}
}

// Register attaches the score CSV endpoints to the block group.
func (h *ScoreCSVHandler) Register(router fiber.Router) {
	router.Get("/scores/csv", h.export)
	router.Post("/scores/csv", h.importCSV)
}

func (h *ScoreCSVHandler) export(c *fiber.Ctx) error {
	processor, err := h.buildProcessor(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	blockID := c.Params("block_id")
	requestLogger(h.logger, c).Info().Str("block_id", blockID).Msg("exporting score csv")

	filename := exportFilename(models.ShortBlockID(blockID), "scores")
	if err := sendCSV(c, models.OperationKindScore, filename, processor, processor.Columns()); err != nil {
		return h.internalError(c, err)
	}
	return nil
}

func (h *ScoreCSVHandler) importCSV(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	if resultID := c.FormValue("result_id"); resultID != "" {
		status, err := h.runner.Poll(c.Context(), resultID)
		if err != nil {
			return h.internalError(c, err)
		}
		return utils.SendRaw(c, fiber.StatusOK, status)
	}

	processor, err := h.buildProcessor(c)
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
		Str("block_id", c.Params("block_id")).
		Str("file", header.Filename).
		Int("saved", status.Saved).
		Int("total", status.Total).
		Int("errors", len(status.ErrorRows)).
		Bool("waiting", status.Waiting).
		Msg("processed score csv")
	return utils.SendRaw(c, fiber.StatusOK, status)
}

func (h *ScoreCSVHandler) buildProcessor(c *fiber.Ctx) (*service.ScoreCSVProcessor, error) {
	var query dto.ScoreExportQuery
	if err := c.QueryParser(&query); err != nil {
		return nil, err
	}

	config := service.ScoreProcessorConfig{
		BlockID:     c.Params("block_id"),
		DisplayName: query.DisplayName,
		MaxPoints:   1,
		Track:       query.Track,
		Cohort:      query.Cohort,
		UserID:      staffUserFromContext(c),
		HandleUndo:  query.HandleUndo,
	}
	if value := strings.TrimSpace(query.MaxPoints); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, err
		}
		config.MaxPoints = parsed
	}

	if err := h.validator.Struct(config); err != nil {
		return nil, err
	}
	return service.NewScoreCSVProcessor(config, h.enrollments, h.scores, h.signer, h.recompute, h.logger)
}

func (h *ScoreCSVHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
