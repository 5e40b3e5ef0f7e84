package csvops

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/courseops/gradebook-api/internal/models"
	"github.com/courseops/gradebook-api/internal/observability"
	"github.com/courseops/gradebook-api/internal/repository"
)

// Upload rejection errors, mapped to 4xx responses by the HTTP layer.
var (
	ErrFileTooLarge   = errors.New("uploaded file exceeds the size limit")
	ErrNotCSV         = errors.New("uploaded file is not a CSV")
	ErrEmptyFile      = errors.New("uploaded file contains no rows")
	ErrMissingColumns = errors.New("uploaded file is missing required columns")
)

const deferredRunTimeout = 30 * time.Minute

// RunnerConfig tunes file handling limits.
type RunnerConfig struct {
	// DeferThreshold is the row count above which imports run asynchronously.
	DeferThreshold int
	// MaxUploadBytes caps accepted file size; larger uploads are rejected outright.
	MaxUploadBytes int64
}

// Runner drives Importer lifecycles over uploaded files: synchronously for
// small files, in a background goroutine with a pollable result for large ones.
type Runner struct {
	operations repository.OperationRepository
	results    *ResultStore
	config     RunnerConfig
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// NewRunner constructs a Runner.
func NewRunner(operations repository.OperationRepository, results *ResultStore, config RunnerConfig, logger zerolog.Logger) *Runner {
	if config.DeferThreshold <= 0 {
		config.DeferThreshold = 100
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 4 * 1024 * 1024
	}
	return &Runner{
		operations: operations,
		results:    results,
		config:     config,
		logger:     logger.With().Str("component", "csv_runner").Logger(),
		tracer:     otel.Tracer("csvops"),
	}
}

type pendingOp struct {
	rowNum int
	op     interface{}
}

// ProcessUpload runs a full import over the uploaded file. When the row count
// reaches the defer threshold the heavy phase runs in the background and the
// returned status carries waiting=true plus a result id to poll.
func (r *Runner) ProcessUpload(ctx context.Context, imp Importer, file io.Reader, createdBy *uint) (Status, error) {
	ctx, span := r.tracer.Start(ctx, "csvops.ProcessUpload",
		trace.WithAttributes(attribute.String("kind", imp.Kind()), attribute.String("path", imp.UniquePath())))
	defer span.End()

	data, err := io.ReadAll(io.LimitReader(file, r.config.MaxUploadBytes+1))
	if err != nil {
		return Status{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > r.config.MaxUploadBytes {
		return Status{}, ErrFileTooLarge
	}
	if !isTextPayload(data) {
		return Status{}, ErrNotCSV
	}

	header, rows, err := parseCSV(data)
	if err != nil {
		return Status{}, err
	}
	if err := checkRequiredColumns(header, imp.RequiredColumns()); err != nil {
		return Status{}, err
	}

	results := make([]RowResult, len(rows))
	pending := make([]pendingOp, 0, len(rows))
	for i, row := range rows {
		rowNum := i + 1
		results[i] = RowResult{RowNum: rowNum, Data: row, Status: RowStatusNoAction}

		if err := imp.ValidateRow(ctx, row); err != nil {
			if rowErr := asValidationError(err); rowErr != "" {
				results[i].Status = RowStatusError
				results[i].Error = rowErr
				continue
			}
			return Status{}, err
		}

		op, err := imp.PreprocessRow(ctx, row)
		if err != nil {
			if rowErr := asValidationError(err); rowErr != "" {
				results[i].Status = RowStatusError
				results[i].Error = rowErr
				continue
			}
			return Status{}, err
		}
		if op != nil {
			pending = append(pending, pendingOp{rowNum: rowNum, op: op})
		}
	}

	// Persist the operation before processing so history survives failures.
	operation := &models.BulkOperation{
		ID:         uuid.NewString(),
		Kind:       imp.Kind(),
		UniquePath: imp.UniquePath(),
		CreatedBy:  createdBy,
		RowCount:   len(rows),
		Config:     datatypes.JSONMap(imp.ConfigSnapshot()),
	}
	if err := setResultRows(operation, results); err != nil {
		return Status{}, err
	}
	if err := r.operations.Create(ctx, operation); err != nil {
		return Status{}, fmt.Errorf("failed to persist operation: %w", err)
	}

	observability.BulkImportRows(imp.Kind()).Add(float64(len(rows)))

	if len(rows) >= r.config.DeferThreshold {
		observability.BulkDeferredJobs(imp.Kind()).Inc()
		go r.runDeferred(imp, operation, results, pending)
		return Status{
			Total:    len(rows),
			Waiting:  true,
			ResultID: operation.ID,
		}, nil
	}

	return r.apply(ctx, imp, operation, results, pending)
}

// Poll fetches the status of a deferred run. A missing result means the job
// is still in flight.
func (r *Runner) Poll(ctx context.Context, resultID string) (Status, error) {
	status, found, err := r.results.Get(ctx, resultID)
	if err != nil {
		return Status{}, err
	}
	if !found {
		return Status{Waiting: true, ResultID: resultID}, nil
	}
	return status, nil
}

// ErrorReport loads a prior operation and its per-row outcomes for re-export.
func (r *Runner) ErrorReport(ctx context.Context, operationID string) (models.BulkOperation, []RowResult, error) {
	operation, err := r.operations.GetByID(ctx, operationID)
	if err != nil {
		return models.BulkOperation{}, nil, err
	}

	var results []RowResult
	if len(operation.ResultRows) > 0 {
		if err := json.Unmarshal(operation.ResultRows, &results); err != nil {
			return models.BulkOperation{}, nil, fmt.Errorf("failed to decode operation rows: %w", err)
		}
	}
	return operation, results, nil
}

func (r *Runner) runDeferred(imp Importer, operation *models.BulkOperation, results []RowResult, pending []pendingOp) {
	ctx, cancel := context.WithTimeout(context.Background(), deferredRunTimeout)
	defer cancel()

	status, err := r.apply(ctx, imp, operation, results, pending)
	if err != nil {
		r.logger.Error().Err(err).Str("operation_id", operation.ID).Msg("deferred import failed")
		status = statusFromResults(results, 0)
		status.ErrorMessages = append(status.ErrorMessages, err.Error())
	}
	status.ResultID = operation.ID

	if err := r.results.Save(ctx, operation.ID, status); err != nil {
		r.logger.Error().Err(err).Str("operation_id", operation.ID).Msg("failed to store deferred result")
	}
}

func (r *Runner) apply(ctx context.Context, imp Importer, operation *models.BulkOperation, results []RowResult, pending []pendingOp) (Status, error) {
	saved := 0
	for _, item := range pending {
		result := &results[item.rowNum-1]
		if err := imp.ProcessRow(ctx, item.op); err != nil {
			result.Status = RowStatusError
			result.Error = err.Error()
			continue
		}
		result.Status = RowStatusSaved
		saved++
	}

	if err := imp.Commit(ctx); err != nil {
		return Status{}, fmt.Errorf("commit failed: %w", err)
	}

	operation.Committed = true
	operation.SavedCount = saved
	if err := setResultRows(operation, results); err != nil {
		return Status{}, err
	}
	if err := r.operations.Update(ctx, operation); err != nil {
		return Status{}, fmt.Errorf("failed to update operation: %w", err)
	}

	status := statusFromResults(results, saved)
	status.ResultID = operation.ID
	r.logger.Info().
		Str("operation_id", operation.ID).
		Str("kind", imp.Kind()).
		Int("total", status.Total).
		Int("saved", status.Saved).
		Int("errors", len(status.ErrorRows)).
		Msg("processed csv import")
	return status, nil
}

func statusFromResults(results []RowResult, saved int) Status {
	status := Status{
		Saved:      saved,
		Processed:  len(results),
		Total:      len(results),
		Percentage: 100,
	}
	for _, result := range results {
		if result.Status == RowStatusError {
			status.ErrorRows = append(status.ErrorRows, result.RowNum)
			status.ErrorMessages = append(status.ErrorMessages, result.Error)
		}
	}
	return status
}

func setResultRows(operation *models.BulkOperation, results []RowResult) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode row results: %w", err)
	}
	operation.ResultRows = datatypes.JSON(payload)
	return nil
}

func parseCSV(data []byte) ([]string, []Row, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make(Row, len(header))
		for i, column := range header {
			if i < len(record) {
				row[column] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func checkRequiredColumns(header, required []string) error {
	present := make(map[string]struct{}, len(header))
	for _, column := range header {
		present[column] = struct{}{}
	}
	var missing []string
	for _, column := range required {
		if _, ok := present[column]; !ok {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}

func isTextPayload(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") || m.Is("text/csv") {
			return true
		}
	}
	return false
}

func asValidationError(err error) string {
	var rowErr ValidationError
	if errors.As(err, &rowErr) {
		return string(rowErr)
	}
	return ""
}
