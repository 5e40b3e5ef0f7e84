// Package csvops carries the shared machinery for bulk CSV operations:
// the per-row validate/preprocess/process lifecycle, operation persistence,
// deferred execution with poll-by-result-id, and tamper checksums.
package csvops

import "context"

// Row is one CSV row keyed by header name.
type Row map[string]string

// ValidationError marks a per-row failure that is collected into the file
// report instead of aborting the whole run.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

// Importer is the lifecycle contract an import processor implements. The
// runner drives it in two phases: every row is validated and preprocessed
// first, then the resulting operations are processed and committed.
type Importer interface {
	// Kind labels the operation family for history lookups.
	Kind() string
	// UniquePath scopes persisted operations, typically a course or block id.
	UniquePath() string
	// ConfigSnapshot is serialized with the operation so the processor can
	// be reconstructed for history and error-report views.
	ConfigSnapshot() map[string]interface{}

	Columns() []string
	RequiredColumns() []string

	// ValidateRow rejects rows with a ValidationError; any other error
	// aborts the run.
	ValidateRow(ctx context.Context, row Row) error
	// PreprocessRow turns a valid row into an operation to apply, or nil
	// when the row requires no action.
	PreprocessRow(ctx context.Context, row Row) (interface{}, error)
	// ProcessRow applies one operation produced by PreprocessRow.
	ProcessRow(ctx context.Context, op interface{}) error
	// Commit runs once after all operations were applied.
	Commit(ctx context.Context) error
}

// Exporter produces CSV rows for download. Implementations push rows through
// emit so large exports stream without buffering the whole file.
type Exporter interface {
	Columns() []string
	ExportRows(ctx context.Context, emit func(Row) error) error
}

// Row statuses recorded per input row.
const (
	RowStatusSaved    = "Saved"
	RowStatusNoAction = "No Action"
	RowStatusError    = "Error"
)

// RowResult is the per-row outcome persisted with the operation.
type RowResult struct {
	RowNum int    `json:"row"`
	Data   Row    `json:"data"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Status is the JSON envelope reported for an import run.
type Status struct {
	Saved         int      `json:"saved"`
	Processed     int      `json:"processed"`
	Total         int      `json:"total"`
	ErrorRows     []int    `json:"error_rows"`
	ErrorMessages []string `json:"error_messages"`
	Waiting       bool     `json:"waiting"`
	Percentage    float64  `json:"percentage"`
	ResultID      string   `json:"result_id,omitempty"`
	CanCommit     bool     `json:"can_commit"`
}
