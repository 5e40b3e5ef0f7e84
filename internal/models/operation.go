package models

import (
	"time"

	"gorm.io/datatypes"
)

// Bulk operation kinds.
const (
	OperationKindGrade = "grade"
	OperationKindScore = "score"
)

// BulkOperation is the persisted state of one CSV import run: the processor
// configuration it was created with, the original row data, and the per-row
// results. Saved before processing so operation history can be replayed and
// failed imports re-exported as error reports.
type BulkOperation struct {
	ID         string            `gorm:"size:36;primaryKey" json:"id"`
	Kind       string            `gorm:"size:16;not null" json:"kind"`
	UniquePath string            `gorm:"size:255;index;not null" json:"unique_path"`
	CreatedBy  *uint             `json:"created_by"`
	Committed  bool              `gorm:"not null;default:false" json:"committed"`
	RowCount   int               `json:"row_count"`
	SavedCount int               `json:"saved_count"`
	Config     datatypes.JSONMap `json:"config"`
	ResultRows datatypes.JSON    `json:"result_rows"`
	CreatedAt  time.Time         `gorm:"index" json:"created_at"`
}
