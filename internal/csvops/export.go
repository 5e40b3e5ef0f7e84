package csvops

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
)

// Export writes an Exporter's rows to w as a CSV document with a header row.
// Cells for columns absent from a row stay blank rather than being omitted.
func Export(ctx context.Context, w io.Writer, exporter Exporter) error {
	return ExportColumns(ctx, w, exporter, exporter.Columns())
}

// ExportColumns is Export with an explicit column projection, used by
// history views that trim untouched subsection columns.
func ExportColumns(ctx context.Context, w io.Writer, exporter Exporter, columns []string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(columns))
	err := exporter.ExportRows(ctx, func(row Row) error {
		for i, column := range columns {
			record[i] = row[column]
		}
		return writer.Write(record)
	})
	if err != nil {
		return err
	}

	writer.Flush()
	return writer.Error()
}

// RowExporter adapts a fixed result set (e.g. a stored error report) to the
// Exporter interface.
type RowExporter struct {
	Header []string
	Rows   []Row
}

// Columns implements Exporter.
func (e *RowExporter) Columns() []string { return e.Header }

// ExportRows implements Exporter.
func (e *RowExporter) ExportRows(_ context.Context, emit func(Row) error) error {
	for _, row := range e.Rows {
		if err := emit(row); err != nil {
			return err
		}
	}
	return nil
}
