package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/courseops/gradebook-api/internal/csvops"
	"github.com/courseops/gradebook-api/internal/middleware"
	"github.com/courseops/gradebook-api/internal/observability"
)

const exportTimestampFormat = "2006-01-02T15-04-05"

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseOptionalFloat turns a blank query value into nil rather than zero, so
// "no filter" and "filter at 0" stay distinguishable.
func parseOptionalFloat(value string) (*float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", trimmed)
	}
	return &parsed, nil
}

// staffUserFromContext returns the authenticated staff member's id, nil when
// the request carries no usable identity.
func staffUserFromContext(c *fiber.Ctx) *uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok && id > 0 {
			return &id
		}
	}
	return nil
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// exportFilename joins the parts with the current UTC timestamp, slashes
// replaced so course ids stay filesystem-safe.
func exportFilename(parts ...string) string {
	stamped := make([]string, 0, len(parts)+1)
	for _, part := range parts {
		if part == "" {
			continue
		}
		stamped = append(stamped, strings.ReplaceAll(part, "/", "-"))
	}
	stamped = append(stamped, time.Now().UTC().Format(exportTimestampFormat))
	return strings.Join(stamped, "-") + ".csv"
}

// sendCSV renders the exporter into the response as a CSV attachment and
// records the exported row count.
func sendCSV(c *fiber.Ctx, kind, filename string, exporter csvops.Exporter, columns []string) error {
	counted := &countingExporter{inner: exporter}

	var buf bytes.Buffer
	if err := csvops.ExportColumns(c.Context(), &buf, counted, columns); err != nil {
		return err
	}
	observability.ExportRows(kind).Add(float64(counted.rows))

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Send(buf.Bytes())
}

type countingExporter struct {
	inner csvops.Exporter
	rows  int
}

func (e *countingExporter) Columns() []string { return e.inner.Columns() }

func (e *countingExporter) ExportRows(ctx context.Context, emit func(csvops.Row) error) error {
	return e.inner.ExportRows(ctx, func(row csvops.Row) error {
		e.rows++
		return emit(row)
	})
}

// uploadErrorStatus maps csvops upload rejections to HTTP status codes.
// Unmatched errors stay internal.
func uploadErrorStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, csvops.ErrFileTooLarge):
		return fiber.StatusRequestEntityTooLarge, true
	case errors.Is(err, csvops.ErrNotCSV),
		errors.Is(err, csvops.ErrEmptyFile),
		errors.Is(err, csvops.ErrMissingColumns):
		return fiber.StatusBadRequest, true
	}
	return 0, false
}
