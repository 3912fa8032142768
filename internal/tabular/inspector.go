// Package tabular inspects CSV files for the file-class tools. Cell
// values that flow back into model context are sanitized first, since
// spreadsheet exports are an easy carrier for markup and script.
package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dqotel "github.com/1274866478-stack/data-agent-sub005/internal/otel"
)

var tracer = dqotel.Tracer("github.com/1274866478-stack/data-agent-sub005/internal/tabular")

const defaultSampleRows = 5

// Inspector reads CSV files with a size limit.
type Inspector struct {
	maxSize   int64
	sanitizer *bluemonday.Policy
}

// NewInspector creates a CSV inspector with a size limit in megabytes.
func NewInspector(maxSizeMB int) *Inspector {
	return &Inspector{
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// FileInfo summarizes a CSV file: header, row count, and a sanitized
// sample of leading rows.
type FileInfo struct {
	Path       string     `json:"path"`
	Columns    []string   `json:"columns"`
	RowCount   int        `json:"row_count"`
	SampleRows [][]string `json:"sample_rows"`
}

// Inspect reads the file header and counts data rows, keeping the first
// few rows as a sanitized sample.
func (i *Inspector) Inspect(ctx context.Context, path string) (*FileInfo, error) {
	_, span := tracer.Start(ctx, "tabular.inspect",
		trace.WithAttributes(attribute.String("file.path", path)))
	defer span.End()

	r, closeFn, err := i.open(path)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer closeFn()

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("file %s is empty", path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}

	info := &FileInfo{
		Path:    path,
		Columns: i.sanitizeRow(header),
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d of %s: %w", info.RowCount+1, path, err)
		}
		if info.RowCount < defaultSampleRows {
			info.SampleRows = append(info.SampleRows, i.sanitizeRow(row))
		}
		info.RowCount++
	}

	span.SetAttributes(
		attribute.Int("file.columns", len(info.Columns)),
		attribute.Int("file.rows", info.RowCount),
	)
	return info, nil
}

func (i *Inspector) open(path string) (*csv.Reader, func(), error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("stat file %s: %w", path, err)
	}
	if st.Size() > i.maxSize {
		return nil, nil, fmt.Errorf("file size %d exceeds limit %d bytes", st.Size(), i.maxSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file %s: %w", path, err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return r, func() { _ = f.Close() }, nil
}

func (i *Inspector) sanitizeRow(row []string) []string {
	out := make([]string, len(row))
	for idx, cell := range row {
		out[idx] = strings.TrimSpace(i.sanitizer.Sanitize(cell))
	}
	return out
}
