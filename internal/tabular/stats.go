package tabular

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// distinctCap bounds the per-column distinct-value tracking so wide files
// with high-cardinality columns stay cheap to analyze.
const distinctCap = 1000

// ColumnStats holds per-column summary statistics. Min, Max, and Mean are
// only set for numeric columns.
type ColumnStats struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"` // "numeric" or "text"
	Count     int      `json:"count"`
	NullCount int      `json:"null_count"`
	Distinct  int      `json:"distinct"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Mean      *float64 `json:"mean,omitempty"`
}

// Analyze computes summary statistics per column. A column is numeric when
// every non-empty cell parses as a float.
func (i *Inspector) Analyze(ctx context.Context, path string) ([]ColumnStats, error) {
	_, span := tracer.Start(ctx, "tabular.analyze",
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

	type acc struct {
		stats    ColumnStats
		sum      float64
		numeric  bool
		distinct map[string]struct{}
	}

	cols := make([]*acc, len(header))
	for idx, name := range header {
		cols[idx] = &acc{
			stats:    ColumnStats{Name: i.sanitizer.Sanitize(name)},
			numeric:  true,
			distinct: make(map[string]struct{}),
		}
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for idx, a := range cols {
			if idx >= len(row) || row[idx] == "" {
				a.stats.NullCount++
				continue
			}
			cell := row[idx]
			a.stats.Count++
			if len(a.distinct) < distinctCap {
				a.distinct[cell] = struct{}{}
			}

			v, perr := strconv.ParseFloat(cell, 64)
			if perr != nil {
				a.numeric = false
				continue
			}
			if a.numeric {
				a.sum += v
				if a.stats.Min == nil || v < *a.stats.Min {
					a.stats.Min = ptr(v)
				}
				if a.stats.Max == nil || v > *a.stats.Max {
					a.stats.Max = ptr(v)
				}
			}
		}
	}

	out := make([]ColumnStats, len(cols))
	for idx, a := range cols {
		a.stats.Distinct = len(a.distinct)
		if a.numeric && a.stats.Count > 0 {
			a.stats.Type = "numeric"
			mean := a.sum / float64(a.stats.Count)
			a.stats.Mean = ptr(math.Round(mean*10000) / 10000)
		} else {
			a.stats.Type = "text"
			a.stats.Min, a.stats.Max = nil, nil
		}
		out[idx] = a.stats
	}

	span.SetAttributes(attribute.Int("file.columns", len(out)))
	return out, nil
}

func ptr(v float64) *float64 { return &v }
