package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/1274866478-stack/data-agent-sub005/internal/ledger"
)

var allowedChartTypes = map[string]bool{
	"bar":     true,
	"line":    true,
	"pie":     true,
	"scatter": true,
}

// RenderChartTool produces a renderable chart specification from data the
// model gathered through other tools. It is chart-class and therefore
// allowed against any data source kind.
type RenderChartTool struct{}

func (t *RenderChartTool) Name() string { return "render_chart" }
func (t *RenderChartTool) Description() string {
	return "Build a chart specification (bar, line, pie, scatter) from labeled series data."
}
func (t *RenderChartTool) Capability() ledger.CapabilityClass {
	return ledger.CapabilityChart
}

func (t *RenderChartTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"chart_type": map[string]interface{}{
				"type": "string",
				"enum": []string{"bar", "line", "pie", "scatter"},
			},
			"title":  map[string]interface{}{"type": "string"},
			"labels": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"series": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"name":   map[string]interface{}{"type": "string"},
						"values": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "number"}},
					},
					"required": []string{"name", "values"},
				},
			},
		},
		"required": []string{"chart_type", "series"},
	}
}

type chartSeries struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

type chartSpec struct {
	ChartType string        `json:"chart_type"`
	Title     string        `json:"title,omitempty"`
	Labels    []string      `json:"labels,omitempty"`
	Series    []chartSeries `json:"series"`
}

func (t *RenderChartTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var spec chartSpec
	if err := json.Unmarshal(params, &spec); err != nil {
		return nil, fmt.Errorf("%w: parsing render_chart arguments: %v", ErrBadArguments, err)
	}
	if !allowedChartTypes[spec.ChartType] {
		return nil, fmt.Errorf("%w: unsupported chart type %q", ErrBadArguments, spec.ChartType)
	}
	if len(spec.Series) == 0 {
		return nil, fmt.Errorf("%w: at least one series is required", ErrBadArguments)
	}
	for _, s := range spec.Series {
		if len(spec.Labels) > 0 && len(s.Values) != len(spec.Labels) {
			return nil, fmt.Errorf("%w: series %q has %d values for %d labels", ErrBadArguments, s.Name, len(s.Values), len(spec.Labels))
		}
	}
	return json.Marshal(spec)
}
