package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1274866478-stack/data-agent-sub005/internal/tabular"
)

func TestFileToolset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(path, []byte("region,amount\neast,10\nwest,30\n"), 0o600))

	ts := FileToolset(tabular.NewInspector(10), path)
	ctx := context.Background()

	out, err := findTool(t, ts, "inspect_file").Execute(ctx, json.RawMessage(`{}`))
	require.NoError(t, err)
	var info struct {
		Columns  []string `json:"columns"`
		RowCount int      `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal(out, &info))
	assert.Equal(t, []string{"region", "amount"}, info.Columns)
	assert.Equal(t, 2, info.RowCount)

	out, err = findTool(t, ts, "analyze_dataframe").Execute(ctx, json.RawMessage(`{}`))
	require.NoError(t, err)
	var stats struct {
		Columns []struct {
			Name string   `json:"name"`
			Type string   `json:"type"`
			Mean *float64 `json:"mean"`
		} `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(out, &stats))
	require.Len(t, stats.Columns, 2)
	assert.Equal(t, "numeric", stats.Columns[1].Type)
	require.NotNil(t, stats.Columns[1].Mean)
	assert.Equal(t, 20.0, *stats.Columns[1].Mean)
}

func TestRenderChart(t *testing.T) {
	tool := &RenderChartTool{}
	ctx := context.Background()

	out, err := tool.Execute(ctx, json.RawMessage(`{
		"chart_type": "bar",
		"title": "Orders by region",
		"labels": ["east", "west"],
		"series": [{"name": "orders", "values": [10, 30]}]
	}`))
	require.NoError(t, err)

	var spec chartSpec
	require.NoError(t, json.Unmarshal(out, &spec))
	assert.Equal(t, "bar", spec.ChartType)
	assert.Equal(t, []string{"east", "west"}, spec.Labels)
}

func TestRenderChartRejectsBadInput(t *testing.T) {
	tool := &RenderChartTool{}
	ctx := context.Background()

	_, err := tool.Execute(ctx, json.RawMessage(`{"chart_type": "radar", "series": [{"name": "x", "values": [1]}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported chart type")

	_, err = tool.Execute(ctx, json.RawMessage(`{"chart_type": "bar", "series": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one series")

	_, err = tool.Execute(ctx, json.RawMessage(`{"chart_type": "bar", "labels": ["a", "b"], "series": [{"name": "x", "values": [1]}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "values for")
}
