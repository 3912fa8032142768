//go:build e2e

package e2e

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportEmptyWindow(t *testing.T) {
	workDir := t.TempDir()

	stdout, _, code := runDataqa(t, workDir, "", nil, "report", "--window-days", "7")
	require.Equal(t, 0, code)

	var report struct {
		WindowDays     int            `json:"window_days"`
		Total          int            `json:"total"`
		CategoryCounts map[string]int `json:"category_counts"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 7, report.WindowDays)
	assert.Equal(t, 0, report.Total)
}

func TestReportJSONLExportEmpty(t *testing.T) {
	workDir := t.TempDir()

	stdout, _, code := runDataqa(t, workDir, "", nil, "report", "--jsonl")
	require.Equal(t, 0, code)
	assert.Empty(t, stdout)
}
