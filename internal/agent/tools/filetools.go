package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/1274866478-stack/data-agent-sub005/internal/ledger"
	"github.com/1274866478-stack/data-agent-sub005/internal/tabular"
)

// FileToolset returns the file-class tools bound to a tabular file path.
// The path comes from data source resolution, never from tool arguments,
// so the model cannot point the tools at arbitrary files.
func FileToolset(insp *tabular.Inspector, path string) []Tool {
	return []Tool{
		&inspectFileTool{insp: insp, path: path},
		&analyzeDataframeTool{insp: insp, path: path},
	}
}

type inspectFileTool struct {
	insp *tabular.Inspector
	path string
}

func (t *inspectFileTool) Name() string { return "inspect_file" }
func (t *inspectFileTool) Description() string {
	return "Show the columns, row count, and a sample of the session's data file."
}
func (t *inspectFileTool) Capability() ledger.CapabilityClass {
	return ledger.CapabilityFile
}

func (t *inspectFileTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *inspectFileTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	info, err := t.insp.Inspect(ctx, t.path)
	if err != nil {
		return nil, fmt.Errorf("inspecting file: %w", err)
	}
	return json.Marshal(info)
}

type analyzeDataframeTool struct {
	insp *tabular.Inspector
	path string
}

func (t *analyzeDataframeTool) Name() string { return "analyze_dataframe" }
func (t *analyzeDataframeTool) Description() string {
	return "Compute per-column statistics (counts, nulls, distinct, min/max/mean) for the session's data file."
}
func (t *analyzeDataframeTool) Capability() ledger.CapabilityClass {
	return ledger.CapabilityFile
}

func (t *analyzeDataframeTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *analyzeDataframeTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	stats, err := t.insp.Analyze(ctx, t.path)
	if err != nil {
		return nil, fmt.Errorf("analyzing file: %w", err)
	}
	return json.Marshal(map[string]interface{}{"columns": stats})
}
