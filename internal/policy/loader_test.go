package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1274866478-stack/data-agent-sub005/internal/datasource"
)

const samplePolicy = `
agent:
  name: orders-analytics
  version: "1.2.0"
capabilities:
  allowed_tools:
    - list_tables
    - get_schema
    - execute_sql
sql_rules:
  tenant_scoped_tables:
    - orders
    - invoices
data_sources:
  - name: warehouse
    kind: relational
    connection: "file:warehouse.db"
  - name: exports
    kind: tabular_file
    connection: "/data/exports"
limits:
  max_correction_attempts: 2
  turn_timeout_seconds: 60
fabrication_patterns:
  - name: placeholder_emails
    regex: 'user\d+@example\.com'
`

func writePolicy(t *testing.T, content string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "dataqa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return dir, path
}

func TestLoadPolicy(t *testing.T) {
	dir, path := writePolicy(t, samplePolicy)

	pol, err := Load(context.Background(), path, dir)
	require.NoError(t, err)

	assert.Equal(t, "orders-analytics", pol.Agent.Name)
	assert.Equal(t, []string{"list_tables", "get_schema", "execute_sql"}, pol.Capabilities.AllowedTools)
	require.Len(t, pol.DataSources, 2)
	assert.Equal(t, datasource.KindTabularFile, pol.DataSources[1].Kind)

	// Explicit values kept, unset values defaulted.
	assert.Equal(t, 2, pol.Limits.MaxCorrectionAttempts)
	assert.Equal(t, 60, pol.Limits.TurnTimeoutSec)
	assert.Equal(t, 30, pol.Limits.ToolCallTimeoutSec)
	assert.Equal(t, 90, pol.Telemetry.RetentionDays)

	assert.NotEmpty(t, pol.Hash)
	assert.Contains(t, pol.VersionTag, "1.2.0-")
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing agent name",
			content: "agent:\n  version: \"1.0\"\n",
			wantErr: "agent.name is required",
		},
		{
			name: "unknown data source kind",
			content: `
agent:
  name: x
  version: "1.0"
data_sources:
  - name: bad
    kind: graph
    connection: bolt://x
`,
			wantErr: "unknown kind",
		},
		{
			name: "duplicate data source",
			content: `
agent:
  name: x
  version: "1.0"
data_sources:
  - name: dup
    kind: relational
    connection: a
  - name: dup
    kind: relational
    connection: b
`,
			wantErr: "duplicate data source",
		},
		{
			name: "recognizer without regex",
			content: `
agent:
  name: x
  version: "1.0"
fabrication_patterns:
  - name: broken
`,
			wantErr: "require name and regex",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, path := writePolicy(t, tt.content)
			_, err := Load(context.Background(), path, dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadPolicyPathTraversal(t *testing.T) {
	dir, _ := writePolicy(t, samplePolicy)

	_, err := Load(context.Background(), "../../etc/passwd", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside base directory")
}

func TestDefaultPolicy(t *testing.T) {
	pol := Default()
	assert.Equal(t, "dataqa", pol.Agent.Name)
	assert.Equal(t, 3, pol.Limits.MaxCorrectionAttempts)
	assert.Equal(t, 120, pol.Limits.TurnTimeoutSec)
	assert.NotEmpty(t, pol.VersionTag)
	require.NoError(t, pol.Validate())
}
