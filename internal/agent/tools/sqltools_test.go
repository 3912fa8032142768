package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1274866478-stack/data-agent-sub005/internal/sqlguard"
)

func newTestQuerier(t *testing.T) *Querier {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE orders (id INTEGER PRIMARY KEY, tenant_id TEXT NOT NULL, amount REAL);
		INSERT INTO orders (tenant_id, amount) VALUES ('tenant-a', 10), ('tenant-a', 32), ('tenant-b', 5);
	`)
	require.NoError(t, err)
	return NewQuerier(db)
}

func newTestValidator(t *testing.T) *sqlguard.Validator {
	t.Helper()
	rules, err := sqlguard.DefaultRuleSet()
	require.NoError(t, err)
	v, err := sqlguard.NewValidator(rules)
	require.NoError(t, err)
	return v
}

func findTool(t *testing.T, ts []Tool, name string) Tool {
	t.Helper()
	for _, tool := range ts {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %s not in toolset", name)
	return nil
}

func TestListTables(t *testing.T) {
	ts := SQLToolset(newTestQuerier(t), newTestValidator(t))
	tool := findTool(t, ts, "list_tables")

	out, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)

	var resp struct {
		Tables []string `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, []string{"orders"}, resp.Tables)
}

func TestGetSchema(t *testing.T) {
	ts := SQLToolset(newTestQuerier(t), newTestValidator(t))
	tool := findTool(t, ts, "get_schema")

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"table": "orders"}`))
	require.NoError(t, err)

	var resp struct {
		Table   string `json:"table"`
		Columns []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "orders", resp.Table)
	require.Len(t, resp.Columns, 3)
	assert.Equal(t, "tenant_id", resp.Columns[1].Name)
}

func TestGetSchemaRejectsBadNames(t *testing.T) {
	ts := SQLToolset(newTestQuerier(t), newTestValidator(t))
	tool := findTool(t, ts, "get_schema")

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"table": "orders; DROP TABLE orders"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"table": "missing"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestExecuteSQL(t *testing.T) {
	ts := SQLToolset(newTestQuerier(t), newTestValidator(t))
	tool := findTool(t, ts, "execute_sql")

	out, err := tool.Execute(context.Background(),
		json.RawMessage(`{"sql": "SELECT tenant_id, SUM(amount) AS total FROM orders WHERE tenant_id = 'tenant-a' GROUP BY tenant_id"}`))
	require.NoError(t, err)

	var resp struct {
		Columns  []string        `json:"columns"`
		Rows     [][]interface{} `json:"rows"`
		RowCount int             `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, []string{"tenant_id", "total"}, resp.Columns)
	require.Equal(t, 1, resp.RowCount)
	assert.Equal(t, "tenant-a", resp.Rows[0][0])
	assert.InDelta(t, 42.0, resp.Rows[0][1], 0.001)
}

func TestExecuteSQLRejectsDangerousQuery(t *testing.T) {
	ts := SQLToolset(newTestQuerier(t), newTestValidator(t))
	tool := findTool(t, ts, "execute_sql")

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"sql": "DROP TABLE orders"}`))
	assert.ErrorIs(t, err, ErrSQLPolicyViolation)

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"sql": "SELECT 1; SELECT 2"}`))
	assert.ErrorIs(t, err, ErrSQLPolicyViolation)
}

func TestExecuteSQLTruncatesRows(t *testing.T) {
	q := newTestQuerier(t)
	ts := SQLToolset(q, newTestValidator(t))
	tool := findTool(t, ts, "execute_sql").(*executeSQLTool)
	tool.maxRows = 2

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"sql": "SELECT id FROM orders"}`))
	require.NoError(t, err)

	var resp struct {
		RowCount  int  `json:"row_count"`
		Truncated bool `json:"truncated"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, 2, resp.RowCount)
	assert.True(t, resp.Truncated)
}
