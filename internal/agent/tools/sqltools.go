package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3"

	"github.com/1274866478-stack/data-agent-sub005/internal/ledger"
	"github.com/1274866478-stack/data-agent-sub005/internal/sqlguard"
)

// defaultMaxRows caps result sets handed back to the model.
const defaultMaxRows = 200

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Querier wraps the session's read-only database handle.
type Querier struct {
	db *sql.DB
}

// OpenQuerier opens a database handle for the session's relational source.
func OpenQuerier(driver, dsn string) (*Querier, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	return &Querier{db: db}, nil
}

// NewQuerier wraps an existing handle. Used in tests.
func NewQuerier(db *sql.DB) *Querier {
	return &Querier{db: db}
}

// Close releases the database handle.
func (q *Querier) Close() error {
	return q.db.Close()
}

// SQLToolset returns the sql-class tools bound to the given querier. The
// validator gates every query the model proposes; rules are assumed to be
// merged with the deployment overrides already.
func SQLToolset(q *Querier, validator *sqlguard.Validator) []Tool {
	return []Tool{
		&listTablesTool{q: q},
		&getSchemaTool{q: q},
		&executeSQLTool{q: q, validator: validator, maxRows: defaultMaxRows},
	}
}

type listTablesTool struct {
	q *Querier
}

func (t *listTablesTool) Name() string        { return "list_tables" }
func (t *listTablesTool) Description() string { return "List the tables available in the data source." }
func (t *listTablesTool) Capability() ledger.CapabilityClass {
	return ledger.CapabilitySQL
}

func (t *listTablesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *listTablesTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	rows, err := t.q.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	return json.Marshal(map[string]interface{}{"tables": tables})
}

type getSchemaTool struct {
	q *Querier
}

func (t *getSchemaTool) Name() string { return "get_schema" }
func (t *getSchemaTool) Description() string {
	return "Describe the columns of a table, including types."
}
func (t *getSchemaTool) Capability() ledger.CapabilityClass {
	return ledger.CapabilitySQL
}

func (t *getSchemaTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"table": map[string]interface{}{
				"type":        "string",
				"description": "Name of the table to describe.",
			},
		},
		"required": []string{"table"},
	}
}

func (t *getSchemaTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Table string `json:"table"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("%w: parsing get_schema arguments: %v", ErrBadArguments, err)
	}
	if !identifierRe.MatchString(args.Table) {
		return nil, fmt.Errorf("%w: invalid table name %q", ErrBadArguments, args.Table)
	}

	rows, err := t.q.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, args.Table))
	if err != nil {
		return nil, fmt.Errorf("reading schema of %s: %w", args.Table, err)
	}
	defer rows.Close()

	type column struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		NotNull  bool   `json:"not_null"`
		PrimaryK bool   `json:"primary_key"`
	}
	var cols []column
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		cols = append(cols, column{Name: name, Type: ctype, NotNull: notnull == 1, PrimaryK: pk == 1})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading schema of %s: %w", args.Table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: table %q", ErrSchemaNotFound, args.Table)
	}

	return json.Marshal(map[string]interface{}{"table": args.Table, "columns": cols})
}

type executeSQLTool struct {
	q         *Querier
	validator *sqlguard.Validator
	maxRows   int
}

func (t *executeSQLTool) Name() string { return "execute_sql" }
func (t *executeSQLTool) Description() string {
	return "Run a single read-only SELECT statement and return the rows."
}
func (t *executeSQLTool) Capability() ledger.CapabilityClass {
	return ledger.CapabilitySQL
}

func (t *executeSQLTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"sql": map[string]interface{}{
				"type":        "string",
				"description": "A single SELECT statement. Writes, DDL, and multi-statement input are rejected.",
			},
		},
		"required": []string{"sql"},
	}
}

func (t *executeSQLTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var args struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("%w: parsing execute_sql arguments: %v", ErrBadArguments, err)
	}

	verdict := t.validator.Validate(args.SQL)
	if !verdict.Allowed {
		return nil, fmt.Errorf("%w: %s (%s)", ErrSQLPolicyViolation, verdict.ViolatedRule, verdict.MatchedText)
	}

	rows, err := t.q.db.QueryContext(ctx, args.SQL)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	var out [][]interface{}
	truncated := false
	for rows.Next() {
		if len(out) >= t.maxRows {
			truncated = true
			break
		}
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}

	return json.Marshal(map[string]interface{}{
		"columns":   cols,
		"rows":      out,
		"row_count": len(out),
		"truncated": truncated,
	})
}
