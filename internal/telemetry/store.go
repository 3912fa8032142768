package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dqotel "github.com/1274866478-stack/data-agent-sub005/internal/otel"
)

var tracer = dqotel.Tracer("github.com/1274866478-stack/data-agent-sub005/internal/telemetry")

// Store persists HMAC-signed telemetry entries in SQLite. It is an
// injected, explicitly-owned sink: no package-level singleton, so tests
// isolate tenants by constructing their own store.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore opens (creating if needed) a telemetry store at dbPath.
func NewStore(dbPath string, signingKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS telemetry (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		entry_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_telemetry_tenant ON telemetry(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_telemetry_timestamp ON telemetry(timestamp);
	CREATE INDEX IF NOT EXISTS idx_telemetry_category ON telemetry(category);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating telemetry schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Store{db: db, signer: signer}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Classify maps a terminal turn outcome to a telemetry entry. An outcome
// with an unknown category is recorded as Unknown rather than dropped —
// operational stats must account for every completed turn.
func Classify(o Outcome) Entry {
	cat := o.Category
	if !cat.Valid() {
		cat = CategoryUnknown
	}
	return Entry{
		ID:         "tel_" + uuid.New().String()[:12],
		Category:   cat,
		TenantID:   o.TenantID,
		DurationMS: o.Duration.Milliseconds(),
		Succeeded:  cat.Succeeded(),
		Timestamp:  time.Now().UTC(),
	}
}

// Append signs and persists an entry.
func (s *Store) Append(ctx context.Context, e Entry) error {
	ctx, span := tracer.Start(ctx, "telemetry.append",
		trace.WithAttributes(
			attribute.String("telemetry.category", string(e.Category)),
			attribute.String("tenant_id", e.TenantID),
		))
	defer span.End()

	entryJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling telemetry entry: %w", err)
	}
	signature, err := s.signer.Sign(entryJSON)
	if err != nil {
		return fmt.Errorf("signing telemetry entry: %w", err)
	}

	query := `INSERT INTO telemetry (id, category, tenant_id, duration_ms, succeeded, timestamp, entry_json, signature)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, string(e.Category), e.TenantID, e.DurationMS, boolToInt(e.Succeeded),
		e.Timestamp, string(entryJSON), signature,
	)
	if err != nil {
		return fmt.Errorf("storing telemetry entry: %w", err)
	}
	return nil
}

// Report aggregates entries over the trailing window. CategoryCounts
// includes the Success category so the counts always sum to Total;
// SuccessRate is a percentage rounded to two decimals.
type Report struct {
	WindowDays     int              `json:"window_days"`
	Total          int              `json:"total"`
	Success        int              `json:"success"`
	Failure        int              `json:"failure"`
	SuccessRate    float64          `json:"success_rate"`
	CategoryCounts map[Category]int `json:"category_counts"`
}

// Report aggregates all entries with timestamp >= now - windowDays. An
// optional tenantID filters to one tenant; "" covers all tenants.
func (s *Store) Report(ctx context.Context, windowDays int, tenantID string) (*Report, error) {
	ctx, span := tracer.Start(ctx, "telemetry.report",
		trace.WithAttributes(
			attribute.Int("telemetry.window_days", windowDays),
			attribute.String("tenant_id", tenantID),
		))
	defer span.End()

	if windowDays <= 0 {
		windowDays = 7
	}
	from := time.Now().UTC().AddDate(0, 0, -windowDays)

	query := `SELECT category, succeeded FROM telemetry WHERE timestamp >= ?`
	args := []interface{}{from}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry: %w", err)
	}
	defer rows.Close()

	report := &Report{
		WindowDays:     windowDays,
		CategoryCounts: make(map[Category]int),
	}
	for rows.Next() {
		var category string
		var succeeded int
		if err := rows.Scan(&category, &succeeded); err != nil {
			continue
		}
		report.Total++
		report.CategoryCounts[Category(category)]++
		if succeeded == 1 {
			report.Success++
		} else {
			report.Failure++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading telemetry rows: %w", err)
	}

	if report.Success+report.Failure > 0 {
		rate := float64(report.Success) / float64(report.Success+report.Failure) * 100
		report.SuccessRate = math.Round(rate*100) / 100
	}

	span.SetAttributes(attribute.Int("telemetry.total", report.Total))
	return report, nil
}

// Verify checks the HMAC signature integrity of a stored entry.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	var entryJSON, signature string
	err := s.db.QueryRowContext(ctx,
		`SELECT entry_json, signature FROM telemetry WHERE id = ?`, id,
	).Scan(&entryJSON, &signature)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("telemetry entry %s not found", id)
	}
	if err != nil {
		return false, fmt.Errorf("querying telemetry entry: %w", err)
	}
	return s.signer.Verify([]byte(entryJSON), signature), nil
}

// Prune deletes entries older than retentionDays and returns the number
// removed. Called by the scheduled retention sweep.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int64, error) {
	ctx, span := tracer.Start(ctx, "telemetry.prune",
		trace.WithAttributes(attribute.Int("telemetry.retention_days", retentionDays)))
	defer span.End()

	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM telemetry WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning telemetry: %w", err)
	}
	n, _ := res.RowsAffected()
	span.SetAttributes(attribute.Int64("telemetry.pruned", n))
	return n, nil
}

// WriteJSONL streams entries in the trailing window to w as JSON lines,
// oldest first. This is the export format the external reporting surface
// consumes.
func (s *Store) WriteJSONL(ctx context.Context, w io.Writer, windowDays int) error {
	if windowDays <= 0 {
		windowDays = 7
	}
	from := time.Now().UTC().AddDate(0, 0, -windowDays)

	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_json FROM telemetry WHERE timestamp >= ? ORDER BY timestamp ASC`, from)
	if err != nil {
		return fmt.Errorf("querying telemetry for export: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entryJSON string
		if err := rows.Scan(&entryJSON); err != nil {
			continue
		}
		if _, err := io.WriteString(w, entryJSON+"\n"); err != nil {
			return fmt.Errorf("writing telemetry export: %w", err)
		}
	}
	return rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
