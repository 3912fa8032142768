package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// SeedOrdersDB creates a SQLite database in a temp dir with an orders table
// holding rows for tenant-a (amounts summing to 42) and tenant-b, and returns
// its path.
func SeedOrdersDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE orders (id INTEGER PRIMARY KEY, tenant_id TEXT NOT NULL, amount REAL);
		INSERT INTO orders (tenant_id, amount) VALUES ('tenant-a', 10), ('tenant-a', 32), ('tenant-b', 5);
	`)
	if err != nil {
		t.Fatal(err)
	}
	return path
}

// SeedSalesCSV writes a small region/amount CSV in a temp dir and returns its path.
func SeedSalesCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.csv")
	if err := os.WriteFile(path, []byte("region,amount\nnorth,10\nsouth,32\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
