package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WritePolicyFile creates a minimal valid policy file in dir and returns its
// path. The policy names one relational and one tabular data source whose
// connection strings are rewritten to the given paths.
func WritePolicyFile(t *testing.T, dir, dbPath, csvPath string) string {
	t.Helper()
	policyContent := `
agent:
  name: "test-agent"
  version: "1.0.0"
data_sources:
  - name: "orders"
    kind: "relational"
    connection: "` + dbPath + `"
  - name: "sales_csv"
    kind: "tabular_file"
    connection: "` + csvPath + `"
limits:
  max_correction_attempts: 3
  max_tool_calls_per_turn: 20
  tool_call_timeout_seconds: 30
  turn_timeout_seconds: 120
`
	path := filepath.Join(dir, "dataqa.policy.yaml")
	if err := os.WriteFile(path, []byte(policyContent), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// WriteStrictPolicyFile creates a policy that denies execute_sql outright and
// adds a fabrication pattern matching invented invoice numbers.
func WriteStrictPolicyFile(t *testing.T, dir, dbPath string) string {
	t.Helper()
	policyContent := `
agent:
  name: "strict-agent"
  version: "1.0.0"
capabilities:
  denied_tools:
    - "execute_sql"
data_sources:
  - name: "orders"
    kind: "relational"
    connection: "` + dbPath + `"
fabrication_patterns:
  - name: "invoice_number"
    description: "invented invoice identifiers"
    regex: "INV-[0-9]{6}"
`
	path := filepath.Join(dir, "dataqa.policy.yaml")
	if err := os.WriteFile(path, []byte(policyContent), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// WriteTenantsFile creates a tenant registry with two tenants and returns its path.
func WriteTenantsFile(t *testing.T, dir string) string {
	t.Helper()
	content := `
tenants:
  - id: "tenant-a"
    display_name: "Tenant A"
    api_key: "key-a"
  - id: "tenant-b"
    display_name: "Tenant B"
    api_key: "key-b"
    allowed_data_sources:
      - "orders"
`
	path := filepath.Join(dir, "tenants.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
