//go:build e2e

package e2e

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInitTemplate(t *testing.T) {
	workDir := t.TempDir()
	_, _, code := runDataqa(t, workDir, "", nil, "init")
	require.Equal(t, 0, code)

	stdout, _, code := runDataqa(t, workDir, "", nil, "validate")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Policy valid")
	assert.Contains(t, stdout, "Data sources:")
}

func TestValidateMissingFile(t *testing.T) {
	workDir := t.TempDir()
	_, stderr, code := runDataqa(t, workDir, "", nil, "validate", "--file", "no-such-policy.yaml")
	assert.NotEqual(t, 0, code)
	assert.Contains(t, stderr, "Validation failed")
}

func TestSQLCheckVerdicts(t *testing.T) {
	workDir := t.TempDir()

	stdout, _, code := runDataqa(t, workDir, "", nil,
		"sqlcheck", "SELECT id FROM orders WHERE tenant_id = 'tenant-a'")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Allowed")

	stdout, _, code = runDataqa(t, workDir, "", nil,
		"sqlcheck", "DROP TABLE orders")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "Rejected")
}
