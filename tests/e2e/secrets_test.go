//go:build e2e

package e2e

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsLifecycle(t *testing.T) {
	workDir := t.TempDir()

	t.Run("put", func(t *testing.T) {
		stdout, _, code := runDataqa(t, workDir, "postgres://u:p@db/orders\n", nil,
			"secrets", "put", "orders-dsn", "--tenants", "tenant-a")
		require.Equal(t, 0, code)
		assert.Contains(t, stdout, "Stored orders-dsn")
	})

	t.Run("list_shows_metadata_only", func(t *testing.T) {
		stdout, _, code := runDataqa(t, workDir, "", nil, "secrets", "list")
		require.Equal(t, 0, code)
		assert.Contains(t, stdout, "orders-dsn")
		assert.NotContains(t, stdout, "postgres://u:p@db/orders")
	})

	t.Run("list_filtered_by_tenant", func(t *testing.T) {
		stdout, _, code := runDataqa(t, workDir, "", nil, "secrets", "list", "--tenant", "tenant-b")
		require.Equal(t, 0, code)
		assert.NotContains(t, stdout, "orders-dsn")
	})

	t.Run("rotate", func(t *testing.T) {
		stdout, _, code := runDataqa(t, workDir, "", nil, "secrets", "rotate", "orders-dsn")
		require.Equal(t, 0, code)
		assert.Contains(t, stdout, "Rotated orders-dsn")
	})

	t.Run("audit", func(t *testing.T) {
		stdout, _, code := runDataqa(t, workDir, "", nil, "secrets", "audit", "orders-dsn")
		require.Equal(t, 0, code)
		assert.NotEmpty(t, stdout)
	})
}
