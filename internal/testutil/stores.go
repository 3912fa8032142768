package testutil

import (
	"path/filepath"
	"testing"

	"github.com/1274866478-stack/data-agent-sub005/internal/secrets"
	"github.com/1274866478-stack/data-agent-sub005/internal/telemetry"
)

// NewTelemetryStore creates a telemetry store in a temp dir and registers
// t.Cleanup to close it. Uses TestSigningKey.
func NewTelemetryStore(t *testing.T) *telemetry.Store {
	t.Helper()
	store, err := telemetry.NewStore(filepath.Join(t.TempDir(), "telemetry.db"), TestSigningKey)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// NewVault creates an encrypted credential vault in a temp dir and registers
// t.Cleanup to close it. Uses TestVaultKey.
func NewVault(t *testing.T) *secrets.Vault {
	t.Helper()
	vault, err := secrets.NewVault(filepath.Join(t.TempDir(), "vault.db"), TestVaultKey)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vault.Close() })
	return vault
}
