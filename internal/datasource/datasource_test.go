package datasource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1274866478-stack/data-agent-sub005/internal/ledger"
)

type fakeCreds struct {
	values map[string]string
	err    error
}

func (f *fakeCreds) ResolveCredential(_ context.Context, ref, tenantID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.values[tenantID+":"+ref], nil
}

func TestKindRequiredCapability(t *testing.T) {
	assert.Equal(t, ledger.CapabilitySQL, KindRelational.RequiredCapability())
	assert.Equal(t, ledger.CapabilityFile, KindTabularFile.RequiredCapability())
}

func TestResolverResolve(t *testing.T) {
	r, err := NewResolver([]Source{
		{Name: "sales", Kind: KindRelational, Connection: "file:sales.db"},
		{Name: "uploads", Kind: KindTabularFile, Connection: "/data/uploads"},
	}, nil)
	require.NoError(t, err)

	t.Run("relational", func(t *testing.T) {
		ds, conn, err := r.Resolve(context.Background(), "sales", "t1")
		require.NoError(t, err)
		assert.Equal(t, KindRelational, ds.Kind)
		assert.Equal(t, "sales", ds.ConnectionRef)
		assert.Equal(t, "file:sales.db", conn)
	})
	t.Run("tabular file", func(t *testing.T) {
		ds, conn, err := r.Resolve(context.Background(), "uploads", "t1")
		require.NoError(t, err)
		assert.Equal(t, KindTabularFile, ds.Kind)
		assert.Equal(t, "/data/uploads", conn)
	})
	t.Run("unknown ref", func(t *testing.T) {
		_, _, err := r.Resolve(context.Background(), "nope", "t1")
		assert.ErrorIs(t, err, ErrUnknownRef)
	})
}

func TestResolverCredentialRef(t *testing.T) {
	creds := &fakeCreds{values: map[string]string{"t1:sales-dsn": "file:tenant1.db"}}
	r, err := NewResolver([]Source{
		{Name: "sales", Kind: KindRelational, CredentialRef: "sales-dsn"},
	}, creds)
	require.NoError(t, err)

	_, conn, err := r.Resolve(context.Background(), "sales", "t1")
	require.NoError(t, err)
	assert.Equal(t, "file:tenant1.db", conn)

	creds.err = errors.New("vault sealed")
	_, _, err = r.Resolve(context.Background(), "sales", "t1")
	assert.ErrorContains(t, err, "vault sealed")
}

func TestNewResolverRejectsUnknownKind(t *testing.T) {
	_, err := NewResolver([]Source{{Name: "x", Kind: "vector"}}, nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}
