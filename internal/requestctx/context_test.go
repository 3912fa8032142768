package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantRoundTrip(t *testing.T) {
	tc := TenantContext{TenantID: "t1", UserID: "u1", SessionID: "s1"}
	ctx := WithTenant(context.Background(), tc)

	got, ok := Tenant(ctx)
	assert.True(t, ok)
	assert.Equal(t, tc, got)
	assert.Equal(t, "t1", TenantID(ctx))
}

func TestTenantMissing(t *testing.T) {
	_, ok := Tenant(context.Background())
	assert.False(t, ok)
	assert.Empty(t, TenantID(context.Background()))
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		tc   TenantContext
		want bool
	}{
		{"complete", TenantContext{TenantID: "t1", UserID: "u1", SessionID: "s1"}, true},
		{"no session is still valid", TenantContext{TenantID: "t1", UserID: "u1"}, true},
		{"missing tenant", TenantContext{UserID: "u1"}, false},
		{"missing user", TenantContext{TenantID: "t1"}, false},
		{"empty", TenantContext{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tc.Valid())
		})
	}
}
