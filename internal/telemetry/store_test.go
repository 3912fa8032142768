package telemetry

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "0123456789abcdef0123456789abcdef" // 32 bytes

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "telemetry.db"), testSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestClassify(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		e := Classify(Outcome{Category: CategorySuccess, TenantID: "t1", Duration: 1500 * time.Millisecond})
		assert.True(t, e.Succeeded)
		assert.Equal(t, CategorySuccess, e.Category)
		assert.Equal(t, int64(1500), e.DurationMS)
		assert.True(t, strings.HasPrefix(e.ID, "tel_"))
		assert.False(t, e.Timestamp.IsZero())
	})
	t.Run("failure", func(t *testing.T) {
		e := Classify(Outcome{Category: CategorySQLPolicyViolation, TenantID: "t1"})
		assert.False(t, e.Succeeded)
	})
	t.Run("unknown category coerced", func(t *testing.T) {
		e := Classify(Outcome{Category: Category("Bogus"), TenantID: "t1"})
		assert.Equal(t, CategoryUnknown, e.Category)
		assert.False(t, e.Succeeded)
	})
}

func TestAppendAndReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Scenario from the operational reporting contract: 100 turns,
	// 95 succeed, 3 SchemaNotFound, 2 AmbiguousQuery.
	for i := 0; i < 95; i++ {
		require.NoError(t, s.Append(ctx, Classify(Outcome{Category: CategorySuccess, TenantID: "t1"})))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, Classify(Outcome{Category: CategorySchemaNotFound, TenantID: "t1"})))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Append(ctx, Classify(Outcome{Category: CategoryAmbiguousQuery, TenantID: "t1"})))
	}

	report, err := s.Report(ctx, 7, "")
	require.NoError(t, err)
	assert.Equal(t, 100, report.Total)
	assert.Equal(t, 95, report.Success)
	assert.Equal(t, 5, report.Failure)
	assert.Equal(t, 95.00, report.SuccessRate)
	assert.Equal(t, 3, report.CategoryCounts[CategorySchemaNotFound])
	assert.Equal(t, 2, report.CategoryCounts[CategoryAmbiguousQuery])
	assert.Equal(t, 95, report.CategoryCounts[CategorySuccess])

	sum := 0
	for _, n := range report.CategoryCounts {
		sum += n
	}
	assert.Equal(t, report.Total, sum)
}

func TestReportSuccessRateRounding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 2 of 3 succeed: 66.666...% rounds to 66.67.
	require.NoError(t, s.Append(ctx, Classify(Outcome{Category: CategorySuccess, TenantID: "t1"})))
	require.NoError(t, s.Append(ctx, Classify(Outcome{Category: CategorySuccess, TenantID: "t1"})))
	require.NoError(t, s.Append(ctx, Classify(Outcome{Category: CategoryTimeout, TenantID: "t1"})))

	report, err := s.Report(ctx, 7, "")
	require.NoError(t, err)
	assert.Equal(t, 66.67, report.SuccessRate)
}

func TestReportEmptyStore(t *testing.T) {
	s := newTestStore(t)
	report, err := s.Report(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 0.0, report.SuccessRate)
}

func TestReportTenantFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, Classify(Outcome{Category: CategorySuccess, TenantID: "t1"})))
	require.NoError(t, s.Append(ctx, Classify(Outcome{Category: CategoryTimeout, TenantID: "t2"})))

	report, err := s.Report(ctx, 7, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Success)
}

func TestVerifyDetectsIntactSignature(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := Classify(Outcome{Category: CategoryHallucinationBlocked, TenantID: "t1"})
	require.NoError(t, s.Append(ctx, e))

	ok, err := s.Verify(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Verify(ctx, "tel_missing")
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := Classify(Outcome{Category: CategorySuccess, TenantID: "t1"})
	old.Timestamp = time.Now().UTC().AddDate(0, 0, -40)
	require.NoError(t, s.Append(ctx, old))
	require.NoError(t, s.Append(ctx, Classify(Outcome{Category: CategorySuccess, TenantID: "t1"})))

	n, err := s.Prune(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	report, err := s.Report(ctx, 60, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)

	// Retention disabled: no-op.
	n, err = s.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteJSONL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, Classify(Outcome{Category: CategorySuccess, TenantID: "t1"})))
	require.NoError(t, s.Append(ctx, Classify(Outcome{Category: CategoryTimeout, TenantID: "t2"})))

	var buf bytes.Buffer
	require.NoError(t, s.WriteJSONL(ctx, &buf, 7))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"category":"Success"`)
	assert.Contains(t, lines[1], `"category":"Timeout"`)
}

func TestSignerKeyValidation(t *testing.T) {
	_, err := NewSigner("short")
	assert.Error(t, err)

	_, err = NewSigner(testSigningKey)
	assert.NoError(t, err)

	// 64 hex chars decode to 32 bytes.
	_, err = NewSigner(strings.Repeat("ab", 32))
	assert.NoError(t, err)
}
