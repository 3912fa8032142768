package halluguard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1274866478-stack/data-agent-sub005/internal/datasource"
	"github.com/1274866478-stack/data-agent-sub005/internal/ledger"
)

func newGuard(t *testing.T, opts ...Option) *Guard {
	t.Helper()
	g, err := NewGuard(opts...)
	require.NoError(t, err)
	return g
}

func relational() datasource.Descriptor {
	return datasource.Descriptor{Kind: datasource.KindRelational, ConnectionRef: "sales"}
}

func tabular() datasource.Descriptor {
	return datasource.Descriptor{Kind: datasource.KindTabularFile, ConnectionRef: "uploads"}
}

func TestCheckBlocksWithoutEvidence(t *testing.T) {
	g := newGuard(t)
	led := ledger.New()

	verdict := g.Check(context.Background(), "Revenue was 1.2M last quarter.", led, relational())
	assert.True(t, verdict.Blocked)
	assert.Equal(t, ReasonNoEvidence, verdict.ReasonCode)
	assert.Equal(t, 0, verdict.EvidenceCount)
}

func TestCheckBlocksChinesePlaceholderAnswerWithEmptyLedger(t *testing.T) {
	g := newGuard(t)
	led := ledger.New()

	verdict := g.Check(context.Background(), "用户列表：张三、李四、王五", led, relational())
	assert.True(t, verdict.Blocked)
	assert.Equal(t, ReasonNoEvidenceFabrication, verdict.ReasonCode)
	assert.Equal(t, "stock_test_names_zh", verdict.MatchedPattern)
}

func TestCheckBlocksWrongClassEvidence(t *testing.T) {
	g := newGuard(t)
	led := ledger.New()
	// Only file-class evidence against a relational source.
	led.Append(ledger.ToolInvocation{ToolName: "analyze_dataframe", Capability: ledger.CapabilityFile, Succeeded: true})

	verdict := g.Check(context.Background(), "The top customer is Acme.", led, relational())
	assert.True(t, verdict.Blocked)
	assert.Equal(t, ReasonWrongToolClass, verdict.ReasonCode)
	assert.Equal(t, 0, verdict.EvidenceCount)
}

func TestCheckPassesWithMatchingEvidence(t *testing.T) {
	g := newGuard(t)
	led := ledger.New()
	led.Append(ledger.ToolInvocation{ToolName: "execute_sql", Capability: ledger.CapabilitySQL, Succeeded: true})

	verdict := g.Check(context.Background(), "There were 42 orders yesterday.", led, relational())
	assert.False(t, verdict.Blocked)
	assert.Empty(t, verdict.ReasonCode)
	assert.Equal(t, 1, verdict.EvidenceCount)
}

func TestCheckFabricationAloneDoesNotBlock(t *testing.T) {
	g := newGuard(t)
	led := ledger.New()
	led.Append(ledger.ToolInvocation{ToolName: "execute_sql", Capability: ledger.CapabilitySQL, Succeeded: true})

	// Real data can contain common names; with evidence present the
	// signature match must not block.
	verdict := g.Check(context.Background(), "客户包括张三和李四。", led, relational())
	assert.False(t, verdict.Blocked)
}

func TestCheckFailedInvocationsAreNotEvidence(t *testing.T) {
	g := newGuard(t)
	led := ledger.New()
	led.Append(ledger.ToolInvocation{ToolName: "execute_sql", Capability: ledger.CapabilitySQL, Succeeded: false, Error: "timeout"})

	verdict := g.Check(context.Background(), "Revenue was fine.", led, relational())
	assert.True(t, verdict.Blocked)
	assert.Equal(t, ReasonNoEvidence, verdict.ReasonCode)
}

func TestCheckTabularFileRequiresFileEvidence(t *testing.T) {
	g := newGuard(t)
	led := ledger.New()
	led.Append(ledger.ToolInvocation{ToolName: "execute_sql", Capability: ledger.CapabilitySQL, Succeeded: true})

	verdict := g.Check(context.Background(), "The CSV has 10 rows.", led, tabular())
	assert.True(t, verdict.Blocked)
	assert.Equal(t, ReasonWrongToolClass, verdict.ReasonCode)

	led.Append(ledger.ToolInvocation{ToolName: "analyze_dataframe", Capability: ledger.CapabilityFile, Succeeded: true})
	verdict = g.Check(context.Background(), "The CSV has 10 rows.", led, tabular())
	assert.False(t, verdict.Blocked)
}

func TestDefaultRecognizers(t *testing.T) {
	recs, err := DefaultRecognizers()
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
	names := make(map[string]bool)
	for _, r := range recs {
		names[r.Name] = true
		assert.NotEmpty(t, r.Regex)
	}
	assert.True(t, names["stock_test_names_zh"])
	assert.True(t, names["sequential_anonymous_ids"])
}

func TestSequentialIDRecognizer(t *testing.T) {
	g := newGuard(t)
	led := ledger.New()

	verdict := g.Check(context.Background(), "Results: user_1, user_2, user_3", led, relational())
	assert.True(t, verdict.Blocked)
	assert.Equal(t, ReasonNoEvidenceFabrication, verdict.ReasonCode)
	assert.Equal(t, "sequential_anonymous_ids", verdict.MatchedPattern)
}

func TestWithExtraRecognizers(t *testing.T) {
	g := newGuard(t, WithoutDefaults(), WithExtraRecognizers([]Recognizer{
		{Name: "acme_placeholder", Regex: `(?i)\bacme\s+corp\b`},
	}))
	led := ledger.New()

	verdict := g.Check(context.Background(), "Top customer: Acme Corp", led, relational())
	assert.Equal(t, ReasonNoEvidenceFabrication, verdict.ReasonCode)
	assert.Equal(t, "acme_placeholder", verdict.MatchedPattern)

	// Default signatures are inactive.
	verdict = g.Check(context.Background(), "张三", led, relational())
	assert.Equal(t, ReasonNoEvidence, verdict.ReasonCode)
}

func TestNewGuardRejectsBadRegex(t *testing.T) {
	_, err := NewGuard(WithExtraRecognizers([]Recognizer{{Name: "bad", Regex: "("}}))
	assert.Error(t, err)
}
