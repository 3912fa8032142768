package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1274866478-stack/data-agent-sub005/internal/datasource"
	"github.com/1274866478-stack/data-agent-sub005/internal/ledger"
	"github.com/1274866478-stack/data-agent-sub005/internal/llm"
	"github.com/1274866478-stack/data-agent-sub005/internal/policy"
)

// stubTool is a configurable in-memory tool for dispatcher tests.
type stubTool struct {
	name       string
	capability ledger.CapabilityClass
	result     json.RawMessage
	err        error
	delay      time.Duration
}

func (s *stubTool) Name() string                       { return s.name }
func (s *stubTool) Description() string                { return "stub" }
func (s *stubTool) Capability() ledger.CapabilityClass { return s.capability }
func (s *stubTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (s *stubTool) Execute(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

var (
	relationalDS = datasource.Descriptor{Kind: datasource.KindRelational, ConnectionRef: "warehouse"}
	fileDS       = datasource.Descriptor{Kind: datasource.KindTabularFile, ConnectionRef: "exports"}
)

func newStubRegistry() *Registry {
	r := NewRegistry()
	r.Register(&stubTool{name: "execute_sql", capability: ledger.CapabilitySQL, result: json.RawMessage(`{"rows": []}`)})
	r.Register(&stubTool{name: "inspect_file", capability: ledger.CapabilityFile, result: json.RawMessage(`{"columns": []}`)})
	r.Register(&stubTool{name: "render_chart", capability: ledger.CapabilityChart, result: json.RawMessage(`{"chart_type": "bar"}`)})
	return r
}

func TestDispatchSuccess(t *testing.T) {
	d := NewDispatcher(newStubRegistry(), nil, 0)

	inv, err := d.Dispatch(context.Background(),
		llm.ToolCall{ID: "1", Name: "execute_sql", Arguments: json.RawMessage(`{"sql": "SELECT 1"}`)},
		relationalDS, 0)
	require.NoError(t, err)

	assert.True(t, inv.Succeeded)
	assert.Equal(t, "execute_sql", inv.ToolName)
	assert.Equal(t, ledger.CapabilitySQL, inv.Capability)
	assert.JSONEq(t, `{"rows": []}`, string(inv.Result))
	assert.False(t, inv.Timestamp.IsZero())
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(newStubRegistry(), nil, 0)

	inv, err := d.Dispatch(context.Background(),
		llm.ToolCall{Name: "send_email", Arguments: json.RawMessage(`{}`)}, relationalDS, 0)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.False(t, inv.Succeeded)
	assert.Equal(t, "unknown_tool", inv.Error)
}

func TestDispatchCapabilityGate(t *testing.T) {
	d := NewDispatcher(newStubRegistry(), nil, 0)
	ctx := context.Background()

	// sql tool against a tabular file source is rejected before execution.
	inv, err := d.Dispatch(ctx, llm.ToolCall{Name: "execute_sql", Arguments: json.RawMessage(`{}`)}, fileDS, 0)
	assert.ErrorIs(t, err, ErrCapabilityMismatch)
	assert.False(t, inv.Succeeded)
	assert.Equal(t, "wrong_tool_class", inv.Error)

	// file tool against a relational source is rejected too.
	_, err = d.Dispatch(ctx, llm.ToolCall{Name: "inspect_file", Arguments: json.RawMessage(`{}`)}, relationalDS, 0)
	assert.ErrorIs(t, err, ErrCapabilityMismatch)

	// chart tools run against either kind.
	inv, err = d.Dispatch(ctx, llm.ToolCall{Name: "render_chart", Arguments: json.RawMessage(`{}`)}, relationalDS, 0)
	require.NoError(t, err)
	assert.True(t, inv.Succeeded)

	inv, err = d.Dispatch(ctx, llm.ToolCall{Name: "render_chart", Arguments: json.RawMessage(`{}`)}, fileDS, 0)
	require.NoError(t, err)
	assert.True(t, inv.Succeeded)
}

func TestDispatchRecordsToolFailure(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "execute_sql", capability: ledger.CapabilitySQL, err: errors.New("table vanished")})
	d := NewDispatcher(r, nil, 0)

	inv, err := d.Dispatch(context.Background(),
		llm.ToolCall{Name: "execute_sql", Arguments: json.RawMessage(`{}`)}, relationalDS, 0)
	require.Error(t, err)
	assert.False(t, inv.Succeeded)
	assert.Equal(t, "table vanished", inv.Error)
}

func TestDispatchPerCallTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "execute_sql", capability: ledger.CapabilitySQL, delay: time.Second})
	d := NewDispatcher(r, nil, 20*time.Millisecond)

	_, err := d.Dispatch(context.Background(),
		llm.ToolCall{Name: "execute_sql", Arguments: json.RawMessage(`{}`)}, relationalDS, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatchPolicyDenied(t *testing.T) {
	pol := policy.Default()
	pol.Capabilities = &policy.CapabilitiesConfig{DeniedTools: []string{"execute_sql"}}
	eng, err := policy.NewEngine(context.Background(), pol)
	require.NoError(t, err)

	d := NewDispatcher(newStubRegistry(), eng, 0)
	inv, err := d.Dispatch(context.Background(),
		llm.ToolCall{Name: "execute_sql", Arguments: json.RawMessage(`{}`)}, relationalDS, 0)
	assert.ErrorIs(t, err, ErrPolicyDenied)
	assert.Contains(t, inv.Error, "policy_denied")
}

func TestRegistryLLMTools(t *testing.T) {
	r := newStubRegistry()

	all := r.LLMTools("")
	assert.Len(t, all, 3)

	// sql view: sql-class plus chart-class.
	sqlView := r.LLMTools(ledger.CapabilitySQL)
	names := make([]string, 0, len(sqlView))
	for _, tl := range sqlView {
		names = append(names, tl.Name)
	}
	assert.Equal(t, []string{"execute_sql", "render_chart"}, names)
}
