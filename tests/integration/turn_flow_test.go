//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1274866478-stack/data-agent-sub005/internal/agent"
	"github.com/1274866478-stack/data-agent-sub005/internal/llm"
	"github.com/1274866478-stack/data-agent-sub005/internal/telemetry"
)

func askBody(ref string) agent.AskRequest {
	return agent.AskRequest{
		TenantID:      "tenant-a",
		UserID:        "analyst-1",
		SessionID:     "sess-int-1",
		Query:         "What is our total order amount?",
		DataSourceRef: ref,
	}
}

func TestHTTPAskSQLTurn(t *testing.T) {
	provider := llm.NewScripted(
		&llm.Response{ToolCalls: []llm.ToolCall{
			execSQL("call_1", "SELECT SUM(amount) AS total FROM orders WHERE tenant_id = 'tenant-a'"),
		}},
		&llm.Response{Content: "The total order amount is 42."},
	)
	st := setupStack(t, provider)

	resp, out := postAsk(t, st.ts, "key-a", askBody("orders"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "The total order amount is 42.", out.Answer)
	assert.False(t, out.Blocked)
	assert.Empty(t, out.ErrorCategory)
	assert.Equal(t, []string{"execute_sql"}, out.ToolsCalled)
	assert.True(t, strings.HasPrefix(out.CorrelationID, "corr_"))
}

func TestHTTPAskRequiresValidKey(t *testing.T) {
	st := setupStack(t, llm.NewScripted(&llm.Response{Content: "unreachable"}))

	resp, _ := postAsk(t, st.ts, "", askBody("orders"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postAsk(t, st.ts, "not-a-key", askBody("orders"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPAskCrossTenantSourceDenied(t *testing.T) {
	// tenant-b may only bind to "orders"; sales_csv is not on its list.
	st := setupStack(t, llm.NewScripted(&llm.Response{Content: "unreachable"}))

	req := askBody("sales_csv")
	req.TenantID = "tenant-b"
	resp, out := postAsk(t, st.ts, "key-b", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(telemetry.CategoryInvalidRequest), out.ErrorCategory)
}

func TestHTTPPolicyViolationIsCorrected(t *testing.T) {
	provider := llm.NewScripted(
		&llm.Response{ToolCalls: []llm.ToolCall{
			execSQL("call_1", "DELETE FROM orders WHERE tenant_id = 'tenant-a'"),
		}},
		&llm.Response{ToolCalls: []llm.ToolCall{
			execSQL("call_2", "SELECT COUNT(*) AS n FROM orders WHERE tenant_id = 'tenant-a'"),
		}},
		&llm.Response{Content: "There are 2 orders."},
	)
	st := setupStack(t, provider)

	resp, out := postAsk(t, st.ts, "key-a", askBody("orders"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "There are 2 orders.", out.Answer)
	assert.Empty(t, out.ErrorCategory)

	report, err := st.store.Report(context.Background(), 30, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Success)
}

func TestHTTPBlockedAnswerReplaced(t *testing.T) {
	// The scripted model answers with data despite never calling a tool.
	provider := llm.NewScripted(
		&llm.Response{Content: "Your top customer is ACME Corp with $1,234,567 in revenue."},
	)
	st := setupStack(t, provider)

	resp, out := postAsk(t, st.ts, "key-a", askBody("orders"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Blocked)
	assert.NotContains(t, out.Answer, "ACME")
	assert.Equal(t, string(telemetry.CategoryHallucinationBlocked), out.ErrorCategory)
}

func TestHTTPTabularFileTurn(t *testing.T) {
	provider := llm.NewScripted(
		&llm.Response{ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "analyze_dataframe", Arguments: []byte(`{}`)},
		}},
		&llm.Response{Content: "North and south regions together total 42."},
	)
	st := setupStack(t, provider)

	resp, out := postAsk(t, st.ts, "key-a", askBody("sales_csv"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"analyze_dataframe"}, out.ToolsCalled)
	assert.False(t, out.Blocked)
}

func TestHTTPReportScopedByAPIKey(t *testing.T) {
	provider := llm.NewScripted(
		&llm.Response{ToolCalls: []llm.ToolCall{
			execSQL("call_1", "SELECT SUM(amount) AS total FROM orders WHERE tenant_id = 'tenant-a'"),
		}},
		&llm.Response{Content: "42."},
	)
	st := setupStack(t, provider)

	resp, _ := postAsk(t, st.ts, "key-a", askBody("orders"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	get := func(key string) *telemetry.Report {
		req, err := http.NewRequest(http.MethodGet, st.ts.URL+"/v1/report", nil)
		require.NoError(t, err)
		req.Header.Set("X-API-Key", key)
		httpResp, err := st.ts.Client().Do(req)
		require.NoError(t, err)
		defer httpResp.Body.Close()
		require.Equal(t, http.StatusOK, httpResp.StatusCode)
		var report telemetry.Report
		require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&report))
		return &report
	}

	reportA := get("key-a")
	assert.Equal(t, 1, reportA.Total)

	reportB := get("key-b")
	assert.Equal(t, 0, reportB.Total)

	// The closed taxonomy: category counts always sum to the total.
	sum := 0
	for _, n := range reportA.CategoryCounts {
		sum += n
	}
	assert.Equal(t, reportA.Total, sum)
}
