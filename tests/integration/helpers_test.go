//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/1274866478-stack/data-agent-sub005/internal/agent"
	"github.com/1274866478-stack/data-agent-sub005/internal/datasource"
	"github.com/1274866478-stack/data-agent-sub005/internal/halluguard"
	"github.com/1274866478-stack/data-agent-sub005/internal/llm"
	"github.com/1274866478-stack/data-agent-sub005/internal/policy"
	"github.com/1274866478-stack/data-agent-sub005/internal/server"
	"github.com/1274866478-stack/data-agent-sub005/internal/telemetry"
	"github.com/1274866478-stack/data-agent-sub005/internal/tenant"
	"github.com/1274866478-stack/data-agent-sub005/internal/testutil"

	"github.com/1274866478-stack/data-agent-sub005/internal/secrets"
	"github.com/1274866478-stack/data-agent-sub005/internal/session"
)

// stack holds the fully wired system under test: real policy file, tenant
// registry, vault, telemetry store, and an HTTP server — only the LLM
// provider is scripted.
type stack struct {
	ts    *httptest.Server
	store *telemetry.Store
	vault *secrets.Vault
	pol   *policy.Policy
}

// setupStack wires the whole system the way serve does, over a scripted
// provider and seeded SQLite/CSV fixtures.
func setupStack(t *testing.T, provider llm.Provider) *stack {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	policyPath := testutil.WritePolicyFile(t, dir, testutil.SeedOrdersDB(t), testutil.SeedSalesCSV(t))
	pol, err := policy.Load(ctx, policyPath, dir)
	require.NoError(t, err)

	engine, err := policy.NewEngine(ctx, pol)
	require.NoError(t, err)

	tenants, err := tenant.LoadFile(testutil.WriteTenantsFile(t, dir))
	require.NoError(t, err)
	tm := tenant.NewManager(tenants)

	vault := testutil.NewVault(t)
	store := testutil.NewTelemetryStore(t)

	resolver, err := datasource.NewResolver(pol.DataSources, vault)
	require.NoError(t, err)

	hg, err := halluguard.NewGuard(halluguard.WithExtraRecognizers(pol.Fabrication))
	require.NoError(t, err)

	orch, err := agent.New(agent.Config{
		Policy:     pol,
		Guard:      tenant.NewGuard(tm),
		Tenants:    tm,
		Sessions:   session.NewManager(),
		Resolver:   resolver,
		Engine:     engine,
		Provider:   provider,
		Model:      "test-model",
		Telemetry:  store,
		Halluguard: hg,
	})
	require.NoError(t, err)

	srv := server.NewServer(orch, tm, store, pol)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &stack{ts: ts, store: store, vault: vault, pol: pol}
}

// postAsk sends a question to /v1/ask with the given API key and decodes the
// response body.
func postAsk(t *testing.T, ts *httptest.Server, apiKey string, req agent.AskRequest) (*http.Response, agent.AskResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/ask", bytes.NewReader(body))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("X-API-Key", apiKey)
	}

	resp, err := ts.Client().Do(httpReq)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var out agent.AskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func execSQL(id, query string) llm.ToolCall {
	args, _ := json.Marshal(map[string]string{"sql": query})
	return llm.ToolCall{ID: id, Name: "execute_sql", Arguments: args}
}
