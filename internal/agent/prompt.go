package agent

import (
	"fmt"
	"strings"

	"github.com/1274866478-stack/data-agent-sub005/internal/datasource"
	"github.com/1274866478-stack/data-agent-sub005/internal/llm"
	"github.com/1274866478-stack/data-agent-sub005/internal/requestctx"
	"github.com/1274866478-stack/data-agent-sub005/internal/session"
)

// historyLimit bounds how many past exchanges are replayed into the
// conversation.
const historyLimit = 10

// systemPrompt pins the model to the tenant and the session's data source.
// The tenant scope instruction is reinforced here, but enforcement happens
// in the validator and the capability gate, never in the prompt alone.
func systemPrompt(tc requestctx.TenantContext, ds datasource.Descriptor) string {
	var b strings.Builder
	b.WriteString("You are a data analyst answering questions strictly from the connected data source.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Only state facts you obtained from tool results in this conversation. Never invent data.\n")
	b.WriteString("- If the question is too vague to answer, ask one short clarifying question instead of guessing.\n")
	switch ds.Kind {
	case datasource.KindRelational:
		b.WriteString("- The data source is a relational database. Use list_tables, get_schema, and execute_sql.\n")
		b.WriteString("- Queries must be single read-only SELECT statements.\n")
		fmt.Fprintf(&b, "- Always filter tenant-scoped tables to tenant_id = '%s'.\n", tc.TenantID)
	case datasource.KindTabularFile:
		b.WriteString("- The data source is a tabular file. Use inspect_file and analyze_dataframe. SQL tools are unavailable.\n")
	}
	b.WriteString("- Use render_chart when the user asks for a visualization.\n")
	return b.String()
}

// buildConversation assembles the message list for a turn: system prompt,
// recent session history, then the current question.
func buildConversation(tc requestctx.TenantContext, ds datasource.Descriptor, history []session.Exchange, query string) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: systemPrompt(tc, ds)}}

	start := 0
	if len(history) > historyLimit {
		start = len(history) - historyLimit
	}
	for _, ex := range history[start:] {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: ex.Question},
			llm.Message{Role: "assistant", Content: ex.Answer},
		)
	}

	return append(msgs, llm.Message{Role: "user", Content: query})
}

// correctionFeedback is the tool-result text fed back to the model when a
// proposed call was rejected by a guardrail, phrased so the model can
// propose a corrected call.
func correctionFeedback(err error) string {
	return "rejected: " + err.Error() + ". Propose a corrected tool call that satisfies the constraint."
}
