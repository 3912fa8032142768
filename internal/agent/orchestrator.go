// Package agent runs the governed question-answering loop: tenant
// attachment, session locking, bounded tool-calling against a single data
// source, evidence collection, answer grounding, and outcome
// classification. The model only ever sees tool names and tool results;
// connection strings and credentials stay on this side of the boundary.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/1274866478-stack/data-agent-sub005/internal/agent/tools"
	"github.com/1274866478-stack/data-agent-sub005/internal/datasource"
	"github.com/1274866478-stack/data-agent-sub005/internal/halluguard"
	"github.com/1274866478-stack/data-agent-sub005/internal/ledger"
	"github.com/1274866478-stack/data-agent-sub005/internal/llm"
	dqotel "github.com/1274866478-stack/data-agent-sub005/internal/otel"
	"github.com/1274866478-stack/data-agent-sub005/internal/policy"
	"github.com/1274866478-stack/data-agent-sub005/internal/requestctx"
	"github.com/1274866478-stack/data-agent-sub005/internal/session"
	"github.com/1274866478-stack/data-agent-sub005/internal/sqlguard"
	"github.com/1274866478-stack/data-agent-sub005/internal/tabular"
	"github.com/1274866478-stack/data-agent-sub005/internal/telemetry"
	"github.com/1274866478-stack/data-agent-sub005/internal/tenant"
)

var tracer = dqotel.Tracer("github.com/1274866478-stack/data-agent-sub005/internal/agent")

var (
	// errConnectFailed wraps failures to open or reach a resolved data
	// source. The raw connection error never reaches the caller.
	errConnectFailed = errors.New("data source connection failed")
	// errProvider wraps model provider failures that are not deadline
	// expirations.
	errProvider = errors.New("llm provider call failed")
	// errCallBudgetExhausted aborts a turn that keeps proposing tool
	// calls past the per-turn budget.
	errCallBudgetExhausted = errors.New("tool call budget exhausted")
)

// Config wires the orchestrator's collaborators. Policy, Guard, Sessions,
// Resolver, Provider, and Halluguard are required; the rest default to
// working instances when nil.
type Config struct {
	Policy     *policy.Policy
	Guard      *tenant.Guard
	Tenants    *tenant.Manager
	Sessions   *session.Manager
	Resolver   *datasource.Resolver
	Engine     *policy.Engine
	Provider   llm.Provider
	Model      string
	Telemetry  *telemetry.Store
	Halluguard *halluguard.Guard
	Validator  *sqlguard.Validator
	Inspector  *tabular.Inspector
	Breaker    *CircuitBreaker
	Failures   *ToolFailureTracker

	// SQLDriver names the database/sql driver used for relational
	// sources. Defaults to sqlite3.
	SQLDriver string
}

// AskRequest is one inbound natural-language question bound to a tenant,
// a session, and a data source.
type AskRequest struct {
	TenantID      string `json:"tenant_id"`
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id"`
	Query         string `json:"natural_language_query"`
	DataSourceRef string `json:"data_source_ref"`
}

// AskResponse is the delivered outcome of one turn. On failure Answer
// holds a generic message and ErrorCategory names the classified cause;
// internal error detail is never surfaced here.
type AskResponse struct {
	Answer           string          `json:"answer_text"`
	StructuredResult json.RawMessage `json:"structured_result,omitempty"`
	ChartSpec        json.RawMessage `json:"chart_spec,omitempty"`
	Blocked          bool            `json:"blocked"`
	ErrorCategory    string          `json:"error_category,omitempty"`
	CorrelationID    string          `json:"correlation_id"`
	DurationMS       int64           `json:"duration_ms"`
	ToolsCalled      []string        `json:"tools_called,omitempty"`
}

// Orchestrator executes turns. Safe for concurrent use; per-session
// serialization happens through the session manager's lock.
type Orchestrator struct {
	cfg       Config
	validator *sqlguard.Validator
	inspector *tabular.Inspector
	breaker   *CircuitBreaker
	failures  *ToolFailureTracker
	limits    policy.LimitsConfig
}

// New validates the configuration and builds an orchestrator. The SQL
// validator merges the built-in rule set with the policy's additions once,
// here, so every turn validates against the same compiled rules.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Policy == nil:
		return nil, errors.New("agent: policy is required")
	case cfg.Guard == nil:
		return nil, errors.New("agent: tenant guard is required")
	case cfg.Sessions == nil:
		return nil, errors.New("agent: session manager is required")
	case cfg.Resolver == nil:
		return nil, errors.New("agent: data source resolver is required")
	case cfg.Provider == nil:
		return nil, errors.New("agent: llm provider is required")
	case cfg.Halluguard == nil:
		return nil, errors.New("agent: hallucination guard is required")
	}

	o := &Orchestrator{
		cfg:       cfg,
		validator: cfg.Validator,
		inspector: cfg.Inspector,
		breaker:   cfg.Breaker,
		failures:  cfg.Failures,
		limits:    cfg.Policy.Limits,
	}
	if o.validator == nil {
		rules, err := sqlguard.DefaultRuleSet()
		if err != nil {
			return nil, fmt.Errorf("loading sql rules: %w", err)
		}
		if cfg.Policy.SQLRules != nil {
			rules = sqlguard.Merge(rules, *cfg.Policy.SQLRules)
		}
		o.validator, err = sqlguard.NewValidator(rules)
		if err != nil {
			return nil, fmt.Errorf("compiling sql rules: %w", err)
		}
	}
	if o.inspector == nil {
		o.inspector = tabular.NewInspector(50)
	}
	if o.breaker == nil {
		o.breaker = NewCircuitBreaker(5, time.Minute)
	}
	if o.failures == nil {
		o.failures = NewToolFailureTracker(10, 5*time.Minute)
	}
	if o.cfg.SQLDriver == "" {
		o.cfg.SQLDriver = "sqlite3"
	}
	if o.limits.MaxCorrectionAttempts <= 0 {
		o.limits.MaxCorrectionAttempts = 3
	}
	if o.limits.MaxToolCallsPerTurn <= 0 {
		o.limits.MaxToolCallsPerTurn = 20
	}
	if o.limits.ToolCallTimeoutSec <= 0 {
		o.limits.ToolCallTimeoutSec = 30
	}
	if o.limits.TurnTimeoutSec <= 0 {
		o.limits.TurnTimeoutSec = 120
	}
	return o, nil
}

// Ask runs one full turn. The returned response is always populated; err
// is non-nil only when the turn aborted before an answer could be
// delivered (the response then carries a generic message and the
// classified category). Every completed turn, aborted or not, lands in
// telemetry exactly once.
func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	start := time.Now()
	correlationID := "corr_" + uuid.New().String()[:12]

	ctx, span := tracer.Start(ctx, "agent.ask",
		trace.WithAttributes(
			attribute.String("correlation_id", correlationID),
			attribute.String("tenant_id", req.TenantID),
			attribute.String("data_source.ref", req.DataSourceRef),
		))
	defer span.End()

	ctx, tc, err := o.cfg.Guard.Attach(ctx, req.TenantID, req.UserID, req.SessionID)
	if err != nil {
		return o.abort(ctx, span, req, correlationID, start, categorize(err), err)
	}

	sess, release, err := o.cfg.Sessions.Acquire(ctx, tc.TenantID, tc.SessionID)
	if err != nil {
		return o.abort(ctx, span, req, correlationID, start, telemetry.CategoryTimeout, err)
	}
	defer release()

	if err := o.breaker.Check(tc.TenantID, tc.SessionID); err != nil {
		return o.abort(ctx, span, req, correlationID, start, telemetry.CategoryInvalidRequest, err)
	}

	if o.cfg.Tenants != nil && !o.cfg.Tenants.AllowsDataSource(tc.TenantID, req.DataSourceRef) {
		err := fmt.Errorf("tenant %s may not use data source %q", tc.TenantID, req.DataSourceRef)
		return o.abort(ctx, span, req, correlationID, start, telemetry.CategoryInvalidRequest, err)
	}

	ds, conn, err := o.cfg.Resolver.Resolve(ctx, req.DataSourceRef, tc.TenantID)
	if err != nil {
		cat := categorize(err)
		if cat == telemetry.CategoryUnknown {
			cat = telemetry.CategoryDataSourceConnectionFailure
			err = fmt.Errorf("%w: %v", errConnectFailed, err)
		}
		return o.abort(ctx, span, req, correlationID, start, cat, err)
	}

	reg, cleanup, err := o.buildRegistry(ds, conn)
	if err != nil {
		return o.abort(ctx, span, req, correlationID, start, categorize(err), err)
	}
	defer cleanup()

	turnCtx, cancel := context.WithTimeout(ctx, time.Duration(o.limits.TurnTimeoutSec)*time.Second)
	defer cancel()

	outcome := o.runLoop(turnCtx, tc, ds, reg, sess, req.Query)
	outcome.CorrelationID = correlationID
	outcome.DurationMS = time.Since(start).Milliseconds()

	if outcome.category != telemetry.CategorySuccess {
		outcome.ErrorCategory = string(outcome.category)
	}
	if outcome.delivered {
		// Any cleanly delivered turn counts as a successful probe for a
		// half-open circuit.
		o.breaker.RecordSuccess(tc.TenantID, tc.SessionID)
		sess.AppendExchange(req.Query, outcome.Answer)
	}

	o.record(ctx, tc.TenantID, outcome.category, time.Since(start))
	o.logOutcome(ctx, correlationID, tc.TenantID, outcome.category, outcome.Blocked, time.Since(start))
	span.SetAttributes(
		attribute.String("turn.category", string(outcome.category)),
		attribute.Bool("turn.blocked", outcome.Blocked),
	)
	if !outcome.delivered {
		span.SetStatus(codes.Error, string(outcome.category))
		outcome.Answer = userFacingError(outcome.category)
		return &outcome.AskResponse, outcome.cause
	}
	return &outcome.AskResponse, nil
}

// turnOutcome pairs the response under construction with classification
// state the loop accumulates.
type turnOutcome struct {
	AskResponse
	category  telemetry.Category
	delivered bool
	cause     error
}

// runLoop drives the model until it produces a terminal answer or the
// turn aborts. Rejected tool calls feed correction prompts back to the
// model up to the policy's correction budget.
func (o *Orchestrator) runLoop(ctx context.Context, tc requestctx.TenantContext, ds datasource.Descriptor, reg *tools.Registry, sess *session.Session, query string) *turnOutcome {
	dispatcher := tools.NewDispatcher(reg, o.cfg.Engine, time.Duration(o.limits.ToolCallTimeoutSec)*time.Second)
	led := ledger.New()
	required := ds.Kind.RequiredCapability()
	msgs := buildConversation(tc, ds, sess.History(), query)

	var (
		structured  json.RawMessage
		chartSpec   json.RawMessage
		lastToolErr error
		corrections int
		calls       int
	)

	for {
		resp, err := o.cfg.Provider.Generate(ctx, &llm.Request{
			Model:    o.cfg.Model,
			Messages: msgs,
			Tools:    reg.LLMTools(required),
		})
		if err != nil {
			if ctx.Err() != nil {
				return abortOutcome(telemetry.CategoryTimeout, ctx.Err(), led)
			}
			return abortOutcome(telemetry.CategoryLLMProviderError, fmt.Errorf("%w: %v", errProvider, err), led)
		}

		if len(resp.ToolCalls) == 0 {
			return o.finishAnswer(ctx, resp.Content, led, ds, required, structured, chartSpec, lastToolErr)
		}

		msgs = append(msgs, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if calls >= o.limits.MaxToolCallsPerTurn {
				return abortOutcome(telemetry.CategoryToolInvocationFailure,
					fmt.Errorf("%w: %d calls this turn", errCallBudgetExhausted, calls), led)
			}

			inv, derr := dispatcher.Dispatch(ctx, call, ds, calls)
			calls++
			led.Append(inv)

			if derr == nil {
				lastToolErr = nil
				switch inv.Capability {
				case required:
					structured = inv.Result
				case ledger.CapabilityChart:
					chartSpec = inv.Result
				}
				msgs = append(msgs, toolResult(call, string(inv.Result)))
				continue
			}

			lastToolErr = derr
			if ctx.Err() != nil {
				return abortOutcome(telemetry.CategoryTimeout, ctx.Err(), led)
			}

			if isCorrectable(derr) {
				o.breaker.RecordDenial(tc.TenantID, tc.SessionID)
				corrections++
				if corrections > o.limits.MaxCorrectionAttempts {
					return abortOutcome(categorize(derr),
						fmt.Errorf("correction budget exhausted after %d attempts: %w", corrections-1, derr), led)
				}
				msgs = append(msgs, toolResult(call, correctionFeedback(derr)))
				continue
			}

			o.failures.RecordToolFailure(tc.TenantID, tc.SessionID, call.Name, derr.Error())
			msgs = append(msgs, toolResult(call, "error: "+derr.Error()))
		}
	}
}

// finishAnswer handles a terminal model answer: grounding check, empty
// result detection, and delivery or replacement.
func (o *Orchestrator) finishAnswer(ctx context.Context, answer string, led *ledger.Ledger, ds datasource.Descriptor, required ledger.CapabilityClass, structured, chartSpec json.RawMessage, lastToolErr error) *turnOutcome {
	evidence := led.EvidenceFor(required)

	if evidence == 0 {
		if isClarification(answer) {
			return &turnOutcome{
				AskResponse: AskResponse{Answer: answer, ToolsCalled: led.ToolNames()},
				category:    telemetry.CategoryAmbiguousQuery,
				delivered:   true,
			}
		}
		if lastToolErr != nil {
			return abortOutcome(categorize(lastToolErr), lastToolErr, led)
		}
	}

	verdict := o.cfg.Halluguard.Check(ctx, answer, led, ds)
	if verdict.Blocked {
		return &turnOutcome{
			AskResponse: AskResponse{
				Answer:      halluguard.BlockedAnswerText,
				Blocked:     true,
				ToolsCalled: led.ToolNames(),
			},
			category:  telemetry.CategoryHallucinationBlocked,
			delivered: true,
		}
	}

	cat := telemetry.CategorySuccess
	if allResultsEmpty(led, required) {
		cat = telemetry.CategoryEmptyResult
	}
	return &turnOutcome{
		AskResponse: AskResponse{
			Answer:           answer,
			StructuredResult: structured,
			ChartSpec:        chartSpec,
			ToolsCalled:      led.ToolNames(),
		},
		category:  cat,
		delivered: true,
	}
}

// buildRegistry assembles the per-turn tool set for the resolved data
// source. conn is a DSN for relational sources and a file path for
// tabular files; neither ever appears in a prompt or a tool argument.
func (o *Orchestrator) buildRegistry(ds datasource.Descriptor, conn string) (*tools.Registry, func(), error) {
	reg := tools.NewRegistry()
	cleanup := func() {}

	switch ds.Kind {
	case datasource.KindRelational:
		q, err := tools.OpenQuerier(o.cfg.SQLDriver, conn)
		if err != nil {
			return nil, cleanup, fmt.Errorf("%w: %v", errConnectFailed, err)
		}
		cleanup = func() { _ = q.Close() }
		for _, t := range tools.SQLToolset(q, o.validator) {
			reg.Register(t)
		}
	case datasource.KindTabularFile:
		for _, t := range tools.FileToolset(o.inspector, conn) {
			reg.Register(t)
		}
	default:
		return nil, cleanup, fmt.Errorf("%w: %q", datasource.ErrUnknownKind, ds.Kind)
	}

	reg.Register(&tools.RenderChartTool{})
	return reg, cleanup, nil
}

// abort builds the failure response for a turn that never reached the
// model loop, records telemetry, and returns the cause.
func (o *Orchestrator) abort(ctx context.Context, span trace.Span, req AskRequest, correlationID string, start time.Time, cat telemetry.Category, cause error) (*AskResponse, error) {
	o.record(ctx, req.TenantID, cat, time.Since(start))
	o.logOutcome(ctx, correlationID, req.TenantID, cat, false, time.Since(start))
	span.RecordError(cause)
	span.SetStatus(codes.Error, string(cat))
	return &AskResponse{
		Answer:        userFacingError(cat),
		ErrorCategory: string(cat),
		CorrelationID: correlationID,
		DurationMS:    time.Since(start).Milliseconds(),
	}, cause
}

// abortOutcome wraps a mid-loop failure.
func abortOutcome(cat telemetry.Category, cause error, led *ledger.Ledger) *turnOutcome {
	return &turnOutcome{
		AskResponse: AskResponse{
			ErrorCategory: string(cat),
			ToolsCalled:   led.ToolNames(),
		},
		category: cat,
		cause:    cause,
	}
}

// record classifies the outcome into telemetry. Uses a detached context
// so cancelled turns are still counted.
func (o *Orchestrator) record(ctx context.Context, tenantID string, cat telemetry.Category, dur time.Duration) {
	if o.cfg.Telemetry == nil {
		return
	}
	entry := telemetry.Classify(telemetry.Outcome{
		Category: cat,
		TenantID: tenantID,
		Duration: dur,
	})
	if err := o.cfg.Telemetry.Append(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).
			Str("tenant_id", tenantID).
			Str("category", string(cat)).
			Msg("telemetry_append_failed")
	}
}

func (o *Orchestrator) logOutcome(ctx context.Context, correlationID, tenantID string, cat telemetry.Category, blocked bool, dur time.Duration) {
	evt := log.Info()
	if !cat.Succeeded() {
		evt = log.Warn()
	}
	evt.Str("correlation_id", correlationID).
		Str("tenant_id", tenantID).
		Str("category", string(cat)).
		Bool("blocked", blocked).
		Int64("duration_ms", dur.Milliseconds()).
		Func(dqotel.LogTraceFields(ctx)).
		Msg("turn_classified")
}

// isCorrectable reports whether a dispatch error should be fed back to
// the model as a correction prompt rather than failing the turn.
func isCorrectable(err error) bool {
	return errors.Is(err, tools.ErrSQLPolicyViolation) ||
		errors.Is(err, tools.ErrCapabilityMismatch) ||
		errors.Is(err, tools.ErrPolicyDenied) ||
		errors.Is(err, tools.ErrUnknownTool)
}

// toolResult wraps a tool payload (or rejection feedback) as the
// tool-role message the providers expect.
func toolResult(call llm.ToolCall, content string) llm.Message {
	return llm.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    content,
	}
}

// allResultsEmpty reports whether the matching-class evidence all carries
// zero rows. Results without a row_count field (schema listings) do not
// count either way; at least one counted result is required.
func allResultsEmpty(led *ledger.Ledger, required ledger.CapabilityClass) bool {
	counted := false
	for _, inv := range led.All() {
		if !inv.Succeeded || inv.Capability != required {
			continue
		}
		var payload struct {
			RowCount *int `json:"row_count"`
		}
		if err := json.Unmarshal(inv.Result, &payload); err != nil || payload.RowCount == nil {
			continue
		}
		counted = true
		if *payload.RowCount > 0 {
			return false
		}
	}
	return counted
}
