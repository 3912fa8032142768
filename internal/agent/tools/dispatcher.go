package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/1274866478-stack/data-agent-sub005/internal/datasource"
	"github.com/1274866478-stack/data-agent-sub005/internal/ledger"
	"github.com/1274866478-stack/data-agent-sub005/internal/llm"
	dqotel "github.com/1274866478-stack/data-agent-sub005/internal/otel"
	"github.com/1274866478-stack/data-agent-sub005/internal/policy"
)

var tracer = dqotel.Tracer("github.com/1274866478-stack/data-agent-sub005/internal/agent/tools")

var (
	// ErrUnknownTool is returned when the model asks for a tool that is
	// not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrCapabilityMismatch is returned when a tool's capability class
	// does not match the session's data source. The call is recorded in
	// the ledger as a failed invocation, never executed.
	ErrCapabilityMismatch = errors.New("tool capability does not match data source")
	// ErrPolicyDenied is returned when the deployment policy denies the
	// tool call.
	ErrPolicyDenied = errors.New("tool call denied by policy")
	// ErrSQLPolicyViolation is returned by SQL tools when the proposed
	// query fails validation.
	ErrSQLPolicyViolation = errors.New("sql policy violation")
	// ErrSchemaNotFound is returned when a referenced table does not
	// exist in the data source.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrBadArguments is returned when tool arguments fail to parse or
	// have the wrong shape.
	ErrBadArguments = errors.New("invalid tool arguments")
)

// wrongToolClassError is the synthetic result recorded in the ledger when
// a tool call is rejected at the capability gate.
const wrongToolClassError = "wrong_tool_class"

// Dispatcher routes validated tool calls to their implementations. Every
// call passes the capability gate and the deployment policy before
// executing under the per-call timeout.
type Dispatcher struct {
	registry    *Registry
	engine      *policy.Engine
	callTimeout time.Duration
}

// NewDispatcher creates a dispatcher. engine may be nil to skip policy
// evaluation (tests); callTimeout <= 0 defaults to 30 seconds.
func NewDispatcher(registry *Registry, engine *policy.Engine, callTimeout time.Duration) *Dispatcher {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Dispatcher{
		registry:    registry,
		engine:      engine,
		callTimeout: callTimeout,
	}
}

// Dispatch executes one model-proposed tool call and returns the ledger
// record for it. The record is always populated, also on rejection, so the
// caller can append it as evidence of what actually happened. The error
// carries the typed rejection cause when the call did not execute cleanly.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCall, ds datasource.Descriptor, callsThisTurn int) (ledger.ToolInvocation, error) {
	ctx, span := tracer.Start(ctx, "tools.dispatch",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("data_source.kind", string(ds.Kind)),
		))
	defer span.End()

	inv := ledger.ToolInvocation{
		ToolName:  call.Name,
		Arguments: call.Arguments,
		Timestamp: time.Now().UTC(),
	}

	tool, ok := d.registry.Get(call.Name)
	if !ok {
		inv.Error = "unknown_tool"
		span.SetStatus(codes.Error, "unknown tool")
		return inv, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	inv.Capability = tool.Capability()

	if d.engine != nil {
		decision, err := d.engine.EvaluateToolAccess(ctx, call.Name, callsThisTurn)
		if err != nil {
			inv.Error = "policy_evaluation_failed"
			span.RecordError(err)
			return inv, fmt.Errorf("evaluating tool access: %w", err)
		}
		if !decision.Allowed {
			inv.Error = "policy_denied: " + strings.Join(decision.Reasons, "; ")
			span.SetStatus(codes.Error, "policy denied")
			return inv, fmt.Errorf("%w: %s", ErrPolicyDenied, strings.Join(decision.Reasons, "; "))
		}
	}

	// Capability gate: sql tools only run against relational sources,
	// file tools only against tabular files. Chart tools work on both.
	required := ds.Kind.RequiredCapability()
	if tool.Capability() != required && tool.Capability() != ledger.CapabilityChart {
		inv.Error = wrongToolClassError
		span.SetStatus(codes.Error, wrongToolClassError)
		return inv, fmt.Errorf("%w: tool %q is %s-class, source %q requires %s",
			ErrCapabilityMismatch, call.Name, tool.Capability(), ds.ConnectionRef, required)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	result, err := tool.Execute(callCtx, call.Arguments)
	if err != nil {
		inv.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return inv, err
	}

	inv.Result = result
	inv.Succeeded = true
	span.SetStatus(codes.Ok, "tool executed")
	return inv, nil
}
