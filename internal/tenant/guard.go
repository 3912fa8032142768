package tenant

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dqotel "github.com/1274866478-stack/data-agent-sub005/internal/otel"
	"github.com/1274866478-stack/data-agent-sub005/internal/requestctx"
)

var tracer = dqotel.Tracer("github.com/1274866478-stack/data-agent-sub005/internal/tenant")

// ErrMissingTenant is returned when a request carries no usable tenant
// identity. The guard fails closed: no turn runs without it.
var ErrMissingTenant = errors.New("missing tenant context")

// Guard attaches validated tenant context to a turn before anything else
// runs. Every downstream component reads tenant identity from the context
// rather than from request parameters.
type Guard struct {
	manager *Manager
}

// NewGuard creates a guard over the given tenant manager. A nil manager
// skips registry validation and only enforces presence.
func NewGuard(manager *Manager) *Guard {
	return &Guard{manager: manager}
}

// Attach validates the identity fields and returns a context carrying the
// tenant. Empty tenant or user IDs fail closed with ErrMissingTenant; an
// unregistered or rate-limited tenant fails with the manager's error.
func (g *Guard) Attach(ctx context.Context, tenantID, userID, sessionID string) (context.Context, requestctx.TenantContext, error) {
	ctx, span := tracer.Start(ctx, "tenant.attach",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("session_id", sessionID),
		))
	defer span.End()

	tc := requestctx.TenantContext{
		TenantID:  tenantID,
		UserID:    userID,
		SessionID: sessionID,
	}
	if !tc.Valid() {
		span.SetStatus(codes.Error, "missing tenant context")
		return ctx, requestctx.TenantContext{}, ErrMissingTenant
	}

	if g.manager != nil {
		if err := g.manager.ValidateRequest(tenantID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return ctx, requestctx.TenantContext{}, fmt.Errorf("validating tenant %s: %w", tenantID, err)
		}
	}

	return requestctx.WithTenant(ctx, tc), tc, nil
}
