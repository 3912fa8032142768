package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/1274866478-stack/data-agent-sub005/internal/agent/tools"
	"github.com/1274866478-stack/data-agent-sub005/internal/datasource"
	"github.com/1274866478-stack/data-agent-sub005/internal/telemetry"
	"github.com/1274866478-stack/data-agent-sub005/internal/tenant"
)

// categorize maps a terminal turn error to exactly one telemetry category.
func categorize(err error) telemetry.Category {
	switch {
	case err == nil:
		return telemetry.CategorySuccess
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return telemetry.CategoryTimeout
	case errors.Is(err, tenant.ErrMissingTenant):
		return telemetry.CategoryMissingTenant
	case errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, tenant.ErrRateLimitExceeded),
		errors.Is(err, tenant.ErrInvalidAPIKey),
		errors.Is(err, datasource.ErrUnknownRef),
		errors.Is(err, datasource.ErrUnknownKind):
		return telemetry.CategoryInvalidRequest
	case errors.Is(err, tools.ErrSQLPolicyViolation):
		return telemetry.CategorySQLPolicyViolation
	case errors.Is(err, tools.ErrCapabilityMismatch):
		return telemetry.CategoryCapabilityMismatch
	case errors.Is(err, tools.ErrSchemaNotFound):
		return telemetry.CategorySchemaNotFound
	case errors.Is(err, tools.ErrBadArguments):
		return telemetry.CategoryTypeMismatch
	case errors.Is(err, tools.ErrPolicyDenied),
		errors.Is(err, tools.ErrUnknownTool):
		return telemetry.CategoryToolInvocationFailure
	case errors.Is(err, errConnectFailed):
		return telemetry.CategoryDataSourceConnectionFailure
	case errors.Is(err, errProvider):
		return telemetry.CategoryLLMProviderError
	default:
		return telemetry.CategoryUnknown
	}
}

// userFacingError maps a failure category to a generic, non-leaking
// message. Internal errors and raw tool payloads never reach the caller.
func userFacingError(cat telemetry.Category) string {
	switch cat {
	case telemetry.CategoryMissingTenant:
		return "The request is missing tenant identification and cannot be processed."
	case telemetry.CategoryInvalidRequest:
		return "The request could not be accepted. Check the tenant, session, and data source reference."
	case telemetry.CategoryDataSourceConnectionFailure:
		return "The data source could not be reached. Please try again later."
	case telemetry.CategorySchemaNotFound:
		return "The data needed to answer this question was not found in the data source."
	case telemetry.CategoryTimeout:
		return "The question took too long to answer and was aborted. Try a narrower question."
	case telemetry.CategoryLLMProviderError:
		return "The answering service is temporarily unavailable. Please try again later."
	case telemetry.CategorySQLPolicyViolation, telemetry.CategoryCapabilityMismatch:
		return "The question could not be answered within the allowed data access rules."
	default:
		return "The question could not be answered. Please try again or rephrase."
	}
}

// isClarification reports whether a no-evidence answer is a clarifying
// question rather than a data claim. Clarifications are legitimate without
// tool evidence.
func isClarification(answer string) bool {
	trimmed := strings.TrimSpace(answer)
	return strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "？")
}
