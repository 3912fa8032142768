// Package telemetry classifies completed turns into a closed outcome
// taxonomy and persists HMAC-signed, append-only entries in SQLite.
// Aggregated windowed reports are the only read contract exposed to the
// external reporting surface.
package telemetry

import "time"

// Category is one element of the closed outcome taxonomy. Every terminal
// turn maps to exactly one category.
type Category string

const (
	CategorySuccess Category = "Success"

	CategoryAmbiguousQuery              Category = "AmbiguousQuery"
	CategoryInvalidRequest              Category = "InvalidRequest"
	CategoryMissingTenant               Category = "MissingTenant"
	CategoryDataSourceConnectionFailure Category = "DataSourceConnectionFailure"
	CategoryToolInvocationFailure       Category = "ToolInvocationFailure"
	CategoryLLMProviderError            Category = "LLMProviderError"
	CategorySchemaNotFound              Category = "SchemaNotFound"
	CategoryEmptyResult                 Category = "EmptyResult"
	CategoryTypeMismatch                Category = "TypeMismatch"
	CategorySQLPolicyViolation          Category = "SQLPolicyViolation"
	CategoryCapabilityMismatch          Category = "CapabilityMismatch"
	CategoryHallucinationBlocked        Category = "HallucinationBlocked"
	CategoryTimeout                     Category = "Timeout"
	CategoryUnknown                     Category = "Unknown"
)

var allCategories = []Category{
	CategorySuccess,
	CategoryAmbiguousQuery,
	CategoryInvalidRequest,
	CategoryMissingTenant,
	CategoryDataSourceConnectionFailure,
	CategoryToolInvocationFailure,
	CategoryLLMProviderError,
	CategorySchemaNotFound,
	CategoryEmptyResult,
	CategoryTypeMismatch,
	CategorySQLPolicyViolation,
	CategoryCapabilityMismatch,
	CategoryHallucinationBlocked,
	CategoryTimeout,
	CategoryUnknown,
}

// Valid reports whether c is part of the closed taxonomy.
func (c Category) Valid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Succeeded reports whether the category counts as a successful turn.
func (c Category) Succeeded() bool {
	return c == CategorySuccess
}

// Entry is one classified turn outcome. Append-only; never mutated after
// creation.
type Entry struct {
	ID         string    `json:"id"`
	Category   Category  `json:"category"`
	TenantID   string    `json:"tenant_id"`
	DurationMS int64     `json:"duration_ms"`
	Succeeded  bool      `json:"succeeded"`
	Timestamp  time.Time `json:"timestamp"`
}

// Outcome is the terminal state of a turn handed to the classifier.
type Outcome struct {
	Category Category
	TenantID string
	Duration time.Duration
}
