// Package tenant provides multi-tenant request validation: identity
// lookup, API key authentication, per-tenant rate limiting, and the guard
// that pins tenant context to every turn before any tool can run.
package tenant

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

var (
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrInvalidAPIKey     = errors.New("invalid api key")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Tenant holds per-tenant configuration.
type Tenant struct {
	ID          string `yaml:"id" json:"id"`
	DisplayName string `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	APIKey      string `yaml:"api_key,omitempty" json:"-"`
	RateLimit   int    `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"` // requests per second; 0 means no limit

	// AllowedDataSources restricts which data_source_ref values this
	// tenant may bind sessions to. Empty means all registered sources.
	AllowedDataSources []string `yaml:"allowed_data_sources,omitempty" json:"allowed_data_sources,omitempty"`
}

// Manager validates incoming requests per tenant.
type Manager struct {
	mu       sync.RWMutex
	tenants  map[string]*Tenant
	byAPIKey map[string]*Tenant
	limiters map[string]*rate.Limiter
}

// NewManager creates a tenant manager over the given tenants.
func NewManager(tenants []Tenant) *Manager {
	m := &Manager{
		tenants:  make(map[string]*Tenant),
		byAPIKey: make(map[string]*Tenant),
		limiters: make(map[string]*rate.Limiter),
	}
	for i := range tenants {
		t := &tenants[i]
		m.tenants[t.ID] = t
		if t.APIKey != "" {
			m.byAPIKey[t.APIKey] = t
		}
		if t.RateLimit > 0 {
			m.limiters[t.ID] = rate.NewLimiter(rate.Limit(t.RateLimit), t.RateLimit*2) // burst = 2s worth
		}
	}
	return m
}

// Lookup returns the tenant by ID.
func (m *Manager) Lookup(tenantID string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

// Authenticate resolves an API key to its tenant.
func (m *Manager) Authenticate(apiKey string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byAPIKey[apiKey]
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	return t, nil
}

// ValidateRequest checks that the tenant exists and is within its rate
// limit. Returns a typed error on failure.
func (m *Manager) ValidateRequest(tenantID string) error {
	m.mu.RLock()
	_, ok := m.tenants[tenantID]
	lim := m.limiters[tenantID]
	m.mu.RUnlock()

	if !ok {
		return ErrTenantNotFound
	}
	if lim != nil && !lim.Allow() {
		return ErrRateLimitExceeded
	}
	return nil
}

// AllowsDataSource reports whether the tenant may bind to the given
// data_source_ref. Unknown tenants are never allowed.
func (m *Manager) AllowsDataSource(tenantID, ref string) bool {
	m.mu.RLock()
	t, ok := m.tenants[tenantID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if len(t.AllowedDataSources) == 0 {
		return true
	}
	for _, allowed := range t.AllowedDataSources {
		if allowed == ref {
			return true
		}
	}
	return false
}
