package secrets

import (
	"path/filepath"
	"strings"
)

// ACL defines which tenants may resolve a credential.
type ACL struct {
	Tenants          []string `json:"tenants"`           // Allowed tenants (glob patterns)
	ForbiddenTenants []string `json:"forbidden_tenants"` // Explicitly denied tenants
}

// CheckAccess verifies whether the tenant may resolve the credential.
// Forbidden list is checked first (explicit deny). An empty allow list
// means allow-all.
func (a ACL) CheckAccess(tenantID string) bool {
	for _, pattern := range a.ForbiddenTenants {
		if matchGlob(pattern, tenantID) {
			return false
		}
	}

	if len(a.Tenants) == 0 {
		return true
	}
	for _, pattern := range a.Tenants {
		if matchGlob(pattern, tenantID) {
			return true
		}
	}
	return false
}

// matchGlob performs simple glob matching using filepath.Match.
func matchGlob(pattern, str string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == str
	}
	matched, _ := filepath.Match(pattern, str)
	return matched
}
