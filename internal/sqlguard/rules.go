package sqlguard

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/1274866478-stack/data-agent-sub005/patterns"
)

// RuleSet is the declarative part of the SQL policy: which keywords are
// forbidden, which identifier prefixes count as system catalogs, and which
// tables require a tenant-scoping predicate.
type RuleSet struct {
	DangerousKeywords    []string `yaml:"dangerous_keywords"`
	SystemTablePrefixes  []string `yaml:"system_table_prefixes"`
	SystemTableAllowlist []string `yaml:"system_table_allowlist"`
	TenantScopedTables   []string `yaml:"tenant_scoped_tables"`
	TenantScopeColumn    string   `yaml:"tenant_scope_column"`

	// RestrictSystemTables enables the catalog-reference check: any
	// identifier matching SystemTablePrefixes is denied unless listed in
	// SystemTableAllowlist. Configuring a non-empty allow-list implies
	// restriction.
	RestrictSystemTables bool `yaml:"restrict_system_tables"`
}

// DefaultRuleSet returns the embedded default rule set.
func DefaultRuleSet() (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(patterns.SQLRulesYAML(), &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parsing embedded sql rules: %w", err)
	}
	return rs, nil
}

// Merge layers deployment overrides on top of the embedded defaults.
// Keyword and prefix lists are unioned (defaults are always active);
// allow-list, tenant-scoped tables, and the scope column come from the
// override when set.
func Merge(base, override RuleSet) RuleSet {
	merged := RuleSet{
		DangerousKeywords:    unionUpper(base.DangerousKeywords, override.DangerousKeywords),
		SystemTablePrefixes:  unionLower(base.SystemTablePrefixes, override.SystemTablePrefixes),
		SystemTableAllowlist: lowerAll(override.SystemTableAllowlist),
		TenantScopedTables:   lowerAll(override.TenantScopedTables),
		TenantScopeColumn:    override.TenantScopeColumn,
	}
	if len(merged.SystemTableAllowlist) == 0 {
		merged.SystemTableAllowlist = lowerAll(base.SystemTableAllowlist)
	}
	if len(merged.TenantScopedTables) == 0 {
		merged.TenantScopedTables = lowerAll(base.TenantScopedTables)
	}
	if merged.TenantScopeColumn == "" {
		merged.TenantScopeColumn = base.TenantScopeColumn
	}
	if merged.TenantScopeColumn == "" {
		merged.TenantScopeColumn = "tenant_id"
	}
	merged.RestrictSystemTables = base.RestrictSystemTables || override.RestrictSystemTables ||
		len(merged.SystemTableAllowlist) > 0
	return merged
}

func unionUpper(a, b []string) []string {
	return unionWith(a, b, strings.ToUpper)
}

func unionLower(a, b []string) []string {
	return unionWith(a, b, strings.ToLower)
}

func unionWith(a, b []string, norm func(string) string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		s = norm(strings.TrimSpace(s))
		if s != "" {
			seen[s] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func lowerAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
