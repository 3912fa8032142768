// Package patterns provides embedded default rule definitions.
// YAML files in this directory hold the SQL policy rule set and the
// fabrication-signature recognizers; deployments layer overrides on top
// via the policy file.
package patterns

import _ "embed"

//go:embed sql_rules.yaml
var sqlRulesYAML []byte

//go:embed fabrication.yaml
var fabricationYAML []byte

// SQLRulesYAML returns the embedded default SQL policy rule set.
func SQLRulesYAML() []byte { return sqlRulesYAML }

// FabricationYAML returns the embedded default fabrication-signature recognizers.
func FabricationYAML() []byte { return fabricationYAML }
