package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/1274866478-stack/data-agent-sub005/internal/datasource"
	"github.com/1274866478-stack/data-agent-sub005/internal/halluguard"
	"github.com/1274866478-stack/data-agent-sub005/internal/sqlguard"
)

// Policy represents a complete deployment policy file (dataqa.yaml).
// It carries everything an operator tunes per deployment: which tools and
// data sources the agent may touch, SQL rule overrides, extra fabrication
// recognizers, and loop limits.
type Policy struct {
	Agent        AgentConfig             `yaml:"agent" json:"agent"`
	Capabilities *CapabilitiesConfig     `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	SQLRules     *sqlguard.RuleSet       `yaml:"sql_rules,omitempty" json:"sql_rules,omitempty"`
	Fabrication  []halluguard.Recognizer `yaml:"fabrication_patterns,omitempty" json:"fabrication_patterns,omitempty"`
	DataSources  []datasource.Source     `yaml:"data_sources,omitempty" json:"data_sources,omitempty"`
	Limits       LimitsConfig            `yaml:"limits,omitempty" json:"limits,omitempty"`
	Telemetry    *TelemetryConfig        `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`

	// Computed fields (not serialized from YAML)
	Hash       string `yaml:"-" json:"-"`
	VersionTag string `yaml:"-" json:"-"`
}

// AgentConfig holds the deployment identity.
type AgentConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string `yaml:"version" json:"version"`
}

// CapabilitiesConfig restricts which tools the agent may invoke. An empty
// AllowedTools list means every registered tool is eligible; DeniedTools
// always wins over AllowedTools.
type CapabilitiesConfig struct {
	AllowedTools []string `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	DeniedTools  []string `yaml:"denied_tools,omitempty" json:"denied_tools,omitempty"`
}

// LimitsConfig bounds the agent loop.
type LimitsConfig struct {
	MaxCorrectionAttempts int `yaml:"max_correction_attempts,omitempty" json:"max_correction_attempts,omitempty"`
	MaxToolCallsPerTurn   int `yaml:"max_tool_calls_per_turn,omitempty" json:"max_tool_calls_per_turn,omitempty"`
	ToolCallTimeoutSec    int `yaml:"tool_call_timeout_seconds,omitempty" json:"tool_call_timeout_seconds,omitempty"`
	TurnTimeoutSec        int `yaml:"turn_timeout_seconds,omitempty" json:"turn_timeout_seconds,omitempty"`
}

// TelemetryConfig tunes the telemetry store.
type TelemetryConfig struct {
	RetentionDays int `yaml:"retention_days,omitempty" json:"retention_days,omitempty"`
}

// ComputeHash sets the policy content hash and version tag from the raw
// file bytes. The version tag is agent version plus the first 8 hash chars.
func (p *Policy) ComputeHash(content []byte) {
	sum := sha256.Sum256(content)
	p.Hash = hex.EncodeToString(sum[:])
	p.VersionTag = fmt.Sprintf("%s-%s", p.Agent.Version, p.Hash[:8])
}

// Validate checks cross-field business rules after unmarshalling.
func (p *Policy) Validate() error {
	if p.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}
	if p.Agent.Version == "" {
		return fmt.Errorf("agent.version is required")
	}
	seen := make(map[string]bool, len(p.DataSources))
	for _, ds := range p.DataSources {
		if ds.Name == "" {
			return fmt.Errorf("data_sources entries require a name")
		}
		if seen[ds.Name] {
			return fmt.Errorf("duplicate data source %q", ds.Name)
		}
		seen[ds.Name] = true
		if !ds.Kind.Valid() {
			return fmt.Errorf("data source %q: unknown kind %q", ds.Name, ds.Kind)
		}
	}
	for _, r := range p.Fabrication {
		if r.Name == "" || r.Regex == "" {
			return fmt.Errorf("fabrication_patterns entries require name and regex")
		}
	}
	if p.Limits.MaxCorrectionAttempts < 0 {
		return fmt.Errorf("limits.max_correction_attempts must not be negative")
	}
	return nil
}
