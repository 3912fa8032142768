// Package policy loads the deployment policy file and evaluates tool
// access rules through embedded OPA.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	dqotel "github.com/1274866478-stack/data-agent-sub005/internal/otel"
)

var tracer = dqotel.Tracer("github.com/1274866478-stack/data-agent-sub005/internal/policy")

// ResolvePathUnderBase resolves path relative to baseDir and returns an
// absolute path that is guaranteed to stay under baseDir. Prevents path
// traversal when path is operator- or request-controlled.
func ResolvePathUnderBase(baseDir, path string) (string, error) {
	dirAbs, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return "", fmt.Errorf("policy base directory: %w", err)
	}
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(dirAbs, path)
	}
	full = filepath.Clean(full)
	pathAbs, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("policy path: %w", err)
	}
	rel, err := filepath.Rel(dirAbs, pathAbs)
	if err != nil {
		return "", fmt.Errorf("policy path outside base directory")
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("policy path outside base directory")
	}
	return pathAbs, nil
}

// Load reads and validates a dataqa.yaml policy file. baseDir is the
// directory path is resolved against; the resolved path must stay under
// baseDir. If baseDir is empty, the current working directory is used.
func Load(ctx context.Context, path, baseDir string) (*Policy, error) {
	_, span := tracer.Start(ctx, "policy.load")
	defer span.End()

	span.SetAttributes(attribute.String("policy.path", path))

	if baseDir == "" {
		var err error
		baseDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("policy base directory: %w", err)
		}
	}
	safePath, err := ResolvePathUnderBase(baseDir, path)
	if err != nil {
		return nil, fmt.Errorf("policy path: %w", err)
	}

	content, err := os.ReadFile(safePath)
	if err != nil {
		return nil, fmt.Errorf("reading policy file %s: %w", safePath, err)
	}

	var pol Policy
	if err := yaml.Unmarshal(content, &pol); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := pol.Validate(); err != nil {
		return nil, fmt.Errorf("validating policy: %w", err)
	}

	pol.ComputeHash(content)
	applyDefaults(&pol)

	span.SetAttributes(
		attribute.String("policy.agent_name", pol.Agent.Name),
		attribute.String("policy.version_tag", pol.VersionTag),
	)

	return &pol, nil
}

// Default returns a policy with all defaults applied and no data sources
// registered. Used when the operator runs without a policy file.
func Default() *Policy {
	pol := &Policy{
		Agent: AgentConfig{Name: "dataqa", Version: "dev"},
	}
	pol.ComputeHash([]byte("default"))
	applyDefaults(pol)
	return pol
}

// applyDefaults fills in loop limits and retention when unset.
func applyDefaults(p *Policy) {
	if p.Limits.MaxCorrectionAttempts == 0 {
		p.Limits.MaxCorrectionAttempts = 3
	}
	if p.Limits.MaxToolCallsPerTurn == 0 {
		p.Limits.MaxToolCallsPerTurn = 20
	}
	if p.Limits.ToolCallTimeoutSec == 0 {
		p.Limits.ToolCallTimeoutSec = 30
	}
	if p.Limits.TurnTimeoutSec == 0 {
		p.Limits.TurnTimeoutSec = 120
	}
	if p.Telemetry == nil {
		p.Telemetry = &TelemetryConfig{}
	}
	if p.Telemetry.RetentionDays == 0 {
		p.Telemetry.RetentionDays = 90
	}
}
