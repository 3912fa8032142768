package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/1274866478-stack/data-agent-sub005/internal/config"
)

const policyTemplate = `# dataqa deployment policy
agent:
  name: dataqa
  version: "1.0"

data_sources:
  - name: sales
    kind: relational
    connection: ./sales.db
  # - name: uploads
  #   kind: tabular_file
  #   connection: ./data/uploads.csv
  # - name: warehouse
  #   kind: relational
  #   credential_ref: warehouse-dsn   # resolved through "dataqa secrets"

capabilities:
  allowed_tools: []   # empty allows all registered tools
  denied_tools: []

limits:
  max_correction_attempts: 3
  max_tool_calls_per_turn: 20
  tool_call_timeout_seconds: 30
  turn_timeout_seconds: 120

telemetry:
  retention_days: 90

# sql_rules:              # extra deny patterns merged over the built-ins
#   dangerous_keywords: []
# fabrication_patterns:   # extra hallucination signatures
#   - name: fake-metric
#     regex: "[0-9]+% growth"
`

const tenantsTemplate = `# dataqa tenant registry
tenants:
  - id: default
    display_name: Default tenant
    api_key: change-me
    rate_limit: 10
    # allowed_data_sources: [sales]
`

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new dataqa deployment",
	Long:  "Creates dataqa.policy.yaml and tenants.yaml templates in the current directory and the data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "init")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		if err := writeTemplate(cfg.PolicyPath, policyTemplate); err != nil {
			return err
		}
		if err := writeTemplate(cfg.TenantsPath, tenantsTemplate); err != nil {
			return err
		}

		log.Info().
			Str("policy", cfg.PolicyPath).
			Str("tenants", cfg.TenantsPath).
			Str("data_dir", cfg.DataDir).
			Msg("dataqa_initialized")
		fmt.Println("✓ Initialized. Edit dataqa.policy.yaml and tenants.yaml, then run: dataqa serve")
		return nil
	},
}

func writeTemplate(path, content string) error {
	if _, err := os.Stat(path); err == nil && !initForce {
		fmt.Printf("  %s exists, skipping (use --force to overwrite)\n", path)
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("  wrote %s\n", path)
	return nil
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
	rootCmd.AddCommand(initCmd)
}
