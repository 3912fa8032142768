package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/1274866478-stack/data-agent-sub005/internal/policy"
	"github.com/1274866478-stack/data-agent-sub005/internal/sqlguard"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the deployment policy",
	Long:  "Parses the policy file, checks data sources and recognizers, and compiles the Rego rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, span := tracer.Start(ctx, "validate")
		defer span.End()

		if validateFile == "" {
			validateFile = "dataqa.policy.yaml"
		}

		pol, err := policy.Load(ctx, validateFile, ".")
		if err != nil {
			log.Error().Err(err).Str("file", validateFile).Msg("policy validation failed")
			fmt.Fprintf(os.Stderr, "✗ Validation failed: %s\n", validateFile)
			return fmt.Errorf("validation failed: %w", err)
		}

		// Creating the engine compiles the Rego rules.
		if _, err := policy.NewEngine(ctx, pol); err != nil {
			fmt.Fprintf(os.Stderr, "✗ Policy compilation failed: %s\n", validateFile)
			return fmt.Errorf("policy engine initialization failed: %w", err)
		}

		fmt.Printf("✓ Policy valid: %s\n", validateFile)
		fmt.Printf("  Agent: %s v%s\n", pol.Agent.Name, pol.Agent.Version)
		fmt.Printf("  Version: %s\n", pol.VersionTag)
		fmt.Printf("  Data sources: %d\n", len(pol.DataSources))
		return nil
	},
}

var sqlcheckCmd = &cobra.Command{
	Use:   "sqlcheck [statement]",
	Short: "Check a SQL statement against the active rule set",
	Long:  "Runs the statement through the same validator the agent uses and prints the verdict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, span := tracer.Start(ctx, "sqlcheck")
		defer span.End()

		rules, err := sqlguard.DefaultRuleSet()
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}
		if validateFile != "" {
			pol, err := policy.Load(ctx, validateFile, ".")
			if err != nil {
				return fmt.Errorf("loading policy: %w", err)
			}
			if pol.SQLRules != nil {
				rules = sqlguard.Merge(rules, *pol.SQLRules)
			}
		}
		validator, err := sqlguard.NewValidator(rules)
		if err != nil {
			return fmt.Errorf("compiling rules: %w", err)
		}

		verdict := validator.Validate(args[0])
		if verdict.Allowed {
			fmt.Println("✓ Allowed")
			return nil
		}
		fmt.Printf("✗ Rejected: %s\n", verdict.ViolatedRule)
		if verdict.MatchedText != "" {
			fmt.Printf("  Matched: %s\n", verdict.MatchedText)
		}
		os.Exit(1)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "policy file (default dataqa.policy.yaml)")
	sqlcheckCmd.Flags().StringVarP(&validateFile, "file", "f", "", "policy file with extra SQL rules (optional)")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(sqlcheckCmd)
}
