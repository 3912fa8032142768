package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/1274866478-stack/data-agent-sub005/internal/agent"
	"github.com/1274866478-stack/data-agent-sub005/internal/config"
)

var (
	askTenant     string
	askUser       string
	askSession    string
	askDataSource string
	askJSON       bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against a configured data source",
	Long:  "Runs one governed turn locally, without going through the HTTP API",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askTenant, "tenant", "default", "tenant id")
	askCmd.Flags().StringVar(&askUser, "user", "operator", "user id")
	askCmd.Flags().StringVar(&askSession, "session", "cli", "session id")
	askCmd.Flags().StringVar(&askDataSource, "data-source", "", "data source ref (required)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response as JSON")
	_ = askCmd.MarkFlagRequired("data-source")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "ask")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	stk, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer stk.close()

	resp, askErr := stk.orch.Ask(ctx, agent.AskRequest{
		TenantID:      askTenant,
		UserID:        askUser,
		SessionID:     askSession,
		Query:         args[0],
		DataSourceRef: askDataSource,
	})

	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		fmt.Println(resp.Answer)
		if resp.Blocked {
			fmt.Fprintln(os.Stderr, "(answer was blocked by the grounding check)")
		}
		if resp.ErrorCategory != "" {
			fmt.Fprintf(os.Stderr, "category: %s\n", resp.ErrorCategory)
		}
	}

	if askErr != nil {
		return fmt.Errorf("turn aborted: %s", resp.ErrorCategory)
	}
	return nil
}
