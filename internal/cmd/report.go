package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/1274866478-stack/data-agent-sub005/internal/config"
	"github.com/1274866478-stack/data-agent-sub005/internal/telemetry"
)

var (
	reportWindowDays int
	reportTenant     string
	reportJSONL      bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the telemetry outcome report",
	Long:  "Aggregates classified turn outcomes over the trailing window; --jsonl exports the raw signed entries instead",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, span := tracer.Start(ctx, "report")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		store, err := telemetry.NewStore(cfg.TelemetryDBPath(), cfg.SigningKey)
		if err != nil {
			return fmt.Errorf("opening telemetry store: %w", err)
		}
		defer store.Close()

		if reportJSONL {
			return store.WriteJSONL(ctx, os.Stdout, reportWindowDays)
		}

		report, err := store.Report(ctx, reportWindowDays, reportTenant)
		if err != nil {
			return fmt.Errorf("building report: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	reportCmd.Flags().IntVar(&reportWindowDays, "window-days", 30, "trailing window in days")
	reportCmd.Flags().StringVar(&reportTenant, "tenant", "", "filter to one tenant")
	reportCmd.Flags().BoolVar(&reportJSONL, "jsonl", false, "export raw entries as JSON lines")
	rootCmd.AddCommand(reportCmd)
}
