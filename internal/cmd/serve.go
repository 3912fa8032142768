package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/1274866478-stack/data-agent-sub005/internal/config"
	"github.com/1274866478-stack/data-agent-sub005/internal/server"
)

var serveAddr string

// sessionMaxIdle is how long an idle session survives before the sweeper
// reclaims it.
const sessionMaxIdle = 2 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dataqa HTTP server",
	Long:  "Starts the question-answering API with telemetry retention and session sweeping running on a schedule",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides DATAQA_LISTEN_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	stk, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer stk.close()

	if stk.tenants == nil {
		log.Warn().Msg("no tenant registry loaded — API authentication is disabled")
	}

	// Housekeeping: telemetry retention nightly, idle session sweep
	// hourly.
	sched := cron.New()
	retentionDays := stk.pol.Telemetry.RetentionDays
	_, err = sched.AddFunc("0 3 * * *", func() {
		pruned, err := stk.telemetry.Prune(context.Background(), retentionDays)
		if err != nil {
			log.Error().Err(err).Msg("telemetry_prune_failed")
			return
		}
		log.Info().Int64("pruned", pruned).Int("retention_days", retentionDays).Msg("telemetry_pruned")
	})
	if err != nil {
		return fmt.Errorf("scheduling telemetry retention: %w", err)
	}
	_, err = sched.AddFunc("@hourly", func() {
		if n := stk.sessions.Sweep(sessionMaxIdle); n > 0 {
			log.Info().Int("swept", n).Msg("sessions_swept")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling session sweep: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := server.NewServer(stk.orch, stk.tenants, stk.telemetry, stk.pol,
		server.WithSessionManager(stk.sessions))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("agent", stk.pol.Agent.Name).
		Str("policy_version", stk.pol.VersionTag).
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Msg("dataqa_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
