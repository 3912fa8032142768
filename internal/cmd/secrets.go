package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/1274866478-stack/data-agent-sub005/internal/config"
	"github.com/1274866478-stack/data-agent-sub005/internal/secrets"
)

var (
	secretsTenants []string
	secretsForbid  []string
	secretsTenant  string
	secretsLimit   int
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage data source credentials in the encrypted vault",
}

var secretsPutCmd = &cobra.Command{
	Use:   "put [ref]",
	Short: "Store a credential (value read from stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, span := tracer.Start(ctx, "secrets.put")
		defer span.End()

		value, err := readSecretValue()
		if err != nil {
			return err
		}
		if value == "" {
			return fmt.Errorf("empty credential value")
		}

		vault, err := openVault()
		if err != nil {
			return err
		}
		defer vault.Close()

		acl := secrets.ACL{Tenants: secretsTenants, ForbiddenTenants: secretsForbid}
		if err := vault.Put(ctx, args[0], value, acl); err != nil {
			return fmt.Errorf("storing credential: %w", err)
		}
		fmt.Printf("✓ Stored %s\n", args[0])
		return nil
	},
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credential metadata (never values)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, span := tracer.Start(ctx, "secrets.list")
		defer span.End()

		vault, err := openVault()
		if err != nil {
			return err
		}
		defer vault.Close()

		metas, err := vault.List(ctx, secretsTenant)
		if err != nil {
			return fmt.Errorf("listing credentials: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(metas)
	},
}

var secretsRotateCmd = &cobra.Command{
	Use:   "rotate [ref]",
	Short: "Re-encrypt a credential with a fresh nonce",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, span := tracer.Start(ctx, "secrets.rotate")
		defer span.End()

		vault, err := openVault()
		if err != nil {
			return err
		}
		defer vault.Close()

		if err := vault.Rotate(ctx, args[0]); err != nil {
			return fmt.Errorf("rotating credential: %w", err)
		}
		fmt.Printf("✓ Rotated %s\n", args[0])
		return nil
	},
}

var secretsAuditCmd = &cobra.Command{
	Use:   "audit [ref]",
	Short: "Show the access log for a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, span := tracer.Start(ctx, "secrets.audit")
		defer span.End()

		vault, err := openVault()
		if err != nil {
			return err
		}
		defer vault.Close()

		records, err := vault.AuditLog(ctx, args[0], secretsLimit)
		if err != nil {
			return fmt.Errorf("reading audit log: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

func openVault() (*secrets.Vault, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	vault, err := secrets.NewVault(cfg.VaultDBPath(), cfg.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("opening vault: %w", err)
	}
	return vault, nil
}

// readSecretValue reads the credential from stdin. On a terminal it
// prompts without echo; otherwise it reads one line (pipe-friendly).
func readSecretValue() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Credential value: ")
		value, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading credential: %w", err)
		}
		return strings.TrimSpace(string(value)), nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading credential from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	secretsPutCmd.Flags().StringSliceVar(&secretsTenants, "tenants", nil, "allowed tenant globs (empty allows all)")
	secretsPutCmd.Flags().StringSliceVar(&secretsForbid, "forbid", nil, "explicitly denied tenants")
	secretsListCmd.Flags().StringVar(&secretsTenant, "tenant", "", "only credentials this tenant can access")
	secretsAuditCmd.Flags().IntVar(&secretsLimit, "limit", 50, "maximum audit entries")

	secretsCmd.AddCommand(secretsPutCmd, secretsListCmd, secretsRotateCmd, secretsAuditCmd)
	rootCmd.AddCommand(secretsCmd)
}
