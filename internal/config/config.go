// Package config holds OPERATOR-LEVEL configuration for a dataqa
// installation.
//
// This is infrastructure config set by whoever deploys the service, NOT
// tenant or end-user configuration. The boundary is:
//
//   - Operator config (this package): data directory, vault encryption
//     key, telemetry signing key, listen address, model provider. Set via
//     env vars (DATAQA_*) or flags.
//
//   - Tenant config: tenant registry and data source credentials. The
//     registry lives in tenants.yaml next to the policy; credentials live
//     ONLY in the encrypted secrets vault (internal/secrets), managed via
//     "dataqa secrets" and ACL-checked on every access.
//
// Data source credentials MUST NEVER appear in this config or in env
// vars in production.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the DATAQA_ prefix
// (e.g. "vault_key" → DATAQA_VAULT_KEY).
const (
	KeyDataDir       = "data_dir"
	KeyVaultKey      = "vault_key"
	KeySigningKey    = "signing_key"
	KeyPolicyPath    = "policy"
	KeyTenantsPath   = "tenants"
	KeyListenAddr    = "listen_addr"
	KeyProvider      = "provider"
	KeyModel         = "model"
	KeyMaxFileMB     = "max_file_mb"
	KeyOllamaBaseURL = "ollama_base_url"
)

// Defaults that do NOT involve crypto material. Crypto keys intentionally
// have no baked-in defaults — when unset we generate a deterministic
// per-machine fallback and warn loudly.
const (
	DefaultPolicyFile  = "dataqa.policy.yaml"
	DefaultTenantsFile = "tenants.yaml"
	DefaultListenAddr  = ":8080"
	DefaultProvider    = "openai"
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxFileMB   = 50
	DefaultOllamaURL   = "http://localhost:11434"
)

// Config holds resolved operator-level configuration for one process.
type Config struct {
	DataDir       string // base directory for all state (~/.dataqa)
	VaultKey      string // AES-256 encryption key for the credential vault
	SigningKey    string // HMAC-SHA256 key for telemetry signing (>=32 bytes)
	PolicyPath    string // policy file path
	TenantsPath   string // tenant registry file path
	ListenAddr    string // HTTP listen address
	Provider      string // model provider name ("openai", "ollama")
	Model         string // model identifier
	MaxFileMB     int    // maximum tabular file size in MB
	OllamaBaseURL string

	usingDefaultVaultKey   bool
	usingDefaultSigningKey bool
}

// UsingDefaultKeys reports whether either crypto key fell back to a
// generated default. Commands warn when this is the case.
func (c *Config) UsingDefaultKeys() bool {
	return c.usingDefaultVaultKey || c.usingDefaultSigningKey
}

// VaultDBPath returns the full path to the credential vault database.
func (c *Config) VaultDBPath() string {
	return filepath.Join(c.DataDir, "vault.db")
}

// TelemetryDBPath returns the full path to the telemetry database.
func (c *Config) TelemetryDBPath() string {
	return filepath.Join(c.DataDir, "telemetry.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning when crypto keys are not explicitly
// set. Suppressed when DATAQA_QUICKSTART=1 (local exploration, demos).
func (c *Config) WarnIfDefaultKeys() {
	if isQuickstart() {
		return
	}
	if c.usingDefaultVaultKey {
		log.Warn().Msg("Using generated default DATAQA_VAULT_KEY — set via env var for production")
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default DATAQA_SIGNING_KEY — set via env var for production")
	}
}

func isQuickstart() bool {
	v := os.Getenv("DATAQA_QUICKSTART")
	return v == "1" || v == "true" || v == "TRUE"
}

func init() {
	viper.SetEnvPrefix("DATAQA")
	viper.AutomaticEnv()
	viper.SetDefault(KeyPolicyPath, DefaultPolicyFile)
	viper.SetDefault(KeyTenantsPath, DefaultTenantsFile)
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyProvider, DefaultProvider)
	viper.SetDefault(KeyModel, DefaultModel)
	viper.SetDefault(KeyMaxFileMB, DefaultMaxFileMB)
	viper.SetDefault(KeyOllamaBaseURL, DefaultOllamaURL)
}

// Load reads configuration from Viper (env vars merged over defaults)
// and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:       resolveDataDir(),
		VaultKey:      viper.GetString(KeyVaultKey),
		SigningKey:    viper.GetString(KeySigningKey),
		PolicyPath:    viper.GetString(KeyPolicyPath),
		TenantsPath:   viper.GetString(KeyTenantsPath),
		ListenAddr:    viper.GetString(KeyListenAddr),
		Provider:      viper.GetString(KeyProvider),
		Model:         viper.GetString(KeyModel),
		MaxFileMB:     viper.GetInt(KeyMaxFileMB),
		OllamaBaseURL: viper.GetString(KeyOllamaBaseURL),
	}

	if cfg.VaultKey == "" {
		cfg.VaultKey = deriveDefaultKey(cfg.DataDir, "vault-encryption--")
		cfg.usingDefaultVaultKey = true
	}
	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "telemetry-signing-")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dataqa"
	}
	return filepath.Join(home, ".dataqa")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. This is NOT cryptographically strong;
// it exists solely so `dataqa init && dataqa serve` works out of the box
// while still encrypting data at rest with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("dataqa:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateVaultKey(c.VaultKey); err != nil {
		return err
	}
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.MaxFileMB <= 0 {
		return fmt.Errorf("max_file_mb must be positive")
	}
	return nil
}

// validateVaultKey accepts either 32 raw bytes or 64 hex characters
// (decoding to 32 bytes for AES-256).
func validateVaultKey(key string) error {
	n := len(key)
	if n == 32 {
		return nil
	}
	if n == 64 && isHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return fmt.Errorf("vault_key hex must decode to 32 bytes: %w", err)
		}
		return nil
	}
	return fmt.Errorf("vault_key must be exactly 32 bytes or 64 hex characters (got %d); set DATAQA_VAULT_KEY", n)
}

// validateSigningKey accepts either >=32 raw bytes or >=64 hex characters
// (decoded length >=32 for HMAC-SHA256). Hex is checked first so that hex
// format is validated; raw is accepted otherwise when n >= 32.
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && n%2 == 0 && isHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes: %w", err)
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set DATAQA_SIGNING_KEY", n)
}

// isHexString reports whether s consists entirely of hex characters. True
// for the empty string; callers check length separately.
func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
