package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/1274866478-stack/data-agent-sub005/internal/agent"
	"github.com/1274866478-stack/data-agent-sub005/internal/config"
	"github.com/1274866478-stack/data-agent-sub005/internal/datasource"
	"github.com/1274866478-stack/data-agent-sub005/internal/halluguard"
	"github.com/1274866478-stack/data-agent-sub005/internal/llm"
	"github.com/1274866478-stack/data-agent-sub005/internal/policy"
	"github.com/1274866478-stack/data-agent-sub005/internal/secrets"
	"github.com/1274866478-stack/data-agent-sub005/internal/session"
	"github.com/1274866478-stack/data-agent-sub005/internal/tabular"
	"github.com/1274866478-stack/data-agent-sub005/internal/telemetry"
	"github.com/1274866478-stack/data-agent-sub005/internal/tenant"
)

// stack holds the wired service dependencies shared by serve and ask.
type stack struct {
	cfg       *config.Config
	pol       *policy.Policy
	engine    *policy.Engine
	tenants   *tenant.Manager
	vault     *secrets.Vault
	telemetry *telemetry.Store
	sessions  *session.Manager
	orch      *agent.Orchestrator
}

func (s *stack) close() {
	if s.telemetry != nil {
		_ = s.telemetry.Close()
	}
	if s.vault != nil {
		_ = s.vault.Close()
	}
}

// buildStack loads the policy and tenant registry and wires the full
// orchestrator. Missing policy or tenant files degrade to defaults with a
// warning so `dataqa init && dataqa serve` works out of the box.
func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	s := &stack{cfg: cfg}

	pol, err := policy.Load(ctx, cfg.PolicyPath, ".")
	switch {
	case err == nil:
		s.pol = pol
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("path", cfg.PolicyPath).Msg("policy file not found, using defaults")
		s.pol = policy.Default()
	default:
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	s.engine, err = policy.NewEngine(ctx, s.pol)
	if err != nil {
		return nil, fmt.Errorf("policy engine: %w", err)
	}

	tenants, err := tenant.LoadFile(cfg.TenantsPath)
	switch {
	case err == nil:
		s.tenants = tenant.NewManager(tenants)
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("path", cfg.TenantsPath).Msg("tenant registry not found, authentication disabled")
	default:
		s.close()
		return nil, fmt.Errorf("loading tenants: %w", err)
	}

	s.vault, err = secrets.NewVault(cfg.VaultDBPath(), cfg.VaultKey)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("opening credential vault: %w", err)
	}

	s.telemetry, err = telemetry.NewStore(cfg.TelemetryDBPath(), cfg.SigningKey)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("opening telemetry store: %w", err)
	}

	resolver, err := datasource.NewResolver(s.pol.DataSources, s.vault)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("building data source resolver: %w", err)
	}

	guard, err := halluguard.NewGuard(halluguard.WithExtraRecognizers(s.pol.Fabrication))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("building hallucination guard: %w", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		s.close()
		return nil, err
	}

	s.sessions = session.NewManager()
	s.orch, err = agent.New(agent.Config{
		Policy:     s.pol,
		Guard:      tenant.NewGuard(s.tenants),
		Tenants:    s.tenants,
		Sessions:   s.sessions,
		Resolver:   resolver,
		Engine:     s.engine,
		Provider:   provider,
		Model:      cfg.Model,
		Telemetry:  s.telemetry,
		Halluguard: guard,
		Inspector:  tabular.NewInspector(cfg.MaxFileMB),
	})
	if err != nil {
		s.close()
		return nil, fmt.Errorf("building orchestrator: %w", err)
	}
	return s, nil
}

// buildProvider resolves the configured model provider. The OpenAI key
// comes from the environment; it is operator infrastructure, not tenant
// data, so it does not live in the vault.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	apiKey := os.Getenv("DATAQA_OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	baseURL := ""
	if cfg.Provider == "ollama" {
		baseURL = cfg.OllamaBaseURL
	}
	provider, err := llm.New(cfg.Provider, apiKey, baseURL)
	if err != nil {
		return nil, fmt.Errorf("building %s provider: %w", cfg.Provider, err)
	}
	return provider, nil
}
