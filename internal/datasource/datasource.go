// Package datasource resolves the data source a session is bound to.
// Resolution happens once, before the agent loop starts; the resulting
// descriptor is immutable and drives the capability gate (relational
// sources take sql-class tools, tabular files take file-class tools).
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/1274866478-stack/data-agent-sub005/internal/ledger"
	dqotel "github.com/1274866478-stack/data-agent-sub005/internal/otel"
)

var tracer = dqotel.Tracer("github.com/1274866478-stack/data-agent-sub005/internal/datasource")

var (
	// ErrUnknownRef is returned when a data_source_ref is not registered.
	ErrUnknownRef = errors.New("unknown data source ref")
	// ErrUnknownKind is returned when a registered source has an
	// unrecognized kind.
	ErrUnknownKind = errors.New("unknown data source kind")
)

// Kind describes what family of source a descriptor points at.
type Kind string

const (
	KindRelational  Kind = "relational"
	KindTabularFile Kind = "tabular_file"
)

// Valid reports whether k is a recognized source kind.
func (k Kind) Valid() bool {
	return k == KindRelational || k == KindTabularFile
}

// RequiredCapability returns the tool capability class that may operate on
// this kind of source.
func (k Kind) RequiredCapability() ledger.CapabilityClass {
	if k == KindTabularFile {
		return ledger.CapabilityFile
	}
	return ledger.CapabilitySQL
}

// Descriptor identifies one resolved data source. Immutable for the
// session.
type Descriptor struct {
	Kind          Kind   `json:"kind"`
	ConnectionRef string `json:"connection_ref"`
}

// Source is a registered data source definition. Connection holds either a
// DSN (relational) or a file path (tabular_file); when CredentialRef is
// set, the connection string is resolved through the credential source at
// lookup time instead.
type Source struct {
	Name          string `yaml:"name"`
	Kind          Kind   `yaml:"kind"`
	Connection    string `yaml:"connection"`
	CredentialRef string `yaml:"credential_ref"`
}

// CredentialSource resolves a credential reference for a tenant. The
// secrets vault implements this.
type CredentialSource interface {
	ResolveCredential(ctx context.Context, ref, tenantID string) (string, error)
}

// Resolver maps data_source_ref values to descriptors and connection
// strings. Safe for concurrent use.
type Resolver struct {
	mu      sync.RWMutex
	sources map[string]Source
	creds   CredentialSource
}

// NewResolver creates a resolver over the given sources. creds may be nil
// when no source uses a credential_ref.
func NewResolver(sources []Source, creds CredentialSource) (*Resolver, error) {
	r := &Resolver{
		sources: make(map[string]Source, len(sources)),
		creds:   creds,
	}
	for _, s := range sources {
		if s.Kind != KindRelational && s.Kind != KindTabularFile {
			return nil, fmt.Errorf("%w: source %q has kind %q", ErrUnknownKind, s.Name, s.Kind)
		}
		r.sources[s.Name] = s
	}
	return r, nil
}

// Resolve returns the descriptor and connection string for a
// data_source_ref, resolving vault credentials when configured.
func (r *Resolver) Resolve(ctx context.Context, ref, tenantID string) (Descriptor, string, error) {
	ctx, span := tracer.Start(ctx, "datasource.resolve",
		trace.WithAttributes(
			attribute.String("data_source.ref", ref),
			attribute.String("tenant_id", tenantID),
		))
	defer span.End()

	r.mu.RLock()
	src, ok := r.sources[ref]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, "", fmt.Errorf("%w: %q", ErrUnknownRef, ref)
	}

	conn := src.Connection
	if src.CredentialRef != "" && r.creds != nil {
		resolved, err := r.creds.ResolveCredential(ctx, src.CredentialRef, tenantID)
		if err != nil {
			span.RecordError(err)
			return Descriptor{}, "", fmt.Errorf("resolving credential %q: %w", src.CredentialRef, err)
		}
		conn = resolved
	}

	span.SetAttributes(attribute.String("data_source.kind", string(src.Kind)))
	return Descriptor{Kind: src.Kind, ConnectionRef: ref}, conn, nil
}
