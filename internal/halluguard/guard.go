// Package halluguard intercepts answers that were not actually produced
// from tool evidence. An answer to a data question must be backed by at
// least one successful invocation of the capability class matching the
// session's data source; answers without that backing are blocked and
// replaced before anything reaches the caller. Fabrication signatures
// (placeholder names, sequential anonymous identifiers) only ever
// strengthen a missing-evidence verdict — with valid evidence present a
// signature match alone never blocks, since real data may legitimately
// contain common names.
package halluguard

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/1274866478-stack/data-agent-sub005/internal/datasource"
	"github.com/1274866478-stack/data-agent-sub005/internal/ledger"
	dqotel "github.com/1274866478-stack/data-agent-sub005/internal/otel"
)

var tracer = dqotel.Tracer("github.com/1274866478-stack/data-agent-sub005/internal/halluguard")

// Reason codes recorded in verdicts.
const (
	ReasonNoEvidence            = "no_evidence"
	ReasonWrongToolClass        = "wrong_tool_class_evidence"
	ReasonNoEvidenceFabrication = "no_evidence+fabrication_pattern"
	ReasonWrongClassFabrication = "wrong_tool_class_evidence+fabrication_pattern"
)

// BlockedAnswerText is the fixed user-facing replacement for an
// intercepted answer. The original content is never forwarded.
const BlockedAnswerText = "I could not verify this answer against your actual data, so it has been withheld. Please rephrase your question or try again."

// Verdict is the grounding decision for one answer.
type Verdict struct {
	Blocked        bool   `json:"blocked"`
	ReasonCode     string `json:"reason_code,omitempty"`
	EvidenceCount  int    `json:"evidence_count"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
}

// Guard checks final answers against the turn's evidence ledger.
type Guard struct {
	recognizers []compiledRecognizer
}

// Option configures a Guard.
type Option func(*guardConfig)

type guardConfig struct {
	extra        []Recognizer
	skipDefaults bool
}

// WithExtraRecognizers layers deployment-specific fabrication signatures
// on top of the embedded defaults.
func WithExtraRecognizers(recs []Recognizer) Option {
	return func(c *guardConfig) { c.extra = append(c.extra, recs...) }
}

// WithoutDefaults drops the embedded signatures; only recognizers added
// via WithExtraRecognizers are active.
func WithoutDefaults() Option {
	return func(c *guardConfig) { c.skipDefaults = true }
}

// NewGuard creates a hallucination guard. Without options it uses the
// embedded default fabrication signatures.
func NewGuard(opts ...Option) (*Guard, error) {
	var cfg guardConfig
	for _, o := range opts {
		o(&cfg)
	}

	var recs []Recognizer
	if !cfg.skipDefaults {
		defaults, err := DefaultRecognizers()
		if err != nil {
			return nil, err
		}
		recs = defaults
	}
	recs = append(recs, cfg.extra...)

	compiled, err := compileRecognizers(recs)
	if err != nil {
		return nil, err
	}
	return &Guard{recognizers: compiled}, nil
}

// Check evaluates the answer against the ledger and the data source's
// required capability class. Rules run in order and the first match wins:
// no matching evidence blocks, matching evidence of only the wrong class
// blocks, and a fabrication signature upgrades either reason to a
// composite code. An answer backed by matching evidence passes.
func (g *Guard) Check(ctx context.Context, answer string, led *ledger.Ledger, ds datasource.Descriptor) Verdict {
	_, span := tracer.Start(ctx, "halluguard.check",
		trace.WithAttributes(
			attribute.String("data_source.kind", string(ds.Kind)),
		))
	defer span.End()

	required := ds.Kind.RequiredCapability()
	evidence := led.EvidenceFor(required)

	verdict := Verdict{EvidenceCount: evidence}
	if evidence == 0 {
		verdict.Blocked = true
		if led.SuccessCount() > 0 {
			verdict.ReasonCode = ReasonWrongToolClass
		} else {
			verdict.ReasonCode = ReasonNoEvidence
		}
		if name := g.matchFabrication(answer); name != "" {
			verdict.MatchedPattern = name
			if verdict.ReasonCode == ReasonNoEvidence {
				verdict.ReasonCode = ReasonNoEvidenceFabrication
			} else {
				verdict.ReasonCode = ReasonWrongClassFabrication
			}
		}
	}

	span.SetAttributes(
		attribute.Bool("halluguard.blocked", verdict.Blocked),
		attribute.String("halluguard.reason", verdict.ReasonCode),
		attribute.Int("halluguard.evidence_count", evidence),
	)
	return verdict
}

// matchFabrication returns the name of the first matching fabrication
// signature, or "".
func (g *Guard) matchFabrication(answer string) string {
	for _, r := range g.recognizers {
		if r.pattern.MatchString(answer) {
			return r.name
		}
	}
	return ""
}
