// Package ledger records every tool invocation made during one agent turn.
// The ledger is the evidence base for grounding checks: an answer that
// cannot point at a successful invocation of the right capability class is
// treated as fabricated. Entries are append-only for the duration of the
// turn and ordered by dispatch completion; the ledger is never shared
// across sessions.
package ledger

import (
	"encoding/json"
	"sync"
	"time"
)

// CapabilityClass is the static tag describing what kind of data source a
// tool is allowed to touch.
type CapabilityClass string

const (
	CapabilitySQL   CapabilityClass = "sql"
	CapabilityFile  CapabilityClass = "file"
	CapabilityChart CapabilityClass = "chart"
)

// Valid reports whether c is one of the known capability classes.
func (c CapabilityClass) Valid() bool {
	switch c {
	case CapabilitySQL, CapabilityFile, CapabilityChart:
		return true
	}
	return false
}

// ToolInvocation is one recorded tool call. Immutable once appended.
type ToolInvocation struct {
	ToolName   string          `json:"tool_name"`
	Capability CapabilityClass `json:"capability_class"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Succeeded  bool            `json:"succeeded"`
}

// Ledger is the append-only invocation record for one turn.
// Appends are serialized; reads return copies so consumers can never
// mutate recorded evidence.
type Ledger struct {
	mu      sync.Mutex
	entries []ToolInvocation
}

// New creates an empty ledger for one turn.
func New() *Ledger {
	return &Ledger{}
}

// Append records an invocation. The timestamp is filled in when unset so
// entries are ordered by dispatch completion.
func (l *Ledger) Append(inv ToolInvocation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if inv.Timestamp.IsZero() {
		inv.Timestamp = time.Now().UTC()
	}
	l.entries = append(l.entries, inv)
}

// EvidenceFor returns the number of successful invocations of the given
// capability class.
func (l *Ledger) EvidenceFor(class CapabilityClass) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for i := range l.entries {
		if l.entries[i].Succeeded && l.entries[i].Capability == class {
			count++
		}
	}
	return count
}

// SuccessCount returns the number of successful invocations of any class.
func (l *Ledger) SuccessCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for i := range l.entries {
		if l.entries[i].Succeeded {
			count++
		}
	}
	return count
}

// All returns the invocations in insertion (call) order.
func (l *Ledger) All() []ToolInvocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ToolInvocation, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the total number of recorded invocations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// ToolNames returns the distinct tool names invoked, in first-call order.
func (l *Ledger) ToolNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool, len(l.entries))
	var names []string
	for i := range l.entries {
		if !seen[l.entries[i].ToolName] {
			seen[l.entries[i].ToolName] = true
			names = append(names, l.entries[i].ToolName)
		}
	}
	return names
}
