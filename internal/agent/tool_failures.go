package agent

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ToolFailureTracker counts tool execution failures per session, separate
// from the circuit breaker (which only tracks guardrail denials). A tool
// that was allowed but returned an error is recorded here for operator
// alerting without suspending the session.
type ToolFailureTracker struct {
	mu        sync.Mutex
	sessions  map[string]*toolFailureRecord
	threshold int
	window    time.Duration
}

type toolFailureRecord struct {
	failures []time.Time
	alerted  bool
}

// NewToolFailureTracker creates a tracker. When a session exceeds
// threshold failures within window, a warning is logged for operator
// alerting. threshold <= 0 defaults to 10; window <= 0 defaults to 5
// minutes.
func NewToolFailureTracker(threshold int, window time.Duration) *ToolFailureTracker {
	if threshold <= 0 {
		threshold = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &ToolFailureTracker{
		sessions:  make(map[string]*toolFailureRecord),
		threshold: threshold,
		window:    window,
	}
}

// RecordToolFailure records a tool execution failure for the session and
// returns true when the alert threshold was just crossed.
func (t *ToolFailureTracker) RecordToolFailure(tenantID, sessionID, toolName, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := sessionKey(tenantID, sessionID)
	rec, ok := t.sessions[key]
	if !ok {
		rec = &toolFailureRecord{}
		t.sessions[key] = rec
	}

	now := time.Now()
	cutoff := now.Add(-t.window)
	rec.failures = append(rec.failures[:0], filterAfter(rec.failures, cutoff)...)
	rec.failures = append(rec.failures, now)

	if len(rec.failures) >= t.threshold && !rec.alerted {
		rec.alerted = true
		log.Warn().
			Str("tenant_id", tenantID).
			Str("session_id", sessionID).
			Str("last_tool", toolName).
			Str("last_error", errMsg).
			Int("failure_count", len(rec.failures)).
			Dur("window", t.window).
			Msg("tool_failure_threshold_exceeded")
		return true
	}

	if len(rec.failures) < t.threshold {
		rec.alerted = false
	}

	return false
}

// FailureCount returns the current failure count within the window.
func (t *ToolFailureTracker) FailureCount(tenantID, sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.sessions[sessionKey(tenantID, sessionID)]
	if !ok {
		return 0
	}

	cutoff := time.Now().Add(-t.window)
	count := 0
	for _, f := range rec.failures {
		if f.After(cutoff) {
			count++
		}
	}
	return count
}
