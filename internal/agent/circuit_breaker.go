package agent

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal: turns flow through
	CircuitOpen                         // Tripped: turns denied immediately
	CircuitHalfOpen                     // Probe: one turn allowed to test recovery
)

// CircuitBreaker tracks guardrail denials per session and opens the
// circuit when repeated denials exceed the threshold within a window. Only
// validation denials (SQL policy, capability gate, tool policy) feed the
// breaker, not ordinary tool execution failures. A model that keeps
// proposing forbidden calls gets its session suspended instead of burning
// provider tokens on correction loops.
type CircuitBreaker struct {
	mu        sync.Mutex
	sessions  map[string]*sessionCircuit
	threshold int
	window    time.Duration
}

type sessionCircuit struct {
	denials       []time.Time
	state         CircuitState
	openedAt      time.Time
	windowSize    time.Duration
	probeInFlight bool // when half-open, only one turn runs until RecordSuccess/RecordDenial
}

// NewCircuitBreaker creates a circuit breaker. threshold <= 0 defaults to
// 5 denials; window <= 0 defaults to 60 seconds.
func NewCircuitBreaker(threshold int, window time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &CircuitBreaker{
		sessions:  make(map[string]*sessionCircuit),
		threshold: threshold,
		window:    window,
	}
}

func sessionKey(tenantID, sessionID string) string {
	return tenantID + ":" + sessionID
}

// Check returns nil if the session may proceed, or an error if the
// circuit is open. In half-open state, one probe turn is allowed.
func (cb *CircuitBreaker) Check(tenantID, sessionID string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	key := sessionKey(tenantID, sessionID)
	sc, ok := cb.sessions[key]
	if !ok {
		return nil
	}

	switch sc.state {
	case CircuitOpen:
		if time.Since(sc.openedAt) > sc.windowSize {
			sc.state = CircuitHalfOpen
			sc.probeInFlight = true
			return nil
		}
		return fmt.Errorf("circuit_open: session %s suspended after repeated guardrail denials", sessionID)
	case CircuitHalfOpen:
		if sc.probeInFlight {
			return fmt.Errorf("circuit_half_open: probe already in progress for session %s", sessionID)
		}
		sc.probeInFlight = true
		return nil
	}
	return nil
}

// RecordDenial records a guardrail denial for the session. When the
// threshold is exceeded within the window, the circuit opens. In half-open
// state a single denial reopens the circuit immediately.
func (cb *CircuitBreaker) RecordDenial(tenantID, sessionID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	key := sessionKey(tenantID, sessionID)
	sc, ok := cb.sessions[key]
	if !ok {
		sc = &sessionCircuit{windowSize: cb.window}
		cb.sessions[key] = sc
	}

	now := time.Now()

	if sc.state == CircuitHalfOpen {
		sc.state = CircuitOpen
		sc.openedAt = now
		sc.probeInFlight = false
		return
	}

	cutoff := now.Add(-cb.window)
	sc.denials = append(sc.denials[:0], filterAfter(sc.denials, cutoff)...)
	sc.denials = append(sc.denials, now)

	if len(sc.denials) >= cb.threshold {
		sc.state = CircuitOpen
		sc.openedAt = now
	}
}

// RecordSuccess records a clean turn. If the circuit is half-open, the
// probe succeeded and the circuit closes.
func (cb *CircuitBreaker) RecordSuccess(tenantID, sessionID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	sc, ok := cb.sessions[sessionKey(tenantID, sessionID)]
	if !ok {
		return
	}

	if sc.state == CircuitHalfOpen {
		sc.state = CircuitClosed
		sc.denials = nil
		sc.probeInFlight = false
	}
}

// Reset manually resets the circuit for a session (operator override).
func (cb *CircuitBreaker) Reset(tenantID, sessionID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.sessions, sessionKey(tenantID, sessionID))
}

// State returns the current circuit state for a session.
func (cb *CircuitBreaker) State(tenantID, sessionID string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	sc, ok := cb.sessions[sessionKey(tenantID, sessionID)]
	if !ok {
		return CircuitClosed
	}
	return sc.state
}

func filterAfter(times []time.Time, cutoff time.Time) []time.Time {
	var result []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			result = append(result, t)
		}
	}
	return result
}
