// Package session serializes turns per (tenant_id, session_id) and keeps
// the per-session conversation history. The ledger and history are not
// safe for concurrent mutation, so two turns for the same session never
// run at once; turns for different sessions proceed independently.
package session

import (
	"context"
	"sync"
	"time"
)

// Exchange is one completed question/answer pair kept as conversation
// context for subsequent turns in the session.
type Exchange struct {
	Question  string
	Answer    string
	Timestamp time.Time
}

// Session holds the mutable per-session state. Access is only valid
// between Acquire and the returned release function.
type Session struct {
	TenantID  string
	SessionID string

	lock     chan struct{} // capacity 1; holding the token = owning the session
	mu       sync.Mutex    // guards history and lastUsed
	history  []Exchange
	lastUsed time.Time
}

// History returns a copy of the conversation history, oldest first.
func (s *Session) History() []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Exchange, len(s.history))
	copy(out, s.history)
	return out
}

// AppendExchange records a completed turn in the session history.
func (s *Session) AppendExchange(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Exchange{
		Question:  question,
		Answer:    answer,
		Timestamp: time.Now().UTC(),
	})
}

// Manager tracks live sessions. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

func key(tenantID, sessionID string) string {
	return tenantID + ":" + sessionID
}

// Acquire returns the session for (tenantID, sessionID), creating one on
// first use, after taking its exclusive lock. It blocks until the lock is
// available or ctx is done. The returned release function must be called
// exactly once when the turn completes.
func (m *Manager) Acquire(ctx context.Context, tenantID, sessionID string) (*Session, func(), error) {
	m.mu.Lock()
	k := key(tenantID, sessionID)
	s, ok := m.sessions[k]
	if !ok {
		s = &Session{
			TenantID:  tenantID,
			SessionID: sessionID,
			lock:      make(chan struct{}, 1),
		}
		m.sessions[k] = s
	}
	m.mu.Unlock()

	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()

	release := func() { <-s.lock }
	return s, release, nil
}

// Sweep drops sessions idle for longer than maxIdle and returns the number
// removed. Sessions currently held are never dropped.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for k, s := range m.sessions {
		select {
		case s.lock <- struct{}{}: // not held; we now hold it
			s.mu.Lock()
			idle := s.lastUsed.Before(cutoff)
			s.mu.Unlock()
			if idle {
				delete(m.sessions, k)
				removed++
			}
			<-s.lock
		default: // in use, skip
		}
	}
	return removed
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
