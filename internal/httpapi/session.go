package httpapi

import (
	"sync"
	"time"
)

// OperatorSession carries per-operator call state between requests: the
// sticky counter label and the consecutive-normal streak the interleave
// policy reads. Sessions are in-memory and expire after idle time; losing
// one only resets the streak, never ticket data.
type OperatorSession struct {
	CounterLabel string
	Streak       int
	lastSeen     time.Time
}

type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*OperatorSession
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SessionManager{
		sessions: make(map[string]*OperatorSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Touch returns the operator's session, creating a fresh one when none
// exists or the previous one has expired.
func (m *SessionManager) Touch(operatorID string) OperatorSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	session, ok := m.sessions[operatorID]
	if !ok || now.Sub(session.lastSeen) > m.ttl {
		session = &OperatorSession{}
		m.sessions[operatorID] = session
	}
	session.lastSeen = now
	return *session
}

func (m *SessionManager) Update(operatorID, counterLabel string, streak int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[operatorID]
	if !ok {
		session = &OperatorSession{}
		m.sessions[operatorID] = session
	}
	if counterLabel != "" {
		session.CounterLabel = counterLabel
	}
	session.Streak = streak
	session.lastSeen = m.now()
}

// Sweep drops idle sessions; run periodically from main.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, session := range m.sessions {
		if now.Sub(session.lastSeen) > m.ttl {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
