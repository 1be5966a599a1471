package csp

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionStats counts the messages handled for one owner.
type SessionStats struct {
	TotalRequests   int64         `json:"totalRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	LastSeen        time.Time     `json:"lastSeen"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
}

type ownerSession struct {
	// serializes message handling for one owner
	order sync.Mutex

	mu     sync.RWMutex
	stats  SessionStats
	active int
}

// SessionManager processes the messages of one owner one at a time and
// keeps per-owner statistics. Different owners do not block each other.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*ownerSession
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*ownerSession)}
}

func (m *SessionManager) session(ownerID string) *ownerSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[ownerID]
	if !ok {
		s = &ownerSession{}
		m.sessions[ownerID] = s
	}
	s.mu.Lock()
	s.active++
	s.mu.Unlock()
	return s
}

// Do runs fn while holding the owner's turn and records the outcome.
func (m *SessionManager) Do(ownerID string, fn func() error) error {
	s := m.session(ownerID)
	s.order.Lock()
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	s.order.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	s.stats.TotalRequests++
	s.stats.LastSeen = time.Now()
	if err != nil {
		s.stats.FailedRequests++
	}
	// simple moving average
	if s.stats.AvgResponseTime == 0 {
		s.stats.AvgResponseTime = elapsed
	} else {
		s.stats.AvgResponseTime = (s.stats.AvgResponseTime*9 + elapsed) / 10
	}
	return err
}

// Stats returns a copy of the owner's statistics, nil for an unknown owner.
func (m *SessionManager) Stats(ownerID string) *SessionStats {
	m.mu.Lock()
	s, ok := m.sessions[ownerID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	statsCopy := s.stats
	return &statsCopy
}

// CleanupIdle forgets owners with no message in flight for longer than maxIdle.
func (m *SessionManager) CleanupIdle(maxIdle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, s := range m.sessions {
		s.mu.RLock()
		idle := s.active == 0 && now.Sub(s.stats.LastSeen) > maxIdle
		s.mu.RUnlock()
		if idle {
			delete(m.sessions, id)
			logrus.Debugf("Cleaned up idle owner session: %s", id)
		}
	}
}

func (m *SessionManager) Owners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
