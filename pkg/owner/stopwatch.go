package owner

import (
	"fmt"
	"sync"
	"time"
)

// Stopwatch accumulates the owner's own processing time over several
// segments, so network waits between segments are left out.
type Stopwatch struct {
	mu      sync.Mutex
	total   time.Duration
	started time.Time
	running bool
}

func (s *Stopwatch) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.started = time.Now()
		s.running = true
	}
}

// Stop ends the current segment and returns the accumulated total.
func (s *Stopwatch) Stop() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.total += time.Since(s.started)
		s.running = false
	}
	return s.total
}

// Elapsed returns the accumulated total including a running segment.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.total + time.Since(s.started)
	}
	return s.total
}

func (s *Stopwatch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = 0
	s.running = false
}

// FormatDuration renders d as "Xm :Ys :Zms".
func FormatDuration(d time.Duration) string {
	m := int64(d / time.Minute)
	sec := int64(d/time.Second) % 60
	ms := int64(d/time.Millisecond) % 1000
	return fmt.Sprintf("%dm :%ds :%dms", m, sec, ms)
}
