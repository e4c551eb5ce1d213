package search

import (
	"sync"
	"time"

	"github.com/papercomputeco/finsight/pkg/fault"
)

// Stats counts searches and query-path degradations.
type Stats struct {
	mu          sync.Mutex
	searches    map[Method]int64
	degraded    map[string]int64
	orphans     int64
	lastError   string
	lastErrorAt time.Time
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Searches    map[Method]int64 `json:"searches"`
	Degraded    map[string]int64 `json:"degraded"`
	Orphans     int64            `json:"orphans"`
	LastError   string           `json:"last_error,omitempty"`
	LastErrorAt *time.Time       `json:"last_error_at,omitempty"`
}

func newStats() *Stats {
	return &Stats{
		searches: make(map[Method]int64),
		degraded: make(map[string]int64),
	}
}

func (s *Stats) recordSearch(m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches[m]++
}

func (s *Stats) recordDegraded(kind string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded[kind]++
	s.lastError = err.Error()
	s.lastErrorAt = time.Now().UTC()
}

func (s *Stats) recordOrphan(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphans++
	s.degraded[fault.KindIndexInconsistency]++
	s.lastError = err.Error()
	s.lastErrorAt = time.Now().UTC()
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := StatsSnapshot{
		Searches:  make(map[Method]int64, len(s.searches)),
		Degraded:  make(map[string]int64, len(s.degraded)),
		Orphans:   s.orphans,
		LastError: s.lastError,
	}
	for k, v := range s.searches {
		out.Searches[k] = v
	}
	for k, v := range s.degraded {
		out.Degraded[k] = v
	}
	if !s.lastErrorAt.IsZero() {
		at := s.lastErrorAt
		out.LastErrorAt = &at
	}
	return out
}
