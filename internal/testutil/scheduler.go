package testutil

import (
	"sync"
	"time"
)

// ManualScheduler queues delayed functions until Fire is called.
type ManualScheduler struct {
	mu      sync.Mutex
	pending map[int]func()
	delays  []time.Duration
	seq     int
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{pending: make(map[int]func())}
}

func (s *ManualScheduler) After(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := s.seq
	s.pending[id] = fn
	s.delays = append(s.delays, d)
	return func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}
}

// Fire runs every pending function and returns how many ran.
func (s *ManualScheduler) Fire() int {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.pending))
	for id, fn := range s.pending {
		fns = append(fns, fn)
		delete(s.pending, id)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Delays lists the delay of every After call.
func (s *ManualScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
