package breaker

import (
	"sort"
	"sync"
	"time"
)

// Set holds one breaker per named dependency, created on first use.
type Set struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	threshold int
	interval  time.Duration
}

func NewSet(threshold int, interval time.Duration) *Set {
	return &Set{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		interval:  interval,
	}
}

// Get returns the breaker for name, creating it if needed.
func (s *Set) Get(name string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b = New(name, s.threshold, s.interval)
	s.breakers[name] = b
	return b
}

// Status is a point-in-time view of one breaker.
type Status struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Snapshot lists every known breaker sorted by name.
func (s *Set) Snapshot() []Status {
	s.mu.RLock()
	out := make([]Status, 0, len(s.breakers))
	for name, b := range s.breakers {
		out = append(out, Status{Name: name, State: b.State().String()})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
