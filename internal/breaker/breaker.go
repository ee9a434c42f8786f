// Package breaker guards calls to external classifiers so a failing
// dependency is skipped instead of stalling every scan.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do while the breaker rejects calls.
var ErrOpen = errors.New("circuit open")

// State of a breaker.
type State int

const (
	StateClosed   State = iota // calls flow
	StateOpen                  // calls rejected
	StateHalfOpen              // a single probe in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker trips after a run of consecutive failures and lets one probe
// through once the recovery interval has passed.
type Breaker struct {
	mu sync.Mutex

	name     string
	state    State
	failures int
	openedAt time.Time
	probing  bool

	threshold int
	interval  time.Duration
	now       func() time.Time
}

// New returns a closed breaker. A threshold below 1 is treated as 1.
func New(name string, threshold int, interval time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{name: name, threshold: threshold, interval: interval, now: time.Now}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving OPEN to HALF_OPEN when the
// recovery interval has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// must hold mu
func (b *Breaker) current() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.interval {
		b.state = StateHalfOpen
		b.probing = false
	}
	return b.state
}

// Allow reports whether a call may proceed. In HALF_OPEN only the first
// caller is admitted until it reports back.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.current() {
	case StateClosed:
		if b.failures >= b.threshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

// must hold mu
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probing = false
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// Do runs fn if the breaker allows it and records the outcome. A
// cancelled caller context is not counted against the dependency.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case ctx.Err() != nil:
		b.mu.Lock()
		b.probing = false
		b.mu.Unlock()
	default:
		b.RecordFailure()
	}
	return err
}
