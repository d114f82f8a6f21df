// Package circuitbreaker guards RPC providers against cascading failures.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// Consecutive failures that open the breaker.
	FailureThreshold int
	// Consecutive half-open successes that close it again.
	SuccessThreshold int
	// How long the breaker stays open before probing.
	Timeout time.Duration
	// OnStateChange runs synchronously under no lock after a transition.
	OnStateChange func(name string, from, to State)
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

type Breaker struct {
	mu   sync.Mutex
	name string
	cfg  Config
	now  func() time.Time

	state       State
	failures    int
	successes   int
	openedAt    time.Time
	probeActive bool
}

func New(name string, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now, state: StateClosed}
}

// WithClock replaces the time source, for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState must be called with mu held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Timeout {
		return StateHalfOpen
	}
	return b.state
}

// Allow reports whether a call may proceed. In half-open only one probe is
// admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probeActive {
			return false
		}
		if b.state == StateOpen {
			b.state = StateHalfOpen
			b.successes = 0
		}
		b.probeActive = true
		return true
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from, to := b.state, b.state
	b.failures = 0
	b.probeActive = false
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.successes = 0
			to = StateClosed
		}
	}
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from, to := b.state, b.state
	b.successes = 0
	b.failures++
	b.probeActive = false
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
			to = StateOpen
		}
	case StateHalfOpen:
		b.trip()
		to = StateOpen
	}
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.probeActive = false
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
// Context cancellation by the caller is not counted as a failure.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil && !isCallerAbort(err) {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return err
}

func isCallerAbort(err error) bool {
	return errors.Is(err, context.Canceled)
}
