package circuitbreaker

import (
	"fmt"
	"sync"
	"time"
)

// State of the breaker.
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

// Config holds circuit breaker thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // successes in half-open before closing
	OpenTimeout      time.Duration // how long to stay open before probing
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// ErrOpen is returned when the breaker rejects a call outright.
type ErrOpen struct{ Until time.Time }

func (e ErrOpen) Error() string {
	return fmt.Sprintf("circuit breaker open until %s", e.Until.Format(time.RFC3339))
}

// Breaker guards calls to an unreliable dependency.
type Breaker struct {
	cfg Config

	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	stateChanged time.Time
}

// New creates a breaker in the closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: StateClosed, stateChanged: time.Now()}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.stateChanged) < b.cfg.OpenTimeout {
			return ErrOpen{Until: b.stateChanged.Add(b.cfg.OpenTimeout)}
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transition(StateClosed)
			}
		}
		return
	}

	b.successes = 0
	b.failures++
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.cfg.FailureThreshold) {
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.stateChanged = time.Now()
	b.failures = 0
	b.successes = 0
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
