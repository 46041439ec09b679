// Package circuit implements a three-state circuit breaker for calls to
// transient-prone dependencies. The breaker opens after a run of consecutive
// failures, rejects calls while open, and probes recovery through a half-open
// trial once the recovery timeout elapses.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do when the breaker rejects a call without invoking it.
var ErrOpen = errors.New("circuit open")

// State is the breaker's current position.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// StateChange reports transitions caused by a recorded outcome so callers can
// log or count them.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker guards a single dependency. All methods are safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time

	state        State
	failureCount int
	successCount int
	openedAt     time.Time
}

type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive successes close an open circuit.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithRecoveryTimeout sets how long the circuit stays open before a trial call
// is allowed through.
func WithRecoveryTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.recoveryTimeout = d
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a closed breaker named for the dependency it guards.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 2,
		recoveryTimeout:  30 * time.Second,
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, accounting for recovery timeout expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// IsOpen reports whether calls are currently rejected.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != StateClosed
}

// Do runs fn through the breaker. While open (and before the recovery timeout)
// it returns ErrOpen without invoking fn; otherwise the outcome of fn is
// recorded and returned.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}
	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state != StateOpen
}

// maybeHalfOpen transitions open -> half-open once the recovery timeout has
// elapsed. Callers must hold b.mu.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.recoveryTimeout {
		b.state = StateHalfOpen
		b.successCount = 0
	}
}

// RecordFailure counts a failed call. Returns whether the caller should fall
// back (circuit not closed) and any state transition that occurred.
func (b *Breaker) RecordFailure() (useFallback bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.successCount = 0

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.failureThreshold {
			b.open()
			return true, StateChange{Opened: true}
		}
		return false, StateChange{}
	case StateHalfOpen:
		// A single trial failure reopens the circuit.
		b.open()
		return true, StateChange{}
	default:
		return true, StateChange{}
	}
}

// RecordSuccess counts a successful call. Returns whether the caller may use
// the primary path (circuit closed) and any state transition that occurred.
func (b *Breaker) RecordSuccess() (usePrimary bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		b.failureCount = 0
		return true, StateChange{}
	}

	b.successCount++
	if b.successCount >= b.successThreshold {
		b.state = StateClosed
		b.failureCount = 0
		b.successCount = 0
		return true, StateChange{Closed: true}
	}
	return false, StateChange{}
}

// Reset forces the breaker closed, clearing all counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
}

// open transitions to the open state. Callers must hold b.mu.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.successCount = 0
}
