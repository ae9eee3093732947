package clients

import (
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed lets every request through.
	StateClosed State = iota

	// StateOpen rejects requests until the open timeout elapses.
	StateOpen

	// StateHalfOpen admits a limited number of probe requests.
	StateHalfOpen
)

// String returns a human-readable name for the state.
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

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures int

	// Timeout is how long the circuit stays open before admitting probes.
	Timeout time.Duration

	// HalfOpenLimit is both the number of concurrent probes admitted while
	// half-open and the consecutive successes needed to close again.
	HalfOpenLimit int
}

// CircuitBreaker tracks upstream health from dispatch outcomes.
//
//   - Closed → Open: after MaxFailures consecutive failures
//   - Open → HalfOpen: once Timeout has passed since the last failure
//   - HalfOpen → Closed: after HalfOpenLimit consecutive successes
//   - HalfOpen → Open: on any failure
//
// Outcomes that say nothing about upstream health (an auth rejection, a
// cancelled caller) are reported with RecordNeutral, which only frees the
// probe slot.
type CircuitBreaker struct {
	mu        sync.Mutex
	cfg       CircuitBreakerConfig
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time

	onStateChange func(from, to State)
	now           func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}

	if cfg.HalfOpenLimit < 1 {
		cfg.HalfOpenLimit = 1
	}

	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// OnStateChange registers a callback invoked after every transition, outside
// the breaker's lock.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Allow reports whether a request may proceed. While half-open, an admitted
// request holds a probe slot until one of the Record methods releases it.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	notify := cb.noop

	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
			notify = cb.transitionTo(StateHalfOpen)
			cb.probes = 1
			allowed = true
		}
	case StateHalfOpen:
		if cb.probes < cb.cfg.HalfOpenLimit {
			cb.probes++
			allowed = true
		}
	}

	cb.mu.Unlock()
	notify()

	return allowed
}

// RecordSuccess records a healthy upstream response.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	notify := cb.noop

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.releaseProbe()
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenLimit {
			notify = cb.transitionTo(StateClosed)
		}
	}

	cb.mu.Unlock()
	notify()
}

// RecordFailure records an unhealthy upstream outcome.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	notify := cb.noop

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			notify = cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.releaseProbe()
		notify = cb.transitionTo(StateOpen)
	}

	cb.mu.Unlock()
	notify()
}

// RecordNeutral releases a half-open probe slot without counting the outcome.
func (cb *CircuitBreaker) RecordNeutral() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.releaseProbe()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) releaseProbe() {
	if cb.probes > 0 {
		cb.probes--
	}
}

// transitionTo must be called with the lock held. It returns the notification
// to run once the lock is released.
func (cb *CircuitBreaker) transitionTo(next State) func() {
	prev := cb.state
	if prev == next {
		return cb.noop
	}

	cb.state = next
	cb.failures = 0
	cb.successes = 0

	if next == StateOpen {
		cb.openedAt = cb.now()
		cb.probes = 0
	}

	fn := cb.onStateChange
	if fn == nil {
		return cb.noop
	}

	return func() { fn(prev, next) }
}

func (cb *CircuitBreaker) noop() {}
