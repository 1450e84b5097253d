package llm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned while a breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the circuit breaker state
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerSettings configures every breaker created by a CircuitBreaker
type BreakerSettings struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
}

// DefaultBreakerSettings opens after 5 consecutive failures and probes again after 30s
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker keeps one breaker per key
type CircuitBreaker struct {
	settings BreakerSettings
	logger   logrus.FieldLogger

	mu       sync.Mutex
	breakers map[string]*breaker
}

type breaker struct {
	failures    uint32
	successes   uint32
	lastFailure time.Time
	state       BreakerState
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(settings BreakerSettings, logger logrus.FieldLogger) *CircuitBreaker {
	return &CircuitBreaker{
		settings: settings,
		logger:   logger.WithField("component", "circuit_breaker"),
		breakers: make(map[string]*breaker),
	}
}

// Execute runs fn unless the breaker for key is open
func (cb *CircuitBreaker) Execute(key string, fn func() error) error {
	if cb.stateFor(key) == StateOpen {
		return fmt.Errorf("%w for %s", ErrCircuitOpen, key)
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	b := cb.breakerLocked(key)
	if err != nil {
		cb.recordFailureLocked(key, b)
	} else {
		cb.recordSuccessLocked(key, b)
	}
	return err
}

// GetState returns the state of a specific breaker
func (cb *CircuitBreaker) GetState(key string) BreakerState {
	return cb.stateFor(key)
}

// Reset closes the breaker for key
func (cb *CircuitBreaker) Reset(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.breakers, key)
}

func (cb *CircuitBreaker) stateFor(key string) BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b, ok := cb.breakers[key]
	if !ok {
		return StateClosed
	}
	if b.state == StateOpen && time.Since(b.lastFailure) > cb.settings.Timeout {
		b.state = StateHalfOpen
		b.failures = 0
		b.successes = 0
	}
	return b.state
}

func (cb *CircuitBreaker) breakerLocked(key string) *breaker {
	b, ok := cb.breakers[key]
	if !ok {
		b = &breaker{state: StateClosed}
		cb.breakers[key] = b
	}
	return b
}

func (cb *CircuitBreaker) recordFailureLocked(key string, b *breaker) {
	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= cb.settings.FailureThreshold {
			b.state = StateOpen
			cb.logger.WithField("key", key).Warnf("opening circuit after %d failures", b.failures)
		}
	case StateHalfOpen:
		b.state = StateOpen
		cb.logger.WithField("key", key).Warn("re-opening circuit after failed probe")
	}
}

func (cb *CircuitBreaker) recordSuccessLocked(key string, b *breaker) {
	b.successes++

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.successes >= cb.settings.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			cb.logger.WithField("key", key).Info("closing circuit")
		}
	}
}
