package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// halfOpenProbes is the number of trial calls allowed while half-open.
const halfOpenProbes = 3

// CircuitBreaker guards calls to an external dependency. Consecutive
// failures open the circuit; after the open timeout a limited number of
// probe calls decide whether it closes again.
type CircuitBreaker struct {
	name        string
	maxFailures uint32
	openFor     time.Duration
	logger      *logrus.Logger

	mu          sync.Mutex
	state       State
	failures    uint32
	successes   uint32
	probes      uint32
	lastFailure time.Time
	now         func() time.Time
}

// New creates a circuit breaker with a default logger.
func New(name string, maxFailures uint32, openFor time.Duration) *CircuitBreaker {
	return NewWithLogger(name, maxFailures, openFor, logrus.New())
}

// NewWithLogger creates a circuit breaker that logs state changes to the
// given logger.
func NewWithLogger(name string, maxFailures uint32, openFor time.Duration, logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		openFor:     openFor,
		state:       StateClosed,
		logger:      logger,
		now:         time.Now,
	}
}

// Execute runs fn when the circuit allows it. When open, it returns a
// *CircuitBreakerError without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return &CircuitBreakerError{Name: cb.name, State: cb.State()}
	}

	if err := fn(ctx); err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

// allow reports whether a call may proceed, transitioning open to
// half-open when the open timeout has elapsed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.openFor {
			return false
		}
		cb.toHalfOpen()
		fallthrough
	case StateHalfOpen:
		if cb.probes >= halfOpenProbes {
			return false
		}
		cb.probes++
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateHalfOpen {
		cb.failures = 0
		return
	}

	cb.successes++
	if cb.successes >= halfOpenProbes {
		cb.state = StateClosed
		cb.failures = 0
		cb.successes = 0
		cb.probes = 0
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           StateClosed.String(),
		}).Info("Circuit breaker closed after successful recovery")
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.trip()
		}
	case StateHalfOpen:
		// A failed probe reopens immediately.
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"failures":        cb.failures,
		"state":           StateOpen.String(),
	}).Warn("Circuit breaker opened due to failures")
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.state = StateHalfOpen
	cb.probes = 0
	cb.successes = 0
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"state":           StateHalfOpen.String(),
	}).Info("Circuit breaker transitioned to half-open")
}

// State returns the current state, accounting for open timeout expiry.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.openFor {
		cb.toHalfOpen()
	}
	return cb.state
}

// CircuitBreakerError is returned when the circuit rejects a call.
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit rejection.
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
