package policy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

// ErrCircuitOpen is returned by CircuitBreaker.Execute when the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("llmcomms/policy: circuit breaker is open")

// CBState is the operating mode of a CircuitBreaker.
type CBState int

const (
	CBClosed CBState = iota
	CBOpen
	CBHalfOpen
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "closed"
	case CBOpen:
		return "open"
	case CBHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a CircuitBreaker.
type CircuitBreakerConfig struct {
	// Name labels this breaker in log output, typically the provider name.
	Name string

	// MaxFailures is the number of consecutive failures in the closed
	// state before the breaker opens. Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing
	// again. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed in the half-open
	// state before deciding to close or re-open. Default 3.
	HalfOpenMax int
}

// CircuitBreaker is an optional policy, not part of the default middleware
// chain: callers that want provider-level circuit breaking wrap a
// provider.Adapter in one explicitly, since the chain's default order
// (Cache immediately before Terminal) has no slot reserved for it.
// Safe for concurrent use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu              sync.Mutex
	state           CBState
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// NewCircuitBreaker builds a CircuitBreaker, filling zero-valued config
// fields with their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        CBClosed,
	}
}

// Execute runs fn if the breaker allows it, translating a rejection into
// an llmcomms.Error of KindProviderUnavailable so callers see a
// consistent error type regardless of where it originated.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	cb.mu.Lock()
	switch cb.state {
	case CBOpen:
		if time.Since(cb.lastFailure) >= cb.resetTimeout {
			cb.state = CBHalfOpen
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			slog.Info("circuit breaker transitioning to half-open", "name", cb.name)
		} else {
			cb.mu.Unlock()
			return llmcomms.NewError(llmcomms.KindProviderUnavailable, cb.name+": circuit open", ErrCircuitOpen)
		}
	case CBHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return llmcomms.NewError(llmcomms.KindProviderUnavailable, cb.name+": circuit open (half-open probe budget exhausted)", ErrCircuitOpen)
		}
	}

	inHalfOpen := cb.state == CBHalfOpen
	if inHalfOpen {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.recordFailure(inHalfOpen)
	} else {
		cb.recordSuccess(inHalfOpen)
	}
	return err
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(inHalfOpen bool) {
	cb.lastFailure = time.Now()
	if inHalfOpen {
		cb.halfOpenFails++
		cb.state = CBOpen
		cb.consecutiveFail = cb.maxFailures
		slog.Warn("circuit breaker re-opened from half-open", "name", cb.name)
		return
	}
	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		cb.state = CBOpen
		slog.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", cb.consecutiveFail)
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(inHalfOpen bool) {
	if inHalfOpen {
		successes := cb.halfOpenCalls - cb.halfOpenFails
		if successes >= cb.halfOpenMax {
			cb.state = CBClosed
			cb.consecutiveFail = 0
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			slog.Info("circuit breaker closed after successful probes", "name", cb.name)
		}
		return
	}
	cb.consecutiveFail = 0
}

// State returns the current state. If open and the reset timeout has
// elapsed, reports half-open even though the transition only actually
// happens inside Execute.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CBOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return CBHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CBClosed
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenFails = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
