package policy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

// ErrAllFailed is returned when every entry in a Fallback group fails or
// has an open circuit breaker.
var ErrAllFailed = errors.New("llmcomms/policy: all providers failed")

// FallbackConfig configures the per-entry circuit breaker created for
// each provider registered in a Fallback group.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Fallback wraps a primary and zero or more fallback instances of the
// same provider.Adapter-shaped type T. When the primary fails, or its
// circuit breaker is open, the next healthy fallback is tried in
// registration order. This is an opt-in caller composition, not part of
// the chain's default ordering. Execute and FallbackWithResult are safe
// for concurrent use; AddFallback takes no lock and must not run
// concurrently with them.
type Fallback[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallback creates a Fallback group with primary as its first entry.
func NewFallback[T any](primary T, primaryName string, cfg FallbackConfig) *Fallback[T] {
	cbCfg := cfg.CircuitBreaker
	cbCfg.Name = primaryName
	return &Fallback[T]{
		entries: []fallbackEntry[T]{{name: primaryName, value: primary, breaker: NewCircuitBreaker(cbCfg)}},
		cfg:     cfg,
	}
}

// AddFallback appends a fallback entry, tried after the primary and any
// previously added fallbacks.
func (fg *Fallback[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: fallback, breaker: NewCircuitBreaker(cbCfg)})
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *Fallback[T]) Execute(ctx context.Context, fn func(T) error) error {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]
		err := entry.breaker.Execute(ctx, func(context.Context) error {
			return fn(entry.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", entry.name, "error", err)
		}
	}
	return llmcomms.NewError(llmcomms.KindProviderUnavailable, "all providers failed", errors.Join(ErrAllFailed, lastErr))
}

// FallbackWithResult tries fn against each entry until one succeeds,
// returning both the result and error. A package-level function because
// Go disallows type parameters on methods.
func FallbackWithResult[T any, R any](fg *Fallback[T], ctx context.Context, fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(ctx, func(context.Context) error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", entry.name, "error", err)
		}
	}
	return zero, llmcomms.NewError(llmcomms.KindProviderUnavailable, "all providers failed", errors.Join(ErrAllFailed, lastErr))
}
