package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

var errTest = errors.New("test error")

func TestNewCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != CBClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreakerClosedAllowsCalls(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3})
	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCircuitBreakerClosedToOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	})
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	}
	if cb.State() != CBOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if llmcomms.KindOf(err) != llmcomms.KindProviderUnavailable {
		t.Errorf("kind = %v, want provider_unavailable", llmcomms.KindOf(err))
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	_ = cb.Execute(context.Background(), func(context.Context) error { return nil })
	if cb.State() != CBClosed {
		t.Fatalf("state = %v, want closed (success should reset counter)", cb.State())
	}

	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	if cb.State() != CBClosed {
		t.Fatal("should still be closed after 2 failures post-reset")
	}
}

func TestCircuitBreakerOpenToHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	if cb.State() != CBOpen {
		t.Fatal("expected open")
	}

	time.Sleep(15 * time.Millisecond)
	if cb.State() != CBHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", cb.State())
	}
}

func TestCircuitBreakerHalfOpenToClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })

	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
			t.Fatalf("probe %d: unexpected error: %v", i, err)
		}
	}
	if cb.State() != CBClosed {
		t.Fatalf("state = %v, want closed after successful probes", cb.State())
	}
}

func TestCircuitBreakerHalfOpenToOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  3,
	})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })

	time.Sleep(15 * time.Millisecond)

	err := cb.Execute(context.Background(), func(context.Context) error { return errTest })
	if err == nil {
		t.Fatal("expected error from failing probe")
	}

	cb.mu.Lock()
	s := cb.state
	cb.mu.Unlock()
	if s != CBOpen {
		t.Fatalf("state = %v, want open after half-open failure", s)
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	if cb.State() != CBOpen {
		t.Fatal("expected open")
	}

	cb.Reset()
	if cb.State() != CBClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}

	if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestCBStateString(t *testing.T) {
	tests := []struct {
		state CBState
		want  string
	}{
		{CBClosed, "closed"},
		{CBOpen, "open"},
		{CBHalfOpen, "half-open"},
		{CBState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CBState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
