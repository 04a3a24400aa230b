// Package policy provides the resilience primitives the middleware chain
// composes around a Terminal call: Timeout, Retry, Composite, and the
// optional CircuitBreaker/Fallback.
package policy

import (
	"context"
	"time"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

// Step is the shape every policy wraps: an operation taking a context and
// returning an error.
type Step func(ctx context.Context) error

// Timeout bounds a Step to Duration. A deadline-triggered cancellation
// fails with KindTimeout; a caller-initiated cancellation (the parent
// context was cancelled directly, not by this deadline) re-surfaces as
// ctx.Err() unchanged.
type Timeout struct {
	Duration  time.Duration
	RequestID string
}

// Wrap returns a Step that runs fn under a derived context carrying
// Timeout's Duration as its deadline.
func (t Timeout) Wrap(fn Step) Step {
	return func(ctx context.Context) error {
		if t.Duration <= 0 {
			return fn(ctx)
		}
		cctx, cancel := context.WithTimeout(ctx, t.Duration)
		defer cancel()
		err := fn(cctx)
		if err != nil && cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			e := llmcomms.NewError(llmcomms.KindTimeout, "deadline exceeded", err)
			e.RequestID = t.RequestID
			return e
		}
		return err
	}
}
