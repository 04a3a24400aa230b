package policy

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

// Retry wraps a Step with decorrelated-jitter backoff, up to MaxRetries
// additional attempts after the first. Only errors for which
// llmcomms.IsRetryable reports true are retried.
//
// Backoff follows the "decorrelated jitter" formula: the first sleep is
// drawn uniformly from [BaseDelay, 3*BaseDelay) — there is no previous
// sleep yet, and that case is bounded as if "previous" were BaseDelay —
// and each subsequent sleep is
// drawn uniformly from [BaseDelay, 3*previousSleep), capped at MaxDelay.
// When the failing error is KindRateLimited and carries a RetryAfter
// hint, that value is used for the sleep instead, overriding jitter.
type Retry struct {
	// MaxRetries is the number of retry attempts after the first try.
	// Default 2 when zero and negative values are treated as 0.
	MaxRetries int

	// BaseDelay is the minimum backoff floor. Default 250ms when zero.
	BaseDelay time.Duration

	// MaxDelay caps any single sleep. Default 4s when zero.
	MaxDelay time.Duration
}

func (r Retry) resolve() (maxRetries int, base, cap_ time.Duration) {
	maxRetries = r.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	base = r.BaseDelay
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	cap_ = r.MaxDelay
	if cap_ <= 0 {
		cap_ = 4 * time.Second
	}
	return
}

// Wrap returns a Step that retries fn per the configured policy. Total
// attempts never exceed MaxRetries+1 (invariant I7).
func (r Retry) Wrap(fn Step) Step {
	maxRetries, base, capDelay := r.resolve()
	attempts := maxRetries + 1
	return func(ctx context.Context) error {
		var err error
		var sleep time.Duration
		for attempt := 1; attempt <= attempts; attempt++ {
			err = fn(ctx)
			if err == nil {
				return nil
			}
			if !llmcomms.IsRetryable(err) {
				return err
			}
			if attempt == attempts {
				return err
			}

			wait := nextDecorrelatedJitter(base, capDelay, sleep)
			sleep = wait
			var e *llmcomms.Error
			if errors.As(err, &e) && e.Kind == llmcomms.KindRateLimited && e.RetryAfter > 0 {
				wait = e.RetryAfter
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		return err
	}
}

// nextDecorrelatedJitter computes the next sleep duration given the
// previous one. On the first call prev is zero, and the upper bound is
// 3*base per the decorrelated jitter formula's documented seed case.
func nextDecorrelatedJitter(base, cap_, prev time.Duration) time.Duration {
	upper := prev * 3
	if upper < base {
		upper = base * 3
	}
	if upper > cap_ {
		upper = cap_
	}
	if upper <= base {
		return base
	}
	d := randDuration(base, upper)
	if d > cap_ {
		d = cap_
	}
	return d
}

// randDuration returns a uniform random duration in [lo, hi).
func randDuration(lo, hi time.Duration) time.Duration {
	span := int64(hi - lo)
	if span <= 0 {
		return lo
	}
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return lo
	}
	return lo + time.Duration(n.Int64())
}
