// Package retry runs short operations against unreliable services with a
// bounded attempt budget and exponential backoff.
package retry

import (
	"context"
	"time"
)

// Policy bounds one call site. Backoff is the delay before the second
// attempt and doubles for each attempt after that.
type Policy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultPolicy matches the engine's external-call budget.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Backoff: 500 * time.Millisecond}
}

// Do invokes fn up to p.Attempts times, sleeping between attempts. It
// returns nil on the first success, the context's error when cancellation
// interrupts a sleep, and otherwise fn's last error.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if werr := Sleep(ctx, p.Backoff<<(i-1)); werr != nil {
				return werr
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
