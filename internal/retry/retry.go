// Package retry is a bounded retry helper for calls to external systems.
// A predicate decides which errors are worth another attempt, everything
// else is returned immediately.
package retry

import (
	"context"
	"time"
)

type Policy struct {
	Delays []time.Duration // pause before attempt 2..N, attempts = len(Delays)+1
}

func DefaultPolicy() Policy {
	return Policy{Delays: []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}}
}

// Do runs op until it succeeds, returns a non-retryable error,
// exhausts the policy or the context is cancelled.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, retryable func(error) bool) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		if attempt >= len(p.Delays) {
			return err
		}

		timer := time.NewTimer(p.Delays[attempt])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
