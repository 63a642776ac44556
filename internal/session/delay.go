package session

import (
	"context"
	"time"
)

// Delayer is the artificial thinking pause before an assistant turn becomes
// visible.
type Delayer interface {
	Wait(ctx context.Context) error
}

// DelayFunc adapts a function to Delayer.
type DelayFunc func(ctx context.Context) error

func (f DelayFunc) Wait(ctx context.Context) error { return f(ctx) }

// Fixed waits d, or until ctx is done.
func Fixed(d time.Duration) Delayer {
	if d <= 0 {
		return NoDelay
	}
	return DelayFunc(func(ctx context.Context) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// NoDelay returns immediately unless ctx is already done.
var NoDelay Delayer = DelayFunc(func(ctx context.Context) error { return ctx.Err() })
