// Package clock abstracts time so pacing can be tested without wall-clock
// waits.
package clock

import (
	"context"
	"time"
)

// Clock tells time and schedules wake-ups.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep waits for d on c or until ctx is done. A non-positive d returns
// immediately unless ctx is already done.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

// SleepUntil waits until t on c or until ctx is done.
func SleepUntil(ctx context.Context, c Clock, t time.Time) error {
	return Sleep(ctx, c, t.Sub(c.Now()))
}
