package pipeline

import (
	"context"
	"time"
)

// Clock supplies wall-clock time and cancellable sleeps.
//
// Operations that measure durations or wait between retries take a Clock so
// tests can substitute a fake that advances instantly.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is done, whichever comes first.
// It returns ctx.Err() if the context ended the wait.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func since(c Clock, start time.Time) float64 {
	return c.Now().Sub(start).Seconds()
}
