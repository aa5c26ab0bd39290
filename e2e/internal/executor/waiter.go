package executor

import (
	"context"
	"time"
)

// WaitUntil blocks until atMs milliseconds after start, or until ctx ends
func WaitUntil(ctx context.Context, start time.Time, atMs int) error {
	d := time.Until(start.Add(time.Duration(atMs) * time.Millisecond))
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetElapsed returns elapsed seconds since start
func GetElapsed(start time.Time) float64 {
	return time.Since(start).Seconds()
}
