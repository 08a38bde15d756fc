package wsclient

import (
	"context"
	"math"
	"time"
)

// Backoff computes reconnect delays from the consecutive failure count.
// The delay for attempt n is min(Base^n, Max) seconds.
type Backoff struct {
	// Base is the exponent base. Values at or below 1 degenerate to a
	// constant delay.
	Base float64
	// Max caps the computed delay.
	Max time.Duration
}

// DefaultBackoff returns the standard reconnect policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2.0, Max: 30 * time.Second}
}

// Delay returns the wait before reconnect attempt n.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	secs := math.Pow(b.Base, float64(attempt))
	if secs >= b.Max.Seconds() {
		return b.Max
	}
	d := time.Duration(secs * float64(time.Second))
	if d < 0 || d > b.Max {
		return b.Max
	}
	return d
}

func (b Backoff) valid() bool {
	return b.Base > 0 && b.Max > 0
}

// sleepBackoff waits for the attempt's delay or until ctx is done.
func sleepBackoff(ctx context.Context, b Backoff, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
