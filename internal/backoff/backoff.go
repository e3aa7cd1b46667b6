// Package backoff computes reconnect delays for the sync and realtime loops.
package backoff

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultMin = 500 * time.Millisecond
	DefaultMax = 30 * time.Second
)

// Calculator hands out exponentially growing delays between Min and Max and
// restarts from Min after Reset. It is safe for concurrent use.
type Calculator struct {
	mu       sync.Mutex
	min, max time.Duration
	b        retry.Backoff
	attempts int
}

func New(min, max time.Duration) *Calculator {
	if min <= 0 {
		min = DefaultMin
	}
	if max < min {
		max = min
	}
	c := &Calculator{min: min, max: max}
	c.b = c.fresh()
	return c
}

func (c *Calculator) fresh() retry.Backoff {
	return retry.WithCappedDuration(c.max, retry.NewExponential(c.min))
}

// Next returns the delay before the next attempt.
func (c *Calculator) Next() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	d, _ := c.b.Next()
	return d
}

// Reset restarts the sequence at Min, called after a successful connection.
func (c *Calculator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
	c.b = c.fresh()
}

// Attempts is the number of delays handed out since the last Reset.
func (c *Calculator) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Wait sleeps for the next delay or until ctx is done.
func (c *Calculator) Wait(ctx context.Context) error {
	t := time.NewTimer(c.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
