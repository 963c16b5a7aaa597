package services

import (
	"context"
	"sync"
	"time"
)

// Countdown drives the per-question answer timer of a live session.
// Only one timer runs at a time. Callbacks run on the timer goroutine and
// must not call Start or Stop.
type Countdown struct {
	Interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCountdown() *Countdown {
	return &Countdown{Interval: time.Second}
}

// Start counts down from total seconds, calling onTick with the remaining
// seconds after every interval and onDone once zero is reached. A running
// timer is replaced. onDone is not called when the timer is stopped or ctx
// is cancelled.
func (c *Countdown) Start(ctx context.Context, total int, onTick func(remaining int), onDone func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	prevCancel, prevDone := c.cancel, c.done
	c.cancel, c.done = cancel, done
	interval := c.Interval
	c.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		defer close(done)
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for remaining := total; remaining > 0; {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				remaining--
				if remaining > 0 && onTick != nil {
					onTick(remaining)
				}
			}
		}

		c.mu.Lock()
		if c.done == done {
			c.cancel, c.done = nil, nil
		}
		c.mu.Unlock()

		if ctx.Err() == nil && onDone != nil {
			onDone()
		}
	}()
}

// Stop cancels the running timer and waits for it to exit. It is a no-op
// when no timer is running.
func (c *Countdown) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a timer is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done != nil
}
