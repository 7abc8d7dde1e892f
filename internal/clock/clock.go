// Package clock abstracts timers and periodic callbacks so that the archiver
// can be driven by virtual time in tests.
package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Clock is the time source used by the archiver.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
	// Every calls f every d until the returned stop function is called.
	Every(d time.Duration, f func()) (stop func())
	// Schedule calls f on a cron schedule ("@every 1h", "0 * * * *").
	Schedule(spec string, f func()) (stop func(), err error)
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	Stop() bool
}

// Real is the wall clock. Cron schedules share one cron runner that is
// started lazily.
type Real struct {
	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

// NewReal returns a wall clock.
func NewReal() *Real {
	return &Real{cron: cron.New()}
}

func (c *Real) Now() time.Time {
	return time.Now()
}

func (c *Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (c *Real) Every(d time.Duration, f func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				f()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

func (c *Real) Schedule(spec string, f func()) (func(), error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}

	c.mu.Lock()
	id := c.cron.Schedule(sched, cron.FuncJob(f))
	if !c.started {
		c.cron.Start()
		c.started = true
	}
	c.mu.Unlock()

	return func() {
		c.cron.Remove(id)
	}, nil
}

func (c *Real) Sleep(ctx context.Context, d time.Duration) error {
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

// Stop halts the cron runner and waits for running scheduled callbacks.
func (c *Real) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		<-c.cron.Stop().Done()
		c.started = false
	}
}
