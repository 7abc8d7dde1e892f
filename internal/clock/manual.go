package clock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Manual is a Clock that only moves when Advance is called. Due callbacks run
// synchronously inside Advance, in deadline order. Zero or negative AfterFunc
// delays fire immediately in their own goroutine, like time.AfterFunc.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	waiters map[int]*waiter
}

type waiter struct {
	id       int
	deadline time.Time
	period   time.Duration
	sched    cron.Schedule
	fn       func()
	ch       chan struct{}
}

// NewManual returns a manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, waiters: make(map[int]*waiter)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

type manualTimer struct {
	m  *Manual
	id int
}

func (t manualTimer) Stop() bool {
	return t.m.remove(t.id)
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	if d <= 0 {
		go f()
		return manualTimer{m: m, id: -1}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.add(&waiter{deadline: m.now.Add(d), fn: f})
	return manualTimer{m: m, id: id}
}

func (m *Manual) Every(d time.Duration, f func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.add(&waiter{deadline: m.now.Add(d), period: d, fn: f})
	return func() { m.remove(id) }
}

func (m *Manual) Schedule(spec string, f func()) (func(), error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.add(&waiter{deadline: sched.Next(m.now), sched: sched, fn: f})
	return func() { m.remove(id) }, nil
}

func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	ch := make(chan struct{})
	m.mu.Lock()
	id := m.add(&waiter{deadline: m.now.Add(d), ch: ch})
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		m.remove(id)
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Advance moves the clock forward by d, firing every callback that falls due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		w := m.nextDue(target)
		if w == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = w.deadline
		switch {
		case w.period > 0:
			w.deadline = w.deadline.Add(w.period)
		case w.sched != nil:
			w.deadline = w.sched.Next(w.deadline)
		default:
			delete(m.waiters, w.id)
		}
		fn, ch := w.fn, w.ch
		m.mu.Unlock()

		if ch != nil {
			close(ch)
		}
		if fn != nil {
			fn()
		}
	}
}

// Waiters returns the number of pending timers, tickers, schedules and sleeps.
func (m *Manual) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

func (m *Manual) add(w *waiter) int {
	m.nextID++
	w.id = m.nextID
	m.waiters[w.id] = w
	return w.id
}

func (m *Manual) remove(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.waiters[id]; !ok {
		return false
	}
	delete(m.waiters, id)
	return true
}

func (m *Manual) nextDue(target time.Time) *waiter {
	var due []*waiter
	for _, w := range m.waiters {
		if !w.deadline.After(target) {
			due = append(due, w)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}
