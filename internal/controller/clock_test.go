package controller

import (
	"sort"
	"sync"
	"time"
)

// manualClock fires timers only when Advance moves time past them. Callbacks
// run synchronously on the goroutine calling Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*manualTimer
}

type manualTimer struct {
	clock *manualClock
	id    int
	when  time.Time
	fn    func()
}

func newManualClock() *manualClock {
	return &manualClock{
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		timers: make(map[int]*manualTimer),
	}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &manualTimer{clock: c, id: c.nextID, when: c.now.Add(d), fn: f}
	c.timers[t.id] = t
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t.id]; !ok {
		return false
	}
	delete(t.clock.timers, t.id)
	return true
}

// Pending returns the number of armed timers.
func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// NextIn returns how far away the earliest armed timer is.
func (c *manualClock) NextIn() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	due := c.dueLocked(time.Time{})
	if len(due) == 0 {
		return 0, false
	}
	return due[0].when.Sub(c.now), true
}

// Advance moves the clock forward by d, firing due timers in order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		due := c.dueLocked(target)
		if len(due) == 0 {
			break
		}
		next := due[0]
		delete(c.timers, next.id)
		c.now = next.when
		c.mu.Unlock()
		next.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// dueLocked lists timers at or before limit, earliest first. A zero limit
// lists every timer.
func (c *manualClock) dueLocked(limit time.Time) []*manualTimer {
	var out []*manualTimer
	for _, t := range c.timers {
		if limit.IsZero() || !t.when.After(limit) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].when.Equal(out[j].when) {
			return out[i].id < out[j].id
		}
		return out[i].when.Before(out[j].when)
	})
	return out
}
