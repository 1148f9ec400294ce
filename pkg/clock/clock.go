// Package clock abstracts time so that timer-driven balance mutations can
// be driven by a single logical clock in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	// AfterFunc calls f once after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Virtual is a manually advanced clock. Callbacks run on the goroutine
// calling Advance, in deadline order; equal deadlines fire in registration
// order.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*virtualTimer
}

type virtualTimer struct {
	c       *Virtual
	when    time.Time
	seq     uint64
	f       func()
	stopped bool
	fired   bool
}

func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) AfterFunc(d time.Duration, f func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{c: v, when: v.now.Add(d), seq: v.seq, f: f}
	v.timers = append(v.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that falls due.
// Timers armed by callbacks are fired too when they fall inside the window.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		t := v.nextDue(target)
		if t == nil {
			break
		}
		t.f()
	}

	v.mu.Lock()
	v.now = target
	v.mu.Unlock()
}

// Pending returns the number of armed timers.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, t := range v.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (v *Virtual) nextDue(target time.Time) *virtualTimer {
	v.mu.Lock()
	defer v.mu.Unlock()

	live := v.timers[:0]
	for _, t := range v.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	v.timers = live
	if len(v.timers) == 0 {
		return nil
	}
	sort.Slice(v.timers, func(i, j int) bool {
		if v.timers[i].when.Equal(v.timers[j].when) {
			return v.timers[i].seq < v.timers[j].seq
		}
		return v.timers[i].when.Before(v.timers[j].when)
	})
	t := v.timers[0]
	if t.when.After(target) {
		return nil
	}
	t.fired = true
	if t.when.After(v.now) {
		v.now = t.when
	}
	return t
}

func (t *virtualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Every calls f every d until the returned Timer is stopped.
func Every(c Clock, d time.Duration, f func()) Timer {
	r := &repeating{c: c, d: d, f: f}
	r.mu.Lock()
	r.cur = c.AfterFunc(d, r.fire)
	r.mu.Unlock()
	return r
}

type repeating struct {
	mu      sync.Mutex
	c       Clock
	d       time.Duration
	f       func()
	cur     Timer
	stopped bool
}

func (r *repeating) fire() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.f()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.cur = r.c.AfterFunc(r.d, r.fire)
	}
}

func (r *repeating) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.stopped = true
	if r.cur != nil {
		r.cur.Stop()
	}
	return true
}
