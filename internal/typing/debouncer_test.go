package typing

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now += d
	sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at < c.timers[j].at })
	for _, t := range c.timers {
		if !t.stopped && t.at <= c.now {
			t.stopped = true
			t.f()
		}
	}
}

type signal struct {
	conv   string
	typing bool
	at     time.Duration
}

func newTestDebouncer() (*Debouncer, *fakeClock, *[]signal) {
	clock := &fakeClock{}
	var (
		mu  sync.Mutex
		out []signal
	)
	d := NewDebouncer(3*time.Second, clock, func(conv string, typing bool) {
		mu.Lock()
		out = append(out, signal{conv, typing, clock.now})
		mu.Unlock()
	})
	return d, clock, &out
}

func TestStopsAfterTimeout(t *testing.T) {
	d, clock, out := newTestDebouncer()

	d.Set("c1", true)
	assert.True(t, d.Typing("c1"))

	clock.Advance(2999 * time.Millisecond)
	assert.Len(t, *out, 1)

	clock.Advance(time.Millisecond)
	assert.Equal(t, []signal{{"c1", true, 0}, {"c1", false, 3 * time.Second}}, *out)
	assert.False(t, d.Typing("c1"))
}

func TestRenewedStartResetsTimer(t *testing.T) {
	d, clock, out := newTestDebouncer()

	d.Set("c1", true)
	clock.Advance(2 * time.Second)
	d.Set("c1", true)
	clock.Advance(2 * time.Second)
	assert.True(t, d.Typing("c1"))

	clock.Advance(time.Second)
	stops := 0
	for _, s := range *out {
		if !s.typing {
			stops++
			assert.Equal(t, 5*time.Second, s.at)
		}
	}
	assert.Equal(t, 1, stops)
}

func TestExplicitStopCancelsTimer(t *testing.T) {
	d, clock, out := newTestDebouncer()

	d.Set("c1", true)
	d.Set("c1", false)
	clock.Advance(10 * time.Second)

	assert.Equal(t, []signal{{"c1", true, 0}, {"c1", false, 0}}, *out)
}

func TestConversationsAreIndependent(t *testing.T) {
	d, clock, out := newTestDebouncer()

	d.Set("c1", true)
	clock.Advance(time.Second)
	d.Set("c2", true)
	clock.Advance(2 * time.Second)

	assert.False(t, d.Typing("c1"))
	assert.True(t, d.Typing("c2"))
	assert.Len(t, *out, 3)
}

func TestResetDropsTimers(t *testing.T) {
	d, clock, out := newTestDebouncer()
	d.Set("c1", true)
	d.Reset()
	clock.Advance(time.Minute)
	assert.Len(t, *out, 1)
}
