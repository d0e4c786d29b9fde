// Package typing turns keystroke-level "typing" signals into start/stop
// frames, sending stop automatically after a quiet period.
package typing

import (
	"sync"
	"time"
)

// Timer is the subset of *time.Timer the debouncer uses.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealScheduler uses the runtime timers.
var RealScheduler Scheduler = realScheduler{}

// Emit is called with the signal to send for a conversation.
type Emit func(conversationID string, typing bool)

type state int

const (
	idle state = iota
	active
)

type entry struct {
	state state
	timer Timer
	gen   uint64
}

// Debouncer is a per-conversation idle -> typing -> idle machine. Every
// Set(id, true) emits start and rearms the timeout; the timeout or
// Set(id, false) emits stop and returns to idle.
type Debouncer struct {
	timeout time.Duration
	sched   Scheduler
	emit    Emit

	mu      sync.Mutex
	entries map[string]*entry
}

func NewDebouncer(timeout time.Duration, sched Scheduler, emit Emit) *Debouncer {
	if sched == nil {
		sched = RealScheduler
	}
	return &Debouncer{
		timeout: timeout,
		sched:   sched,
		emit:    emit,
		entries: make(map[string]*entry),
	}
}

func (d *Debouncer) Set(conversationID string, typing bool) {
	d.mu.Lock()
	e := d.entries[conversationID]
	if e == nil {
		e = &entry{}
		d.entries[conversationID] = e
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	if typing {
		e.state = active
		gen := e.gen
		e.timer = d.sched.AfterFunc(d.timeout, func() { d.expire(conversationID, gen) })
	} else {
		e.state = idle
	}
	d.mu.Unlock()

	d.emit(conversationID, typing)
}

// Typing reports whether the machine for conversationID is in the typing state.
func (d *Debouncer) Typing(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entries[conversationID]
	return e != nil && e.state == active
}

func (d *Debouncer) expire(conversationID string, gen uint64) {
	d.mu.Lock()
	e := d.entries[conversationID]
	if e == nil || e.gen != gen || e.state != active {
		d.mu.Unlock()
		return
	}
	e.state = idle
	e.timer = nil
	d.mu.Unlock()

	d.emit(conversationID, false)
}

// Reset cancels every pending timeout without emitting.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	d.entries = make(map[string]*entry)
}
