package eventloop

import (
	"sync"
	"time"
)

// minInterval is the shortest period a repeating timer may have.
const minInterval = 10 * time.Millisecond

// timerEntry tracks a pending setTimeout or setInterval. The JS callback
// itself lives in the script's own callback table; Go keeps scheduling
// state only.
type timerEntry struct {
	interval time.Duration // 0 for one-shot timers
	fire     func()
	cleared  bool
}

// Timers schedules script timers as delayed tasks on a backing thread.
type Timers struct {
	thread *Thread

	mu      sync.Mutex
	entries map[int]*timerEntry
	nextID  int
}

// NewTimers returns an empty timer table bound to thread.
func NewTimers(thread *Thread) *Timers {
	return &Timers{
		thread:  thread,
		entries: make(map[int]*timerEntry),
	}
}

// Register schedules fire after delay and returns the timer id. Repeating
// timers are rescheduled after each run until cleared.
func (tm *Timers) Register(delay time.Duration, repeat bool, fire func()) int {
	if delay < 0 {
		delay = 0
	}
	entry := &timerEntry{fire: fire}
	if repeat {
		if delay < minInterval {
			delay = minInterval
		}
		entry.interval = delay
	}

	tm.mu.Lock()
	tm.nextID++
	id := tm.nextID
	tm.entries[id] = entry
	tm.mu.Unlock()

	if err := tm.thread.PostDelayedTask(func() { tm.run(id) }, delay); err != nil {
		tm.Clear(id)
	}
	return id
}

// Clear cancels a timer. Unknown ids are ignored.
func (tm *Timers) Clear(id int) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if e, ok := tm.entries[id]; ok {
		e.cleared = true
		delete(tm.entries, id)
	}
}

// Len returns the number of active timers.
func (tm *Timers) Len() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.entries)
}

// Reset clears every timer.
func (tm *Timers) Reset() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for _, e := range tm.entries {
		e.cleared = true
	}
	tm.entries = make(map[int]*timerEntry)
}

func (tm *Timers) run(id int) {
	tm.mu.Lock()
	e, ok := tm.entries[id]
	if !ok || e.cleared {
		tm.mu.Unlock()
		return
	}
	if e.interval == 0 {
		delete(tm.entries, id)
	}
	tm.mu.Unlock()

	if e.interval > 0 {
		if err := tm.thread.PostDelayedTask(func() { tm.run(id) }, e.interval); err != nil {
			tm.Clear(id)
		}
	}
	e.fire()
}
