// Package eventloop implements the backing threads that worker scripts run
// on: one OS-locked goroutine per thread draining a FIFO task queue, with
// delayed tasks and idle tasks on the side.
package eventloop

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryguy/workerhost/internal/goroutineid"
	"github.com/cryguy/workerhost/internal/log"
)

// ErrThreadStopped is returned when posting to a thread that has been
// stopped.
var ErrThreadStopped = errors.New("eventloop: thread has stopped")

// IdleTask runs when the thread has no regular work. It should return by
// deadline.
type IdleTask func(deadline time.Time)

// TaskObserver is notified around every regular task.
type TaskObserver interface {
	WillProcessTask()
	DidProcessTask()
}

type idleEntry struct {
	budget time.Duration
	fn     IdleTask
}

// Thread is a backing thread. Tasks posted to it run one at a time, in
// posting order, on a goroutine locked to its OS thread. Delayed tasks join
// the queue when due; idle tasks run only when nothing else is ready.
type Thread struct {
	name string

	mu        sync.Mutex
	queue     []func()
	delayed   delayedQueue
	idle      []idleEntry
	observers []TaskObserver
	seq       uint64
	stopping  bool

	wake chan struct{}
	done chan struct{}
	gid  atomic.Int64
}

// NewThread starts a backing thread. It returns once the thread is running.
func NewThread(name string) *Thread {
	t := &Thread{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	started := make(chan struct{})
	go t.run(started)
	<-started
	return t
}

// Name returns the name given at creation.
func (t *Thread) Name() string { return t.name }

// PostTask appends task to the queue.
func (t *Thread) PostTask(task func()) error {
	t.mu.Lock()
	if t.stopping {
		t.mu.Unlock()
		return ErrThreadStopped
	}
	t.queue = append(t.queue, task)
	t.mu.Unlock()
	t.signal()
	return nil
}

// PostDelayedTask queues task once delay has elapsed. Tasks with equal
// deadlines keep their posting order.
func (t *Thread) PostDelayedTask(task func(), delay time.Duration) error {
	if delay <= 0 {
		return t.PostTask(task)
	}
	t.mu.Lock()
	if t.stopping {
		t.mu.Unlock()
		return ErrThreadStopped
	}
	t.seq++
	t.delayed.push(&delayedTask{deadline: time.Now().Add(delay), seq: t.seq, fn: task})
	t.mu.Unlock()
	t.signal()
	return nil
}

// PostIdleTask queues task for the next idle period. The task receives a
// deadline at most budget away, cut short by the next delayed task.
func (t *Thread) PostIdleTask(budget time.Duration, task IdleTask) error {
	t.mu.Lock()
	if t.stopping {
		t.mu.Unlock()
		return ErrThreadStopped
	}
	t.idle = append(t.idle, idleEntry{budget: budget, fn: task})
	t.mu.Unlock()
	t.signal()
	return nil
}

// AddTaskObserver registers o for every subsequent regular task.
func (t *Thread) AddTaskObserver(o TaskObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// RemoveTaskObserver unregisters o.
func (t *Thread) RemoveTaskObserver(o TaskObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.observers {
		if existing == o {
			t.observers = append(t.observers[:i:i], t.observers[i+1:]...)
			return
		}
	}
}

// IsCurrent reports whether the caller is running on this thread.
func (t *Thread) IsCurrent() bool {
	return goroutineid.Get() == t.gid.Load()
}

// Stop makes the thread exit after the task in progress. Queued work is
// dropped and later posts fail with ErrThreadStopped. Stop does not wait;
// use Done for that.
func (t *Thread) Stop() {
	t.mu.Lock()
	if t.stopping {
		t.mu.Unlock()
		return
	}
	t.stopping = true
	t.queue = nil
	t.delayed = nil
	t.idle = nil
	t.mu.Unlock()
	t.signal()
}

// Stopped reports whether Stop has been called.
func (t *Thread) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopping
}

// Done is closed when the thread's goroutine has exited.
func (t *Thread) Done() <-chan struct{} { return t.done }

func (t *Thread) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Thread) run(started chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)

	t.gid.Store(goroutineid.Get())
	close(started)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		task, idle, idleDeadline, wait, ok := t.next()
		if !ok {
			return
		}
		switch {
		case task != nil:
			t.runTask(task)
		case idle != nil:
			t.runIdle(idle, idleDeadline)
		case wait > 0:
			timer.Reset(wait)
			select {
			case <-t.wake:
				timer.Stop()
			case <-timer.C:
			}
		default:
			<-t.wake
		}
	}
}

// next picks the next unit of work. With nothing ready it returns how long
// to sleep, zero meaning until woken.
func (t *Thread) next() (task func(), idle IdleTask, idleDeadline time.Time, wait time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopping {
		return nil, nil, time.Time{}, 0, false
	}

	now := time.Now()
	for len(t.delayed) > 0 && !t.delayed.peek().deadline.After(now) {
		t.queue = append(t.queue, t.delayed.pop().fn)
	}

	if len(t.queue) > 0 {
		task = t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		return task, nil, time.Time{}, 0, true
	}

	if len(t.idle) > 0 {
		e := t.idle[0]
		t.idle = t.idle[1:]
		deadline := now.Add(e.budget)
		if len(t.delayed) > 0 && t.delayed.peek().deadline.Before(deadline) {
			deadline = t.delayed.peek().deadline
		}
		return nil, e.fn, deadline, 0, true
	}

	if len(t.delayed) > 0 {
		return nil, nil, time.Time{}, t.delayed.peek().deadline.Sub(now), true
	}
	return nil, nil, time.Time{}, 0, true
}

func (t *Thread) runTask(task func()) {
	t.mu.Lock()
	observers := append([]TaskObserver(nil), t.observers...)
	t.mu.Unlock()

	for _, o := range observers {
		o.WillProcessTask()
	}
	t.protect(task)
	for _, o := range observers {
		o.DidProcessTask()
	}
}

func (t *Thread) runIdle(fn IdleTask, deadline time.Time) {
	t.protect(func() { fn(deadline) })
}

func (t *Thread) protect(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "thread", t.name, "panic", r)
		}
	}()
	fn()
}
