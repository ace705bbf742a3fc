package workerthread

import (
	"context"
	"sync"
)

// Event is a waitable signal that fires at most once.
type Event struct {
	once sync.Once
	ch   chan struct{}
}

// NewEvent returns an unsignaled event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Signal fires the event. Later calls do nothing.
func (e *Event) Signal() {
	e.once.Do(func() { close(e.ch) })
}

// Done is closed once the event fires.
func (e *Event) Done() <-chan struct{} { return e.ch }

// IsSignaled reports whether Signal has been called.
func (e *Event) IsSignaled() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the event fires.
func (e *Event) Wait() { <-e.ch }

// WaitContext blocks until the event fires or ctx is done.
func (e *Event) WaitContext(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
