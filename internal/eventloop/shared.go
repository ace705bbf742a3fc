package eventloop

import "sync"

// SharedThread hands out one backing thread to many workers. Releasing a
// user never stops the thread; only Shutdown does, after which the next
// Acquire starts a fresh one.
type SharedThread struct {
	name string

	mu     sync.Mutex
	thread *Thread
	users  int
}

// NewSharedThread returns a holder whose thread is started lazily.
func NewSharedThread(name string) *SharedThread {
	return &SharedThread{name: name}
}

// Acquire returns the shared thread, starting it if needed.
func (s *SharedThread) Acquire() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil || s.thread.Stopped() {
		s.thread = NewThread(s.name)
	}
	s.users++
	return s.thread
}

// Release drops one user.
func (s *SharedThread) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users > 0 {
		s.users--
	}
}

// Users returns the number of outstanding Acquire calls.
func (s *SharedThread) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users
}

// Shutdown stops the thread and waits for it to exit.
func (s *SharedThread) Shutdown() {
	s.mu.Lock()
	t := s.detachLocked()
	s.mu.Unlock()
	stopAndWait(t)
}

// ShutdownIdle stops the thread only if nobody holds it. It reports
// whether the thread is now stopped.
func (s *SharedThread) ShutdownIdle() bool {
	s.mu.Lock()
	if s.users > 0 {
		s.mu.Unlock()
		return false
	}
	t := s.detachLocked()
	s.mu.Unlock()
	stopAndWait(t)
	return true
}

func (s *SharedThread) detachLocked() *Thread {
	t := s.thread
	s.thread = nil
	s.users = 0
	return t
}

func stopAndWait(t *Thread) {
	if t == nil {
		return
	}
	t.Stop()
	if !t.IsCurrent() {
		<-t.Done()
	}
}
