package workerthread

import "sync"

// Registry is the set of live controllers in the process.
type Registry struct {
	mu          sync.Mutex
	controllers map[*Controller]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[*Controller]struct{})}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry controllers join unless
// given another with WithRegistry.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds c.
func (r *Registry) Register(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[c] = struct{}{}
}

// Unregister removes c.
func (r *Registry) Unregister(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, c)
}

// Len returns the number of registered controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// TerminateAll terminates every registered controller and waits for all of
// them to finish tearing down. Terminate is issued with the lock held so no
// controller leaves the set mid-iteration; waiting happens after the lock
// is released.
func (r *Registry) TerminateAll() {
	r.mu.Lock()
	pending := make([]*Controller, 0, len(r.controllers))
	for c := range r.controllers {
		c.Terminate()
		pending = append(pending, c)
	}
	r.mu.Unlock()

	for _, c := range pending {
		c.waitForTermination()
	}
}
