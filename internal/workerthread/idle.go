package workerthread

import (
	"sync/atomic"
	"time"
)

// idleCollector drives incremental garbage collection from the backing
// thread's idle periods. A step that does not finish asks for the next idle
// slot with twice the budget, up to the ceiling. A finished cycle waits
// interval before asking again with the base budget.
type idleCollector struct {
	c        *Controller
	budget   time.Duration
	ceiling  time.Duration
	interval time.Duration
	stopped  atomic.Bool
}

func newIdleCollector(c *Controller, budget, ceiling, interval time.Duration) *idleCollector {
	return &idleCollector{c: c, budget: budget, ceiling: ceiling, interval: interval}
}

func (g *idleCollector) start() {
	g.request(g.budget)
}

func (g *idleCollector) stop() {
	g.stopped.Store(true)
}

func (g *idleCollector) request(budget time.Duration) {
	if g.stopped.Load() {
		return
	}
	thread := g.c.backingThread()
	if thread == nil {
		return
	}
	_ = thread.PostIdleTask(budget, func(deadline time.Time) {
		g.step(deadline, budget)
	})
}

func (g *idleCollector) step(deadline time.Time, budget time.Duration) {
	if g.stopped.Load() {
		return
	}
	ctx := g.c.liveContext()
	if ctx == nil {
		return
	}

	if ctx.RunIncrementalGCStep(deadline) {
		if thread := g.c.backingThread(); thread != nil {
			_ = thread.PostDelayedTask(func() { g.request(g.budget) }, g.interval)
		}
		return
	}

	next := budget * 2
	if next > g.ceiling {
		next = g.ceiling
	}
	g.request(next)
}
