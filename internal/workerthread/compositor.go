package workerthread

import (
	"sync"

	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/eventloop"
	"github.com/cryguy/workerhost/internal/webapi"
)

// CompositorKind workers all run on one pooled thread. Shutting one down
// disposes its own context only; the pooled thread keeps running for the
// others until its owner shuts it down.
type CompositorKind struct {
	pool *eventloop.SharedThread
}

// NewCompositorKind returns a delegate drawing threads from pool.
func NewCompositorKind(pool *eventloop.SharedThread) CompositorKind {
	return CompositorKind{pool: pool}
}

func (CompositorKind) Kind() Kind { return Compositor }

func (k CompositorKind) CreateBackingThread(string) *eventloop.Thread {
	return k.pool.Acquire()
}

func (k CompositorKind) ReleaseBackingThread(*eventloop.Thread) {
	k.pool.Release()
}

func (CompositorKind) CreateContext(engine core.ScriptEngine, bundle *core.StartupBundle, host core.ScopeHost) (core.ExecutionContext, error) {
	setup := append(webapi.ScopeSetup(), webapi.SetupDedicatedMessaging)
	return engine.NewContext(bundle, host, setup)
}

func (CompositorKind) ScriptEvaluated(core.ExecutionContext) error { return nil }

func (CompositorKind) DeliverMessage(ctx core.ExecutionContext, data string) error {
	return webapi.DispatchMessage(ctx.Runtime(), data)
}

var (
	compositorOnce   sync.Once
	compositorThread *eventloop.SharedThread
)

// DefaultCompositorThread is the process-wide pool for compositor workers.
func DefaultCompositorThread() *eventloop.SharedThread {
	compositorOnce.Do(func() {
		compositorThread = eventloop.NewSharedThread("compositor-worker")
	})
	return compositorThread
}

// ShutdownCompositorThread stops the process-wide compositor thread once no
// worker holds it. It reports false, leaving the thread running, while any
// compositor worker drawn from it is still alive.
func ShutdownCompositorThread() bool {
	return DefaultCompositorThread().ShutdownIdle()
}
