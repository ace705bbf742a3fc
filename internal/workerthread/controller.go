// Package workerthread runs worker scripts on backing threads and owns their
// lifecycle: start, task posting, termination and teardown.
package workerthread

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/eventloop"
	"github.com/cryguy/workerhost/internal/log"
	"github.com/cryguy/workerhost/internal/webapi"
)

// ErrWorkerTerminated is returned by operations that need a live worker.
var ErrWorkerTerminated = errors.New("worker terminated")

// Option configures a Controller.
type Option func(*Controller)

// WithConfig sets engine limits and idle collection timing.
func WithConfig(cfg core.EngineConfig) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithInstrumentation observes every named task.
func WithInstrumentation(i Instrumentation) Option {
	return func(c *Controller) { c.instrumentation = i }
}

// WithRegistry registers the controller in r instead of the default
// registry.
func WithRegistry(r *Registry) Option {
	return func(c *Controller) { c.registry = r }
}

// WithID overrides the generated worker id.
func WithID(id string) Option {
	return func(c *Controller) { c.id = id }
}

// Controller owns one worker: its backing thread, its execution context,
// its debugger queue and its idle collection loop.
//
// Start, initialize and Terminate serialize on a single state lock, which
// makes a terminate that races the first run of initialize decidable:
// either initialize sees the request and never creates a context, or
// Terminate sees the context and schedules its shutdown.
type Controller struct {
	id              string
	kind            KindDelegate
	engine          core.ScriptEngine
	reporting       ReportingProxy
	cfg             core.EngineConfig
	instrumentation Instrumentation
	registry        *Registry
	log             *zap.SugaredLogger

	mu         sync.Mutex
	started    bool
	terminated bool
	shutdown   bool
	thread     *eventloop.Thread
	context    core.ExecutionContext
	url        string

	// Backing thread only.
	timers *eventloop.Timers

	pausedOnStart       atomic.Bool
	debugger            *DebuggerQueue
	idle                *idleCollector
	observer            *microtaskRunner
	shutdownRequested   *Event
	terminationComplete *Event
	reportTerminated    sync.Once
	released            atomic.Bool
}

// NewController creates a controller for a worker of the given kind and
// registers it. The controller reports to reporting; the engine builds its
// execution context.
func NewController(kind KindDelegate, engine core.ScriptEngine, reporting ReportingProxy, opts ...Option) *Controller {
	c := &Controller{
		kind:                kind,
		engine:              engine,
		reporting:           reporting,
		registry:            defaultRegistry,
		debugger:            NewDebuggerQueue(),
		shutdownRequested:   NewEvent(),
		terminationComplete: NewEvent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	c.cfg = c.cfg.WithDefaults()
	c.log = log.With("worker", c.id, "kind", kind.Kind().String())
	c.observer = &microtaskRunner{c: c}
	c.idle = newIdleCollector(c, c.cfg.IdleGCBudget, c.cfg.IdleGCCeiling, c.cfg.IdleGCInterval)
	c.registry.Register(c)
	return c
}

// ID returns the worker id.
func (c *Controller) ID() string { return c.id }

// Kind returns the worker kind.
func (c *Controller) Kind() Kind { return c.kind.Kind() }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.terminationComplete.IsSignaled():
		return Terminated
	case c.shutdown:
		return ShuttingDown
	case c.terminated:
		return TerminationRequested
	case c.started:
		return Running
	default:
		return NotStarted
	}
}

// IsTerminated reports whether termination has been requested.
func (c *Controller) IsTerminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// ShutdownRequested is closed when termination is first requested.
func (c *Controller) ShutdownRequested() <-chan struct{} { return c.shutdownRequested.Done() }

// Done is closed when teardown has fully completed.
func (c *Controller) Done() <-chan struct{} { return c.terminationComplete.Done() }

// Start launches the worker with bundle. Only the first call on a
// controller that has not been terminated has any effect.
func (c *Controller) Start(bundle *core.StartupBundle) {
	c.mu.Lock()
	if c.started || c.terminated {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.url = bundle.ScriptURL
	c.mu.Unlock()

	// Thread creation may block on a shared pool; State and Terminate
	// must not wait for it.
	thread := c.kind.CreateBackingThread(threadName(c))
	c.mu.Lock()
	c.thread = thread
	c.mu.Unlock()

	c.log.Debugw("starting worker", "url", bundle.ScriptURL)
	if err := thread.PostTask(func() { c.initialize(bundle) }); err != nil {
		c.log.Warnw("backing thread refused initialize", "error", err)
		c.mu.Lock()
		c.terminated = true
		c.mu.Unlock()
		c.shutdownRequested.Signal()
		c.kind.ReleaseBackingThread(thread)
		c.finishTermination()
	}
}

func threadName(c *Controller) string {
	return c.kind.Kind().String() + "-worker-" + c.id
}

// initialize runs first on the backing thread and builds the execution
// context, unless termination was requested before it got here.
func (c *Controller) initialize(bundle *core.StartupBundle) {
	c.mu.Lock()
	thread := c.thread
	terminated := c.terminated
	c.mu.Unlock()
	if terminated {
		c.log.Debugw("terminated before initialize")
		c.kind.ReleaseBackingThread(thread)
		c.finishTermination()
		return
	}

	b, err := bundle.Take()
	var ctx core.ExecutionContext
	if err == nil {
		c.timers = eventloop.NewTimers(thread)
		ctx, err = c.kind.CreateContext(c.engine, b, &scopeHost{c: c, bundle: b})
	}

	c.mu.Lock()
	if err != nil {
		c.terminated = true
		c.mu.Unlock()
		c.shutdownRequested.Signal()
		c.log.Warnw("creating execution context failed", "error", err)
		c.reporting.ReportException(core.AsScriptError(err, c.scriptURL()))
		c.kind.ReleaseBackingThread(thread)
		c.finishTermination()
		return
	}
	if c.terminated {
		// Terminate ran while the context was being built and left the
		// teardown to us.
		c.mu.Unlock()
		c.log.Debugw("terminated during initialize")
		c.timers.Reset()
		ctx.WillBeDestroyed()
		ctx.Dispose()
		b.Release()
		c.kind.ReleaseBackingThread(thread)
		c.finishTermination()
		return
	}
	c.context = ctx
	c.mu.Unlock()

	c.pausedOnStart.Store(b.StartMode == core.PauseOnStart)
	thread.AddTaskObserver(c.observer)
	c.reporting.WorkerGlobalScopeStarted()
	c.idle.start()

	if c.pausedOnStart.Load() {
		c.log.Infow("paused on start, waiting for debugger")
		c.waitForDebugger()
	}
	if !c.executionForbidden() {
		c.evaluate(ctx, b)
	}
	b.Release()
}

func (c *Controller) evaluate(ctx core.ExecutionContext, b *core.StartupBundle) {
	source := b.Source
	var err error
	if b.ScriptType == core.ModuleScript {
		source, err = webapi.TransformModule(source, b.ScriptURL)
	}
	if err == nil {
		stop := c.watchdog(ctx)
		err = ctx.Evaluate(source, b.ScriptURL)
		stop()
	}
	if err == nil {
		err = c.kind.ScriptEvaluated(ctx)
	}
	ctx.Runtime().RunMicrotasks()

	if err != nil {
		if c.executionForbidden() {
			return
		}
		c.reporting.ReportException(core.AsScriptError(err, b.ScriptURL))
		c.reporting.DidEvaluateWorkerScript(false)
		c.reporting.ReportPendingActivity(webapi.HasPendingActivity(ctx.Runtime()))
		return
	}
	if p, ok := ctx.(core.CodeCacheProducer); ok {
		if data := p.CodeCache(); len(data) > 0 {
			c.reporting.SetCachedMetadata(b.ScriptURL, data)
		}
	}
	c.reporting.DidEvaluateWorkerScript(true)
	c.reporting.ReportPendingActivity(webapi.HasPendingActivity(ctx.Runtime()))
}

// watchdog interrupts script that runs past the configured execution
// timeout. The worker stays usable afterwards.
func (c *Controller) watchdog(ctx core.ExecutionContext) (stop func()) {
	if c.cfg.ExecutionTimeout <= 0 {
		return func() {}
	}
	timeout := time.Duration(c.cfg.ExecutionTimeout) * time.Millisecond
	t := time.AfterFunc(timeout, func() {
		c.log.Warnw("script exceeded execution timeout", "limit", timeout)
		ctx.InterruptExecution()
	})
	return func() { t.Stop() }
}

// PostTask runs task on the backing thread after every task posted before
// it. Tasks are dropped when the execution context is gone by the time
// they would run.
func (c *Controller) PostTask(task Task) {
	c.post("", task, 0)
}

// PostNamedTask is PostTask for a task that instrumentation should see.
func (c *Controller) PostNamedTask(name string, task Task) {
	c.post(name, task, 0)
}

// PostDelayedTask runs task after delay.
func (c *Controller) PostDelayedTask(task Task, delay time.Duration) {
	c.post("", task, delay)
}

func (c *Controller) post(name string, task Task, delay time.Duration) {
	thread := c.backingThread()
	if thread == nil {
		c.log.Debugw("dropping task posted before start", "task", name)
		return
	}
	env := envelope{c: c, name: name, task: task}
	if err := thread.PostDelayedTask(env.run, delay); err != nil {
		c.log.Debugw("dropping task", "task", name, "error", err)
	}
}

// DeliverMessage hands data to script the way this worker's kind expects.
// It must be called on the backing thread.
func (c *Controller) DeliverMessage(ctx core.ExecutionContext, data string) error {
	return c.kind.DeliverMessage(ctx, data)
}

// Terminate asks the worker to stop. It never blocks and may be called any
// number of times from any goroutine; only the first call has an effect.
func (c *Controller) Terminate() {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	started := c.started
	ctx := c.context
	thread := c.thread
	c.mu.Unlock()

	// Abort before anyone waiting on the shutdown signal can run script.
	if ctx != nil {
		ctx.AbortExecution()
	}
	c.shutdownRequested.Signal()
	c.log.Debugw("terminate requested")

	if !started {
		c.finishTermination()
		return
	}
	if ctx == nil {
		// initialize has not finished and will see the request.
		return
	}

	c.debugger.Kill()
	if err := thread.PostTask(c.performShutdown); err != nil {
		c.log.Warnw("backing thread gone before shutdown", "error", err)
		c.finishTermination()
	}
}

// TerminateAndWait terminates the worker and blocks until teardown is
// complete. Called on the worker's own backing thread it only terminates.
func (c *Controller) TerminateAndWait() {
	c.Terminate()
	c.waitForTermination()
}

// WaitForTermination blocks until teardown is complete or ctx is done.
func (c *Controller) WaitForTermination(ctx context.Context) error {
	return c.terminationComplete.WaitContext(ctx)
}

func (c *Controller) waitForTermination() {
	if thread := c.backingThread(); thread != nil && thread.IsCurrent() {
		c.log.Warnw("not waiting for termination on the worker's own thread")
		return
	}
	c.terminationComplete.Wait()
}

// performShutdown tears the worker down on its backing thread.
func (c *Controller) performShutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	ctx := c.context
	thread := c.thread
	c.mu.Unlock()

	c.idle.stop()
	if c.timers != nil {
		c.timers.Reset()
	}

	c.reporting.WillDestroyWorkerGlobalScope()
	ctx.WillBeDestroyed()
	ctx.Dispose()
	c.mu.Lock()
	c.context = nil
	c.mu.Unlock()

	thread.RemoveTaskObserver(c.observer)
	c.kind.ReleaseBackingThread(thread)
	c.log.Debugw("worker shut down")
	c.finishTermination()
}

// finishTermination signals completion and then reports it. Nothing on the
// controller may be touched after the report.
func (c *Controller) finishTermination() {
	c.terminationComplete.Signal()
	c.reportTerminated.Do(c.reporting.WorkerThreadTerminated)
}

// Release removes the controller from its registry. Call it once the
// creator no longer needs the worker.
func (c *Controller) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.registry.Unregister(c)
	}
}

// AppendDebuggerTask queues task on the debugger channel and schedules a
// drain on the main queue so it runs even when the worker is idle.
func (c *Controller) AppendDebuggerTask(task Task) {
	if !c.debugger.Append(task) {
		return
	}
	if thread := c.backingThread(); thread != nil {
		_ = thread.PostTask(func() { c.RunDebuggerTask(DontWaitForTask) })
	}
}

// RunDebuggerTask runs one task from the debugger queue. It must be called
// on the backing thread.
func (c *Controller) RunDebuggerTask(mode WaitMode) DebuggerResult {
	task, res := c.debugger.Take(mode)
	if res != DebuggerTaskReceived {
		return res
	}
	c.mu.Lock()
	ctx := c.context
	c.mu.Unlock()
	if ctx == nil {
		return res
	}
	if err := task(ctx); err != nil {
		c.log.Debugw("debugger task failed", "error", err)
	}
	return res
}

// InterruptAndDispatchInspectorCommands makes the backing thread drain the
// debugger queue as soon as it finishes its current task. None of the
// engines can run Go code in the middle of script, so a long-running task
// delays the drain until it returns.
func (c *Controller) InterruptAndDispatchInspectorCommands() {
	thread := c.backingThread()
	if thread == nil {
		return
	}
	_ = thread.PostTask(func() {
		for c.RunDebuggerTask(DontWaitForTask) == DebuggerTaskReceived {
		}
	})
}

// ResumeStartup releases a worker started with PauseOnStart. It is meant to
// be called from a debugger task.
func (c *Controller) ResumeStartup() {
	c.pausedOnStart.Store(false)
}

// PausedOnStart reports whether the worker is still waiting for a debugger.
func (c *Controller) PausedOnStart() bool {
	return c.pausedOnStart.Load()
}

func (c *Controller) waitForDebugger() {
	for c.pausedOnStart.Load() {
		if c.RunDebuggerTask(WaitForTask) == DebuggerQueueKilled {
			return
		}
	}
}

func (c *Controller) backingThread() *eventloop.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thread
}

// liveContext returns the execution context if script may still run in it.
func (c *Controller) liveContext() core.ExecutionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return nil
	}
	return c.context
}

func (c *Controller) executionForbidden() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

func (c *Controller) scriptURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// microtaskRunner pumps the context's microtasks after every task the
// backing thread runs.
type microtaskRunner struct{ c *Controller }

func (m *microtaskRunner) WillProcessTask() {}

func (m *microtaskRunner) DidProcessTask() {
	if ctx := m.c.liveContext(); ctx != nil {
		ctx.Runtime().RunMicrotasks()
	}
}
