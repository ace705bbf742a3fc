// Package messaging connects a worker to its creator. Proxy is the
// creator's handle on a worker; ObjectProxy carries the worker's reports
// back to it.
package messaging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/log"
	"github.com/cryguy/workerhost/internal/webapi"
	"github.com/cryguy/workerhost/internal/workerthread"
)

// TaskRunner is the creator thread's task queue.
type TaskRunner interface {
	PostTask(task func()) error
}

// WorkerObject is the script-visible worker on the creator side.
type WorkerObject interface {
	// DispatchMessage delivers a message posted by the worker.
	DispatchMessage(data string)
	// DispatchError delivers an uncaught worker exception and reports
	// whether a handler dealt with it.
	DispatchError(err *core.ScriptError) bool
}

// ControllerFactory builds the controller for a proxy, wiring reporting as
// its reporting channel.
type ControllerFactory func(reporting workerthread.ReportingProxy) *workerthread.Controller

// State tracks the two events a proxy waits for before it is done.
type State int

const (
	Live State = iota
	ObjectDestroyed
	ThreadTerminated
	BothDone
)

func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case ObjectDestroyed:
		return "object-destroyed"
	case ThreadTerminated:
		return "thread-terminated"
	case BothDone:
		return "both-done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithConsoleSink receives console messages from the worker and unhandled
// exceptions. The default logs them.
func WithConsoleSink(fn func(core.ConsoleMessage)) Option {
	return func(p *Proxy) { p.console = fn }
}

// WithInspectorSink receives messages the worker sends to its inspector
// session.
func WithInspectorSink(fn func(message string)) Option {
	return func(p *Proxy) { p.inspector = fn }
}

// WithCacheSink receives code cache produced for the worker script.
func WithCacheSink(fn func(url string, data []byte)) Option {
	return func(p *Proxy) { p.cache = fn }
}

// WithEvaluationHook is told whether the top-level script succeeded.
func WithEvaluationHook(fn func(success bool)) Option {
	return func(p *Proxy) { p.evaluated = fn }
}

// WithDestroyedHook runs once both the worker object and the worker
// thread are gone.
func WithDestroyedHook(fn func()) Option {
	return func(p *Proxy) { p.destroyed = fn }
}

type earlyTask struct {
	name string
	task workerthread.Task
}

// Proxy lives on the creator thread and stands for one worker. Tasks sent
// before the worker exists are queued and handed over, in order, when it
// starts.
type Proxy struct {
	creator   TaskRunner
	factory   ControllerFactory
	reporting *ObjectProxy
	log       *zap.SugaredLogger

	console   func(core.ConsoleMessage)
	inspector func(string)
	cache     func(string, []byte)
	evaluated func(bool)
	destroyed func()

	mu               sync.Mutex
	object           WorkerObject
	controller       *workerthread.Controller
	early            []earlyTask
	unconfirmed      int
	pendingActivity  bool
	askedToTerminate bool
	objectDestroyed  bool
	threadTerminated bool
	destroyOnce      sync.Once
}

// NewProxy returns a proxy for object. The controller is built by factory
// when the worker starts.
func NewProxy(creator TaskRunner, object WorkerObject, factory ControllerFactory, opts ...Option) *Proxy {
	p := &Proxy{
		creator: creator,
		factory: factory,
		object:  object,
		log:     log.With("component", "messaging"),
	}
	p.reporting = NewObjectProxy(creator, p)
	p.console = p.logConsole
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Controller returns the worker's controller, or nil before StartWorker.
func (p *Proxy) Controller() *workerthread.Controller {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.controller
}

// StartWorker creates the controller and starts it with bundle, then hands
// it the tasks queued so far. Later calls do nothing, as does a call after
// termination was requested.
func (p *Proxy) StartWorker(bundle *core.StartupBundle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.controller != nil || p.askedToTerminate {
		return
	}
	c := p.factory(p.reporting)
	p.controller = c
	p.pendingActivity = true
	c.Start(bundle)

	early := p.early
	p.early = nil
	for _, e := range early {
		c.PostNamedTask(e.name, e.task)
	}
}

// PostTaskToWorker runs task on the worker, or queues it until the worker
// starts.
func (p *Proxy) PostTaskToWorker(task workerthread.Task) {
	p.postTask("", task)
}

func (p *Proxy) postTask(name string, task workerthread.Task) {
	p.mu.Lock()
	c := p.controller
	if c == nil {
		if !p.askedToTerminate {
			p.early = append(p.early, earlyTask{name: name, task: task})
		}
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	c.PostNamedTask(name, task)
}

// PostMessageToWorkerGlobalScope delivers data to the worker script. The
// message counts as pending activity until the worker confirms it.
func (p *Proxy) PostMessageToWorkerGlobalScope(data string) {
	p.mu.Lock()
	if p.askedToTerminate {
		p.mu.Unlock()
		return
	}
	p.unconfirmed++
	p.mu.Unlock()

	p.postTask("message", func(ctx core.ExecutionContext) error {
		err := p.Controller().DeliverMessage(ctx, data)
		p.reporting.ConfirmMessageFromWorkerObject(webapi.HasPendingActivity(ctx.Runtime()))
		return err
	})
}

// HasPendingActivity reports whether the worker may still do something
// observable: a message it has not confirmed, or timers it reported.
func (p *Proxy) HasPendingActivity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return (p.unconfirmed > 0 || p.pendingActivity) && !p.askedToTerminate
}

// DispatchInspectorMessage runs handle on the worker through the debugger
// queue, so it is served even while script is paused. A non-empty result
// is sent back through the inspector sink.
func (p *Proxy) DispatchInspectorMessage(message string, handle func(ctx core.ExecutionContext, message string) string) {
	c := p.Controller()
	if c == nil {
		return
	}
	c.AppendDebuggerTask(func(ctx core.ExecutionContext) error {
		if reply := handle(ctx, message); reply != "" {
			p.reporting.PostMessageToPageInspector(reply)
		}
		return nil
	})
	c.InterruptAndDispatchInspectorCommands()
}

// The methods below run on the creator thread, posted by ObjectProxy.

// PostMessageToWorkerObject delivers a message from the worker.
func (p *Proxy) PostMessageToWorkerObject(data string) {
	if obj := p.liveObject(); obj != nil {
		obj.DispatchMessage(data)
	}
}

// ConfirmMessageFromWorkerObject records that the worker handled one
// message.
func (p *Proxy) ConfirmMessageFromWorkerObject(hasPendingActivity bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.threadTerminated {
		return
	}
	if p.unconfirmed > 0 {
		p.unconfirmed--
	}
	p.pendingActivity = hasPendingActivity
}

// ReportPendingActivity records the worker's own view of whether it has
// work outstanding.
func (p *Proxy) ReportPendingActivity(hasPendingActivity bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.threadTerminated {
		return
	}
	p.pendingActivity = hasPendingActivity
}

// ReportException hands an uncaught worker exception to the worker object.
// Unhandled ones go to the console sink.
func (p *Proxy) ReportException(err *core.ScriptError) {
	obj := p.liveObject()
	if obj == nil {
		return
	}
	if obj.DispatchError(err) {
		return
	}
	p.console(core.ConsoleMessage{
		Level:     "error",
		Message:   "Uncaught " + err.Message,
		SourceURL: err.SourceURL,
	})
}

// ReportConsoleMessage forwards worker console output.
func (p *Proxy) ReportConsoleMessage(msg core.ConsoleMessage) {
	if p.forwarding() {
		p.console(msg)
	}
}

// PostMessageToPageInspector forwards an inspector reply.
func (p *Proxy) PostMessageToPageInspector(message string) {
	if p.inspector != nil && p.forwarding() {
		p.inspector(message)
	}
}

// SetCachedMetadata forwards code cache produced by the worker.
func (p *Proxy) SetCachedMetadata(url string, data []byte) {
	if p.cache != nil && p.forwarding() {
		p.cache(url, data)
	}
}

// DidEvaluateWorkerScript reports the outcome of the top-level script.
func (p *Proxy) DidEvaluateWorkerScript(success bool) {
	if !success {
		p.log.Debugw("worker script failed")
	}
	if p.evaluated != nil && p.forwarding() {
		p.evaluated(success)
	}
}

// WorkerGlobalScopeStarted notes that the worker's context exists.
func (p *Proxy) WorkerGlobalScopeStarted() {
	p.log.Debugw("worker global scope started")
}

// WorkerGlobalScopeClosed handles self.close() in the worker.
func (p *Proxy) WorkerGlobalScopeClosed() {
	p.TerminateWorkerGlobalScope()
}

// WillDestroyWorkerGlobalScope notes that teardown has begun.
func (p *Proxy) WillDestroyWorkerGlobalScope() {
	p.log.Debugw("worker global scope destroying")
}

// WorkerThreadTerminated records that the worker has fully shut down.
// Nothing from the worker is forwarded after this.
func (p *Proxy) WorkerThreadTerminated() {
	p.mu.Lock()
	p.threadTerminated = true
	p.askedToTerminate = true
	p.unconfirmed = 0
	p.pendingActivity = false
	p.mu.Unlock()
	p.log.Debugw("worker thread terminated")
	p.maybeDestroy()
}

// WorkerObjectDestroyed handles the creator dropping the worker object. The
// worker is terminated without waiting.
func (p *Proxy) WorkerObjectDestroyed() {
	p.mu.Lock()
	if p.objectDestroyed {
		p.mu.Unlock()
		return
	}
	p.objectDestroyed = true
	p.object = nil
	if p.controller == nil {
		// No thread was ever started, so none will report terminating.
		p.threadTerminated = true
	}
	p.mu.Unlock()

	p.TerminateWorkerGlobalScope()
	p.maybeDestroy()
}

// TerminateWorkerGlobalScope asks the worker to stop. It does not block.
func (p *Proxy) TerminateWorkerGlobalScope() {
	p.mu.Lock()
	if p.askedToTerminate {
		p.mu.Unlock()
		return
	}
	p.askedToTerminate = true
	p.early = nil
	c := p.controller
	p.mu.Unlock()

	if c != nil {
		c.Terminate()
	}
}

// State reports which of the proxy's terminal events have happened.
func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Proxy) stateLocked() State {
	switch {
	case p.objectDestroyed && p.threadTerminated:
		return BothDone
	case p.objectDestroyed:
		return ObjectDestroyed
	case p.threadTerminated:
		return ThreadTerminated
	default:
		return Live
	}
}

func (p *Proxy) maybeDestroy() {
	p.mu.Lock()
	done := p.stateLocked() == BothDone
	c := p.controller
	p.mu.Unlock()
	if !done {
		return
	}
	p.destroyOnce.Do(func() {
		if c != nil {
			c.Release()
		}
		p.log.Debugw("messaging proxy destroyed")
		if p.destroyed != nil {
			p.destroyed()
		}
	})
}

// liveObject returns the worker object if messages may still reach it.
func (p *Proxy) liveObject() WorkerObject {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.askedToTerminate || p.threadTerminated {
		return nil
	}
	return p.object
}

func (p *Proxy) forwarding() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.threadTerminated
}

func (p *Proxy) logConsole(msg core.ConsoleMessage) {
	l := p.log.With("source", "worker", "url", msg.SourceURL)
	switch msg.Level {
	case "error":
		l.Errorw(msg.Message)
	case "warn":
		l.Warnw(msg.Message)
	case "debug":
		l.Debugw(msg.Message)
	default:
		l.Infow(msg.Message)
	}
}
