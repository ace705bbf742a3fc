// Package worker runs JavaScript workers on dedicated backing threads and
// relays messages, errors and lifecycle events between them and the
// embedding program.
package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/inspector"
	"github.com/cryguy/workerhost/internal/log"
	"github.com/cryguy/workerhost/internal/messaging"
	"github.com/cryguy/workerhost/internal/workerthread"
)

// WorkerOptions describe a worker to create.
type WorkerOptions struct {
	Kind          Kind
	ScriptURL     string
	Source        string
	Name          string // shared worker name
	ScriptType    ScriptType
	StartMode     StartMode
	CSP           []CSPHeader
	StarterOrigin Origin
	Extensions    map[string]any

	// Initial handlers, in place before the script can report anything.
	OnMessage func(data string)
	OnError   func(err *ScriptError) bool
	OnConsole func(msg ConsoleMessage)
}

// Worker is the embedder's handle on one worker. Callbacks registered with
// OnMessage, OnError and OnConsole run on the host's creator thread.
type Worker struct {
	id    string
	url   string
	name  string
	host  *Host
	proxy *messaging.Proxy
	agent *inspector.Agent

	mu        sync.Mutex
	onMessage func(data string)
	onError   func(err *ScriptError) bool
	onConsole func(msg ConsoleMessage)

	evaluated chan bool
	destroyed chan struct{}
}

func newWorker(h *Host, opts WorkerOptions, delegate workerthread.KindDelegate, digest string) *Worker {
	w := &Worker{
		id:        uuid.NewString(),
		url:       opts.ScriptURL,
		name:      opts.Name,
		host:      h,
		onMessage: opts.OnMessage,
		onError:   opts.OnError,
		onConsole: opts.OnConsole,
		evaluated: make(chan bool, 1),
		destroyed: make(chan struct{}),
	}
	factory := func(reporting workerthread.ReportingProxy) *workerthread.Controller {
		return workerthread.NewController(delegate, h.engine, reporting,
			workerthread.WithConfig(h.cfg),
			workerthread.WithRegistry(h.registry),
			workerthread.WithID(w.id))
	}
	proxyOpts := []messaging.Option{
		messaging.WithConsoleSink(w.console),
		messaging.WithCacheSink(func(url string, data []byte) { h.storeCode(url, digest, data) }),
		messaging.WithEvaluationHook(func(ok bool) {
			select {
			case w.evaluated <- ok:
			default:
			}
		}),
		messaging.WithDestroyedHook(func() {
			h.forget(w)
			close(w.destroyed)
		}),
	}
	if h.inspector != nil {
		proxyOpts = append(proxyOpts, messaging.WithInspectorSink(func(msg string) { h.inspector.Send(w.id, msg) }))
	}
	w.proxy = messaging.NewProxy(h.creator, workerObject{w}, factory, proxyOpts...)
	w.agent = inspector.NewAgent(func() {
		if c := w.proxy.Controller(); c != nil {
			c.ResumeStartup()
		}
	})
	return w
}

// ID returns the worker's id, also its inspector target id.
func (w *Worker) ID() string { return w.id }

// URL returns the script URL.
func (w *Worker) URL() string { return w.url }

// Title names the worker in inspector listings.
func (w *Worker) Title() string {
	if w.name != "" {
		return w.name
	}
	return w.url
}

// PostMessage sends data, a JSON document, to the worker's global scope.
// Messages sent after termination are dropped.
func (w *Worker) PostMessage(data string) error {
	if w.proxy.State() != messaging.Live {
		return ErrWorkerTerminated
	}
	w.proxy.PostMessageToWorkerGlobalScope(data)
	return nil
}

// OnMessage sets the handler for messages the worker posts.
func (w *Worker) OnMessage(fn func(data string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onMessage = fn
}

// OnError sets the handler for uncaught worker exceptions. Returning true
// marks the error handled; otherwise it is logged.
func (w *Worker) OnError(fn func(err *ScriptError) bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = fn
}

// OnConsole sets the handler for worker console output. Without one,
// console output goes to the log.
func (w *Worker) OnConsole(fn func(msg ConsoleMessage)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onConsole = fn
}

// HasPendingActivity reports whether the worker has unconfirmed messages
// or active timers.
func (w *Worker) HasPendingActivity() bool {
	return w.proxy.HasPendingActivity()
}

// Evaluated delivers the outcome of the top-level script evaluation.
func (w *Worker) Evaluated() <-chan bool { return w.evaluated }

// State returns the lifecycle state of the worker thread.
func (w *Worker) State() State {
	if c := w.proxy.Controller(); c != nil {
		return c.State()
	}
	return NotStarted
}

// ProxyState reports whether the worker thread has terminated and whether
// Release has been called.
func (w *Worker) ProxyState() ProxyState {
	return w.proxy.State()
}

// Terminate asks the worker to stop. It does not wait.
func (w *Worker) Terminate() {
	w.proxy.TerminateWorkerGlobalScope()
}

// WaitForTermination blocks until the worker thread has shut down or ctx
// is done.
func (w *Worker) WaitForTermination(ctx context.Context) error {
	c := w.proxy.Controller()
	if c == nil {
		return nil
	}
	return c.WaitForTermination(ctx)
}

// Terminated is closed once the worker thread has shut down.
func (w *Worker) Terminated() <-chan struct{} {
	if c := w.proxy.Controller(); c != nil {
		return c.Done()
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Release tells the host the embedder is done with the worker. The worker
// is terminated if still running and forgotten once its thread is gone.
func (w *Worker) Release() {
	_ = w.host.creator.PostTask(w.proxy.WorkerObjectDestroyed)
}

func (w *Worker) threadGone() bool {
	st := w.proxy.State()
	return st == messaging.ThreadTerminated || st == messaging.BothDone
}

// Destroyed is closed when both the thread has terminated and Release has
// been called.
func (w *Worker) Destroyed() <-chan struct{} { return w.destroyed }

// DispatchInspectorMessage sends a raw inspector command to the worker.
func (w *Worker) DispatchInspectorMessage(message string) {
	w.proxy.DispatchInspectorMessage(message, w.agent.Handle)
}

func (w *Worker) console(msg core.ConsoleMessage) {
	w.mu.Lock()
	fn := w.onConsole
	w.mu.Unlock()
	if fn != nil {
		fn(msg)
		return
	}
	l := log.With("source", "worker", "worker", w.id, "url", msg.SourceURL)
	switch msg.Level {
	case "error":
		l.Errorw(msg.Message)
	case "warn":
		l.Warnw(msg.Message)
	default:
		l.Infow(msg.Message)
	}
}

// workerObject is the creator-side endpoint the proxy delivers to.
type workerObject struct{ w *Worker }

func (o workerObject) DispatchMessage(data string) {
	o.w.mu.Lock()
	fn := o.w.onMessage
	o.w.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (o workerObject) DispatchError(err *core.ScriptError) bool {
	o.w.mu.Lock()
	fn := o.w.onError
	o.w.mu.Unlock()
	return fn != nil && fn(err)
}
