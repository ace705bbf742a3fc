package workerthread

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/eventloop"
)

const testTimeout = 5 * time.Second

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// fakeRuntime accepts everything and counts microtask checkpoints.
type fakeRuntime struct {
	microtasks atomic.Int32
}

func (*fakeRuntime) Eval(string) error { return nil }
func (*fakeRuntime) EvalString(string) (string, error) { return "", nil }
func (*fakeRuntime) EvalBool(string) (bool, error) { return false, nil }
func (*fakeRuntime) EvalInt(string) (int, error) { return 0, nil }
func (*fakeRuntime) RegisterFunc(string, any) error { return nil }
func (*fakeRuntime) SetGlobal(string, any) error { return nil }
func (r *fakeRuntime) RunMicrotasks() { r.microtasks.Add(1) }

type fakeContext struct {
	rt       fakeRuntime
	evaluate func(source, url string) error
	gcStep   func(deadline time.Time) bool

	aborted    chan struct{}
	abortOnce  sync.Once
	interrupts atomic.Int32
	aborts     atomic.Int32
	destroyed atomic.Int32
	disposed  atomic.Int32
}

func newFakeContext() *fakeContext {
	return &fakeContext{aborted: make(chan struct{})}
}

func (c *fakeContext) Runtime() core.JSRuntime { return &c.rt }

func (c *fakeContext) Evaluate(source, url string) error {
	if c.aborts.Load() > 0 {
		return core.ErrExecutionTerminated
	}
	if c.evaluate != nil {
		return c.evaluate(source, url)
	}
	return nil
}

func (c *fakeContext) RunIncrementalGCStep(deadline time.Time) bool {
	if c.gcStep != nil {
		return c.gcStep(deadline)
	}
	return true
}

func (c *fakeContext) InterruptExecution() {
	c.interrupts.Add(1)
	c.abortOnce.Do(func() { close(c.aborted) })
}

func (c *fakeContext) AbortExecution() {
	c.aborts.Add(1)
	c.abortOnce.Do(func() { close(c.aborted) })
}

func (c *fakeContext) WillBeDestroyed() { c.destroyed.Add(1) }
func (c *fakeContext) Dispose() { c.disposed.Add(1) }

// cachingContext also produces a code cache after evaluation.
type cachingContext struct {
	*fakeContext
	cache []byte
}

func (c cachingContext) CodeCache() []byte { return c.cache }

// fakeEngine hands out a prepared context.
// fakeEngine hands out ctx. With building set, NewContext closes it and
// then blocks until gate is closed.
type fakeEngine struct {
	ctx      core.ExecutionContext
	err      error
	building chan struct{}
	gate     chan struct{}
	created  atomic.Int32
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) NewContext(*core.StartupBundle, core.ScopeHost, []core.SetupFunc) (core.ExecutionContext, error) {
	e.created.Add(1)
	if e.building != nil {
		close(e.building)
		<-e.gate
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.ctx, nil
}

// testKind runs each worker on its own thread. A non-nil gate blocks the
// thread until closed, holding initialize back. A non-nil creating is
// closed when thread creation begins, which then waits for createGate.
type testKind struct {
	gate       chan struct{}
	creating   chan struct{}
	createGate chan struct{}
	delivered  chan string
	released   atomic.Int32
}

func (*testKind) Kind() Kind { return Dedicated }

func (k *testKind) CreateBackingThread(name string) *eventloop.Thread {
	if k.creating != nil {
		close(k.creating)
		<-k.createGate
	}
	th := eventloop.NewThread(name)
	if gate := k.gate; gate != nil {
		_ = th.PostTask(func() { <-gate })
	}
	return th
}

func (k *testKind) ReleaseBackingThread(th *eventloop.Thread) {
	k.released.Add(1)
	th.Stop()
}

func (*testKind) CreateContext(engine core.ScriptEngine, bundle *core.StartupBundle, host core.ScopeHost) (core.ExecutionContext, error) {
	return engine.NewContext(bundle, host, nil)
}

func (*testKind) ScriptEvaluated(core.ExecutionContext) error { return nil }

func (k *testKind) DeliverMessage(_ core.ExecutionContext, data string) error {
	if k.delivered != nil {
		k.delivered <- data
	}
	return nil
}

// recordingReporting records everything a worker reports.
type recordingReporting struct {
	mu         sync.Mutex
	events     []string
	exceptions []*core.ScriptError
	console    []core.ConsoleMessage
	cached     map[string][]byte

	posted     chan string
	evaluated  chan bool
	terminated chan struct{}
	terminates atomic.Int32
}

func newRecordingReporting() *recordingReporting {
	return &recordingReporting{
		cached:     map[string][]byte{},
		posted:     make(chan string, 64),
		evaluated:  make(chan bool, 1),
		terminated: make(chan struct{}),
	}
}

func (r *recordingReporting) record(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingReporting) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingReporting) Exceptions() []*core.ScriptError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*core.ScriptError(nil), r.exceptions...)
}

func (r *recordingReporting) ReportException(err *core.ScriptError) {
	r.mu.Lock()
	r.exceptions = append(r.exceptions, err)
	r.mu.Unlock()
	r.record("exception")
}

func (r *recordingReporting) ReportConsoleMessage(msg core.ConsoleMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.console = append(r.console, msg)
}

func (r *recordingReporting) PostMessageToWorkerObject(data string) { r.posted <- data }

func (r *recordingReporting) ConfirmMessageFromWorkerObject(pending bool) {
	r.record(fmt.Sprintf("confirm:%v", pending))
}

func (r *recordingReporting) ReportPendingActivity(pending bool) {
	r.record(fmt.Sprintf("pending:%v", pending))
}

func (r *recordingReporting) PostMessageToPageInspector(string) { r.record("inspector") }

func (r *recordingReporting) SetCachedMetadata(url string, data []byte) {
	r.mu.Lock()
	r.cached[url] = data
	r.mu.Unlock()
	r.record("cached")
}

func (r *recordingReporting) DidEvaluateWorkerScript(success bool) {
	r.record(fmt.Sprintf("evaluated:%v", success))
	select {
	case r.evaluated <- success:
	default:
	}
}

func (r *recordingReporting) WorkerGlobalScopeStarted() { r.record("started") }
func (r *recordingReporting) WorkerGlobalScopeClosed() { r.record("closed") }
func (r *recordingReporting) WillDestroyWorkerGlobalScope() { r.record("will-destroy") }

func (r *recordingReporting) WorkerThreadTerminated() {
	r.record("terminated")
	if r.terminates.Add(1) == 1 {
		close(r.terminated)
	}
}

func (r *recordingReporting) waitEvaluated(t *testing.T) bool {
	t.Helper()
	select {
	case ok := <-r.evaluated:
		return ok
	case <-time.After(testTimeout):
		t.Fatal("script was never evaluated")
		return false
	}
}

// newTestController returns a controller on a private registry that is
// terminated when the test ends.
func newTestController(t *testing.T, kind KindDelegate, engine core.ScriptEngine, opts ...Option) (*Controller, *recordingReporting) {
	t.Helper()
	rep := newRecordingReporting()
	opts = append([]Option{WithRegistry(NewRegistry())}, opts...)
	c := NewController(kind, engine, rep, opts...)
	t.Cleanup(func() {
		c.Terminate()
		select {
		case <-c.Done():
		case <-time.After(testTimeout):
			t.Error("worker did not terminate during cleanup")
		}
	})
	return c, rep
}

func testBundle(params core.BundleParams) *core.StartupBundle {
	if params.ScriptURL == "" {
		params.ScriptURL = "https://example.com/worker.js"
	}
	return core.NewStartupBundle(params)
}

// runOn runs fn on the worker's backing thread and waits for it.
func runOn(t *testing.T, c *Controller, fn func(ctx core.ExecutionContext) error) {
	t.Helper()
	done := make(chan struct{})
	c.PostTask(func(ctx core.ExecutionContext) error {
		defer close(done)
		return fn(ctx)
	})
	waitClosed(t, done, "posted task")
}

var _ KindDelegate = (*testKind)(nil)
var _ ReportingProxy = (*recordingReporting)(nil)
