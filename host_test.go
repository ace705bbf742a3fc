package worker

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/workerhost/internal/codecache"
	"github.com/cryguy/workerhost/internal/inspector"
)

const testTimeout = 5 * time.Second

func newTestHost(t *testing.T, opts ...HostOption) *Host {
	t.Helper()
	h, err := NewHost(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		assert.NoError(t, h.Close(ctx))
	})
	return h
}

func startWorker(t *testing.T, h *Host, opts WorkerOptions) *Worker {
	t.Helper()
	if opts.ScriptURL == "" {
		opts.ScriptURL = "https://example.com/worker.js"
	}
	w, err := h.NewWorker(context.Background(), opts)
	require.NoError(t, err)
	return w
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatal("nothing received")
		var zero T
		return zero
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestWorkerEchoesMessages(t *testing.T) {
	h := newTestHost(t)
	w := startWorker(t, h, WorkerOptions{Source: `
onmessage = function(e) { postMessage({ got: e.data, n: e.data.n + 1 }); };
`})
	messages := make(chan string, 4)
	w.OnMessage(func(data string) { messages <- data })
	require.True(t, receive(t, w.Evaluated()))

	require.NoError(t, w.PostMessage(`{"n":1}`))
	assert.JSONEq(t, `{"got":{"n":1},"n":2}`, receive(t, messages))
}

func TestWorkerMessagePostedBeforeEvaluation(t *testing.T) {
	h := newTestHost(t)
	w := startWorker(t, h, WorkerOptions{Source: `onmessage = function(e) { postMessage(e.data); };`})
	messages := make(chan string, 1)
	w.OnMessage(func(data string) { messages <- data })

	require.NoError(t, w.PostMessage(`"early"`))
	assert.Equal(t, `"early"`, receive(t, messages))
}

func TestWorkerErrorsReachHandler(t *testing.T) {
	h := newTestHost(t)
	w := startWorker(t, h, WorkerOptions{Source: `onmessage = function() { throw new Error('bad message'); };`})
	errs := make(chan *ScriptError, 1)
	w.OnError(func(err *ScriptError) bool {
		errs <- err
		return true
	})
	require.True(t, receive(t, w.Evaluated()))

	require.NoError(t, w.PostMessage(`1`))
	err := receive(t, errs)
	assert.Contains(t, err.Message, "bad message")
	assert.Equal(t, "https://example.com/worker.js", err.SourceURL)
}

func TestWorkerScriptFailure(t *testing.T) {
	h := newTestHost(t)
	w := startWorker(t, h, WorkerOptions{Source: `throw new Error('top level')`})
	assert.False(t, receive(t, w.Evaluated()))
	assert.Equal(t, Running, w.State())
}

func TestWorkerConsole(t *testing.T) {
	h := newTestHost(t)
	console := make(chan ConsoleMessage, 1)
	startWorker(t, h, WorkerOptions{
		Source:    `console.warn('careful', 3);`,
		OnConsole: func(msg ConsoleMessage) { console <- msg },
	})

	msg := receive(t, console)
	assert.Equal(t, "warn", msg.Level)
	assert.Equal(t, "careful 3", msg.Message)
}

func TestWorkerPendingActivity(t *testing.T) {
	h := newTestHost(t)
	w := startWorker(t, h, WorkerOptions{Source: `
onmessage = function(e) {
	if (e.data === 'wait') setTimeout(function() { postMessage('done'); }, 30);
};
`})
	messages := make(chan string, 1)
	w.OnMessage(func(data string) { messages <- data })
	require.True(t, receive(t, w.Evaluated()))

	require.NoError(t, w.PostMessage(`"wait"`))
	assert.True(t, w.HasPendingActivity())
	assert.Equal(t, `"done"`, receive(t, messages))
	require.Eventually(t, func() bool { return !w.HasPendingActivity() }, testTimeout, time.Millisecond)
}

func TestWorkerTerminateAndRelease(t *testing.T) {
	h := newTestHost(t)
	w := startWorker(t, h, WorkerOptions{Source: `setInterval(function() {}, 10);`})
	require.True(t, receive(t, w.Evaluated()))
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, Running, w.State())
	assert.Equal(t, ProxyLive, w.ProxyState())

	w.Terminate()
	waitClosed(t, w.Terminated(), "termination")
	assert.Equal(t, Terminated, w.State())
	require.Eventually(t, func() bool {
		return w.ProxyState() == ProxyThreadTerminated
	}, testTimeout, time.Millisecond)
	assert.ErrorIs(t, w.PostMessage(`1`), ErrWorkerTerminated)

	w.Release()
	waitClosed(t, w.Destroyed(), "destruction")
	assert.Equal(t, ProxyBothDone, w.ProxyState())
	assert.Zero(t, h.Len())
}

func TestWorkerClosesItself(t *testing.T) {
	h := newTestHost(t)
	w := startWorker(t, h, WorkerOptions{Source: `onmessage = function() { close(); };`})
	require.True(t, receive(t, w.Evaluated()))

	require.NoError(t, w.PostMessage(`null`))
	waitClosed(t, w.Terminated(), "self close")
}

func TestSharedWorker(t *testing.T) {
	h := newTestHost(t)
	w := startWorker(t, h, WorkerOptions{Kind: Shared, Name: "counter", Source: `
onconnect = function(e) {
	var port = e.ports[0];
	port.onmessage = function(m) { port.postMessage(name + ':' + m.data); };
};
`})
	messages := make(chan string, 1)
	w.OnMessage(func(data string) { messages <- data })
	require.True(t, receive(t, w.Evaluated()))
	assert.Equal(t, "counter", w.Title())

	require.NoError(t, w.PostMessage(`7`))
	assert.Equal(t, `"counter:7"`, receive(t, messages))
}

func TestCompositorWorkersShareThread(t *testing.T) {
	h := newTestHost(t)
	names := make(chan string, 2)
	for i := 0; i < 2; i++ {
		w := startWorker(t, h, WorkerOptions{Kind: Compositor, Source: `onmessage = function(e) { postMessage(e.data); };`})
		w.OnMessage(func(data string) { names <- data })
		require.True(t, receive(t, w.Evaluated()))
		require.NoError(t, w.PostMessage(`"ok"`))
	}
	assert.Equal(t, `"ok"`, receive(t, names))
	assert.Equal(t, `"ok"`, receive(t, names))
}

func TestClosingHostLeavesOtherHostsCompositorWorkers(t *testing.T) {
	a, err := NewHost()
	require.NoError(t, err)
	b := newTestHost(t)
	echo := `onmessage = function(e) { postMessage(e.data); };`

	wa := startWorker(t, a, WorkerOptions{Kind: Compositor, Source: echo})
	messages := make(chan string, 1)
	wb := startWorker(t, b, WorkerOptions{
		Kind:      Compositor,
		Source:    echo,
		OnMessage: func(data string) { messages <- data },
	})
	require.True(t, receive(t, wa.Evaluated()))
	require.True(t, receive(t, wb.Evaluated()))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, a.Close(ctx))
	waitClosed(t, wa.Terminated(), "closed host's worker")

	require.NoError(t, wb.PostMessage(`"still here"`))
	assert.Equal(t, `"still here"`, receive(t, messages))
	assert.Equal(t, Running, wb.State())
}

func TestModuleWorker(t *testing.T) {
	h := newTestHost(t)
	w := startWorker(t, h, WorkerOptions{ScriptType: ModuleScript, Source: `
const double = (n) => n * 2;
export { double };
self.onmessage = (e) => postMessage(double(e.data));
`})
	messages := make(chan string, 1)
	w.OnMessage(func(data string) { messages <- data })
	require.True(t, receive(t, w.Evaluated()))

	require.NoError(t, w.PostMessage(`21`))
	assert.Equal(t, `42`, receive(t, messages))
}

func TestHostCloseTerminatesWorkers(t *testing.T) {
	h, err := NewHost()
	require.NoError(t, err)
	w1 := startWorker(t, h, WorkerOptions{Source: `setInterval(function() {}, 10);`})
	w2 := startWorker(t, h, WorkerOptions{Source: `for (;;) {}`})
	require.True(t, receive(t, w1.Evaluated()))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, h.Close(ctx))
	waitClosed(t, w1.Terminated(), "first worker")
	waitClosed(t, w2.Terminated(), "second worker")

	_, err = h.NewWorker(ctx, WorkerOptions{ScriptURL: "https://example.com/late.js"})
	assert.ErrorIs(t, err, ErrHostClosed)
	require.NoError(t, h.Close(ctx))
}

func TestNewWorkerValidates(t *testing.T) {
	h := newTestHost(t)
	_, err := h.NewWorker(context.Background(), WorkerOptions{})
	assert.Error(t, err)
	_, err = h.NewWorker(context.Background(), WorkerOptions{Kind: Kind(42), ScriptURL: "w.js"})
	assert.Error(t, err)
}

func TestNewScriptEngine(t *testing.T) {
	goja, err := NewScriptEngine(EngineConfig{Backend: "goja"})
	require.NoError(t, err)
	assert.Equal(t, "goja", goja.Name())

	def, err := NewScriptEngine(EngineConfig{})
	require.NoError(t, err)
	named, err := NewScriptEngine(EngineConfig{Backend: def.Name()})
	require.NoError(t, err)
	assert.Equal(t, def.Name(), named.Name())

	_, err = NewScriptEngine(EngineConfig{Backend: "rhino"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = NewHost(WithEngineConfig(EngineConfig{Backend: "rhino"}))
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestGojaBackendHost(t *testing.T) {
	h := newTestHost(t, WithEngineConfig(EngineConfig{Backend: "goja"}), WithUserAgent("test-agent/1.0"))
	messages := make(chan string, 1)
	startWorker(t, h, WorkerOptions{
		Source:    `postMessage(navigator.userAgent + ' ' + location.pathname);`,
		OnMessage: func(data string) { messages <- data },
	})
	assert.Equal(t, `"test-agent/1.0 /worker.js"`, receive(t, messages))
}

func TestHostCodeCache(t *testing.T) {
	store, err := codecache.OpenMemory()
	require.NoError(t, err)
	defer store.Close()
	h := newTestHost(t, WithCodeCache(store))
	ctx := context.Background()
	digest := codecache.Digest("1")

	assert.Nil(t, h.loadCode(ctx, "https://example.com/a.js", digest))
	h.storeCode("https://example.com/a.js", digest, []byte("compiled"))
	assert.Equal(t, []byte("compiled"), h.loadCode(ctx, "https://example.com/a.js", digest))
	assert.Nil(t, h.loadCode(ctx, "https://example.com/a.js", codecache.Digest("2")))
}

func TestInspectorResumesPausedWorker(t *testing.T) {
	srv := inspector.NewServer(0)
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()
	h := newTestHost(t, WithInspector(srv))

	w := startWorker(t, h, WorkerOptions{StartMode: PauseOnStart, Source: `var ready = true;`})
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http")+"/devtools/"+w.ID(), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	call := func(msg string) map[string]any {
		t.Helper()
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var reply map[string]any
		require.NoError(t, json.Unmarshal(data, &reply))
		return reply
	}

	reply := call(`{"id":1,"method":"Runtime.evaluate","params":{"expression":"typeof ready"}}`)
	assert.EqualValues(t, 1, reply["id"])
	assert.Equal(t, "undefined", reply["result"].(map[string]any)["result"].(map[string]any)["value"])

	reply = call(`{"id":2,"method":"Runtime.runIfWaitingForDebugger"}`)
	assert.EqualValues(t, 2, reply["id"])
	require.True(t, receive(t, w.Evaluated()))

	reply = call(`{"id":3,"method":"Runtime.evaluate","params":{"expression":"ready"}}`)
	assert.Equal(t, true, reply["result"].(map[string]any)["result"].(map[string]any)["value"])
}
