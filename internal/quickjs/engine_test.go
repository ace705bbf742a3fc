//go:build !v8

package quickjs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/webapi"
)

type stubHost struct {
	posted  []string
	console []string
}

func (h *stubHost) Info() core.ScopeInfo {
	return core.ScopeInfo{ScriptURL: "https://example.com/q.js", Name: "q"}
}
func (h *stubHost) PostMessageToCreator(data string) { h.posted = append(h.posted, data) }
func (h *stubHost) ReportConsoleMessage(level, message string) { h.console = append(h.console, level+": "+message) }
func (h *stubHost) ReportException(*core.ScriptError) {}
func (h *stubHost) Close() {}
func (h *stubHost) SetTimer(time.Duration, bool, func() error) int { return 1 }
func (h *stubHost) ClearTimer(int) {}
func (h *stubHost) ActiveTimers() int { return 0 }

func newContext(t *testing.T, host core.ScopeHost, setup ...core.SetupFunc) core.ExecutionContext {
	t.Helper()
	ctx, err := NewEngine(core.EngineConfig{MemoryLimitMB: 64}).NewContext(core.NewStartupBundle(core.BundleParams{}), host, setup)
	require.NoError(t, err)
	t.Cleanup(ctx.Dispose)
	return ctx
}

func TestEvaluateAndEval(t *testing.T) {
	ctx := newContext(t, &stubHost{})
	require.NoError(t, ctx.Evaluate("var n = 6 * 7;", "q.js"))

	n, err := ctx.Runtime().EvalInt("n")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	s, err := ctx.Runtime().EvalString("'n=' + n")
	require.NoError(t, err)
	assert.Equal(t, "n=42", s)
}

func TestEvaluateErrorCarriesURL(t *testing.T) {
	ctx := newContext(t, &stubHost{})
	err := ctx.Evaluate("throw new Error('qjs failure')", "https://example.com/q.js")
	var se *core.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "qjs failure")
	assert.Equal(t, "https://example.com/q.js", se.SourceURL)
}

func TestRegisterFuncUnwrapsErrors(t *testing.T) {
	ctx := newContext(t, &stubHost{})
	rt := ctx.Runtime()
	require.NoError(t, rt.RegisterFunc("half", func(n int) (int, error) {
		if n%2 != 0 {
			return 0, assert.AnError
		}
		return n / 2, nil
	}))

	n, err := rt.EvalInt("half(10)")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	threw, err := rt.EvalBool("(function(){ try { half(3); return false; } catch (e) { return e instanceof TypeError; } })()")
	require.NoError(t, err)
	assert.True(t, threw)
}

func TestRunMicrotasksDrainsPromises(t *testing.T) {
	ctx := newContext(t, &stubHost{})
	rt := ctx.Runtime()
	require.NoError(t, rt.Eval("globalThis.done = false; Promise.resolve().then(function() { globalThis.done = true; });"))
	rt.RunMicrotasks()

	done, err := rt.EvalBool("globalThis.done")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestScopeBindingsOnQuickJS(t *testing.T) {
	host := &stubHost{}
	ctx := newContext(t, host, append(webapi.ScopeSetup(), webapi.SetupDedicatedMessaging)...)

	require.NoError(t, ctx.Evaluate(`
console.log('up', 1);
onmessage = function(e) { postMessage({ echo: e.data, name: name }); };
`, "q.js"))
	require.NoError(t, webapi.DispatchMessage(ctx.Runtime(), `"hi"`))

	assert.Equal(t, []string{"log: up 1"}, host.console)
	require.Len(t, host.posted, 1)
	assert.JSONEq(t, `{"echo":"hi","name":"q"}`, host.posted[0])
}

func TestRunIncrementalGCStep(t *testing.T) {
	ctx := newContext(t, &stubHost{})
	assert.False(t, ctx.RunIncrementalGCStep(time.Now()))
	assert.True(t, ctx.RunIncrementalGCStep(time.Now().Add(time.Second)))
}

func TestAbortBeforeScriptRefusesLaterScript(t *testing.T) {
	ctx := newContext(t, &stubHost{})
	ctx.AbortExecution()

	assert.ErrorIs(t, ctx.Evaluate("for (;;) {}", "loop.js"), core.ErrExecutionTerminated)
	assert.ErrorIs(t, ctx.Runtime().Eval("for (;;) {}"), core.ErrExecutionTerminated)
	_, err := ctx.Runtime().EvalInt("1")
	assert.ErrorIs(t, err, core.ErrExecutionTerminated)
	ctx.Runtime().RunMicrotasks()
	ctx.WillBeDestroyed()
}
