package gojaengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/workerhost/internal/core"
)

type nopHost struct{}

func (nopHost) Info() core.ScopeInfo { return core.ScopeInfo{ScriptURL: "https://example.com/w.js"} }
func (nopHost) PostMessageToCreator(string) {}
func (nopHost) ReportConsoleMessage(string, string) {}
func (nopHost) ReportException(*core.ScriptError) {}
func (nopHost) Close() {}
func (nopHost) SetTimer(time.Duration, bool, func() error) int { return 1 }
func (nopHost) ClearTimer(int) {}
func (nopHost) ActiveTimers() int { return 0 }

func newTestContext(t *testing.T, setup ...core.SetupFunc) core.ExecutionContext {
	t.Helper()
	bundle := core.NewStartupBundle(core.BundleParams{ScriptURL: "https://example.com/w.js"})
	ctx, err := NewEngine(core.EngineConfig{}).NewContext(bundle, nopHost{}, setup)
	require.NoError(t, err)
	t.Cleanup(ctx.Dispose)
	return ctx
}

func TestEvaluateAndRuntime(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.Evaluate("var x = 40 + 2;", "w.js"))

	rt := ctx.Runtime()
	n, err := rt.EvalInt("x")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	s, err := rt.EvalString("'a' + x")
	require.NoError(t, err)
	assert.Equal(t, "a42", s)

	b, err := rt.EvalBool("x > 1")
	require.NoError(t, err)
	assert.True(t, b)

	_, err = rt.EvalBool("'nope'")
	assert.Error(t, err)
}

func TestEvaluateReportsThrownError(t *testing.T) {
	ctx := newTestContext(t)
	err := ctx.Evaluate("throw new TypeError('bad input')", "w.js")
	var se *core.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "bad input")
}

func TestRegisterFuncThrowsOnError(t *testing.T) {
	ctx := newTestContext(t)
	rt := ctx.Runtime()
	require.NoError(t, rt.RegisterFunc("fail", func(s string) (string, error) {
		if s == "x" {
			return "", assert.AnError
		}
		return s + "!", nil
	}))

	s, err := rt.EvalString("fail('ok')")
	require.NoError(t, err)
	assert.Equal(t, "ok!", s)

	caught, err := rt.EvalBool("(function(){ try { fail('x'); return false; } catch (e) { return true; } })()")
	require.NoError(t, err)
	assert.True(t, caught)
}

func TestSetupErrorFailsContext(t *testing.T) {
	bundle := core.NewStartupBundle(core.BundleParams{})
	_, err := NewEngine(core.EngineConfig{}).NewContext(bundle, nopHost{}, []core.SetupFunc{
		func(rt core.JSRuntime, _ core.ScopeHost) error { return rt.Eval("(") },
	})
	assert.Error(t, err)
}

func TestInterruptExecutionStopsLoop(t *testing.T) {
	ctx := newTestContext(t)
	time.AfterFunc(20*time.Millisecond, ctx.InterruptExecution)

	done := make(chan error, 1)
	go func() { done <- ctx.Evaluate("for (;;) {}", "loop.js") }()
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "aborted")
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not stop the script")
	}

	require.NoError(t, ctx.Evaluate("1", "after.js"))
}

func TestAbortExecutionRefusesLaterScript(t *testing.T) {
	ctx := newTestContext(t)
	time.AfterFunc(20*time.Millisecond, ctx.AbortExecution)

	done := make(chan error, 1)
	go func() { done <- ctx.Evaluate("for (;;) {}", "loop.js") }()
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "aborted")
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not stop the script")
	}

	assert.ErrorIs(t, ctx.Evaluate("1", "after.js"), core.ErrExecutionTerminated)
	assert.ErrorIs(t, ctx.Runtime().Eval("for (;;) {}"), core.ErrExecutionTerminated)
	assert.ErrorIs(t, ctx.Runtime().SetGlobal("x", 1), core.ErrExecutionTerminated)
}

func TestAbortBeforeScriptRefusesLaterScript(t *testing.T) {
	ctx := newTestContext(t)
	ctx.AbortExecution()

	assert.ErrorIs(t, ctx.Evaluate("for (;;) {}", "loop.js"), core.ErrExecutionTerminated)
	_, err := ctx.Runtime().EvalBool("true")
	assert.ErrorIs(t, err, core.ErrExecutionTerminated)
}

func TestRunIncrementalGCStep(t *testing.T) {
	ctx := newTestContext(t)
	assert.False(t, ctx.RunIncrementalGCStep(time.Now()))
	assert.True(t, ctx.RunIncrementalGCStep(time.Now().Add(time.Second)))
}
