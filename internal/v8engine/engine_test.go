//go:build v8

package v8engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/workerhost/internal/core"
)

type nopHost struct{}

func (nopHost) Info() core.ScopeInfo { return core.ScopeInfo{} }
func (nopHost) PostMessageToCreator(string) {}
func (nopHost) ReportConsoleMessage(string, string) {}
func (nopHost) ReportException(*core.ScriptError) {}
func (nopHost) Close() {}
func (nopHost) SetTimer(time.Duration, bool, func() error) int { return 1 }
func (nopHost) ClearTimer(int) {}
func (nopHost) ActiveTimers() int { return 0 }

func newContext(t *testing.T, cached []byte) core.ExecutionContext {
	t.Helper()
	bundle := core.NewStartupBundle(core.BundleParams{CachedMetadata: cached})
	ctx, err := NewEngine(core.EngineConfig{MemoryLimitMB: 128}).NewContext(bundle, nopHost{}, nil)
	require.NoError(t, err)
	t.Cleanup(ctx.Dispose)
	return ctx
}

func TestEvaluateProducesCodeCache(t *testing.T) {
	const src = "function add(a, b) { return a + b; } var total = add(40, 2);"
	ctx := newContext(t, nil)
	require.NoError(t, ctx.Evaluate(src, "add.js"))

	n, err := ctx.Runtime().EvalInt("total")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	cache := ctx.(core.CodeCacheProducer).CodeCache()
	require.NotEmpty(t, cache)

	warm := newContext(t, cache)
	require.NoError(t, warm.Evaluate(src, "add.js"))
	assert.Empty(t, warm.(core.CodeCacheProducer).CodeCache())
}

func TestEvaluateErrorIsScriptError(t *testing.T) {
	ctx := newContext(t, nil)
	err := ctx.Evaluate("throw new RangeError('v8 says no')", "bad.js")
	var se *core.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "v8 says no")
	assert.Equal(t, "bad.js", se.SourceURL)
	assert.Equal(t, 1, se.Line)
}

func TestAbortExecution(t *testing.T) {
	ctx := newContext(t, nil)
	time.AfterFunc(20*time.Millisecond, ctx.AbortExecution)
	assert.Error(t, ctx.Evaluate("for (;;) {}", "loop.js"))
}

func TestInterruptExecutionAllowsLaterScript(t *testing.T) {
	ctx := newContext(t, nil)
	time.AfterFunc(20*time.Millisecond, ctx.InterruptExecution)
	assert.Error(t, ctx.Evaluate("for (;;) {}", "loop.js"))

	n, err := ctx.Runtime().EvalInt("1 + 1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAbortBeforeScriptRefusesLaterScript(t *testing.T) {
	ctx := newContext(t, nil)
	ctx.AbortExecution()

	assert.ErrorIs(t, ctx.Evaluate("for (;;) {}", "loop.js"), core.ErrExecutionTerminated)
	assert.ErrorIs(t, ctx.Runtime().Eval("for (;;) {}"), core.ErrExecutionTerminated)
	ctx.WillBeDestroyed()
}

func TestIdleGCStepIsHidden(t *testing.T) {
	ctx := newContext(t, nil)
	assert.True(t, ctx.RunIncrementalGCStep(time.Now().Add(time.Second)))

	exposed, err := ctx.Runtime().EvalBool("typeof gc === 'function'")
	require.NoError(t, err)
	assert.False(t, exposed)
}
