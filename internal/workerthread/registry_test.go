package workerthread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/workerhost/internal/core"
)

func TestRegistryTerminateAll(t *testing.T) {
	reg := NewRegistry()
	var ctxs []*fakeContext
	var controllers []*Controller
	for i := 0; i < 4; i++ {
		ctx := newFakeContext()
		ctxs = append(ctxs, ctx)
		c := NewController(&testKind{}, &fakeEngine{ctx: ctx}, newRecordingReporting(), WithRegistry(reg))
		controllers = append(controllers, c)
	}
	// One worker is never started.
	for _, c := range controllers[1:] {
		c.Start(testBundle(core.BundleParams{}))
	}
	assert.Equal(t, 4, reg.Len())

	reg.TerminateAll()
	for i, c := range controllers {
		assert.Equal(t, Terminated, c.State(), "worker %d", i)
	}
	for _, ctx := range ctxs[1:] {
		assert.LessOrEqual(t, ctx.disposed.Load(), int32(1))
	}

	for _, c := range controllers {
		c.Release()
		c.Release()
	}
	assert.Zero(t, reg.Len())
}

func TestWaitForTerminationHonoursContext(t *testing.T) {
	c, rep := newTestController(t, &testKind{}, &fakeEngine{ctx: newFakeContext()})
	c.Start(testBundle(core.BundleParams{}))
	require.True(t, rep.waitEvaluated(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitForTermination(ctx), context.DeadlineExceeded)

	c.Terminate()
	require.NoError(t, c.WaitForTermination(context.Background()))
}

func TestParseKind(t *testing.T) {
	for name, want := range map[string]Kind{"": Dedicated, "dedicated": Dedicated, "shared": Shared, "compositor": Compositor} {
		got, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("service")
	assert.Error(t, err)
	assert.Equal(t, "kind(7)", Kind(7).String())
}

func TestEventSignalsOnce(t *testing.T) {
	e := NewEvent()
	assert.False(t, e.IsSignaled())
	e.Signal()
	e.Signal()
	assert.True(t, e.IsSignaled())
	e.Wait()
	require.NoError(t, e.WaitContext(context.Background()))
}
