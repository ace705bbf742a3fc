package workerthread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/workerhost/internal/core"
)

func TestDebuggerQueueDontWaitOnEmpty(t *testing.T) {
	q := NewDebuggerQueue()
	task, res := q.Take(DontWaitForTask)
	assert.Nil(t, task)
	assert.Equal(t, DebuggerTaskTimeout, res)
}

func TestDebuggerQueueFIFO(t *testing.T) {
	q := NewDebuggerQueue()
	var got []int
	for i := 0; i < 3; i++ {
		require.True(t, q.Append(func(core.ExecutionContext) error { got = append(got, i); return nil }))
	}
	assert.Equal(t, 3, q.Len())
	for {
		task, res := q.Take(DontWaitForTask)
		if res != DebuggerTaskReceived {
			break
		}
		require.NoError(t, task(nil))
	}
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestDebuggerQueueWaitBlocksUntilAppend(t *testing.T) {
	q := NewDebuggerQueue()
	res := make(chan DebuggerResult, 1)
	go func() {
		_, r := q.Take(WaitForTask)
		res <- r
	}()

	select {
	case <-res:
		t.Fatal("Take returned on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}
	q.Append(func(core.ExecutionContext) error { return nil })
	assert.Equal(t, DebuggerTaskReceived, <-res)
}

func TestDebuggerQueueKillWakesWaiters(t *testing.T) {
	q := NewDebuggerQueue()
	res := make(chan DebuggerResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, r := q.Take(WaitForTask)
			res <- r
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Kill()

	assert.Equal(t, DebuggerQueueKilled, <-res)
	assert.Equal(t, DebuggerQueueKilled, <-res)
	assert.False(t, q.Append(func(core.ExecutionContext) error { return nil }))
	assert.Zero(t, q.Len())
	assert.Equal(t, "queue-killed", DebuggerQueueKilled.String())
}
