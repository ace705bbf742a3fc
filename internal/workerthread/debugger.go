package workerthread

import "sync"

// WaitMode selects whether RunDebuggerTask blocks on an empty queue.
type WaitMode int

const (
	WaitForTask WaitMode = iota
	DontWaitForTask
)

// DebuggerResult is the outcome of taking from the debugger queue.
type DebuggerResult int

const (
	DebuggerTaskReceived DebuggerResult = iota
	DebuggerTaskTimeout
	DebuggerQueueKilled
)

func (r DebuggerResult) String() string {
	switch r {
	case DebuggerTaskReceived:
		return "received"
	case DebuggerTaskTimeout:
		return "timeout"
	case DebuggerQueueKilled:
		return "queue-killed"
	default:
		return "unknown"
	}
}

// DebuggerQueue is the FIFO that carries inspector commands to a worker. It
// is separate from the main task queue so a worker paused inside script can
// still be reached.
type DebuggerQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	killed bool
}

// NewDebuggerQueue returns an empty queue.
func NewDebuggerQueue() *DebuggerQueue {
	q := &DebuggerQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Append adds task to the queue. It returns false once the queue is killed.
func (q *DebuggerQueue) Append(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.killed {
		return false
	}
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
	return true
}

// Take removes the oldest task. In WaitForTask mode it blocks until a task
// arrives or the queue is killed; in DontWaitForTask mode an empty queue
// yields DebuggerTaskTimeout at once.
func (q *DebuggerQueue) Take(mode WaitMode) (Task, DebuggerResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.killed {
			return nil, DebuggerQueueKilled
		}
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks[0] = nil
			q.tasks = q.tasks[1:]
			return task, DebuggerTaskReceived
		}
		if mode == DontWaitForTask {
			return nil, DebuggerTaskTimeout
		}
		q.cond.Wait()
	}
}

// Kill drops pending tasks and wakes every waiter.
func (q *DebuggerQueue) Kill() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.killed = true
	q.tasks = nil
	q.cond.Broadcast()
}

// Len returns the number of pending tasks.
func (q *DebuggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
