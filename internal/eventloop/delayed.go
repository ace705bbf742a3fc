package eventloop

import (
	"container/heap"
	"time"
)

type delayedTask struct {
	deadline time.Time
	seq      uint64
	fn       func()
}

// delayedQueue is a min-heap on (deadline, seq).
type delayedQueue []*delayedTask

func (q delayedQueue) Len() int { return len(q) }

func (q delayedQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].seq < q[j].seq
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q delayedQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *delayedQueue) Push(x any) { *q = append(*q, x.(*delayedTask)) }

func (q *delayedQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

func (q *delayedQueue) push(d *delayedTask) { heap.Push(q, d) }

func (q *delayedQueue) pop() *delayedTask { return heap.Pop(q).(*delayedTask) }

func (q delayedQueue) peek() *delayedTask { return q[0] }
