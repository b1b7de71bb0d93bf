package scheduler

import (
	"container/heap"
	"time"
)

type (
	job struct {
		runAt time.Time
		seq   uint64
		fn    func()
		index int
	}

	jobHeap []*job
)

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].runAt.Equal(h[j].runAt) {
		return h[i].seq < h[j].seq
	}

	return h[i].runAt.Before(h[j].runAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	var (
		old = *h
		n   = len(old)
		j   = old[n-1]
	)

	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]

	return j
}

func (h *jobHeap) peek() *job {
	if len(*h) == 0 {
		return nil
	}

	return (*h)[0]
}

func (h *jobHeap) push(j *job) { heap.Push(h, j) }

func (h *jobHeap) popDue(now time.Time) *job {
	if j := h.peek(); j == nil || j.runAt.After(now) {
		return nil
	}

	return heap.Pop(h).(*job)
}
