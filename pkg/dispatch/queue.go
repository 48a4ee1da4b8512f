package dispatch

import (
	"container/heap"
	"time"
)

// queuedTask is one heap entry. sequence is a monotonically increasing
// submission counter so equal priorities stay FIFO.
type queuedTask struct {
	task     Task
	priority Priority
	sequence uint64
	ticket   *Ticket

	background bool
	taskID     string
	taskName   string
	target     string

	enqueuedAt time.Time
	index      int
}

// taskHeap orders queuedTasks by priority descending, then sequence ascending.
// It implements heap.Interface; callers go through pushTask/popTask/removeTask.
type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].sequence < h[j].sequence
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*queuedTask)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

func pushTask(h *taskHeap, item *queuedTask) {
	heap.Push(h, item)
}

func popTask(h *taskHeap) *queuedTask {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*queuedTask)
}

// removeTask removes an entry that is still queued. Returns false when the
// entry already left the heap.
func removeTask(h *taskHeap, item *queuedTask) bool {
	if item == nil || item.index < 0 || item.index >= h.Len() {
		return false
	}
	if (*h)[item.index] != item {
		return false
	}
	heap.Remove(h, item.index)
	return true
}

// drainTasks empties the heap and returns the entries in dequeue order.
func drainTasks(h *taskHeap) []*queuedTask {
	out := make([]*queuedTask, 0, h.Len())
	for h.Len() > 0 {
		out = append(out, popTask(h))
	}
	return out
}
