package orchestrator

import "container/heap"

// jobQueue orders pending jobs by priority (higher first) and, within a
// priority, by submission order. Retried jobs keep their original sequence
// number so they re-enter ahead of later submissions of equal priority.
type jobQueue struct {
	items []*job
}

func (q *jobQueue) Len() int { return len(q.items) }

func (q *jobQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.request.Priority != b.request.Priority {
		return a.request.Priority > b.request.Priority
	}
	return a.seq < b.seq
}

func (q *jobQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *jobQueue) Push(x any) {
	q.items = append(q.items, x.(*job))
}

func (q *jobQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

func (q *jobQueue) push(j *job) {
	heap.Push(q, j)
}

func (q *jobQueue) pop() *job {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*job)
}
