package transfer

import (
	"container/heap"
	"slices"
)

// pendingQueue orders queued transfers by priority tier, then by rank.
// Ranks grow with arrival; moving to the front assigns a rank below every
// other rank.
type pendingQueue[T any] []*Transfer[T]

func (pq pendingQueue[T]) Len() int {
	return len(pq)
}

func (pq pendingQueue[T]) Less(i, j int) bool {
	return before(pq[i], pq[j])
}

func (pq pendingQueue[T]) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *pendingQueue[T]) Push(x any) {
	t := x.(*Transfer[T])
	t.index = len(*pq)
	*pq = append(*pq, t)
}

func (pq *pendingQueue[T]) Pop() any {
	old := *pq
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*pq = old[:n-1]
	return t
}

func (pq *pendingQueue[T]) push(t *Transfer[T]) {
	heap.Push(pq, t)
}

func (pq *pendingQueue[T]) pop() *Transfer[T] {
	return heap.Pop(pq).(*Transfer[T])
}

func (pq *pendingQueue[T]) remove(t *Transfer[T]) {
	if t.index >= 0 {
		heap.Remove(pq, t.index)
	}
}

func (pq *pendingQueue[T]) fix(t *Transfer[T]) {
	if t.index >= 0 {
		heap.Fix(pq, t.index)
	}
}

// sorted returns the queue in admission order without disturbing the heap.
func (pq pendingQueue[T]) sorted() []*Transfer[T] {
	out := slices.Clone([]*Transfer[T](pq))
	slices.SortFunc(out, func(a, b *Transfer[T]) int {
		switch {
		case before(a, b):
			return -1
		case before(b, a):
			return 1
		default:
			return 0
		}
	})
	return out
}

func before[T any](a, b *Transfer[T]) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.rank < b.rank
}
