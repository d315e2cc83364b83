// Package queue provides a value-based binary heap for top-k selection.
package queue

// PriorityQueueItem is one entry of the queue.
type PriorityQueueItem struct {
	Seq      uint64  // Seq identifies the entry and breaks distance ties (lower first).
	Distance float32 // Distance is the priority; lower is closer.
}

// PriorityQueue is a binary heap over PriorityQueueItems.
//
// A min-heap keeps the closest item on top; a max-heap keeps the farthest,
// which makes it a bounded top-k collector.
type PriorityQueue struct {
	isMaxHeap bool
	items     []PriorityQueueItem
}

// NewMin initializes a queue whose top is the closest item.
func NewMin(capacity int) *PriorityQueue {
	return &PriorityQueue{items: make([]PriorityQueueItem, 0, capacity)}
}

// NewMax initializes a queue whose top is the farthest item.
func NewMax(capacity int) *PriorityQueue {
	return &PriorityQueue{isMaxHeap: true, items: make([]PriorityQueueItem, 0, capacity)}
}

// Before reports whether a ranks ahead of b: smaller distance, then smaller Seq.
func Before(a, b PriorityQueueItem) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}

	return a.Seq < b.Seq
}

// Len returns the number of elements in the queue.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// TopItem returns the top element of the heap.
func (pq *PriorityQueue) TopItem() (PriorityQueueItem, bool) {
	if len(pq.items) == 0 {
		return PriorityQueueItem{}, false
	}

	return pq.items[0], true
}

// PushItem inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) PushItem(item PriorityQueueItem) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// PushBounded keeps at most k of the closest items. It requires a max-heap.
// It reports whether item was retained.
func (pq *PriorityQueue) PushBounded(item PriorityQueueItem, k int) bool {
	if len(pq.items) < k {
		pq.PushItem(item)
		return true
	}

	if !Before(item, pq.items[0]) {
		return false
	}

	pq.items[0] = item
	pq.siftDown(0)

	return true
}

// PopItem removes and returns the top element while maintaining the heap invariant.
func (pq *PriorityQueue) PopItem() (PriorityQueueItem, bool) {
	n := len(pq.items)
	if n == 0 {
		return PriorityQueueItem{}, false
	}

	root := pq.items[0]
	last := pq.items[n-1]
	pq.items = pq.items[:n-1]

	if n-1 > 0 {
		pq.items[0] = last
		pq.siftDown(0)
	}

	return root, true
}

// Drain pops every element and returns them closest first.
func (pq *PriorityQueue) Drain() []PriorityQueueItem {
	out := make([]PriorityQueueItem, pq.Len())

	if pq.isMaxHeap {
		for i := len(out) - 1; i >= 0; i-- {
			out[i], _ = pq.PopItem()
		}

		return out
	}

	for i := range out {
		out[i], _ = pq.PopItem()
	}

	return out
}

// Reset clears the queue for reuse.
func (pq *PriorityQueue) Reset() {
	pq.items = pq.items[:0]
}

func (pq *PriorityQueue) less(i, j int) bool {
	if pq.isMaxHeap {
		return Before(pq.items[j], pq.items[i])
	}

	return Before(pq.items[i], pq.items[j])
}

func (pq *PriorityQueue) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !pq.less(i, p) {
			return
		}

		pq.items[i], pq.items[p] = pq.items[p], pq.items[i]
		i = p
	}
}

func (pq *PriorityQueue) siftDown(i int) {
	n := len(pq.items)

	for {
		l := 2*i + 1
		if l >= n {
			return
		}

		best := l
		if r := l + 1; r < n && pq.less(r, l) {
			best = r
		}

		if !pq.less(best, i) {
			return
		}

		pq.items[i], pq.items[best] = pq.items[best], pq.items[i]
		i = best
	}
}
