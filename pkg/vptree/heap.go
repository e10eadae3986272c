package vptree

// heapItem and maxHeap give kNN search a bounded max-heap keyed on
// distance, bounding the k best candidates during descent.
type heapItem[D distance] struct {
	idx  int64
	dist D
}

// maxHeap keeps the largest distance at the top, so that once the heap is
// full, peeking the top gives tau — the current worst distance still worth
// admitting a candidate over.
type maxHeap[D distance] []heapItem[D]

func (h maxHeap[D]) Len() int { return len(h) }

func (h maxHeap[D]) Less(i, j int) bool { return h[i].dist > h[j].dist }

func (h maxHeap[D]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *maxHeap[D]) Push(x any) {
	*h = append(*h, x.(heapItem[D]))
}

func (h *maxHeap[D]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h maxHeap[D]) Peek() heapItem[D] {
	return h[0]
}
