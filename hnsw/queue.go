package hnsw

// item is a (slot, score) pair ordered by score.
type item struct {
	slot  int32
	score float32
}

// queue is a heap of items. With best set, the highest score sits on top
// (candidate exploration order); without it, the lowest score sits on top so
// a bounded result set can evict its worst element in O(log n).
type queue struct {
	items []item
	best  bool
}

func (q *queue) Len() int { return len(q.items) }

func (q *queue) Less(i, j int) bool {
	if q.best {
		return q.items[i].score > q.items[j].score
	}
	return q.items[i].score < q.items[j].score
}

func (q *queue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *queue) Push(x any) {
	q.items = append(q.items, x.(item))
}

func (q *queue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	q.items = old[:n-1]
	return it
}

// top returns the item at the heap root without removing it.
func (q *queue) top() item {
	return q.items[0]
}
