package squeue

// bucketHeap is a container/heap min-heap of *entry within one priority,
// ordered by (executeAt, sequence) so the earliest-scheduled command in a
// priority is always at index 0 and FIFO order holds among ties.
type bucketHeap []*entry

func (h bucketHeap) Len() int { return len(h) }

func (h bucketHeap) Less(i, j int) bool {
	if h[i].executeAt != h[j].executeAt {
		return h[i].executeAt < h[j].executeAt
	}
	return h[i].sequence < h[j].sequence
}

func (h bucketHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].bucketIdx = i
	h[j].bucketIdx = j
}

func (h *bucketHeap) Push(x any) {
	e := x.(*entry)
	e.bucketIdx = len(*h)
	*h = append(*h, e)
}

func (h *bucketHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// deadlineKey is the secondary index's logical key: a deadline plus the
// sequence number of the entry it refers to. Resolving sequence back to a
// live *entry happens at lookup time in the queue, via bySeq, so this key
// can outlive the entry it once pointed at without leaving a dangling
// reference — a stale key is simply dropped when it's found to no longer
// resolve.
type deadlineKey struct {
	deadline int64
	sequence uint64
	dlIdx    int
}

type deadlineHeap []*deadlineKey

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].sequence < h[j].sequence
}

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].dlIdx = i
	h[j].dlIdx = j
}

func (h *deadlineHeap) Push(x any) {
	dk := x.(*deadlineKey)
	dk.dlIdx = len(*h)
	*h = append(*h, dk)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	dk := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return dk
}
