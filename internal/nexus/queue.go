package nexus

import (
	"container/heap"
	"sort"
	"time"
)

// Event is one pending propagation request.
type Event struct {
	ID         uint64
	Origin     string
	TargetHint string
	Raw        float64 // as received, [0, constants.MaxRawIntensity]
	Intensity  float64 // normalized, [0, 1]
	Priority   float64 // [0, 1]
	NoiseRatio float64
	EnqueuedAt time.Time
}

// eventHeap orders events by priority descending, then by ID ascending so
// that equal priorities dequeue FIFO.
type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].ID < h[j].ID
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}

// queue is one session's bounded priority queue.
type queue struct {
	capacity int
	items    eventHeap
}

func newQueue(capacity int) *queue {
	return &queue{capacity: max(capacity, 1)}
}

func (q *queue) len() int { return q.items.Len() }

// push adds ev. When the queue is full, the oldest lowest-priority entry
// (ev itself included as a candidate) is evicted and returned.
func (q *queue) push(ev Event) (evicted Event, ok bool) {
	if q.items.Len() < q.capacity {
		heap.Push(&q.items, ev)
		return Event{}, false
	}

	victim := -1
	for i, cur := range q.items {
		if victim < 0 || lowerRank(cur, q.items[victim]) {
			victim = i
		}
	}
	if lowerRank(ev, q.items[victim]) {
		return ev, true
	}
	evicted = q.items[victim]
	q.items[victim] = ev
	heap.Fix(&q.items, victim)
	return evicted, true
}

// lowerRank reports whether a should be evicted before b: lower priority
// first, then older first.
func lowerRank(a, b Event) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

func (q *queue) pop() (Event, bool) {
	if q.items.Len() == 0 {
		return Event{}, false
	}
	return heap.Pop(&q.items).(Event), true
}

// dropOldest removes and returns the n entries with the earliest enqueue
// order, oldest first.
func (q *queue) dropOldest(n int) []Event {
	if n <= 0 {
		return nil
	}
	if n >= q.items.Len() {
		return q.drain()
	}
	byAge := make([]Event, len(q.items))
	copy(byAge, q.items)
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].ID < byAge[j].ID })

	dropped := byAge[:n]
	q.items = append(eventHeap(nil), byAge[n:]...)
	heap.Init(&q.items)
	return dropped
}

// drain removes every entry, oldest first.
func (q *queue) drain() []Event {
	out := []Event(q.items)
	q.items = nil
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
