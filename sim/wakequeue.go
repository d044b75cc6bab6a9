package sim

import (
	"container/heap"
)

// wakeEntry is a pending wake-up. It either resumes a process suspended with
// a matching token or fires an event.
type wakeEntry struct {
	time VTime
	seq  uint64

	proc  *Process
	token uint64

	event     *Event
	cancelled bool
}

// stale reports whether the entry no longer has any effect.
func (w *wakeEntry) stale() bool {
	if w.event != nil {
		return w.cancelled
	}

	return !w.proc.suspendedWith(w.token)
}

// wakeQueue orders pending wake-ups by time, breaking ties by insertion
// sequence.
type wakeQueue struct {
	entries wakeHeap
}

func newWakeQueue() *wakeQueue {
	q := new(wakeQueue)
	q.entries = make([]*wakeEntry, 0)
	heap.Init(&q.entries)

	return q
}

// Push adds an entry to the queue.
func (q *wakeQueue) Push(w *wakeEntry) {
	heap.Push(&q.entries, w)
}

// Pop removes and returns the earliest entry.
func (q *wakeQueue) Pop() *wakeEntry {
	if q.entries.Len() == 0 {
		return nil
	}

	return heap.Pop(&q.entries).(*wakeEntry)
}

// Peek returns the earliest entry without removing it.
func (q *wakeQueue) Peek() *wakeEntry {
	if q.entries.Len() == 0 {
		return nil
	}

	return q.entries[0]
}

// Len returns the number of entries, stale ones included.
func (q *wakeQueue) Len() int {
	return q.entries.Len()
}

// DropStale pops stale entries off the front so that Peek returns a live one.
func (q *wakeQueue) DropStale() {
	for q.Len() > 0 && q.Peek().stale() {
		q.Pop()
	}
}

// CancelEvent cancels every pending firing of e and returns how many were
// cancelled.
func (q *wakeQueue) CancelEvent(e *Event) int {
	n := 0
	for _, w := range q.entries {
		if w.event == e && !w.cancelled {
			w.cancelled = true
			n++
		}
	}

	return n
}

type wakeHeap []*wakeEntry

func (h wakeHeap) Len() int {
	return len(h)
}

func (h wakeHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}

	return h[i].seq < h[j].seq
}

func (h wakeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *wakeHeap) Push(x any) {
	*h = append(*h, x.(*wakeEntry))
}

func (h *wakeHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return w
}
