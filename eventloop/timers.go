package eventloop

import (
	"time"
)

// NoFD may be passed to [Dispatcher.Watch] to register a pure timeout.
const NoFD = -1

// WatchID identifies a registered watch. IDs are never reused within the
// lifetime of a Dispatcher, and the zero value is never issued.
type WatchID uint64

// Callback is invoked by the dispatcher with the reason for the invocation.
type Callback func(events Events)

// watch is a single one-shot registration. It may be in the fd table, the
// timer heap, or both.
type watch struct {
	id       WatchID
	cb       Callback
	fd       int
	mask     Events
	deadline time.Time
	// seq orders timers with equal deadlines by registration.
	seq uint64
	// index is the position in the timer heap, or -1.
	index int
}

func (w *watch) hasTimer() bool { return w.index >= 0 }

// timerHeap is a min-heap of watches, ordered by deadline
type timerHeap []*watch

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	w := x.(*watch)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// peek returns the earliest watch, or nil.
func (h timerHeap) peek() *watch {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
