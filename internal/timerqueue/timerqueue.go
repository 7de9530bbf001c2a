// Package timerqueue provides a deadline-ordered retry queue: push an
// item with a priority (typically a UnixNano deadline), and it is handed
// back to a callback once that deadline passes. It is the generic shape
// behind every exponential-backoff retry in strand (handshake, TLP,
// skip/flush, close) — each caller is responsible for checking, inside
// its callback, whether the retry is still wanted (the item may have
// been acknowledged between being pushed and the timer firing), the same
// lazy-invalidation idiom the teacher's ARQ uses in its resend() path.
package timerqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/xendarboh/strand/internal/worker"
)

// Entry is a single pending item, ordered by Priority (ascending).
type Entry struct {
	Priority uint64
	Value    interface{}
	index    int
}

type entryHeap []*Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].Priority < h[j].Priority }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*Entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerQueue fires onExpire(item) once the item's priority (a UnixNano
// deadline) has passed. Start must be called before Push has any effect
// on scheduling; Halt/Wait tear the worker goroutine down.
type TimerQueue struct {
	worker.Worker

	onExpire func(interface{})

	mu   sync.Mutex
	h    entryHeap
	wake chan struct{}
}

// NewTimerQueue constructs a TimerQueue. Mirrors the teacher's
// client2/arq.go construction idiom (a bare callback, no separate
// Pushable interface).
func NewTimerQueue(onExpire func(interface{})) *TimerQueue {
	return &TimerQueue{
		onExpire: onExpire,
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the background dispatch goroutine. Must be called
// exactly once before use.
func (q *TimerQueue) Start() {
	q.Go(q.worker)
}

func (q *TimerQueue) worker() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		q.mu.Lock()
		var wait time.Duration
		if len(q.h) == 0 {
			wait = time.Hour
		} else {
			deadline := time.Unix(0, int64(q.h[0].Priority))
			wait = time.Until(deadline)
			if wait < 0 {
				wait = 0
			}
		}
		q.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-q.HaltCh():
			return
		case <-timer.C:
			q.fireExpired()
		case <-q.wake:
			// re-evaluate the deadline; the new head may be sooner.
		}
	}
}

func (q *TimerQueue) fireExpired() {
	now := uint64(time.Now().UnixNano())
	for {
		q.mu.Lock()
		if len(q.h) == 0 || q.h[0].Priority > now {
			q.mu.Unlock()
			return
		}
		e := heap.Pop(&q.h).(*Entry)
		q.mu.Unlock()
		q.onExpire(e.Value)
	}
}

// Push schedules item to be handed to onExpire once priority (a
// UnixNano timestamp) has passed.
func (q *TimerQueue) Push(priority uint64, item interface{}) {
	q.mu.Lock()
	heap.Push(&q.h, &Entry{Priority: priority, Value: item})
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Peek returns the earliest-deadline entry without removing it, or nil
// if the queue is empty.
func (q *TimerQueue) Peek() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0]
}

// Pop removes and returns the earliest-deadline entry, or nil if empty.
func (q *TimerQueue) Pop() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Entry)
}

// Len returns the number of pending entries.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
