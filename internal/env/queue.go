package env

import "sync"

// obsQueue is an unbounded FIFO handoff between the gateway's event
// goroutine and the synchronous step loop. It is the sole synchronization
// point between the two: an observation put here happens-before its Get.
// Nothing is ever dropped; a growing backlog is surfaced to the caller of
// Put instead.
type obsQueue struct {
	mu    sync.Mutex
	ready *sync.Cond
	items [][]float64
}

func newObsQueue() *obsQueue {
	q := &obsQueue{}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Put appends an observation and returns the queue depth after the append.
// A depth greater than one means the consumer is falling behind.
func (q *obsQueue) Put(obs []float64) int {
	q.mu.Lock()
	q.items = append(q.items, obs)
	depth := len(q.items)
	q.mu.Unlock()
	q.ready.Signal()
	return depth
}

// Get removes and returns the oldest observation, blocking indefinitely
// until one is available.
func (q *obsQueue) Get() []float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.ready.Wait()
	}
	obs := q.items[0]
	q.items = q.items[1:]
	return obs
}

// Len returns the current backlog.
func (q *obsQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
