package presence

import (
	"log"
	"sync"

	"github.com/technosupport/ts-attend/internal/metrics"
)

// highWaterMark is the queue depth above which we start complaining.
// The queue itself never blocks producers; the inference loop must not
// stall on a slow database.
const highWaterMark = 10000

// Queue is the unbounded FIFO between the presence monitor and the DB
// writer. Push never blocks; Pop blocks until an intent arrives or the
// queue is closed.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Intent
	closed bool
	warned bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Push(in Intent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, in)
	metrics.WriterQueueDepth.Set(float64(len(q.items)))
	if len(q.items) > highWaterMark && !q.warned {
		q.warned = true
		log.Printf("[Presence] Intent queue depth %d exceeds %d, writer is falling behind", len(q.items), highWaterMark)
	}
	if len(q.items) <= highWaterMark/2 {
		q.warned = false
	}
	q.cond.Signal()
}

// Pop returns the next intent in FIFO order. The second return is
// false once the queue is closed and drained.
func (q *Queue) Pop() (Intent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Intent{}, false
	}
	in := q.items[0]
	q.items = q.items[1:]
	metrics.WriterQueueDepth.Set(float64(len(q.items)))
	return in, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting intents. Queued intents are still delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
