package archiver

import (
	"context"
	"sync"

	"github.com/gftdcojp/plot-archiver/internal/job"
	"github.com/gftdcojp/plot-archiver/internal/metrics"
)

// queue is an unbounded FIFO of pending jobs shared by all workers. Pop hands
// each job to exactly one caller.
type queue struct {
	mu     sync.Mutex
	items  []*job.Job
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

// Push appends j and wakes one waiting worker.
func (q *queue) Push(j *job.Job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	metrics.QueueDepth.Set(float64(len(q.items)))
	q.mu.Unlock()
	q.signal()
}

// Pop removes the oldest job, waiting until one is available or ctx is done.
func (q *queue) Pop(ctx context.Context) (*job.Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			j := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			remaining := len(q.items)
			metrics.QueueDepth.Set(float64(remaining))
			q.mu.Unlock()
			if remaining > 0 {
				q.signal()
			}
			return j, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Pending returns the queued jobs in hand-out order.
func (q *queue) Pending() []*job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*job.Job, len(q.items))
	copy(out, q.items)
	return out
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
