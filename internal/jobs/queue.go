package jobs

import (
	"container/heap"
	"context"
	"time"

	"github.com/ideaforge/api/internal/model"
)

// jobEntry wraps a job with its queue bookkeeping. cancel is set while
// the job is active, delayTimer while it is delayed. seq breaks
// priority ties so dequeue order is FIFO within a tier.
type jobEntry struct {
	job        *model.Job
	seq        uint64
	cancel     context.CancelFunc
	delayTimer *time.Timer
}

// waitingHeap orders entries by priority (higher first), then by
// insertion sequence. Cancelled entries are removed lazily at pop time.
type waitingHeap []*jobEntry

func (h waitingHeap) Len() int { return len(h) }

func (h waitingHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h waitingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *waitingHeap) Push(x interface{}) { *h = append(*h, x.(*jobEntry)) }

func (h *waitingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// queue holds all state for one job type. All fields are guarded by
// the manager's mutex; wake signals the type's worker goroutine.
type queue struct {
	jobType model.JobType
	waiting waitingHeap
	jobs    map[string]*jobEntry

	// Terminal counters survive eviction of the entries themselves.
	completed int
	failed    int

	wake chan struct{}
}

func newQueue(t model.JobType) *queue {
	return &queue{
		jobType: t,
		jobs:    make(map[string]*jobEntry),
		wake:    make(chan struct{}, 1),
	}
}

func (q *queue) push(e *jobEntry) {
	heap.Push(&q.waiting, e)
}

// popWaiting returns the highest-priority waiting entry, discarding
// entries that were cancelled while still in the heap.
func (q *queue) popWaiting() *jobEntry {
	for q.waiting.Len() > 0 {
		e := heap.Pop(&q.waiting).(*jobEntry)
		if e.job.Status == model.JobStatusWaiting {
			return e
		}
	}
	return nil
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// stats counts live states under the manager lock. Completed and failed
// come from the counters so evicted jobs stay accounted for.
func (q *queue) stats() model.QueueStats {
	s := model.QueueStats{Completed: q.completed, Failed: q.failed}
	for _, e := range q.jobs {
		switch e.job.Status {
		case model.JobStatusWaiting:
			s.Waiting++
		case model.JobStatusActive:
			s.Active++
		case model.JobStatusDelayed:
			s.Delayed++
		}
	}
	s.Total = s.Waiting + s.Active + s.Completed + s.Failed + s.Delayed
	return s
}
