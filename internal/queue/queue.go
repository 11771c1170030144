// Package queue holds pending jobs between the scheduler (or a manual
// trigger) and the worker pool. Ordering is by priority, then FIFO; manual
// triggers outrank routine scheduled work.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Mode string

const (
	// ModeFull performs the full review loop plus metric scrape.
	ModeFull Mode = "full"
	// ModeSync only re-derives today's metrics; it never submits work
	// and is silent (no notification).
	ModeSync Mode = "sync"
)

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

const (
	PriorityScheduled = 0
	PriorityManual    = 10
)

// Params are the knobs forwarded to the runner for one invocation.
type Params struct {
	Iterations     int
	ReviewText     string
	Viewport       string
	Headless       bool
	TimeoutSeconds int
}

// Job is a unit of scheduled or manual work. It is owned by the queue until
// claimed, then by the claiming worker until terminal. Jobs are never
// retried by the queue itself.
type Job struct {
	ID        string
	AccountID string
	Owner     string
	Mode      Mode
	Trigger   Trigger
	Priority  int
	Params    Params

	// LogPath is where the worker streams captured runner output.
	LogPath string

	EnqueuedAt time.Time

	seq uint64 // FIFO tiebreaker within a priority
}

// NewJob builds a job with a fresh ID.
func NewJob(owner, accountID string, mode Mode, trigger Trigger, params Params) Job {
	prio := PriorityScheduled
	if trigger == TriggerManual {
		prio = PriorityManual
	}
	return Job{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Owner:      owner,
		Mode:       mode,
		Trigger:    trigger,
		Priority:   prio,
		Params:     params,
		EnqueuedAt: time.Now(),
	}
}

// defaultCapacity bounds pending jobs when the caller does not.
const defaultCapacity = 256

// Queue is a concurrency-safe priority queue of pending jobs.
type Queue struct {
	mu   sync.Mutex
	h    jobHeap
	cap  int
	seq  uint64
	wake chan struct{}
}

// New builds a queue holding at most capacity pending jobs; capacity <= 0
// selects the default.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{cap: capacity, wake: make(chan struct{}, 1)}
}

// Enqueue adds a job. It never blocks: a queue at capacity rejects the
// job and the caller decides what the loss means.
func (q *Queue) Enqueue(j Job) bool {
	q.mu.Lock()
	if q.h.Len() >= q.cap {
		q.mu.Unlock()
		return false
	}
	q.seq++
	j.seq = q.seq
	heap.Push(&q.h, j)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Dequeue blocks until a job is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if q.h.Len() > 0 {
			j := heap.Pop(&q.h).(Job)
			more := q.h.Len() > 0
			q.mu.Unlock()
			if more {
				// Keep sibling workers awake when jobs remain.
				select {
				case q.wake <- struct{}{}:
				default:
				}
			}
			return j, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Len reports the number of queued (unclaimed) jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Position returns the 1-based dequeue position of a job, or 0 when the job
// is no longer queued (claimed or unknown).
func (q *Queue) Position(jobID string) int {
	q.mu.Lock()
	snapshot := make(jobHeap, len(q.h))
	copy(snapshot, q.h)
	q.mu.Unlock()

	pos := 0
	for snapshot.Len() > 0 {
		pos++
		j := heap.Pop(&snapshot).(Job)
		if j.ID == jobID {
			return pos
		}
	}
	return 0
}

// PositionFor returns the 1-based dequeue position of the first queued
// job for the account, or 0 when none is queued.
func (q *Queue) PositionFor(owner, accountID string) int {
	q.mu.Lock()
	snapshot := make(jobHeap, len(q.h))
	copy(snapshot, q.h)
	q.mu.Unlock()

	pos := 0
	for snapshot.Len() > 0 {
		pos++
		j := heap.Pop(&snapshot).(Job)
		if j.AccountID == accountID && j.Owner == owner {
			return pos
		}
	}
	return 0
}

// PendingFor reports whether any job for the account is still queued.
func (q *Queue) PendingFor(owner, accountID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.h {
		if j.AccountID == accountID && j.Owner == owner {
			return true
		}
	}
	return false
}

// ---- heap internals ----

type jobHeap []Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	*h = old[:n-1]
	return j
}
