// Package eventbus is a small in-memory fanout used to decouple the run
// pipeline from observers. Publishing never blocks; a slow subscriber
// loses events instead of stalling a worker.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types published by the run pipeline.
const (
	TypeSlotFired   = "schedule.slot_fired"
	TypeJobEnqueued = "job.enqueued"
	TypeRunStarted  = "run.started"
	TypeRunFinished = "run.finished"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// RunEvent is the Data payload for run lifecycle events.
type RunEvent struct {
	JobID     string `json:"job_id"`
	Owner     string `json:"owner,omitempty"`
	AccountID string `json:"account"`
	Mode      string `json:"mode"`
	Trigger   string `json:"trigger"`
	Error     string `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A subscriber may close its channel concurrently with this
		// send; the recover absorbs that race.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
