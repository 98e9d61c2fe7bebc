package service

import (
	"sync"

	"github.com/pawhaus/kennelcam/internal/domain"
)

// JobEvent is one lifecycle notification for an export job.
type JobEvent struct {
	JobID   string
	Type    string // "claimed", "done", "requeued", "failed", "canceled"
	Status  domain.JobStatus
	Message string
}

// EventBus fans job lifecycle events out to in-process observers,
// keyed by job id or across all jobs. Publishing never blocks; slow
// subscribers miss events.
type EventBus struct {
	subscribers map[string][]chan JobEvent
	all         []chan JobEvent
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan JobEvent),
	}
}

// SubscribeAll delivers every job's events, e.g. for an operator-facing
// event log.
func (eb *EventBus) SubscribeAll() chan JobEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan JobEvent, 64)
	eb.all = append(eb.all, ch)
	return ch
}

func (eb *EventBus) Subscribe(jobID string) chan JobEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan JobEvent, 16)
	eb.subscribers[jobID] = append(eb.subscribers[jobID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(jobID string, ch chan JobEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[jobID]) == 0 {
		delete(eb.subscribers, jobID)
	}
}

func (eb *EventBus) Publish(jobID string, event JobEvent) {
	event.JobID = jobID

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[jobID] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is slow
		}
	}
	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
		}
	}
}
