package consent

import (
	"slices"
	"sync"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
)

type queue struct {
	mu      sync.Mutex
	events  []*event.Event
	limit   int
	dropped int
}

func newQueue(limit int) *queue {
	if limit <= 0 {
		limit = DefaultQueueCapacity
	}
	return &queue{limit: limit}
}

func (q *queue) push(e *event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) >= q.limit {
		over := len(q.events) - q.limit + 1
		q.events = slices.Delete(q.events, 0, over)
		q.dropped += over
	}
	q.events = append(q.events, e)
}

func (q *queue) snapshot() []*event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*event.Event, len(q.events))
	for i, e := range q.events {
		out[i] = e.Clone()
	}
	return out
}

func (q *queue) drain() []*event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

func (q *queue) droppedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
