package events

import (
	"context"
	"sync"
	"time"

	"github.com/inquira/inquira/engine/core"
	"github.com/inquira/inquira/pkg/logger"
)

// Event is one progress update emitted by the job orchestrator.
type Event struct {
	JobID    core.ID
	Status   string
	Progress int
	Message  string
	Time     time.Time
}

const defaultBuffer = 16

// Bus fans job progress events out to any number of subscribers. Publish
// never blocks: a subscriber that falls behind its buffer loses events
// rather than stalling the pipeline.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	closed      bool
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a buffered channel and returns it with a cancel
// function. Cancel is idempotent and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if current, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(current)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with buffer room.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			logger.FromContext(ctx).Debug(
				"Dropping progress event for slow subscriber",
				"job_id", event.JobID,
				"status", event.Status,
			)
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
