package server

import (
	"context"
	"sync"
	"time"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/ledger"
)

const (
	// EventRecordCreated announces a new entry.
	EventRecordCreated = "record-created"
	// EventRecordExited announces a processed exit.
	EventRecordExited = "record-exited"
	// EventRecordDeleted announces a removed record.
	EventRecordDeleted = "record-deleted"
	// EventCollectionCleared announces a bulk delete.
	EventCollectionCleared = "collection-cleared"
)

// Event is a single ledger change broadcast to dashboard listeners.
type Event struct {
	Type      string        `json:"type"`
	Record    ledger.Record `json:"record"`
	Timestamp time.Time     `json:"timestamp"`
}

// Dispatcher fans ledger change events out to live dashboard streams. A
// slow subscriber drops events rather than blocking the mutation path.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      int64
	bufferSize  int
}

// NewDispatcher constructs an event dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]chan Event),
		bufferSize:  16,
	}
}

// Subscribe registers a listener until ctx is done. The returned cleanup
// is idempotent and safe to call alongside context cancellation.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Event, func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	stream := make(chan Event, d.bufferSize)
	d.subscribers[id] = stream
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		delete(d.subscribers, id)
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish delivers an event to every current subscriber without blocking.
func (d *Dispatcher) Publish(event Event) {
	if event.Type == "" {
		return
	}
	d.mu.RLock()
	streams := make([]chan Event, 0, len(d.subscribers))
	for _, stream := range d.subscribers {
		streams = append(streams, stream)
	}
	d.mu.RUnlock()

	for _, stream := range streams {
		select {
		case stream <- event:
		default:
		}
	}
}
