package orchestrator

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// EventEmitter delivers events to one live subscriber.
// If the subscriber stops draining, events are dropped after a short wait
// rather than stalling the turn.
type EventEmitter struct {
	events       chan models.GraphEvent
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan models.GraphEvent, bufferSize),
	}
}

// Emit sends an event to the events channel, reporting whether it was
// delivered.
func (e *EventEmitter) Emit(event models.GraphEvent) bool {
	select {
	case e.events <- event:
		return true
	default:
	}

	// Give the receiver a chance to drain.
	select {
	case e.events <- event:
		return true
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[orchestrator] WARNING: subscriber channel full, dropped event (total dropped: %d): type=%s seq=%d", count, event.Type, event.Seq)
		}
		return false
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan models.GraphEvent {
	return e.events
}

// Close closes the events channel.
func (e *EventEmitter) Close() {
	close(e.events)
}

// subscriberHub fans session events out to live subscribers.
type subscriberHub struct {
	mu     sync.RWMutex
	subs   map[string]map[*EventEmitter]struct{}
	onDrop func()
}

func newSubscriberHub(onDrop func()) *subscriberHub {
	return &subscriberHub{
		subs:   make(map[string]map[*EventEmitter]struct{}),
		onDrop: onDrop,
	}
}

func (h *subscriberHub) subscribe(sessionID string, buffer int) (*EventEmitter, func()) {
	em := NewEventEmitter(buffer)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*EventEmitter]struct{})
	}
	h.subs[sessionID][em] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return em, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], em)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			em.Close()
		})
	}
}

// publish holds the read lock while sending so an unsubscribe cannot close
// a channel mid-send.
func (h *subscriberHub) publish(sessionID string, e models.GraphEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for em := range h.subs[sessionID] {
		if !em.Emit(e) && h.onDrop != nil {
			h.onDrop()
		}
	}
}

func (h *subscriberHub) count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
