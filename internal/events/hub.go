// Package events fans host-facing notifications out to subscribers such
// as SSE streams.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassista/go_leaf/internal/logger"
)

// Event names.
const (
	BackgroundReady  = "background:ready"
	DocumentReloaded = "document:reloaded"
	ExportFinished   = "export:finished"
)

// Emitter publishes an event. Hub implements it; components receive the
// interface so tests can record emissions.
type Emitter interface {
	Emit(ctx context.Context, event string, data any)
}

// Event is one emission.
type Event struct {
	Name string    `json:"name"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// Hub delivers every event to every subscriber. A subscriber whose buffer
// is full misses the event; emitters never block.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: map[int]chan Event{}}
}

// Emit delivers an event to the current subscribers.
func (h *Hub) Emit(_ context.Context, event string, data any) {
	ev := Event{Name: event, Data: data, At: time.Now()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
			logger.WithComponent("events").Debugf("subscriber %d is behind, dropped %s", id, event)
		}
	}
}

// Subscribe registers a subscriber with room for buffer pending events.
// The returned function unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers counts live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Recorder is an Emitter that keeps every event, for tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Emit(_ context.Context, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Name: event, Data: data, At: time.Now()})
}

// Names lists the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, ev := range r.Events {
		out[i] = ev.Name
	}
	return out
}
