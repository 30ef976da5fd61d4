// Package events is an in-memory pub/sub feed of routing decisions, consumed
// by the live SSE endpoint. Slow subscribers drop events rather than blocking
// the request path.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventRouteSuccess   EventType = "route_success"
	EventRouteError     EventType = "route_error"
	EventEscalation     EventType = "escalation"
	EventOverrideChange EventType = "override_change"
	EventStateChange    EventType = "state_change"
)

// Event is a single proxy event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Routing fields (populated for route events).
	OriginalModel string  `json:"original_model,omitempty"`
	RoutedModel   string  `json:"routed_model,omitempty"`
	ActualModel   string  `json:"actual_model,omitempty"`
	Tier          string  `json:"tier,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	LatencyMs     int64   `json:"latency_ms,omitempty"`
	SavingsUSD    float64 `json:"savings_usd,omitempty"`
	Escalated     bool    `json:"escalated,omitempty"`
	DryRun        bool    `json:"dry_run,omitempty"`
	Streamed      bool    `json:"streamed,omitempty"`
	StatusCode    int     `json:"status_code,omitempty"`

	// Override/state fields.
	Detail string `json:"detail,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus fans events out to all current subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers without blocking. A subscriber
// whose buffer is full misses the event.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
