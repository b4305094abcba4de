// Package events provides a structured event log for the service registry.
// Every state-changing registry operation records an event here, mirroring
// the transaction log the registry's operators rely on for audit.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuidalink/service-registry/internal/app/domain/token"
)

// Type classifies a registry event.
type Type string

const (
	TypeServiceCreated     Type = "service.created"
	TypeCompanionAssigned  Type = "service.companion_assigned"
	TypeStateChanged       Type = "service.state_changed"
	TypeEvidenceMinted     Type = "service.evidence_minted"
	TypeStateURIConfigured Type = "registry.state_uri_configured"
)

// Event is one structured registry event.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	TokenID       uint64      `json:"token_id,omitempty"`
	Owner         string      `json:"owner,omitempty"`
	Companion     string      `json:"companion,omitempty"`
	PreviousState token.State `json:"previous_state,omitempty"`
	NewState      token.State `json:"new_state,omitempty"`
	Rating        int         `json:"rating,omitempty"`
	EvidenceID    uint64      `json:"evidence_id,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// relatesTo reports whether the event concerns the given token id. Token
// ids start at zero, so a zero TokenID/EvidenceID is not an absence marker;
// the event type decides which id fields are meaningful.
func (e Event) relatesTo(id uint64) bool {
	switch e.Type {
	case TypeServiceCreated, TypeCompanionAssigned, TypeStateChanged:
		return e.TokenID == id
	case TypeEvidenceMinted:
		return e.TokenID == id || e.EvidenceID == id
	default:
		return false
	}
}

// Handler processes events as they occur.
type Handler func(Event)

// Filter decides whether an event should be delivered to a handler.
type Filter func(Event) bool

// Log is the interface the registry emits through.
type Log interface {
	// Record stores an event and notifies subscribers.
	Record(event Event)
	// Subscribe registers a handler for all events; the returned function
	// unsubscribes it.
	Subscribe(handler Handler) func()
	// Recent returns the most recent n events, newest first.
	Recent(n int) []Event
	// RecentByToken returns recent events for one token id.
	RecentByToken(id uint64, n int) []Event
}

// RingBuffer is a thread-safe circular buffer implementing Log.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

var _ Log = (*RingBuffer)(nil)

// NewRingBuffer creates an event buffer holding up to size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Record adds an event to the buffer and notifies handlers.
func (rb *RingBuffer) Record(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify handlers outside the lock.
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		result[i] = rb.events[idx]
	}
	return result
}

// RecentByToken returns recent events for a specific token id.
func (rb *RingBuffer) RecentByToken(id uint64, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if rb.events[idx].relatesTo(id) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}
