package events

import (
	"encoding/json"
	"sync"
	"time"

	"safeping/internal/models"
)

const (
	EventSubmissionQueued    = "submission_queued"
	EventSubmissionDelivered = "submission_delivered"
	EventSubmissionRetired   = "submission_retired"
	EventDrainCompleted      = "drain_completed"
	EventAlertShown          = "alert_shown"
	EventConnectivityChanged = "connectivity_changed"
)

// SubmissionEventPayload describes one queued item for event consumers.
type SubmissionEventPayload struct {
	ID         string            `json:"id"`
	Collection models.Collection `json:"collection"`
	Timestamp  int64             `json:"timestamp"`
	Attempts   int               `json:"attempts,omitempty"`
}

// DrainEventPayload carries a finished drain summary.
type DrainEventPayload struct {
	Summary models.DrainSummary `json:"summary"`
}

// ConnectivityEventPayload records an online/offline transition.
type ConnectivityEventPayload struct {
	Online bool `json:"online"`
}

// Event represents a lightweight agent event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
