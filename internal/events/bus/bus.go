// Package bus carries broker events between components. Publishers
// (session lifecycle, the transport link, the command mirror) fire and
// forget; the notification manager is the main subscriber. The memory
// implementation is the default, NATS is opt-in for external
// observers.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one bus message. Data is loosely typed because subjects
// carry different payloads and subscribers pick out what they need.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps a fresh event with an ID and UTC timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one event. Returning an error is logged by the
// bus, never propagated to the publisher.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is a live handler registration.
type Subscription interface {
	// Unsubscribe detaches the handler. Safe to call twice.
	Unsubscribe() error
	// Active reports whether the handler still receives events.
	Active() bool
}

// EventBus is the publish side plus subscription management. Subjects
// are dot-separated; subscribe patterns may use NATS wildcards
// (`*` one token, `>` the rest).
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close() error
}
