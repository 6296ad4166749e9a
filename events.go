package bulletin

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for bulletin events.
const (
	EventNameMessageCreated  = "bulletin.message.created"
	EventNameMessagesCleared = "bulletin.messages.cleared"
)

// MessageCreatedEvent is published after a message is persisted.
type MessageCreatedEvent struct {
	MessageID            string    `json:"message_id"`
	Target               string    `json:"target"`
	Sender               string    `json:"sender"`
	Title                string    `json:"title"`
	Urgent               bool      `json:"urgent"`
	PublicationTimestamp time.Time `json:"publication_timestamp"`
}

// MessagesClearedEvent is published after every message was deleted.
type MessagesClearedEvent struct {
	Deleted   int64     `json:"deleted"`
	ClearedAt time.Time `json:"cleared_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus.
//
//	svc.Events().MessageCreated.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MessageCreated is published when a message is created.
	MessageCreated event.Event[MessageCreatedEvent]

	// MessagesCleared is published when all messages are deleted.
	MessagesCleared event.Event[MessagesClearedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageCreated:  event.New[MessageCreatedEvent](namePrefix + "." + EventNameMessageCreated),
		MessagesCleared: event.New[MessagesClearedEvent](namePrefix + "." + EventNameMessagesCleared),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageCreated); err != nil {
		return fmt.Errorf("register MessageCreated: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessagesCleared); err != nil {
		return fmt.Errorf("register MessagesCleared: %w", err)
	}
	return nil
}
