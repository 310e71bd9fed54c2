package interfaces

import (
	"context"

	"github.com/ternarybob/trawler/internal/models"
)

// Delivery is one received queue message. Ack removes it; Nak makes it
// immediately visible for redelivery.
type Delivery struct {
	Message *models.QueueMessage
	Ack     func() error
	Nak     func() error
}

// JobQueue is a durable, at-least-once message stream with explicit acks.
type JobQueue interface {
	// Publish enqueues a message; returns false when the message was not
	// durably accepted.
	Publish(ctx context.Context, msg models.QueueMessage) bool
	// Receive blocks up to the configured wait window for the next message.
	// Returns ErrNoMessage when the queue is empty.
	Receive(ctx context.Context) (*Delivery, error)
	Close() error
}
