package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/events"
)

// Notifier requests a notification for a user. Implementations must never
// block or fail the caller's business operation.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, message string, relatedID *uuid.UUID) error
}

type outboxInserter interface {
	Insert(ctx context.Context, aggregate, eventType string, payload any) (uuid.UUID, error)
}

// OutboxNotifier queues notification requests in the outbox for post-commit
// delivery.
type OutboxNotifier struct {
	outbox outboxInserter
}

// NewOutboxNotifier creates a notifier backed by the outbox store.
func NewOutboxNotifier(outbox outboxInserter) *OutboxNotifier {
	if outbox == nil {
		panic("notify: outbox store required")
	}
	return &OutboxNotifier{outbox: outbox}
}

// notificationPayload is the wire shape of a queued notification request.
type notificationPayload struct {
	UserID    uuid.UUID  `json:"user_id"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	RelatedID *uuid.UUID `json:"related_id,omitempty"`
}

// Notify writes the request to the outbox.
func (n *OutboxNotifier) Notify(ctx context.Context, userID uuid.UUID, kind, title, message string, relatedID *uuid.UUID) error {
	_, err := n.outbox.Insert(ctx, "notification", events.TypeNotificationRequested, notificationPayload{
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		RelatedID: relatedID,
	})
	return err
}
