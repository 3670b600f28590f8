package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/events"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/identity"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

type userReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// EmailDeliveryHandler consumes outbox entries and turns them into emails:
// notification requests go to the user they name, payment events go to the
// spa's alert address. Event types it does not recognize are acknowledged
// without action so unrelated outbox traffic drains normally.
type EmailDeliveryHandler struct {
	sender     EmailSender
	users      userReader
	adminEmail string
	logger     *logging.Logger
}

// NewEmailDeliveryHandler creates the delivery handler. A nil sender
// disables email; entries are then logged and acknowledged.
func NewEmailDeliveryHandler(sender EmailSender, users userReader, adminEmail string, logger *logging.Logger) *EmailDeliveryHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &EmailDeliveryHandler{
		sender:     sender,
		users:      users,
		adminEmail: adminEmail,
		logger:     logger,
	}
}

// Handle implements events.DeliveryHandler.
func (h *EmailDeliveryHandler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	switch entry.Type {
	case events.TypeNotificationRequested:
		return h.deliverToUser(ctx, entry)
	case events.TypeAppointmentStatusChanged:
		return h.deliverStatusChange(ctx, entry)
	case events.TypePaymentCompleted, events.TypePaymentFailed:
		return h.deliverToAdmin(ctx, entry)
	default:
		return nil
	}
}

func (h *EmailDeliveryHandler) deliverStatusChange(ctx context.Context, entry events.OutboxEntry) error {
	var p struct {
		ClientID    uuid.UUID `json:"client_id"`
		NewStatus   string    `json:"to"`
		ServiceName string    `json:"service_name"`
		Date        string    `json:"date"`
		Time        string    `json:"time"`
	}
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		h.logger.Error("dropping malformed status change payload", "entry_id", entry.ID, "error", err)
		return nil
	}

	u, err := h.users.GetByID(ctx, p.ClientID)
	if err != nil || u.Email == "" || h.sender == nil {
		return nil
	}
	return h.sender.Send(ctx, EmailMessage{
		To:      u.Email,
		ToName:  u.Name,
		Subject: fmt.Sprintf("Appointment %s", p.NewStatus),
		Body:    fmt.Sprintf("Your %s on %s at %s is now %s.", p.ServiceName, p.Date, p.Time, p.NewStatus),
	})
}

func (h *EmailDeliveryHandler) deliverToUser(ctx context.Context, entry events.OutboxEntry) error {
	var p notificationPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		// Malformed payloads would retry forever; drop them.
		h.logger.Error("dropping malformed notification payload", "entry_id", entry.ID, "error", err)
		return nil
	}

	u, err := h.users.GetByID(ctx, p.UserID)
	if err != nil {
		h.logger.Warn("notification recipient not found, dropping", "user_id", p.UserID)
		return nil
	}
	if u.Email == "" {
		h.logger.Debug("recipient has no email, dropping notification", "user_id", p.UserID)
		return nil
	}

	if h.sender == nil {
		h.logger.Info("email disabled, notification dropped", "user_id", p.UserID, "kind", p.Kind)
		return nil
	}
	return h.sender.Send(ctx, EmailMessage{
		To:      u.Email,
		ToName:  u.Name,
		Subject: p.Title,
		Body:    p.Message,
	})
}

func (h *EmailDeliveryHandler) deliverToAdmin(ctx context.Context, entry events.OutboxEntry) error {
	if h.sender == nil || h.adminEmail == "" {
		return nil
	}

	subject := "Payment completed"
	if entry.Type == events.TypePaymentFailed {
		subject = "Payment failed"
	}
	return h.sender.Send(ctx, EmailMessage{
		To:      h.adminEmail,
		Subject: subject,
		Body:    fmt.Sprintf("Gateway event %s for aggregate %s:\n%s", entry.Type, entry.Aggregate, entry.Payload),
	})
}
