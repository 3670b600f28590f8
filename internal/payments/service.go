package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/appointments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/events"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type urlCreator interface {
	CreatePaymentURL(ctx context.Context, order CreateOrder) (string, error)
}

type appointmentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
}

// Service creates funding attempts: gateway checkouts and cash records.
type Service struct {
	db      beginner
	repo    *Repository
	gateway urlCreator
	appts   appointmentReader
	applier appointmentApplier
	outbox  outboxWriter
	logger  *logging.Logger
	now     func() time.Time
}

// NewService constructs the payment service.
func NewService(db beginner, repo *Repository, gateway urlCreator, appts appointmentReader, applier appointmentApplier, outbox outboxWriter, logger *logging.Logger) *Service {
	if repo == nil {
		panic("payments: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		db:      db,
		repo:    repo,
		gateway: gateway,
		appts:   appts,
		applier: applier,
		outbox:  outbox,
		logger:  logger,
		now:     time.Now,
	}
}

// CheckoutInput starts a funding attempt for an appointment. The amount
// covers the whole booking group when the appointment belongs to one.
type CheckoutInput struct {
	AppointmentID uuid.UUID
	AmountCents   int64
	Method        Method
	Description   string
	ClientIP      string
}

// Checkout is the result handed back to the client: for gateway payments
// the browser follows PayURL; for cash there is nothing to follow.
type Checkout struct {
	Payment *Payment
	PayURL  string
}

// CreateCheckout records a pending payment and, for the gateway method,
// registers the order and returns the hosted-checkout URL. A gateway
// timeout leaves the pending payment in place for the async notification
// to reconcile.
func (s *Service) CreateCheckout(ctx context.Context, in CheckoutInput) (*Checkout, error) {
	if in.AmountCents <= 0 {
		return nil, apperr.New(apperr.KindValidation, "amount must be positive")
	}
	if in.Method != MethodCash && in.Method != MethodGateway {
		return nil, apperr.Newf(apperr.KindValidation, "unknown payment method %q", in.Method)
	}

	a, err := s.appts.Get(ctx, in.AppointmentID)
	if err != nil {
		if errors.Is(err, appointments.ErrAppointmentNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "appointment not found")
		}
		return nil, err
	}
	if a.PayState == appointments.PayPaid {
		return nil, apperr.New(apperr.KindConflict, "appointment is already paid")
	}

	active, err := s.repo.HasActivePayment(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, apperr.New(apperr.KindConflict, "a payment for this appointment is already in flight")
	}

	p := &Payment{
		ID:             uuid.New(),
		OrderRef:       newOrderRef(),
		AppointmentID:  a.ID,
		BookingGroupID: a.BookingGroupID,
		ClientID:       a.ClientID,
		AmountCents:    in.AmountCents,
		Method:         in.Method,
		Status:         StatusPending,
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		return nil, err
	}

	if in.Method == MethodCash {
		s.logger.Info("cash payment recorded", "order_ref", p.OrderRef, "appointment_id", a.ID)
		return &Checkout{Payment: p}, nil
	}

	payURL, err := s.gateway.CreatePaymentURL(ctx, CreateOrder{
		OrderID:     p.OrderRef,
		AmountCents: p.AmountCents,
		Description: in.Description,
		ProductCode: "spa_booking",
		ClientIP:    in.ClientIP,
	})
	if err != nil {
		// The order may still exist on the gateway side; the payment stays
		// pending and the async notification settles it either way.
		s.logger.Warn("gateway checkout call failed, payment left pending", "order_ref", p.OrderRef, "error", err)
		return nil, fmt.Errorf("payments: create checkout: %w", err)
	}

	s.logger.Info("gateway checkout created", "order_ref", p.OrderRef, "appointment_id", a.ID)
	return &Checkout{Payment: p, PayURL: payURL}, nil
}

// MarkCashCollected is the explicit admin action completing a cash payment.
// It fans the paid state out to the booking group like a gateway success,
// but never touches appointment lifecycle status.
func (s *Service) MarkCashCollected(ctx context.Context, paymentID uuid.UUID) (*Payment, error) {
	var out *Payment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := s.repo.GetForUpdateTx(ctx, tx, paymentID)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				return apperr.New(apperr.KindNotFound, "payment not found")
			}
			return err
		}
		if p.Method != MethodCash {
			return apperr.New(apperr.KindValidation, "only cash payments are collected by hand")
		}
		if p.Status != StatusPending {
			return apperr.Newf(apperr.KindConflict, "payment is %s, only pending cash can be collected", p.Status)
		}

		paidAt := s.now().UTC()
		if err := s.repo.ApplyOutcomeTx(ctx, tx, p.ID, StatusCompleted, "", "", &paidAt); err != nil {
			return err
		}
		p.Status = StatusCompleted
		p.PaidAt = &paidAt

		if _, err := s.applier.ApplyPaymentOutcomeTx(ctx, tx, p.AppointmentID, p.BookingGroupID, nil, appointments.PayPaid); err != nil {
			return err
		}

		if s.outbox != nil {
			payload := map[string]any{
				"payment_id":   p.ID,
				"order_ref":    p.OrderRef,
				"client_id":    p.ClientID,
				"amount_cents": p.AmountCents,
				"method":       MethodCash,
			}
			if _, err := s.outbox.InsertTx(ctx, tx, "payment", events.TypePaymentCompleted, payload); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("cash payment collected", "payment_id", paymentID)
	return out, nil
}

// ListForAppointment returns the funding history of an appointment.
func (s *Service) ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Payment, error) {
	return s.repo.ListForAppointment(ctx, appointmentID)
}

func (s *Service) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payments: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payments: commit tx: %w", err)
	}
	return nil
}

// newOrderRef mints the gateway correlation id. Hex keeps it safe in query
// strings without escaping.
func newOrderRef() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return "spa" + hex.EncodeToString(b[:])
}
