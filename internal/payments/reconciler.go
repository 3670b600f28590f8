package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/appointments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/events"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/observability/metrics"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

var paymentsTracer = otel.Tracer("spa.internal.payments")

// provider is the dedupe namespace in processed_callbacks.
const provider = "gateway"

// Ack codes returned to the gateway on its async notification channel.
const (
	AckOK             = "00"
	AckOrderNotFound  = "01"
	AckAlreadyDone    = "02"
	AckAmountMismatch = "04"
	AckBadSignature   = "97"
	AckInternalError  = "99"
)

// Callback entry points, used for metrics labels.
const (
	EntryReturn = "return"
	EntryIPN    = "ipn"
)

// Outcome is the result of running a callback through the reconciler. The
// IPN handler turns Ack into the provider acknowledgment; the return
// handler turns Success into what the browser sees.
type Outcome struct {
	Ack     string
	Message string
	Success bool
	Payment *Payment
}

type verifier interface {
	VerifyCallback(values url.Values) (CallbackData, error)
}

type appointmentApplier interface {
	ApplyPaymentOutcomeTx(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID, groupID *uuid.UUID, status *appointments.Status, pay appointments.PayState) (int64, error)
}

type dedupeGuard interface {
	MarkProcessedTx(ctx context.Context, tx pgx.Tx, provider, eventID string) (bool, error)
}

type outboxWriter interface {
	InsertTx(ctx context.Context, tx pgx.Tx, aggregate, eventType string, payload any) (uuid.UUID, error)
}

// Reconciler is the single pipeline both gateway callback entry points run
// through. The synchronous browser return and the async notification carry
// the same signed payload; reconciling them identically means their order
// of arrival never matters.
type Reconciler struct {
	db      beginner
	repo    *Repository
	gateway verifier
	appts   appointmentApplier
	dedupe  dedupeGuard
	outbox  outboxWriter
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewReconciler constructs the callback reconciler.
func NewReconciler(db beginner, repo *Repository, gateway verifier, appts appointmentApplier, dedupe dedupeGuard, outbox outboxWriter, m *metrics.BookingMetrics, logger *logging.Logger) *Reconciler {
	if repo == nil {
		panic("payments: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		db:      db,
		repo:    repo,
		gateway: gateway,
		appts:   appts,
		dedupe:  dedupe,
		outbox:  outbox,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Reconcile verifies and applies one gateway callback. It always returns an
// Outcome suitable for acknowledging the provider; the error return is for
// internal failures only (the caller acks 99 and the provider retries).
func (r *Reconciler) Reconcile(ctx context.Context, entry string, values url.Values) (*Outcome, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("spa.callback_entry", entry))
	started := r.now()

	out, err := r.reconcile(ctx, values)
	if err != nil {
		r.metrics.ObserveCallback(entry, "error")
		return nil, err
	}

	r.metrics.ObserveCallback(entry, out.Ack)
	r.metrics.ObserveCallbackLatency(entry, r.now().Sub(started).Seconds())
	return out, nil
}

func (r *Reconciler) reconcile(ctx context.Context, values url.Values) (*Outcome, error) {
	data, err := r.gateway.VerifyCallback(values)
	if err != nil {
		if apperr.IsKind(err, apperr.KindExternalAuth) {
			r.handleUnsigned(ctx, values.Get("orderId"))
			return &Outcome{Ack: AckBadSignature, Message: "invalid signature"}, nil
		}
		return &Outcome{Ack: AckBadSignature, Message: "malformed callback"}, nil
	}

	var out *Outcome
	txErr := r.inTx(ctx, func(tx pgx.Tx) error {
		p, err := r.repo.GetByOrderRefForUpdateTx(ctx, tx, data.OrderRef)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				out = &Outcome{Ack: AckOrderNotFound, Message: "order not found"}
				return errAbortNoWrites
			}
			return err
		}

		if p.Status == StatusCompleted {
			out = &Outcome{Ack: AckAlreadyDone, Message: "order already confirmed", Success: true, Payment: p}
			return errAbortNoWrites
		}

		fresh, err := r.dedupe.MarkProcessedTx(ctx, tx, provider, eventID(data))
		if err != nil {
			return err
		}
		if !fresh {
			out = &Outcome{Ack: AckAlreadyDone, Message: "callback already processed", Payment: p}
			return errAbortNoWrites
		}

		if data.AmountCents != p.AmountCents {
			r.logger.Warn("callback amount mismatch", "order_ref", p.OrderRef, "expected", p.AmountCents, "got", data.AmountCents)
			out = &Outcome{Ack: AckAmountMismatch, Message: "invalid amount"}
			return errAbortNoWrites
		}

		if data.Success() {
			if err := r.applySuccessTx(ctx, tx, p, data); err != nil {
				return err
			}
			out = &Outcome{Ack: AckOK, Message: "confirmed", Success: true, Payment: p}
			return nil
		}

		if err := r.applyFailureTx(ctx, tx, p, data); err != nil {
			return err
		}
		out = &Outcome{Ack: AckOK, Message: "recorded", Payment: p}
		return nil
	})
	if txErr != nil && !errors.Is(txErr, errAbortNoWrites) {
		return nil, txErr
	}
	return out, nil
}

// errAbortNoWrites rolls the transaction back on paths that must leave no
// trace: duplicate deliveries, unknown orders, amount mismatches.
var errAbortNoWrites = errors.New("payments: abort without writes")

func (r *Reconciler) applySuccessTx(ctx context.Context, tx pgx.Tx, p *Payment, data CallbackData) error {
	paidAt := r.now().UTC()
	if err := r.repo.ApplyOutcomeTx(ctx, tx, p.ID, StatusCompleted, data.TxnRef, data.ResponseCode, &paidAt); err != nil {
		return err
	}
	p.Status = StatusCompleted
	p.GatewayTxnRef = data.TxnRef
	p.ResponseCode = data.ResponseCode
	p.PaidAt = &paidAt

	pending := appointments.StatusPending
	n, err := r.appts.ApplyPaymentOutcomeTx(ctx, tx, p.AppointmentID, p.BookingGroupID, &pending, appointments.PayPaid)
	if err != nil {
		return err
	}

	if r.outbox != nil {
		payload := map[string]any{
			"payment_id":   p.ID,
			"order_ref":    p.OrderRef,
			"client_id":    p.ClientID,
			"amount_cents": p.AmountCents,
			"appointments": n,
		}
		if _, err := r.outbox.InsertTx(ctx, tx, "payment", events.TypePaymentCompleted, payload); err != nil {
			return err
		}
	}
	r.logger.Info("payment completed", "order_ref", p.OrderRef, "txn_ref", data.TxnRef, "appointments", n)
	return nil
}

func (r *Reconciler) applyFailureTx(ctx context.Context, tx pgx.Tx, p *Payment, data CallbackData) error {
	if err := r.repo.ApplyOutcomeTx(ctx, tx, p.ID, StatusFailed, data.TxnRef, data.ResponseCode, nil); err != nil {
		return err
	}
	p.Status = StatusFailed
	p.GatewayTxnRef = data.TxnRef
	p.ResponseCode = data.ResponseCode

	cancelled := appointments.StatusCancelled
	n, err := r.appts.ApplyPaymentOutcomeTx(ctx, tx, p.AppointmentID, p.BookingGroupID, &cancelled, appointments.PayUnpaid)
	if err != nil {
		return err
	}

	if r.outbox != nil {
		payload := map[string]any{
			"payment_id":    p.ID,
			"order_ref":     p.OrderRef,
			"client_id":     p.ClientID,
			"response_code": data.ResponseCode,
			"appointments":  n,
		}
		if _, err := r.outbox.InsertTx(ctx, tx, "payment", events.TypePaymentFailed, payload); err != nil {
			return err
		}
	}
	r.logger.Info("payment failed", "order_ref", p.OrderRef, "response_code", data.ResponseCode, "appointments", n)
	return nil
}

// handleUnsigned marks the payment failed when a bad-signature callback
// still carries a resolvable order ref. Appointments are left alone; an
// unverified payload is not grounds for cancelling bookings.
func (r *Reconciler) handleUnsigned(ctx context.Context, orderRef string) {
	if orderRef == "" {
		return
	}
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		p, err := r.repo.GetByOrderRefForUpdateTx(ctx, tx, orderRef)
		if err != nil {
			return err
		}
		if p.Status != StatusPending {
			return errAbortNoWrites
		}
		return r.repo.ApplyOutcomeTx(ctx, tx, p.ID, StatusFailed, "", "", nil)
	})
	if err != nil && !errors.Is(err, errAbortNoWrites) && !errors.Is(err, ErrPaymentNotFound) {
		r.logger.Warn("failed to mark payment failed after bad signature", "order_ref", orderRef, "error", err)
	}
}

func eventID(data CallbackData) string {
	return fmt.Sprintf("%s:%s:%s", data.OrderRef, data.TxnRef, data.ResponseCode)
}

func (r *Reconciler) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
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
