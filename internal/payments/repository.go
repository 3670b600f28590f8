package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrPaymentNotFound indicates no payment matches the reference.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrDuplicateOrderRef indicates the order reference is already in use.
	ErrDuplicateOrderRef = errors.New("payments: duplicate order reference")
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists payment records.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithDB(db querier) *Repository {
	return &Repository{db: db}
}

const paymentColumns = `id, order_ref, appointment_id, booking_group_id, client_id,
	amount_cents, method, status, gateway_txn_id, response_code, paid_at,
	created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var groupID pgtype.UUID
	var paidAt pgtype.Timestamptz
	var method, status string

	if err := row.Scan(
		&p.ID, &p.OrderRef, &p.AppointmentID, &groupID, &p.ClientID,
		&p.AmountCents, &method, &status, &p.GatewayTxnRef, &p.ResponseCode, &paidAt,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payments: scan: %w", err)
	}

	p.Method = Method(method)
	p.Status = Status(status)
	if groupID.Valid {
		g := uuid.UUID(groupID.Bytes)
		p.BookingGroupID = &g
	}
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	return &p, nil
}

// Insert writes a new payment attempt.
func (r *Repository) Insert(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (
			id, order_ref, appointment_id, booking_group_id, client_id,
			amount_cents, method, status, gateway_txn_id, response_code
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	var groupID pgtype.UUID
	if p.BookingGroupID != nil {
		groupID = pgtype.UUID{Bytes: [16]byte(*p.BookingGroupID), Valid: true}
	}
	if err := r.db.QueryRow(ctx, query,
		p.ID, p.OrderRef, p.AppointmentID, groupID, p.ClientID,
		p.AmountCents, string(p.Method), string(p.Status), p.GatewayTxnRef, p.ResponseCode,
	).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateOrderRef
		}
		return fmt.Errorf("payments: insert: %w", err)
	}
	return nil
}

// Get fetches a payment by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, id))
}

// GetByOrderRefForUpdateTx fetches a payment by its gateway order reference
// with a row lock, serializing concurrent callback deliveries for the same
// order.
func (r *Repository) GetByOrderRefForUpdateTx(ctx context.Context, tx pgx.Tx, orderRef string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_ref = $1 FOR UPDATE`
	return scanPayment(tx.QueryRow(ctx, query, orderRef))
}

// GetForUpdateTx fetches a payment by id with a row lock.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return scanPayment(tx.QueryRow(ctx, query, id))
}

// ApplyOutcomeTx records the gateway verdict on the payment row.
func (r *Repository) ApplyOutcomeTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status Status, txnRef, responseCode string, paidAt *time.Time) error {
	query := `
		UPDATE payments
		SET status = $2, gateway_txn_id = $3, response_code = $4,
		    paid_at = COALESCE($5, paid_at), updated_at = now()
		WHERE id = $1
	`
	var paid pgtype.Timestamptz
	if paidAt != nil {
		paid = pgtype.Timestamptz{Time: *paidAt, Valid: true}
	}
	ct, err := tx.Exec(ctx, query, id, string(status), txnRef, responseCode, paid)
	if err != nil {
		return fmt.Errorf("payments: apply outcome: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// ListForAppointment returns every funding attempt for an appointment,
// newest first.
func (r *Repository) ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE appointment_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("payments: list for appointment: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasActivePayment reports whether a pending or completed payment already
// funds the appointment. At most one active attempt exists at a time.
func (r *Repository) HasActivePayment(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE appointment_id = $1 AND status IN ('pending', 'completed')
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, appointmentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("payments: active payment check: %w", err)
	}
	return exists, nil
}
