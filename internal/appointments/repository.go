package appointments

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
	// ErrAppointmentNotFound indicates the referenced appointment does not exist.
	ErrAppointmentNotFound = errors.New("appointments: appointment not found")
	// ErrSlotTaken is returned when an insert loses the staff/slot uniqueness
	// race. The caller falls back to an unassigned appointment.
	ErrSlotTaken = errors.New("appointments: staff slot already taken")
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists appointments and answers the scheduler's booking
// questions.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithDB(db querier) *Repository {
	return &Repository{db: db}
}

const appointmentColumns = `id, client_id, service_id, staff_id, booking_group_id,
	program_id, session_id, date, start_time, status, payment_state,
	service_name, staff_name, client_name, notes, completed_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var staffID, groupID, programID, sessionID pgtype.UUID
	var date pgtype.Date
	var completedAt pgtype.Timestamptz
	var status, payState string

	if err := row.Scan(
		&a.ID, &a.ClientID, &a.ServiceID, &staffID, &groupID,
		&programID, &sessionID, &date, &a.StartTime, &status, &payState,
		&a.ServiceName, &a.StaffName, &a.ClientName, &a.Notes, &completedAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("appointments: scan: %w", err)
	}

	a.StaffID = fromPGUUID(staffID)
	a.BookingGroupID = fromPGUUID(groupID)
	a.ProgramID = fromPGUUID(programID)
	a.SessionID = fromPGUUID(sessionID)
	a.Date = date.Time
	a.Status = Status(status)
	a.PayState = PayState(payState)
	a.CompletedAt = fromPGTime(completedAt)
	return &a, nil
}

// Get fetches an appointment by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	return scanAppointment(r.db.QueryRow(ctx, query, id))
}

// GetForUpdateTx fetches an appointment with a row lock inside the caller's
// transaction.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 FOR UPDATE`
	return scanAppointment(tx.QueryRow(ctx, query, id))
}

// InsertTx inserts an appointment inside the caller's transaction. Losing
// the staff/slot uniqueness race maps to ErrSlotTaken.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, a *Appointment) error {
	query := `
		INSERT INTO appointments (
			id, client_id, service_id, staff_id, booking_group_id,
			program_id, session_id, date, start_time, status, payment_state,
			service_name, staff_name, client_name, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`
	if err := tx.QueryRow(ctx, query,
		a.ID, a.ClientID, a.ServiceID, toPGUUID(a.StaffID), toPGUUID(a.BookingGroupID),
		toPGUUID(a.ProgramID), toPGUUID(a.SessionID), pgtype.Date{Time: a.Date, Valid: true}, a.StartTime,
		string(a.Status), string(a.PayState),
		a.ServiceName, a.StaffName, a.ClientName, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_appointments_staff_slot" {
			return ErrSlotTaken
		}
		return fmt.Errorf("appointments: insert: %w", err)
	}
	return nil
}

// ApplyStatusTx writes a status change, stamping completed_at when provided.
func (r *Repository) ApplyStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status Status, completedAt *time.Time) error {
	query := `
		UPDATE appointments
		SET status = $2, completed_at = COALESCE($3, completed_at), updated_at = now()
		WHERE id = $1
	`
	ct, err := tx.Exec(ctx, query, id, string(status), toPGTime(completedAt))
	if err != nil {
		return fmt.Errorf("appointments: apply status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// UpdateFieldsTx writes the mutable fields of a generic update.
func (r *Repository) UpdateFieldsTx(ctx context.Context, tx pgx.Tx, a *Appointment) error {
	query := `
		UPDATE appointments
		SET staff_id = $2, staff_name = $3, date = $4, start_time = $5,
		    status = $6, payment_state = $7, notes = $8,
		    completed_at = $9, updated_at = now()
		WHERE id = $1
	`
	ct, err := tx.Exec(ctx, query,
		a.ID, toPGUUID(a.StaffID), a.StaffName, pgtype.Date{Time: a.Date, Valid: true}, a.StartTime,
		string(a.Status), string(a.PayState), a.Notes, toPGTime(a.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("appointments: update fields: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// ApplyPaymentOutcomeTx sets payment state, and optionally status, on the
// funded appointment and, when a booking group is present, on every
// appointment in that group, as one statement so the group can never end up
// split. A nil status leaves each appointment where its lifecycle already is.
func (r *Repository) ApplyPaymentOutcomeTx(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID, groupID *uuid.UUID, status *Status, pay PayState) (int64, error) {
	var statusArg pgtype.Text
	if status != nil {
		statusArg = pgtype.Text{String: string(*status), Valid: true}
	}
	query := `
		UPDATE appointments
		SET status = COALESCE($3, status), payment_state = $4, updated_at = now()
		WHERE id = $1 OR ($2::uuid IS NOT NULL AND booking_group_id = $2)
	`
	ct, err := tx.Exec(ctx, query, appointmentID, toPGUUID(groupID), statusArg, string(pay))
	if err != nil {
		return 0, fmt.Errorf("appointments: apply payment outcome: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return 0, ErrAppointmentNotFound
	}
	return ct.RowsAffected(), nil
}

// Delete removes an appointment permanently. Administrative use only.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("appointments: delete: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// StaffBookedAt returns the staff holding an active appointment at the
// exact date and time.
func (r *Repository) StaffBookedAt(ctx context.Context, day time.Time, t string) (map[uuid.UUID]bool, error) {
	query := `
		SELECT staff_id FROM appointments
		WHERE date = $1 AND start_time = $2 AND staff_id IS NOT NULL
		  AND status NOT IN ('cancelled', 'completed')
	`
	rows, err := r.db.Query(ctx, query, pgtype.Date{Time: day, Valid: true}, t)
	if err != nil {
		return nil, fmt.Errorf("appointments: staff booked at: %w", err)
	}
	defer rows.Close()

	booked := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("appointments: scan staff id: %w", err)
		}
		booked[id] = true
	}
	return booked, rows.Err()
}

// CompletedTogether counts completed past appointments between a client and
// a staff member.
func (r *Repository) CompletedTogether(ctx context.Context, clientID, staffID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM appointments
		WHERE client_id = $1 AND staff_id = $2 AND status = 'completed'
	`
	var n int
	if err := r.db.QueryRow(ctx, query, clientID, staffID).Scan(&n); err != nil {
		return 0, fmt.Errorf("appointments: completed together: %w", err)
	}
	return n, nil
}

// ActiveCountOn counts a staff member's non-cancelled appointments on a date.
func (r *Repository) ActiveCountOn(ctx context.Context, staffID uuid.UUID, day time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM appointments
		WHERE staff_id = $1 AND date = $2 AND status <> 'cancelled'
	`
	var n int
	if err := r.db.QueryRow(ctx, query, staffID, pgtype.Date{Time: day, Valid: true}).Scan(&n); err != nil {
		return 0, fmt.Errorf("appointments: active count: %w", err)
	}
	return n, nil
}

func toPGUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil || *id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: [16]byte(*id), Valid: true}
}

func fromPGUUID(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

func toPGTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func fromPGTime(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
