package treatments

import (
	"context"
	"encoding/json"
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
	// ErrProgramNotFound indicates the referenced program does not exist.
	ErrProgramNotFound = errors.New("treatments: program not found")
	// ErrSessionNotFound indicates the referenced session does not exist.
	ErrSessionNotFound = errors.New("treatments: session not found")
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists programs and their session ledgers.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("treatments: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithDB(db querier) *Repository {
	return &Repository{db: db}
}

const programColumns = `id, client_id, template_id, name, service_ids, consultant_name,
	total_sessions, sessions_per_week, session_duration, start_date, expiry_date,
	completed_sessions, progress_percent, status, paused, pause_reason, paused_at,
	created_at, updated_at`

func scanProgram(row pgx.Row) (*Program, error) {
	var p Program
	var clientID, templateID pgtype.UUID
	var serviceIDs []byte
	var startDate, expiryDate pgtype.Date
	var pausedAt pgtype.Timestamptz
	var status string

	if err := row.Scan(
		&p.ID, &clientID, &templateID, &p.Name, &serviceIDs, &p.ConsultantName,
		&p.TotalSessions, &p.SessionsPerWeek, &p.SessionDurationMin, &startDate, &expiryDate,
		&p.CompletedSessions, &p.ProgressPercent, &status, &p.Paused, &p.PauseReason, &pausedAt,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProgramNotFound
		}
		return nil, fmt.Errorf("treatments: scan program: %w", err)
	}

	p.ClientID = fromPGUUID(clientID)
	p.TemplateID = fromPGUUID(templateID)
	p.Status = ProgramStatus(status)
	p.StartDate = fromPGDate(startDate)
	p.ExpiryDate = fromPGDate(expiryDate)
	p.PausedAt = fromPGTime(pausedAt)
	if len(serviceIDs) > 0 {
		if err := json.Unmarshal(serviceIDs, &p.ServiceIDs); err != nil {
			return nil, fmt.Errorf("treatments: decode service ids: %w", err)
		}
	}
	return &p, nil
}

// GetProgram fetches a program by id.
func (r *Repository) GetProgram(ctx context.Context, id uuid.UUID) (*Program, error) {
	query := `SELECT ` + programColumns + ` FROM treatment_programs WHERE id = $1`
	return scanProgram(r.db.QueryRow(ctx, query, id))
}

// GetProgramForUpdateTx fetches a program with a row lock inside the
// caller's transaction.
func (r *Repository) GetProgramForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Program, error) {
	query := `SELECT ` + programColumns + ` FROM treatment_programs WHERE id = $1 FOR UPDATE`
	return scanProgram(tx.QueryRow(ctx, query, id))
}

// InsertProgramTx inserts a program row inside the caller's transaction.
func (r *Repository) InsertProgramTx(ctx context.Context, tx pgx.Tx, p *Program) error {
	return insertProgram(ctx, tx, p)
}

// InsertProgram inserts a program row (template creation has no sibling
// writes, so no transaction is needed).
func (r *Repository) InsertProgram(ctx context.Context, p *Program) error {
	return insertProgram(ctx, r.db, p)
}

func insertProgram(ctx context.Context, db querier, p *Program) error {
	serviceIDs, err := json.Marshal(p.ServiceIDs)
	if err != nil {
		return fmt.Errorf("treatments: encode service ids: %w", err)
	}
	query := `
		INSERT INTO treatment_programs (
			id, client_id, template_id, name, service_ids, consultant_name,
			total_sessions, sessions_per_week, session_duration,
			start_date, expiry_date, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	if err := db.QueryRow(ctx, query,
		p.ID, toPGUUID(p.ClientID), toPGUUID(p.TemplateID), p.Name, serviceIDs, p.ConsultantName,
		p.TotalSessions, p.SessionsPerWeek, p.SessionDurationMin,
		toPGDate(p.StartDate), toPGDate(p.ExpiryDate), string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("treatments: insert program: %w", err)
	}
	return nil
}

// UpdateProgramStateTx writes the pause/expiry/status fields touched by
// pause and resume.
func (r *Repository) UpdateProgramStateTx(ctx context.Context, tx pgx.Tx, p *Program) error {
	query := `
		UPDATE treatment_programs
		SET status = $2, paused = $3, pause_reason = $4, paused_at = $5,
		    expiry_date = $6, updated_at = now()
		WHERE id = $1
	`
	ct, err := tx.Exec(ctx, query,
		p.ID, string(p.Status), p.Paused, p.PauseReason, toPGTime(p.PausedAt), toPGDate(p.ExpiryDate),
	)
	if err != nil {
		return fmt.Errorf("treatments: update program state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrProgramNotFound
	}
	return nil
}

// ApplyProgressTx writes the derived progress fields.
func (r *Repository) ApplyProgressTx(ctx context.Context, tx pgx.Tx, programID uuid.UUID, snap ProgressSnapshot) error {
	query := `
		UPDATE treatment_programs
		SET completed_sessions = $2, progress_percent = $3, status = $4, updated_at = now()
		WHERE id = $1
	`
	ct, err := tx.Exec(ctx, query, programID, snap.CompletedSessions, snap.ProgressPercent, string(snap.Status))
	if err != nil {
		return fmt.Errorf("treatments: apply progress: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrProgramNotFound
	}
	return nil
}

// InsertSessionsTx inserts a batch of ledger sessions inside the caller's
// transaction.
func (r *Repository) InsertSessionsTx(ctx context.Context, tx pgx.Tx, sessions []Session) error {
	query := `
		INSERT INTO treatment_sessions (id, program_id, seq, status, scheduled_date, scheduled_time)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i := range sessions {
		s := &sessions[i]
		if _, err := tx.Exec(ctx, query,
			s.ID, s.ProgramID, s.Seq, string(s.Status), toPGDate(s.ScheduledDate), s.ScheduledTime,
		); err != nil {
			return fmt.Errorf("treatments: insert session %d: %w", s.Seq, err)
		}
	}
	return nil
}

const sessionColumns = `s.id, s.program_id, s.seq, s.status, s.scheduled_date, s.scheduled_time,
	s.appointment_id, s.clinical_notes, s.next_recommendation`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var status string
	var scheduledDate pgtype.Date
	var appointmentID pgtype.UUID

	if err := row.Scan(
		&s.ID, &s.ProgramID, &s.Seq, &status, &scheduledDate, &s.ScheduledTime,
		&appointmentID, &s.ClinicalNotes, &s.NextRecommendation,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("treatments: scan session: %w", err)
	}
	s.Status = SessionStatus(status)
	s.ScheduledDate = fromPGDate(scheduledDate)
	s.AppointmentID = fromPGUUID(appointmentID)
	return &s, nil
}

// GetSession fetches a session by id.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM treatment_sessions s WHERE s.id = $1`
	return scanSession(r.db.QueryRow(ctx, query, id))
}

// GetSessionForUpdateTx fetches a session with a row lock inside the
// caller's transaction.
func (r *Repository) GetSessionForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM treatment_sessions s WHERE s.id = $1 FOR UPDATE`
	return scanSession(tx.QueryRow(ctx, query, id))
}

// ListSessions returns the full ledger ordered by sequence, with the
// stale-schedule flag derived from the backing appointment's status.
func (r *Repository) ListSessions(ctx context.Context, programID uuid.UUID) ([]Session, error) {
	query := `
		SELECT ` + sessionColumns + `,
			COALESCE(a.status = 'cancelled', FALSE) AS stale
		FROM treatment_sessions s
		LEFT JOIN appointments a ON a.id = s.appointment_id
		WHERE s.program_id = $1
		ORDER BY s.seq
	`
	rows, err := r.db.Query(ctx, query, programID)
	if err != nil {
		return nil, fmt.Errorf("treatments: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var status string
		var scheduledDate pgtype.Date
		var appointmentID pgtype.UUID
		if err := rows.Scan(
			&s.ID, &s.ProgramID, &s.Seq, &status, &scheduledDate, &s.ScheduledTime,
			&appointmentID, &s.ClinicalNotes, &s.NextRecommendation, &s.StaleSchedule,
		); err != nil {
			return nil, fmt.Errorf("treatments: scan session row: %w", err)
		}
		s.Status = SessionStatus(status)
		s.ScheduledDate = fromPGDate(scheduledDate)
		s.AppointmentID = fromPGUUID(appointmentID)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateSessionTx writes a session's mutable fields inside the caller's
// transaction.
func (r *Repository) UpdateSessionTx(ctx context.Context, tx pgx.Tx, s *Session) error {
	query := `
		UPDATE treatment_sessions
		SET status = $2, scheduled_date = $3, scheduled_time = $4,
		    appointment_id = $5, clinical_notes = $6, next_recommendation = $7
		WHERE id = $1
	`
	ct, err := tx.Exec(ctx, query,
		s.ID, string(s.Status), toPGDate(s.ScheduledDate), s.ScheduledTime,
		toPGUUID(s.AppointmentID), s.ClinicalNotes, s.NextRecommendation,
	)
	if err != nil {
		return fmt.Errorf("treatments: update session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// CountSessionStatesTx counts scheduled and completed ledger entries inside
// the caller's transaction. Progress is always recomputed from these counts,
// never incremented, so the derived fields cannot drift from the ledger.
func (r *Repository) CountSessionStatesTx(ctx context.Context, tx pgx.Tx, programID uuid.UUID) (scheduled, completed int, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'scheduled'),
			COUNT(*) FILTER (WHERE status = 'completed')
		FROM treatment_sessions
		WHERE program_id = $1
	`
	if err := tx.QueryRow(ctx, query, programID).Scan(&scheduled, &completed); err != nil {
		return 0, 0, fmt.Errorf("treatments: count session states: %w", err)
	}
	return scheduled, completed, nil
}

// HasEnrollment reports whether the client already has a program derived
// from the template.
func (r *Repository) HasEnrollment(ctx context.Context, clientID, templateID uuid.UUID) (bool, error) {
	query := `
		SELECT 1 FROM treatment_programs
		WHERE client_id = $1 AND template_id = $2
	`
	var exists int
	if err := r.db.QueryRow(ctx, query, clientID, templateID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("treatments: check enrollment: %w", err)
	}
	return true, nil
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

func toPGDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func fromPGDate(v pgtype.Date) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
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
