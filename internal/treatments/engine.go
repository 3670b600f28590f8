package treatments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/events"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

var treatmentsTracer = otel.Tracer("spa.internal.treatments")

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type outboxWriter interface {
	InsertTx(ctx context.Context, tx pgx.Tx, aggregate, eventType string, payload any) (uuid.UUID, error)
}

// Notifier requests a client-facing notification. Failures must not fail the
// business operation; the engine logs and moves on.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, message string, relatedID *uuid.UUID) error
}

// Engine orchestrates program lifecycles. Every multi-record mutation runs
// inside one transaction; progress fields are recomputed from the ledger
// inside that same transaction.
type Engine struct {
	db         beginner
	repo       *Repository
	outbox     outboxWriter
	notifier   Notifier
	bufferDays int
	logger     *logging.Logger
	now        func() time.Time
}

// NewEngine constructs the treatment program engine.
func NewEngine(db beginner, repo *Repository, outbox outboxWriter, bufferDays int, logger *logging.Logger) *Engine {
	if repo == nil {
		panic("treatments: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if bufferDays <= 0 {
		bufferDays = DefaultExpiryBufferDays
	}
	return &Engine{db: db, repo: repo, outbox: outbox, bufferDays: bufferDays, logger: logger, now: time.Now}
}

// WithNotifier adds a client notifier for program milestones.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

func (e *Engine) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("treatments: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("treatments: commit tx: %w", err)
	}
	return nil
}

// TemplateInput defines a reusable program template.
type TemplateInput struct {
	Name               string
	ServiceIDs         []uuid.UUID
	ConsultantName     string
	TotalSessions      int
	SessionsPerWeek    int
	SessionDurationMin int
}

// CreateTemplate creates an unbound program template.
func (e *Engine) CreateTemplate(ctx context.Context, in TemplateInput) (*Program, error) {
	p := &Program{
		ID:                 uuid.New(),
		Name:               in.Name,
		ServiceIDs:         in.ServiceIDs,
		ConsultantName:     in.ConsultantName,
		TotalSessions:      in.TotalSessions,
		SessionsPerWeek:    in.SessionsPerWeek,
		SessionDurationMin: in.SessionDurationMin,
		Status:             ProgramDraft,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := e.repo.InsertProgram(ctx, p); err != nil {
		return nil, err
	}
	e.logger.Info("treatment template created", "program_id", p.ID, "sessions", p.TotalSessions)
	return p, nil
}

// ProgramInput defines a client-bound program instance.
type ProgramInput struct {
	ClientID           uuid.UUID
	TemplateID         *uuid.UUID
	Name               string
	ServiceIDs         []uuid.UUID
	ConsultantName     string
	TotalSessions      int
	SessionsPerWeek    int
	SessionDurationMin int
	StartDate          time.Time
}

// CreateProgram creates a client instance and generates its full session
// ledger up front in the same transaction.
func (e *Engine) CreateProgram(ctx context.Context, in ProgramInput) (*Program, error) {
	ctx, span := treatmentsTracer.Start(ctx, "treatments.create_program")
	defer span.End()

	clientID := in.ClientID
	start := in.StartDate
	expiry := ComputeExpiry(start, in.TotalSessions, in.SessionsPerWeek, e.bufferDays)
	p := &Program{
		ID:                 uuid.New(),
		ClientID:           &clientID,
		TemplateID:         in.TemplateID,
		Name:               in.Name,
		ServiceIDs:         in.ServiceIDs,
		ConsultantName:     in.ConsultantName,
		TotalSessions:      in.TotalSessions,
		SessionsPerWeek:    in.SessionsPerWeek,
		SessionDurationMin: in.SessionDurationMin,
		StartDate:          &start,
		ExpiryDate:         &expiry,
		Status:             ProgramActive,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("spa.program_id", p.ID.String()))

	dates := LedgerDates(start, in.TotalSessions, in.SessionsPerWeek)
	sessions := make([]Session, in.TotalSessions)
	for i := range sessions {
		d := dates[i]
		sessions[i] = Session{
			ID:            uuid.New(),
			ProgramID:     p.ID,
			Seq:           i + 1,
			Status:        SessionPending,
			ScheduledDate: &d,
		}
	}

	err := e.inTx(ctx, func(tx pgx.Tx) error {
		if err := e.repo.InsertProgramTx(ctx, tx, p); err != nil {
			if isUniqueViolation(err) {
				return apperr.New(apperr.KindConflict, "client is already enrolled in this template")
			}
			return err
		}
		return e.repo.InsertSessionsTx(ctx, tx, sessions)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("treatment program created", "program_id", p.ID, "client_id", clientID, "sessions", len(sessions))
	return p, nil
}

// Enroll instantiates a template for a client: a new program id with a
// back-reference to the template and a fresh session ledger. Re-enrolling
// the same client in the same template is a conflict.
func (e *Engine) Enroll(ctx context.Context, templateID, clientID uuid.UUID, startDate time.Time) (*Program, error) {
	tmpl, err := e.repo.GetProgram(ctx, templateID)
	if err != nil {
		if errors.Is(err, ErrProgramNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "template not found")
		}
		return nil, err
	}
	if !tmpl.IsTemplate() {
		return nil, apperr.New(apperr.KindConflict, "program is not a template")
	}

	enrolled, err := e.repo.HasEnrollment(ctx, clientID, templateID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		return nil, apperr.New(apperr.KindConflict, "client is already enrolled in this template")
	}

	return e.CreateProgram(ctx, ProgramInput{
		ClientID:           clientID,
		TemplateID:         &templateID,
		Name:               tmpl.Name,
		ServiceIDs:         tmpl.ServiceIDs,
		ConsultantName:     tmpl.ConsultantName,
		TotalSessions:      tmpl.TotalSessions,
		SessionsPerWeek:    tmpl.SessionsPerWeek,
		SessionDurationMin: tmpl.SessionDurationMin,
		StartDate:          startDate,
	})
}

// Pause freezes the program, recording the reason and timestamp.
func (e *Engine) Pause(ctx context.Context, programID uuid.UUID, reason string) (*Program, error) {
	var out *Program
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		p, err := e.repo.GetProgramForUpdateTx(ctx, tx, programID)
		if err != nil {
			if errors.Is(err, ErrProgramNotFound) {
				return apperr.New(apperr.KindNotFound, "program not found")
			}
			return err
		}
		if p.Paused {
			return apperr.New(apperr.KindConflict, "program is already paused")
		}
		now := e.now().UTC()
		p.Paused = true
		p.PauseReason = reason
		p.PausedAt = &now
		p.Status = ProgramPaused
		if err := e.repo.UpdateProgramStateTx(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("treatment program paused", "program_id", programID, "reason", reason)
	return out, nil
}

// Resume reactivates a paused program and extends its expiry date by the
// number of days it sat paused, or by the explicit override. The program
// always returns to active regardless of what it was before the pause.
func (e *Engine) Resume(ctx context.Context, programID uuid.UUID, extendDays *int) (*Program, error) {
	var out *Program
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		p, err := e.repo.GetProgramForUpdateTx(ctx, tx, programID)
		if err != nil {
			if errors.Is(err, ErrProgramNotFound) {
				return apperr.New(apperr.KindNotFound, "program not found")
			}
			return err
		}
		if !p.Paused {
			return apperr.New(apperr.KindConflict, "program is not paused")
		}

		days := 0
		if extendDays != nil {
			days = *extendDays
		} else if p.PausedAt != nil {
			days = int(e.now().UTC().Sub(*p.PausedAt).Hours() / 24)
		}
		if days > 0 && p.ExpiryDate != nil {
			extended := p.ExpiryDate.AddDate(0, 0, days)
			p.ExpiryDate = &extended
		}

		p.Paused = false
		p.PauseReason = ""
		p.PausedAt = nil
		p.Status = ProgramActive
		if err := e.repo.UpdateProgramStateTx(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("treatment program resumed", "program_id", programID)
	return out, nil
}

// ScheduleSession moves a session to scheduled and recomputes program
// progress, all in one transaction.
func (e *Engine) ScheduleSession(ctx context.Context, sessionID uuid.UUID, date time.Time, timeOfDay string, appointmentID *uuid.UUID) (*Session, error) {
	var out *Session
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		s, _, err := e.MarkSessionScheduledTx(ctx, tx, sessionID, date, timeOfDay, appointmentID)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteSession moves a session to completed, records clinical data, and
// recomputes progress in one transaction. When the completion finishes the
// program, the client is notified after commit.
func (e *Engine) CompleteSession(ctx context.Context, sessionID uuid.UUID, clinicalNotes, nextRecommendation string) (*Session, error) {
	var out *Session
	var snap ProgressSnapshot
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		s, sn, err := e.MarkSessionCompletedTx(ctx, tx, sessionID, clinicalNotes, nextRecommendation)
		if err != nil {
			return err
		}
		out, snap = s, sn
		return nil
	})
	if err != nil {
		return nil, err
	}

	if snap.Status == ProgramCompleted && e.notifier != nil && snap.ClientID != nil {
		msg := fmt.Sprintf("All %d sessions of your treatment program are complete.", snap.CompletedSessions)
		if err := e.notifier.Notify(ctx, *snap.ClientID, "program_completed", "Treatment program completed", msg, &out.ProgramID); err != nil {
			e.logger.Warn("program completion notification failed", "program_id", out.ProgramID, "error", err)
		}
	}
	return out, nil
}

// MarkSessionScheduledTx performs the scheduled transition inside an
// existing transaction, for callers (appointment confirmation) that update
// the appointment and the session as one atomic unit.
func (e *Engine) MarkSessionScheduledTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, date time.Time, timeOfDay string, appointmentID *uuid.UUID) (*Session, ProgressSnapshot, error) {
	s, err := e.repo.GetSessionForUpdateTx(ctx, tx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ProgressSnapshot{}, apperr.New(apperr.KindNotFound, "session not found")
		}
		return nil, ProgressSnapshot{}, err
	}
	if !s.Status.CanTransition(SessionScheduled) {
		return nil, ProgressSnapshot{}, apperr.Newf(apperr.KindConflict, "session %d cannot be scheduled from status %s", s.Seq, s.Status)
	}

	s.Status = SessionScheduled
	s.ScheduledDate = &date
	s.ScheduledTime = timeOfDay
	s.AppointmentID = appointmentID
	if err := e.repo.UpdateSessionTx(ctx, tx, s); err != nil {
		return nil, ProgressSnapshot{}, err
	}

	snap, err := e.recomputeTx(ctx, tx, s.ProgramID, VariantScheduledAndCompleted)
	if err != nil {
		return nil, ProgressSnapshot{}, err
	}
	return s, snap, nil
}

// MarkSessionCompletedTx performs the completed transition inside an
// existing transaction. Progress here counts only completed sessions.
func (e *Engine) MarkSessionCompletedTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, clinicalNotes, nextRecommendation string) (*Session, ProgressSnapshot, error) {
	s, err := e.repo.GetSessionForUpdateTx(ctx, tx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ProgressSnapshot{}, apperr.New(apperr.KindNotFound, "session not found")
		}
		return nil, ProgressSnapshot{}, err
	}
	if !s.Status.CanTransition(SessionCompleted) {
		return nil, ProgressSnapshot{}, apperr.Newf(apperr.KindConflict, "session %d cannot be completed from status %s", s.Seq, s.Status)
	}

	s.Status = SessionCompleted
	if clinicalNotes != "" {
		s.ClinicalNotes = clinicalNotes
	}
	if nextRecommendation != "" {
		s.NextRecommendation = nextRecommendation
	}
	if err := e.repo.UpdateSessionTx(ctx, tx, s); err != nil {
		return nil, ProgressSnapshot{}, err
	}

	snap, err := e.recomputeTx(ctx, tx, s.ProgramID, VariantCompletedOnly)
	if err != nil {
		return nil, ProgressSnapshot{}, err
	}

	if snap.Status == ProgramCompleted && e.outbox != nil {
		payload := map[string]any{"program_id": s.ProgramID, "completed_sessions": snap.CompletedSessions}
		if _, err := e.outbox.InsertTx(ctx, tx, "program", events.TypeProgramCompleted, payload); err != nil {
			return nil, ProgressSnapshot{}, err
		}
	}
	return s, snap, nil
}

func (e *Engine) recomputeTx(ctx context.Context, tx pgx.Tx, programID uuid.UUID, variant ProgressVariant) (ProgressSnapshot, error) {
	p, err := e.repo.GetProgramForUpdateTx(ctx, tx, programID)
	if err != nil {
		return ProgressSnapshot{}, err
	}
	scheduled, completed, err := e.repo.CountSessionStatesTx(ctx, tx, programID)
	if err != nil {
		return ProgressSnapshot{}, err
	}
	snap := ComputeProgress(scheduled, completed, p.TotalSessions, variant, p.Status)
	snap.ClientID = p.ClientID
	if err := e.repo.ApplyProgressTx(ctx, tx, programID, snap); err != nil {
		return ProgressSnapshot{}, err
	}
	return snap, nil
}

// Progress returns the program with its ledger, including read-time derived
// flags.
func (e *Engine) Progress(ctx context.Context, programID uuid.UUID) (*Program, []Session, error) {
	p, err := e.repo.GetProgram(ctx, programID)
	if err != nil {
		if errors.Is(err, ErrProgramNotFound) {
			return nil, nil, apperr.New(apperr.KindNotFound, "program not found")
		}
		return nil, nil, err
	}
	sessions, err := e.repo.ListSessions(ctx, programID)
	if err != nil {
		return nil, nil, err
	}
	return p, sessions, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
