package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/catalog"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/events"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/identity"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/observability/metrics"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/scheduling"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/treatments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

var appointmentsTracer = otel.Tracer("spa.internal.appointments")

// StaffAny is the client-facing sentinel meaning "no preference"; it is
// synonymous with leaving the staff field empty.
const StaffAny = "any"

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type staffSelector interface {
	SelectStaff(ctx context.Context, serviceID, clientID uuid.UUID, day time.Time, t string) (*uuid.UUID, error)
}

type clientDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
	GetClientByPhone(ctx context.Context, phone string) (*identity.User, error)
	CreateClientTx(ctx context.Context, tx pgx.Tx, name, phone string) (*identity.User, error)
}

type walletCreator interface {
	CreateWalletTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
}

type catalogReader interface {
	GetService(ctx context.Context, id uuid.UUID) (*catalog.Service, error)
}

type sessionEngine interface {
	MarkSessionScheduledTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, date time.Time, timeOfDay string, appointmentID *uuid.UUID) (*treatments.Session, treatments.ProgressSnapshot, error)
	MarkSessionCompletedTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, clinicalNotes, nextRecommendation string) (*treatments.Session, treatments.ProgressSnapshot, error)
}

type outboxWriter interface {
	InsertTx(ctx context.Context, tx pgx.Tx, aggregate, eventType string, payload any) (uuid.UUID, error)
}

// Service drives the appointment state machine.
type Service struct {
	db       beginner
	repo     *Repository
	selector staffSelector
	holds    *scheduling.SlotHold
	clients  clientDirectory
	wallets  walletCreator
	catalog  catalogReader
	sessions sessionEngine
	outbox   outboxWriter
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	now      func() time.Time
}

// NewService constructs the appointment service.
func NewService(db beginner, repo *Repository, selector staffSelector, holds *scheduling.SlotHold, clients clientDirectory, wallets walletCreator, cat catalogReader, sessions sessionEngine, outbox outboxWriter, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if repo == nil {
		panic("appointments: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		db:       db,
		repo:     repo,
		selector: selector,
		holds:    holds,
		clients:  clients,
		wallets:  wallets,
		catalog:  cat,
		sessions: sessions,
		outbox:   outbox,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit tx: %w", err)
	}
	return nil
}

// BookingItem is one appointment in a checkout.
type BookingItem struct {
	ServiceID uuid.UUID
	Date      time.Time
	StartTime string
	// Staff is empty, "any", or a staff uuid string. Empty and "any" both
	// mean "assign for me".
	Staff     string
	ProgramID *uuid.UUID
	SessionID *uuid.UUID
	Notes     string
}

// BookingRequest creates one or more appointments in a single checkout.
// Either ClientID (existing client) or ClientPhone (first-time booking,
// minimal account created on the fly) must be set.
type BookingRequest struct {
	ClientID    *uuid.UUID
	ClientName  string
	ClientPhone string
	Items       []BookingItem
	// AdminDirect is the privileged admin-entry path: appointments start
	// pre-confirmed at scheduled instead of pending.
	AdminDirect bool
}

// Booking is the result of a checkout: the created appointments plus the
// group id tying them together when there is more than one.
type Booking struct {
	GroupID      *uuid.UUID
	Appointments []*Appointment
}

// Create validates the request, resolves or creates the client, assigns
// staff where none was requested, and inserts every appointment in one
// transaction.
func (s *Service) Create(ctx context.Context, req BookingRequest) (*Booking, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.create")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, apperr.New(apperr.KindValidation, "at least one booking item is required")
	}
	if req.ClientID == nil && req.ClientPhone == "" {
		return nil, apperr.New(apperr.KindValidation, "client id or phone is required")
	}

	// Resolve the client outside the transaction; creation of first-time
	// clients happens inside it so the account and its wallet commit with
	// the appointments or not at all.
	var client *identity.User
	newClient := false
	if req.ClientID != nil {
		u, err := s.clients.GetByID(ctx, *req.ClientID)
		if err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				return nil, apperr.New(apperr.KindNotFound, "client not found")
			}
			return nil, err
		}
		client = u
	} else {
		u, err := s.clients.GetClientByPhone(ctx, req.ClientPhone)
		switch {
		case err == nil:
			client = u
		case errors.Is(err, identity.ErrUserNotFound):
			newClient = true
		default:
			return nil, err
		}
	}

	initialStatus := StatusPending
	if req.AdminDirect {
		initialStatus = StatusScheduled
	}

	var groupID *uuid.UUID
	if len(req.Items) > 1 {
		g := uuid.New()
		groupID = &g
	}

	type plannedItem struct {
		appt *Appointment
		svc  *catalog.Service
		auto bool
	}
	planned := make([]plannedItem, 0, len(req.Items))

	clientName := req.ClientName
	clientID := uuid.Nil
	if client != nil {
		clientName = client.Name
		clientID = client.ID
	}

	for i, item := range req.Items {
		a := &Appointment{
			ID:             uuid.New(),
			ClientID:       clientID,
			ServiceID:      item.ServiceID,
			BookingGroupID: groupID,
			ProgramID:      item.ProgramID,
			SessionID:      item.SessionID,
			Date:           item.Date,
			StartTime:      item.StartTime,
			Status:         initialStatus,
			PayState:       PayUnpaid,
			ClientName:     clientName,
			Notes:          item.Notes,
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}

		svc, err := s.catalog.GetService(ctx, item.ServiceID)
		if err != nil {
			if errors.Is(err, catalog.ErrServiceNotFound) {
				return nil, apperr.Newf(apperr.KindNotFound, "service %s not found", item.ServiceID)
			}
			return nil, err
		}
		a.ServiceName = svc.Name

		auto := false
		switch item.Staff {
		case "", StaffAny:
			auto = true
			staffID, err := s.selector.SelectStaff(ctx, item.ServiceID, clientID, item.Date, item.StartTime)
			if err != nil {
				return nil, err
			}
			a.StaffID = staffID
		default:
			staffID, err := uuid.Parse(item.Staff)
			if err != nil {
				return nil, apperr.Newf(apperr.KindValidation, "item %d: invalid staff reference", i)
			}
			a.StaffID = &staffID
		}

		if a.StaffID != nil {
			staff, err := s.clients.GetByID(ctx, *a.StaffID)
			if err != nil {
				if errors.Is(err, identity.ErrUserNotFound) {
					return nil, apperr.New(apperr.KindNotFound, "staff not found")
				}
				return nil, err
			}
			a.StaffName = staff.Name
		}

		planned = append(planned, plannedItem{appt: a, svc: svc, auto: auto})
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if newClient {
			u, err := s.clients.CreateClientTx(ctx, tx, req.ClientName, req.ClientPhone)
			if err != nil {
				return err
			}
			if err := s.wallets.CreateWalletTx(ctx, tx, u.ID); err != nil {
				return err
			}
			client = u
			for _, p := range planned {
				p.appt.ClientID = u.ID
				p.appt.ClientName = u.Name
			}
		}

		for _, p := range planned {
			if err := s.insertWithFallback(ctx, tx, p.appt, p.auto); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	appts := make([]*Appointment, len(planned))
	for i, p := range planned {
		appts[i] = p.appt
		s.metrics.ObserveBooking(string(p.appt.Status))
	}
	span.SetAttributes(attribute.Int("spa.booking_items", len(appts)))
	s.logger.Info("booking created", "client_id", client.ID, "items", len(appts), "admin_direct", req.AdminDirect)
	return &Booking{GroupID: groupID, Appointments: appts}, nil
}

// insertWithFallback inserts the appointment, downgrading to unassigned when
// the staff slot was claimed since the availability check. The slot hold
// narrows that window; the unique index is the guard that actually fires.
func (s *Service) insertWithFallback(ctx context.Context, tx pgx.Tx, a *Appointment, autoAssigned bool) error {
	if a.StaffID != nil {
		if !s.holds.Acquire(ctx, *a.StaffID, a.Date, a.StartTime) {
			s.logger.Warn("slot hold busy, leaving appointment unassigned", "staff_id", *a.StaffID, "date", a.Date, "time", a.StartTime)
			a.StaffID = nil
			a.StaffName = ""
			s.metrics.ObserveAssignment("slot_taken")
		}
	}

	// A unique violation aborts the surrounding transaction, so the insert
	// runs under a savepoint to keep the retry and any sibling items alive.
	err := s.insertSavepoint(ctx, tx, a)
	if errors.Is(err, ErrSlotTaken) {
		staffID := *a.StaffID
		a.StaffID = nil
		a.StaffName = ""
		s.metrics.ObserveAssignment("slot_taken")
		s.holds.Release(ctx, staffID, a.Date, a.StartTime)
		err = s.insertSavepoint(ctx, tx, a)
	}
	if err != nil {
		return err
	}

	switch {
	case a.StaffID != nil:
		s.metrics.ObserveAssignment("assigned")
	case autoAssigned:
		s.metrics.ObserveAssignment("unassigned")
	}
	return nil
}

func (s *Service) insertSavepoint(ctx context.Context, tx pgx.Tx, a *Appointment) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: savepoint: %w", err)
	}
	if err := s.repo.InsertTx(ctx, sp, a); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: release savepoint: %w", err)
	}
	return nil
}

// Confirm is the admin path moving a pending appointment to scheduled. When
// the appointment realizes a treatment session, the session transition and
// the program progress recompute commit in the same transaction.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("spa.appointment_id", id.String()))

	var out *Appointment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := s.repo.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return apperr.New(apperr.KindNotFound, "appointment not found")
			}
			return err
		}
		if a.Status != StatusPending {
			return apperr.Newf(apperr.KindConflict, "appointment is %s, only pending appointments can be confirmed", a.Status)
		}

		if err := s.repo.ApplyStatusTx(ctx, tx, id, StatusScheduled, nil); err != nil {
			return err
		}
		a.Status = StatusScheduled

		if a.SessionID != nil {
			if _, _, err := s.sessions.MarkSessionScheduledTx(ctx, tx, *a.SessionID, a.Date, a.StartTime, &a.ID); err != nil {
				return err
			}
		}

		if err := s.emitStatusChangeTx(ctx, tx, a, StatusPending); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("appointment confirmed", "appointment_id", id)
	return out, nil
}

// UpdatePatch carries the fields a generic update may change. Nil fields are
// left untouched.
type UpdatePatch struct {
	Staff     *string
	Date      *time.Time
	StartTime *string
	Status    *Status
	PayState  *PayState
	Notes     *string
	// Clinical data recorded when the update completes a session-linked
	// appointment.
	ClinicalNotes      string
	NextRecommendation string
}

// Update applies a free-form patch. A transition to completed stamps the
// completion time and completes the linked treatment session in the same
// transaction.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch UpdatePatch) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.update")
	defer span.End()

	var out *Appointment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := s.repo.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return apperr.New(apperr.KindNotFound, "appointment not found")
			}
			return err
		}
		prior := a.Status

		if patch.Date != nil {
			a.Date = *patch.Date
		}
		if patch.StartTime != nil {
			a.StartTime = *patch.StartTime
		}
		if patch.Notes != nil {
			a.Notes = *patch.Notes
		}
		if patch.PayState != nil {
			a.PayState = *patch.PayState
		}
		if patch.Staff != nil {
			if err := s.patchStaff(ctx, a, *patch.Staff); err != nil {
				return err
			}
		}

		if patch.Status != nil && *patch.Status != prior {
			next := *patch.Status
			if !next.Valid() {
				return apperr.Newf(apperr.KindValidation, "unknown status %q", next)
			}
			if !prior.CanTransition(next) {
				return apperr.Newf(apperr.KindConflict, "appointment is %s, cannot move to %s", prior, next)
			}
			a.Status = next
			if next == StatusCompleted {
				now := s.now().UTC()
				a.CompletedAt = &now
			}
		}

		if err := s.repo.UpdateFieldsTx(ctx, tx, a); err != nil {
			return err
		}

		if a.Status == StatusCompleted && prior != StatusCompleted && a.SessionID != nil {
			if _, _, err := s.sessions.MarkSessionCompletedTx(ctx, tx, *a.SessionID, patch.ClinicalNotes, patch.NextRecommendation); err != nil {
				return err
			}
		}

		if a.Status != prior {
			if err := s.emitStatusChangeTx(ctx, tx, a, prior); err != nil {
				return err
			}
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) patchStaff(ctx context.Context, a *Appointment, staff string) error {
	switch staff {
	case "", StaffAny:
		a.StaffID = nil
		a.StaffName = ""
		return nil
	default:
		staffID, err := uuid.Parse(staff)
		if err != nil {
			return apperr.New(apperr.KindValidation, "invalid staff reference")
		}
		u, err := s.clients.GetByID(ctx, staffID)
		if err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				return apperr.New(apperr.KindNotFound, "staff not found")
			}
			return err
		}
		a.StaffID = &staffID
		a.StaffName = u.Name
		return nil
	}
}

// Cancel moves the appointment to cancelled. The linked session, if any, is
// deliberately left as it was; its stale schedule is surfaced at read time.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var out *Appointment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := s.repo.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return apperr.New(apperr.KindNotFound, "appointment not found")
			}
			return err
		}
		if !a.Status.CanTransition(StatusCancelled) {
			return apperr.Newf(apperr.KindConflict, "appointment is %s, cannot cancel", a.Status)
		}
		prior := a.Status
		if err := s.repo.ApplyStatusTx(ctx, tx, id, StatusCancelled, nil); err != nil {
			return err
		}
		a.Status = StatusCancelled
		if err := s.emitStatusChangeTx(ctx, tx, a, prior); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("appointment cancelled", "appointment_id", id)
	return out, nil
}

// Get fetches an appointment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "appointment not found")
		}
		return nil, err
	}
	return a, nil
}

// Delete removes an appointment permanently. Administrative use only.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return apperr.New(apperr.KindNotFound, "appointment not found")
		}
		return err
	}
	s.logger.Info("appointment deleted", "appointment_id", id)
	return nil
}

// emitStatusChangeTx queues the best-effort status notification in the
// outbox. It shares the transaction, so the event exists iff the transition
// committed; delivery failures later never reach this code path.
func (s *Service) emitStatusChangeTx(ctx context.Context, tx pgx.Tx, a *Appointment, prior Status) error {
	if s.outbox == nil {
		return nil
	}
	payload := map[string]any{
		"appointment_id": a.ID,
		"client_id":      a.ClientID,
		"from":           prior,
		"to":             a.Status,
		"service_name":   a.ServiceName,
		"date":           a.Date.Format("2006-01-02"),
		"time":           a.StartTime,
	}
	if _, err := s.outbox.InsertTx(ctx, tx, "appointment", events.TypeAppointmentStatusChanged, payload); err != nil {
		return err
	}
	return nil
}
