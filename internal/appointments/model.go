// Package appointments owns the appointment lifecycle: creation with staff
// assignment, admin confirmation, generic updates, cancellation, and the
// linkage into treatment-program sessions. Every transition that touches
// more than one record runs inside a single transaction.
package appointments

import (
	"time"

	"github.com/google/uuid"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// statusTransitions lists the permitted moves. Cancellation is reachable
// from pending and scheduled only; terminal states permit nothing.
var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusScheduled, StatusCancelled},
	StatusScheduled:  {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// CanTransition reports whether an appointment may move to the target status.
func (s Status) CanTransition(to Status) bool {
	for _, next := range statusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether the appointment still occupies its staff slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusScheduled || s == StatusInProgress
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// PayState tracks whether the appointment's funding payment has completed.
type PayState string

const (
	PayUnpaid PayState = "unpaid"
	PayPaid   PayState = "paid"
)

// Appointment is one scheduled service instance.
type Appointment struct {
	ID             uuid.UUID
	ClientID       uuid.UUID
	ServiceID      uuid.UUID
	StaffID        *uuid.UUID
	BookingGroupID *uuid.UUID
	ProgramID      *uuid.UUID
	SessionID      *uuid.UUID
	Date           time.Time
	StartTime      string
	Status         Status
	PayState       PayState
	// Display fields denormalized at creation time for read efficiency.
	// They are deliberately not kept in sync with later renames.
	ServiceName string
	StaffName   string
	ClientName  string
	Notes       string
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PendingAssignment reports whether the appointment is still waiting for a
// staff member, visible to the client as "pending assignment".
func (a *Appointment) PendingAssignment() bool {
	return a.StaffID == nil && a.Status.Active()
}

// Validate checks structural invariants before any write.
func (a *Appointment) Validate() error {
	if a.ServiceID == uuid.Nil {
		return apperr.New(apperr.KindValidation, "service is required")
	}
	if a.Date.IsZero() {
		return apperr.New(apperr.KindValidation, "date is required")
	}
	if a.StartTime == "" {
		return apperr.New(apperr.KindValidation, "time is required")
	}
	// A session link makes no sense without its program, and vice versa.
	if (a.SessionID == nil) != (a.ProgramID == nil) {
		return apperr.New(apperr.KindValidation, "session and program references must both be present or both absent")
	}
	return nil
}
