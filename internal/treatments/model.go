// Package treatments manages multi-session treatment programs: reusable
// templates, per-client instances with a pre-generated session ledger,
// pause/resume with expiry adjustment, and progress tracking driven by
// session completions.
package treatments

import (
	"time"

	"github.com/google/uuid"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
)

// ProgramStatus is the lifecycle state of a treatment program.
type ProgramStatus string

const (
	ProgramDraft      ProgramStatus = "draft"
	ProgramActive     ProgramStatus = "active"
	ProgramInProgress ProgramStatus = "in_progress"
	ProgramPaused     ProgramStatus = "paused"
	ProgramCompleted  ProgramStatus = "completed"
	ProgramExpired    ProgramStatus = "expired"
	ProgramCancelled  ProgramStatus = "cancelled"
)

// SessionStatus is the lifecycle state of one session in the ledger.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionMissed    SessionStatus = "missed"
)

// sessionTransitions lists the permitted status moves.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionPending:   {SessionScheduled, SessionMissed},
	SessionScheduled: {SessionCompleted, SessionMissed},
	SessionCompleted: {},
	SessionMissed:    {SessionScheduled},
}

// CanTransition reports whether a session may move from its current status
// to the target status.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Program is either a reusable template (no client bound) or a client
// instance, optionally derived from a template via TemplateID.
type Program struct {
	ID                 uuid.UUID
	ClientID           *uuid.UUID
	TemplateID         *uuid.UUID
	Name               string
	ServiceIDs         []uuid.UUID
	ConsultantName     string
	TotalSessions      int
	SessionsPerWeek    int
	SessionDurationMin int
	StartDate          *time.Time
	ExpiryDate         *time.Time
	// CompletedSessions and ProgressPercent are derived from the session
	// ledger, recomputed after every session mutation, never incremented.
	CompletedSessions int
	ProgressPercent   int
	Status            ProgramStatus
	Paused            bool
	PauseReason       string
	PausedAt          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsTemplate reports whether the program is an unbound catalog template.
func (p *Program) IsTemplate() bool { return p.ClientID == nil }

// ExpiredNow reports whether the program is past its expiry date. Expiry is
// a capacity-planning estimate surfaced at read time; it is never stored as
// a status transition.
func (p *Program) ExpiredNow(now time.Time) bool {
	if p.ExpiryDate == nil {
		return false
	}
	return now.After(*p.ExpiryDate)
}

// Validate checks a program definition before any write.
func (p *Program) Validate() error {
	if p.Name == "" {
		return apperr.New(apperr.KindValidation, "program name is required")
	}
	if p.TotalSessions < 1 {
		return apperr.New(apperr.KindValidation, "program must have at least one session")
	}
	if p.SessionsPerWeek < 1 {
		return apperr.New(apperr.KindValidation, "sessions per week must be at least 1")
	}
	if !p.IsTemplate() && p.StartDate == nil {
		return apperr.New(apperr.KindValidation, "client program requires a start date")
	}
	return nil
}

// Session is one unit of a program's ledger. All sessions are generated at
// program-creation (or enrollment) time; the ledger size never changes.
type Session struct {
	ID                 uuid.UUID
	ProgramID          uuid.UUID
	Seq                int
	Status             SessionStatus
	ScheduledDate      *time.Time
	ScheduledTime      string
	AppointmentID      *uuid.UUID
	ClinicalNotes      string
	NextRecommendation string
	// StaleSchedule is derived at read time: the session still reads
	// scheduled but its backing appointment was cancelled. Cancelling an
	// appointment deliberately does not rewind session status; this flag
	// makes the gap visible to callers.
	StaleSchedule bool
}
