package treatments

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// DefaultExpiryBufferDays pads the computed program span before expiry.
const DefaultExpiryBufferDays = 14

// ProgressVariant selects which session states count toward the progress
// percentage. The platform historically computed progress two ways: the
// admin-confirm path counts scheduled and completed sessions, the
// session-completion path counts only completed ones. Both variants are kept
// as named options until product settles on one; callers choose explicitly.
type ProgressVariant int

const (
	// VariantCompletedOnly counts only completed sessions.
	VariantCompletedOnly ProgressVariant = iota
	// VariantScheduledAndCompleted counts scheduled plus completed sessions.
	VariantScheduledAndCompleted
)

// ProgressSnapshot is the derived progress state of a program. ClientID is
// the owning client for client-bound programs; the engine fills it in when
// recomputing so post-commit consumers know who to notify.
type ProgressSnapshot struct {
	ClientID          *uuid.UUID
	CompletedSessions int
	ProgressPercent   int
	Status            ProgramStatus
}

// ComputeProgress derives a program's progress from its session state counts.
// CompletedSessions always equals the completed count regardless of variant;
// only the percentage and status depend on the variant. prior is the
// program's current status, which the completed-only variant leaves unchanged
// below 100%.
func ComputeProgress(scheduled, completed, total int, variant ProgressVariant, prior ProgramStatus) ProgressSnapshot {
	snap := ProgressSnapshot{CompletedSessions: completed, Status: prior}
	if total <= 0 {
		return snap
	}

	switch variant {
	case VariantScheduledAndCompleted:
		snap.ProgressPercent = roundPercent(scheduled+completed, total)
		if snap.ProgressPercent >= 100 {
			snap.Status = ProgramCompleted
		} else {
			snap.Status = ProgramInProgress
		}
	default:
		snap.ProgressPercent = roundPercent(completed, total)
		if completed >= total {
			snap.Status = ProgramCompleted
		}
	}
	return snap
}

func roundPercent(part, total int) int {
	return int(math.Round(100 * float64(part) / float64(total)))
}

// ComputeExpiry estimates when a program's sessions should be used up:
// start + ceil(total/perWeek weeks) + buffer. A capacity-planning estimate,
// not a hard cutoff.
func ComputeExpiry(start time.Time, totalSessions, sessionsPerWeek, bufferDays int) time.Time {
	if sessionsPerWeek < 1 {
		sessionsPerWeek = 1
	}
	spanDays := int(math.Ceil(float64(totalSessions) / float64(sessionsPerWeek) * 7))
	return start.AddDate(0, 0, spanDays+bufferDays)
}

// LedgerDates spreads totalSessions naive default dates from start,
// floor(7/sessionsPerWeek) days apart. Best-effort defaults only; real
// scheduling happens per session.
func LedgerDates(start time.Time, totalSessions, sessionsPerWeek int) []time.Time {
	if sessionsPerWeek < 1 {
		sessionsPerWeek = 1
	}
	gap := 7 / sessionsPerWeek
	dates := make([]time.Time, totalSessions)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i*gap)
	}
	return dates
}
