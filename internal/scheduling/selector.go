// Package scheduling assigns staff to appointments. Given a service and a
// time slot it filters staff to those available, unbooked and eligible, then
// ranks candidates by customer history and workload balance.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/availability"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/catalog"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

var schedulingTracer = otel.Tracer("spa.internal.scheduling")

// Score weights. A staff member the client has completed appointments with
// outranks any fresh candidate; among equals, the less loaded day wins.
const (
	repeatVisitBase   = 100
	repeatVisitWeight = 10
	workloadBase      = 50
	workloadWeight    = 10
)

type catalogReader interface {
	GetService(ctx context.Context, id uuid.UUID) (*catalog.Service, error)
	GetCategory(ctx context.Context, id uuid.UUID) (*catalog.Category, error)
}

type availabilityReader interface {
	ListForDate(ctx context.Context, day time.Time) ([]availability.DaySchedule, error)
}

type staffDirectory interface {
	ListActiveStaffIDs(ctx context.Context) (map[uuid.UUID]bool, error)
}

// bookingIndex answers booking questions against live data. No caching:
// results must reflect the latest concurrent bookings, so every call hits
// the store.
type bookingIndex interface {
	StaffBookedAt(ctx context.Context, day time.Time, t string) (map[uuid.UUID]bool, error)
	CompletedTogether(ctx context.Context, clientID, staffID uuid.UUID) (int, error)
	ActiveCountOn(ctx context.Context, staffID uuid.UUID, day time.Time) (int, error)
}

// Selector implements the staff assignment algorithm.
type Selector struct {
	catalog  catalogReader
	index    availabilityReader
	staff    staffDirectory
	bookings bookingIndex
	logger   *logging.Logger
}

// NewSelector constructs a Selector.
func NewSelector(cat catalogReader, index availabilityReader, staff staffDirectory, bookings bookingIndex, logger *logging.Logger) *Selector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Selector{catalog: cat, index: index, staff: staff, bookings: bookings, logger: logger}
}

// SelectStaff picks the best staff member for the requested service and slot,
// or nil when nobody is eligible. The caller is expected to leave the
// appointment unassigned in that case rather than fail the booking.
func (s *Selector) SelectStaff(ctx context.Context, serviceID, clientID uuid.UUID, day time.Time, t string) (*uuid.UUID, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.select_staff")
	defer span.End()
	span.SetAttributes(
		attribute.String("spa.service_id", serviceID.String()),
		attribute.String("spa.slot_time", t),
	)

	// Fail closed when the service or its category cannot be resolved: an
	// unresolvable service must never get a staff assignment.
	svc, err := s.catalog.GetService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, catalog.ErrServiceNotFound) {
			s.logger.Warn("assignment skipped: unknown service", "service_id", serviceID)
			return nil, nil
		}
		return nil, fmt.Errorf("scheduling: resolve service: %w", err)
	}
	if _, err := s.catalog.GetCategory(ctx, svc.CategoryID); err != nil {
		if errors.Is(err, catalog.ErrCategoryNotFound) {
			s.logger.Warn("assignment skipped: unknown category", "service_id", serviceID, "category_id", svc.CategoryID)
			return nil, nil
		}
		return nil, fmt.Errorf("scheduling: resolve category: %w", err)
	}

	candidates, err := s.eligibleStaff(ctx, serviceID, day, t)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return &candidates[0], nil
	}

	best, err := s.pickBest(ctx, candidates, clientID, day)
	if err != nil {
		return nil, err
	}
	return best, nil
}

func (s *Selector) eligibleStaff(ctx context.Context, serviceID uuid.UUID, day time.Time, t string) ([]uuid.UUID, error) {
	schedules, err := s.index.ListForDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("scheduling: load availability: %w", err)
	}

	activeStaff, err := s.staff.ListActiveStaffIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduling: load staff: %w", err)
	}

	booked, err := s.bookings.StaffBookedAt(ctx, day, t)
	if err != nil {
		return nil, fmt.Errorf("scheduling: load bookings: %w", err)
	}

	var candidates []uuid.UUID
	for _, sched := range schedules {
		if !activeStaff[sched.StaffID] {
			continue
		}
		if _, ok := sched.SlotFor(t, serviceID); !ok {
			continue
		}
		if booked[sched.StaffID] {
			continue
		}
		candidates = append(candidates, sched.StaffID)
	}
	return candidates, nil
}

// pickBest scores each candidate and returns the maximum. Ties break by input
// order: the first candidate encountered wins. That is a deliberate, stable
// tie-break, not an accident of map iteration.
func (s *Selector) pickBest(ctx context.Context, candidates []uuid.UUID, clientID uuid.UUID, day time.Time) (*uuid.UUID, error) {
	var best *uuid.UUID
	bestScore := -1

	for i := range candidates {
		staffID := candidates[i]
		score, err := s.scoreCandidate(ctx, staffID, clientID, day)
		if err != nil {
			return nil, err
		}
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}

	if best != nil {
		s.logger.Debug("staff selected", "staff_id", *best, "score", bestScore, "candidates", len(candidates))
	}
	return best, nil
}

func (s *Selector) scoreCandidate(ctx context.Context, staffID, clientID uuid.UUID, day time.Time) (int, error) {
	completed, err := s.bookings.CompletedTogether(ctx, clientID, staffID)
	if err != nil {
		return 0, fmt.Errorf("scheduling: history count: %w", err)
	}
	repeatVisitBonus := 0
	if completed > 0 {
		repeatVisitBonus = repeatVisitBase + repeatVisitWeight*completed
	}

	dayLoad, err := s.bookings.ActiveCountOn(ctx, staffID, day)
	if err != nil {
		return 0, fmt.Errorf("scheduling: workload count: %w", err)
	}
	workloadBonus := workloadBase - workloadWeight*dayLoad
	if workloadBonus < 0 {
		workloadBonus = 0
	}

	return repeatVisitBonus + workloadBonus, nil
}
