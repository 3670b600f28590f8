package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

// SlotHold places a short-lived advisory claim on a staff/date/time slot
// between the availability check and the appointment insert. It narrows the
// window in which two concurrent bookings can both pass the check; the
// authoritative guard is the partial unique index on appointments.
type SlotHold struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewSlotHold constructs a slot hold. A nil client disables holds entirely;
// every Acquire then reports success.
func NewSlotHold(client *redis.Client, ttl time.Duration, logger *logging.Logger) *SlotHold {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SlotHold{client: client, ttl: ttl, logger: logger}
}

func holdKey(staffID uuid.UUID, day time.Time, t string) string {
	return fmt.Sprintf("slothold:%s:%s:%s", staffID, day.Format("2006-01-02"), t)
}

// Acquire claims the slot for the hold TTL. It returns false when another
// booking already holds the slot. Redis being down does not block bookings:
// the hold is advisory, so errors degrade to "acquired".
func (h *SlotHold) Acquire(ctx context.Context, staffID uuid.UUID, day time.Time, t string) bool {
	if h == nil || h.client == nil {
		return true
	}
	ok, err := h.client.SetNX(ctx, holdKey(staffID, day, t), 1, h.ttl).Result()
	if err != nil {
		h.logger.Warn("slot hold unavailable, proceeding without", "error", err)
		return true
	}
	return ok
}

// Release frees the slot before the TTL expires, for bookings that failed
// after acquiring the hold.
func (h *SlotHold) Release(ctx context.Context, staffID uuid.UUID, day time.Time, t string) {
	if h == nil || h.client == nil {
		return
	}
	if err := h.client.Del(ctx, holdKey(staffID, day, t)).Err(); err != nil {
		h.logger.Warn("slot hold release failed", "error", err)
	}
}
