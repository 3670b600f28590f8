// Package availability is the read-only staff availability index: per-staff,
// per-date sets of bookable time slots, each optionally restricted to a
// subset of services.
package availability

import "github.com/google/uuid"

// Slot is one bookable window in a staff member's day. Times are "HH:MM"
// 24-hour strings, which compare correctly as plain strings. An empty
// ServiceIDs list means the slot accepts any service.
type Slot struct {
	Start      string      `json:"start"`
	End        string      `json:"end,omitempty"`
	ServiceIDs []uuid.UUID `json:"service_ids,omitempty"`
}

// Matches reports whether a booking at time t falls inside the slot. Slots
// without an end time match only their exact start.
func (s Slot) Matches(t string) bool {
	if s.End == "" {
		return s.Start == t
	}
	return s.Start <= t && t < s.End
}

// Allows reports whether the slot accepts the given service.
func (s Slot) Allows(serviceID uuid.UUID) bool {
	if len(s.ServiceIDs) == 0 {
		return true
	}
	for _, id := range s.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// DaySchedule is one staff member's bookable slots for one date.
type DaySchedule struct {
	StaffID uuid.UUID
	Slots   []Slot
}

// SlotFor returns the slot covering time t that accepts the service, if any.
func (d DaySchedule) SlotFor(t string, serviceID uuid.UUID) (Slot, bool) {
	for _, slot := range d.Slots {
		if slot.Matches(t) && slot.Allows(serviceID) {
			return slot, true
		}
	}
	return Slot{}, false
}
