package availability

import (
	"testing"

	"github.com/google/uuid"
)

func TestSlotMatches(t *testing.T) {
	exact := Slot{Start: "10:00"}
	if !exact.Matches("10:00") {
		t.Error("exact slot should match its start")
	}
	if exact.Matches("10:30") {
		t.Error("exact slot should not match other times")
	}

	window := Slot{Start: "09:00", End: "12:00"}
	for _, tm := range []string{"09:00", "10:30", "11:59"} {
		if !window.Matches(tm) {
			t.Errorf("window should cover %s", tm)
		}
	}
	// Half-open: the end boundary is not bookable.
	for _, tm := range []string{"08:59", "12:00", "13:00"} {
		if window.Matches(tm) {
			t.Errorf("window should not cover %s", tm)
		}
	}
}

func TestSlotAllows(t *testing.T) {
	svcA := uuid.New()
	svcB := uuid.New()

	open := Slot{Start: "10:00"}
	if !open.Allows(svcA) {
		t.Error("slot without allow-list should accept any service")
	}

	restricted := Slot{Start: "10:00", ServiceIDs: []uuid.UUID{svcA}}
	if !restricted.Allows(svcA) {
		t.Error("listed service should be allowed")
	}
	if restricted.Allows(svcB) {
		t.Error("unlisted service should be rejected")
	}
}

func TestSlotFor(t *testing.T) {
	svc := uuid.New()
	other := uuid.New()
	sched := DaySchedule{
		StaffID: uuid.New(),
		Slots: []Slot{
			{Start: "09:00", End: "11:00", ServiceIDs: []uuid.UUID{other}},
			{Start: "09:00", End: "11:00"},
		},
	}

	slot, ok := sched.SlotFor("10:00", svc)
	if !ok {
		t.Fatal("expected the unrestricted slot to match")
	}
	if len(slot.ServiceIDs) != 0 {
		t.Fatalf("matched the wrong slot: %+v", slot)
	}

	if _, ok := sched.SlotFor("12:00", svc); ok {
		t.Fatal("no slot should cover 12:00")
	}
}
