package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/availability"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

// AvailabilityHandler exposes the staff availability index for a date.
type AvailabilityHandler struct {
	repo   *availability.Repository
	logger *logging.Logger
}

// NewAvailabilityHandler creates the availability handler.
func NewAvailabilityHandler(repo *availability.Repository, logger *logging.Logger) *AvailabilityHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AvailabilityHandler{repo: repo, logger: logger}
}

type slotView struct {
	Start      string      `json:"start"`
	End        string      `json:"end,omitempty"`
	ServiceIDs []uuid.UUID `json:"service_ids,omitempty"`
}

type dayScheduleView struct {
	StaffID uuid.UUID  `json:"staff_id"`
	Slots   []slotView `json:"slots"`
}

// ListForDate handles GET /availability?date=YYYY-MM-DD.
func (h *AvailabilityHandler) ListForDate(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, apperr.New(apperr.KindValidation, "date query parameter is required"))
		return
	}
	day, err := parseDate(raw)
	if err != nil {
		writeError(w, err)
		return
	}

	schedules, err := h.repo.ListForDate(r.Context(), day)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]dayScheduleView, 0, len(schedules))
	for _, s := range schedules {
		v := dayScheduleView{StaffID: s.StaffID, Slots: make([]slotView, 0, len(s.Slots))}
		for _, slot := range s.Slots {
			v.Slots = append(v.Slots, slotView{Start: slot.Start, End: slot.End, ServiceIDs: slot.ServiceIDs})
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": raw, "staff": out})
}
