package handlers

import (
	"net/http"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/appointments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/payments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

// AdminAppointmentsHandler serves the admin appointment lifecycle: direct
// booking entry, confirmation, generic updates, cancellation, hard delete,
// and cash collection.
type AdminAppointmentsHandler struct {
	appointments *appointments.Service
	payments     *payments.Service
	logger       *logging.Logger
}

// NewAdminAppointmentsHandler creates the admin appointments handler.
func NewAdminAppointmentsHandler(appts *appointments.Service, pays *payments.Service, logger *logging.Logger) *AdminAppointmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminAppointmentsHandler{appointments: appts, payments: pays, logger: logger}
}

// CreateDirect handles POST /admin/appointments: the walk-in and phone-call
// entry path where the admin books on the client's behalf and the
// appointment starts pre-confirmed.
func (h *AdminAppointmentsHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	in := appointments.BookingRequest{
		ClientID:    req.ClientID,
		ClientName:  req.ClientName,
		ClientPhone: req.ClientPhone,
		AdminDirect: true,
	}
	for _, item := range req.Items {
		day, err := parseDate(item.Date)
		if err != nil {
			writeError(w, err)
			return
		}
		in.Items = append(in.Items, appointments.BookingItem{
			ServiceID: item.ServiceID,
			Date:      day,
			StartTime: item.Time,
			Staff:     item.Staff,
			ProgramID: item.ProgramID,
			SessionID: item.SessionID,
			Notes:     item.Notes,
		})
	}

	booking, err := h.appointments.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := createBookingResponse{GroupID: booking.GroupID}
	for _, a := range booking.Appointments {
		resp.Appointments = append(resp.Appointments, viewAppointment(a))
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Confirm handles POST /admin/appointments/{id}/confirm.
func (h *AdminAppointmentsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := h.appointments.Confirm(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAppointment(a))
}

type updateAppointmentRequest struct {
	Staff              *string `json:"staff,omitempty"`
	Date               *string `json:"date,omitempty"`
	Time               *string `json:"time,omitempty"`
	Status             *string `json:"status,omitempty"`
	PaymentState       *string `json:"payment_state,omitempty"`
	Notes              *string `json:"notes,omitempty"`
	ClinicalNotes      string  `json:"clinical_notes,omitempty"`
	NextRecommendation string  `json:"next_recommendation,omitempty"`
}

// Update handles PATCH /admin/appointments/{id}.
func (h *AdminAppointmentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	patch := appointments.UpdatePatch{
		Staff:              req.Staff,
		StartTime:          req.Time,
		Notes:              req.Notes,
		ClinicalNotes:      req.ClinicalNotes,
		NextRecommendation: req.NextRecommendation,
	}
	if req.Date != nil {
		day, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, err)
			return
		}
		patch.Date = &day
	}
	if req.Status != nil {
		s := appointments.Status(*req.Status)
		patch.Status = &s
	}
	if req.PaymentState != nil {
		p := appointments.PayState(*req.PaymentState)
		patch.PayState = &p
	}

	a, err := h.appointments.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAppointment(a))
}

// Cancel handles POST /admin/appointments/{id}/cancel.
func (h *AdminAppointmentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := h.appointments.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAppointment(a))
}

// Delete handles DELETE /admin/appointments/{id}.
func (h *AdminAppointmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.appointments.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CollectCash handles POST /admin/payments/{id}/collect.
func (h *AdminAppointmentsHandler) CollectCash(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.payments.MarkCashCollected(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment_id": p.ID,
		"status":     p.Status,
		"paid_at":    p.PaidAt,
	})
}
