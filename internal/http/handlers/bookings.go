package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/appointments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/payments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

// BookingHandler serves the public booking flow: create a checkout of one
// or more appointments and optionally start payment for it.
type BookingHandler struct {
	appointments *appointments.Service
	payments     *payments.Service
	logger       *logging.Logger
}

// NewBookingHandler creates the public booking handler.
func NewBookingHandler(appts *appointments.Service, pays *payments.Service, logger *logging.Logger) *BookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{appointments: appts, payments: pays, logger: logger}
}

type bookingItemRequest struct {
	ServiceID uuid.UUID  `json:"service_id"`
	Date      string     `json:"date"`
	Time      string     `json:"time"`
	Staff     string     `json:"staff,omitempty"`
	ProgramID *uuid.UUID `json:"program_id,omitempty"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

type createBookingRequest struct {
	ClientID      *uuid.UUID           `json:"client_id,omitempty"`
	ClientName    string               `json:"client_name,omitempty"`
	ClientPhone   string               `json:"client_phone,omitempty"`
	Items         []bookingItemRequest `json:"items"`
	PaymentMethod string               `json:"payment_method,omitempty"`
	AmountCents   int64                `json:"amount_cents,omitempty"`
}

type appointmentView struct {
	ID                uuid.UUID  `json:"id"`
	ClientID          uuid.UUID  `json:"client_id"`
	ServiceID         uuid.UUID  `json:"service_id"`
	ServiceName       string     `json:"service_name"`
	StaffID           *uuid.UUID `json:"staff_id,omitempty"`
	StaffName         string     `json:"staff_name,omitempty"`
	PendingAssignment bool       `json:"pending_assignment"`
	BookingGroupID    *uuid.UUID `json:"booking_group_id,omitempty"`
	ProgramID         *uuid.UUID `json:"program_id,omitempty"`
	SessionID         *uuid.UUID `json:"session_id,omitempty"`
	Date              string     `json:"date"`
	Time              string     `json:"time"`
	Status            string     `json:"status"`
	PaymentState      string     `json:"payment_state"`
	Notes             string     `json:"notes,omitempty"`
	CompletedAt       string     `json:"completed_at,omitempty"`
}

func viewAppointment(a *appointments.Appointment) appointmentView {
	v := appointmentView{
		ID:                a.ID,
		ClientID:          a.ClientID,
		ServiceID:         a.ServiceID,
		ServiceName:       a.ServiceName,
		StaffID:           a.StaffID,
		StaffName:         a.StaffName,
		PendingAssignment: a.PendingAssignment(),
		BookingGroupID:    a.BookingGroupID,
		ProgramID:         a.ProgramID,
		SessionID:         a.SessionID,
		Date:              a.Date.Format(dateLayout),
		Time:              a.StartTime,
		Status:            string(a.Status),
		PaymentState:      string(a.PayState),
		Notes:             a.Notes,
	}
	if a.CompletedAt != nil {
		v.CompletedAt = a.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return v
}

type createBookingResponse struct {
	GroupID      *uuid.UUID        `json:"booking_group_id,omitempty"`
	Appointments []appointmentView `json:"appointments"`
	PaymentID    *uuid.UUID        `json:"payment_id,omitempty"`
	OrderRef     string            `json:"order_ref,omitempty"`
	PayURL       string            `json:"pay_url,omitempty"`
}

// Create handles POST /bookings.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	in := appointments.BookingRequest{
		ClientID:    req.ClientID,
		ClientName:  req.ClientName,
		ClientPhone: req.ClientPhone,
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

	if req.PaymentMethod != "" {
		checkout, err := h.payments.CreateCheckout(r.Context(), payments.CheckoutInput{
			AppointmentID: booking.Appointments[0].ID,
			AmountCents:   req.AmountCents,
			Method:        payments.Method(req.PaymentMethod),
			Description:   booking.Appointments[0].ServiceName,
			ClientIP:      r.RemoteAddr,
		})
		if err != nil {
			// The booking itself stands; the client can retry payment.
			h.logger.Warn("checkout failed after booking", "error", err)
			writeJSON(w, http.StatusCreated, resp)
			return
		}
		resp.PaymentID = &checkout.Payment.ID
		resp.OrderRef = checkout.Payment.OrderRef
		resp.PayURL = checkout.PayURL
	}

	writeJSON(w, http.StatusCreated, resp)
}

// Get handles GET /bookings/{id}, returning one appointment.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := h.appointments.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAppointment(a))
}
