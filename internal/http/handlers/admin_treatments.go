package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/treatments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

// AdminTreatmentsHandler serves treatment program management: templates,
// client programs, enrollment, pause/resume, and the session ledger.
type AdminTreatmentsHandler struct {
	engine *treatments.Engine
	logger *logging.Logger
}

// NewAdminTreatmentsHandler creates the admin treatments handler.
func NewAdminTreatmentsHandler(engine *treatments.Engine, logger *logging.Logger) *AdminTreatmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminTreatmentsHandler{engine: engine, logger: logger}
}

type programView struct {
	ID                 uuid.UUID   `json:"id"`
	ClientID           *uuid.UUID  `json:"client_id,omitempty"`
	TemplateID         *uuid.UUID  `json:"template_id,omitempty"`
	IsTemplate         bool        `json:"is_template"`
	Name               string      `json:"name"`
	ServiceIDs         []uuid.UUID `json:"service_ids,omitempty"`
	ConsultantName     string      `json:"consultant_name,omitempty"`
	TotalSessions      int         `json:"total_sessions"`
	SessionsPerWeek    int         `json:"sessions_per_week"`
	SessionDurationMin int         `json:"session_duration_min"`
	StartDate          string      `json:"start_date,omitempty"`
	ExpiryDate         string      `json:"expiry_date,omitempty"`
	CompletedSessions  int         `json:"completed_sessions"`
	ProgressPercent    int         `json:"progress_percent"`
	Status             string      `json:"status"`
	Expired            bool        `json:"expired"`
	Paused             bool        `json:"paused"`
	PauseReason        string      `json:"pause_reason,omitempty"`
}

func viewProgram(p *treatments.Program) programView {
	v := programView{
		ID:                 p.ID,
		ClientID:           p.ClientID,
		TemplateID:         p.TemplateID,
		IsTemplate:         p.IsTemplate(),
		Name:               p.Name,
		ServiceIDs:         p.ServiceIDs,
		ConsultantName:     p.ConsultantName,
		TotalSessions:      p.TotalSessions,
		SessionsPerWeek:    p.SessionsPerWeek,
		SessionDurationMin: p.SessionDurationMin,
		CompletedSessions:  p.CompletedSessions,
		ProgressPercent:    p.ProgressPercent,
		Status:             string(p.Status),
		Expired:            p.ExpiredNow(time.Now()),
		Paused:             p.Paused,
		PauseReason:        p.PauseReason,
	}
	if p.StartDate != nil {
		v.StartDate = p.StartDate.Format(dateLayout)
	}
	if p.ExpiryDate != nil {
		v.ExpiryDate = p.ExpiryDate.Format(dateLayout)
	}
	return v
}

type sessionView struct {
	ID                 uuid.UUID  `json:"id"`
	ProgramID          uuid.UUID  `json:"program_id"`
	Seq                int        `json:"seq"`
	Status             string     `json:"status"`
	ScheduledDate      string     `json:"scheduled_date,omitempty"`
	ScheduledTime      string     `json:"scheduled_time,omitempty"`
	AppointmentID      *uuid.UUID `json:"appointment_id,omitempty"`
	ClinicalNotes      string     `json:"clinical_notes,omitempty"`
	NextRecommendation string     `json:"next_recommendation,omitempty"`
	StaleSchedule      bool       `json:"stale_schedule"`
}

func viewSession(s *treatments.Session) sessionView {
	v := sessionView{
		ID:                 s.ID,
		ProgramID:          s.ProgramID,
		Seq:                s.Seq,
		Status:             string(s.Status),
		ScheduledTime:      s.ScheduledTime,
		AppointmentID:      s.AppointmentID,
		ClinicalNotes:      s.ClinicalNotes,
		NextRecommendation: s.NextRecommendation,
		StaleSchedule:      s.StaleSchedule,
	}
	if s.ScheduledDate != nil {
		v.ScheduledDate = s.ScheduledDate.Format(dateLayout)
	}
	return v
}

type createProgramRequest struct {
	IsTemplate         bool        `json:"is_template,omitempty"`
	ClientID           *uuid.UUID  `json:"client_id,omitempty"`
	Name               string      `json:"name"`
	ServiceIDs         []uuid.UUID `json:"service_ids,omitempty"`
	ConsultantName     string      `json:"consultant_name,omitempty"`
	TotalSessions      int         `json:"total_sessions"`
	SessionsPerWeek    int         `json:"sessions_per_week"`
	SessionDurationMin int         `json:"session_duration_min"`
	StartDate          string      `json:"start_date,omitempty"`
}

// Create handles POST /admin/programs: a template when is_template is set,
// otherwise a client program with its session ledger.
func (h *AdminTreatmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProgramRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if req.IsTemplate {
		p, err := h.engine.CreateTemplate(r.Context(), treatments.TemplateInput{
			Name:               req.Name,
			ServiceIDs:         req.ServiceIDs,
			ConsultantName:     req.ConsultantName,
			TotalSessions:      req.TotalSessions,
			SessionsPerWeek:    req.SessionsPerWeek,
			SessionDurationMin: req.SessionDurationMin,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, viewProgram(p))
		return
	}

	in := treatments.ProgramInput{
		Name:               req.Name,
		ServiceIDs:         req.ServiceIDs,
		ConsultantName:     req.ConsultantName,
		TotalSessions:      req.TotalSessions,
		SessionsPerWeek:    req.SessionsPerWeek,
		SessionDurationMin: req.SessionDurationMin,
	}
	if req.ClientID != nil {
		in.ClientID = *req.ClientID
	}
	if req.StartDate != "" {
		day, err := parseDate(req.StartDate)
		if err != nil {
			writeError(w, err)
			return
		}
		in.StartDate = day
	}

	p, err := h.engine.CreateProgram(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewProgram(p))
}

type enrollRequest struct {
	ClientID  uuid.UUID `json:"client_id"`
	StartDate string    `json:"start_date"`
}

// Enroll handles POST /admin/programs/{id}/enroll, instantiating a template
// for a client.
func (h *AdminTreatmentsHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	templateID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req enrollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := h.engine.Enroll(r.Context(), templateID, req.ClientID, start)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewProgram(p))
}

// Progress handles GET /admin/programs/{id}, returning the program and its
// full session ledger.
func (h *AdminTreatmentsHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, sessions, err := h.engine.Progress(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, viewSession(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"program":  viewProgram(p),
		"sessions": views,
	})
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

// Pause handles POST /admin/programs/{id}/pause.
func (h *AdminTreatmentsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req pauseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.engine.Pause(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewProgram(p))
}

type resumeRequest struct {
	ExtendDays *int `json:"extend_days,omitempty"`
}

// Resume handles POST /admin/programs/{id}/resume. Without extend_days the
// expiry moves out by the paused duration.
func (h *AdminTreatmentsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req resumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.engine.Resume(r.Context(), id, req.ExtendDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewProgram(p))
}

type scheduleSessionRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// ScheduleSession handles POST /admin/sessions/{id}/schedule for sessions
// managed without a booked appointment.
func (h *AdminTreatmentsHandler) ScheduleSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req scheduleSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	day, err := parseDate(req.Date)
	if err != nil {
		writeError(w, err)
		return
	}

	s, err := h.engine.ScheduleSession(r.Context(), id, day, req.Time, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(s))
}

type completeSessionRequest struct {
	ClinicalNotes      string `json:"clinical_notes,omitempty"`
	NextRecommendation string `json:"next_recommendation,omitempty"`
}

// CompleteSession handles POST /admin/sessions/{id}/complete.
func (h *AdminTreatmentsHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req completeSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s, err := h.engine.CompleteSession(r.Context(), id, req.ClinicalNotes, req.NextRecommendation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(s))
}
