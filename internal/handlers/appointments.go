package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/salonops/booker/internal/booking"
	"github.com/salonops/booker/internal/model"
	"github.com/salonops/booker/internal/storage"
)

type AppointmentHandler struct {
	engine      *booking.Engine
	idempotency *storage.IdempotencyRepository
	logger      *slog.Logger
}

func NewAppointmentHandler(engine *booking.Engine, idempotency *storage.IdempotencyRepository, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{engine: engine, idempotency: idempotency, logger: logger}
}

type serviceSelectionRequest struct {
	ServiceID string `json:"service_id"`
	LedgerID  string `json:"ledger_id,omitempty"`
}

type createAppointmentRequest struct {
	CustomerID    string                    `json:"customer_id"`
	StaffID       string                    `json:"staff_id"`
	Services      []serviceSelectionRequest `json:"services"`
	StartTime     string                    `json:"start_time"`
	Notes         model.Notes               `json:"notes"`
	PaymentMethod string                    `json:"payment_method"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	company := companyID(r)
	if company == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing company scope"})
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json body"})
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid start_time"})
		return
	}
	selections := make([]booking.ServiceSelection, 0, len(req.Services))
	for _, s := range req.Services {
		selections = append(selections, booking.ServiceSelection{
			ServiceID: strings.TrimSpace(s.ServiceID),
			LedgerID:  strings.TrimSpace(s.LedgerID),
		})
	}
	createReq := booking.CreateRequest{
		CompanyID:     company,
		CustomerID:    strings.TrimSpace(req.CustomerID),
		StaffID:       strings.TrimSpace(req.StaffID),
		Selections:    selections,
		StartTime:     start,
		Notes:         req.Notes,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		appt, err := h.engine.CreateAppointment(r.Context(), createReq)
		if err != nil {
			writeError(w, h.logger, "create appointment", err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
		return
	}
	h.createIdempotent(w, r, company, key, createReq)
}

// createIdempotent holds a row lock on the key for the duration of the
// call, so a concurrent retry blocks and then replays the stored
// response instead of booking twice.
func (h *AppointmentHandler) createIdempotent(w http.ResponseWriter, r *http.Request, company, key string, createReq booking.CreateRequest) {
	ctx := r.Context()
	tx, err := h.idempotency.Begin(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, existed, err := h.idempotency.Lock(ctx, tx, company, key)
	if err != nil {
		h.logger.Error("lock idempotency key failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	if existed && rec.StatusCode > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rec.StatusCode)
		_, _ = w.Write(rec.ResponsePayload)
		return
	}

	appt, createErr := h.engine.CreateAppointment(ctx, createReq)
	if createErr != nil {
		status, known := statusFor(createErr)
		if !known {
			// transient failure: leave the key unfinalized so the
			// client can retry with it
			h.logger.Error("create appointment failed", "err", createErr)
			writeJSON(w, status, errorBody{Error: "internal error"})
			return
		}
		body, _ := json.Marshal(errorBody{Error: createErr.Error()})
		if err := h.idempotency.Finalize(ctx, tx, company, key, status, body); err == nil {
			_ = tx.Commit(ctx)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
		return
	}

	body, err := json.Marshal(appt)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	if err := h.idempotency.Finalize(ctx, tx, company, key, http.StatusCreated, body); err != nil {
		h.logger.Error("finalize idempotency key failed", "err", err)
	}
	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("commit idempotency key failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	company := companyID(r)
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if company == "" || id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "company scope and id required"})
		return
	}
	appt, err := h.engine.GetAppointment(r.Context(), company, id)
	if err != nil {
		writeError(w, h.logger, "get appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type updateAppointmentRequest struct {
	AppointmentID string       `json:"appointment_id"`
	StartTime     *string      `json:"start_time"`
	StaffID       *string      `json:"staff_id"`
	Notes         *model.Notes `json:"notes"`
	PaidAmount    *float64     `json:"paid_amount"`
	PaymentMethod *string      `json:"payment_method"`
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	company := companyID(r)
	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json body"})
		return
	}
	if company == "" || req.AppointmentID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "company scope and appointment_id required"})
		return
	}
	patch := booking.Patch{
		StaffID:       req.StaffID,
		Notes:         req.Notes,
		PaidAmount:    req.PaidAmount,
		PaymentMethod: req.PaymentMethod,
	}
	if req.StartTime != nil {
		start, err := time.Parse(time.RFC3339, *req.StartTime)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid start_time"})
			return
		}
		patch.StartTime = &start
	}
	appt, err := h.engine.UpdateAppointment(r.Context(), company, req.AppointmentID, patch)
	if err != nil {
		writeError(w, h.logger, "update appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type cancelAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
	CancelledBy   string `json:"cancelled_by"`
	Reason        string `json:"reason"`
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	company := companyID(r)
	var req cancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json body"})
		return
	}
	if company == "" || req.AppointmentID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "company scope and appointment_id required"})
		return
	}
	appt, err := h.engine.CancelAppointment(r.Context(), company, req.AppointmentID, strings.TrimSpace(req.CancelledBy), strings.TrimSpace(req.Reason))
	if err != nil {
		writeError(w, h.logger, "cancel appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

func (h *AppointmentHandler) Transition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	company := companyID(r)
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json body"})
		return
	}
	if company == "" || req.AppointmentID == "" || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "company scope, appointment_id and status required"})
		return
	}
	appt, err := h.engine.Transition(r.Context(), company, req.AppointmentID, model.AppointmentStatus(req.Status))
	if err != nil {
		writeError(w, h.logger, "transition appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type listResponse struct {
	Appointments []model.Appointment `json:"appointments"`
	Total        int                 `json:"total"`
	Page         int                 `json:"page"`
	Limit        int                 `json:"limit"`
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	company := companyID(r)
	if company == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing company scope"})
		return
	}
	q := r.URL.Query()
	f := booking.Filter{
		CompanyID:  company,
		Status:     model.AppointmentStatus(q.Get("status")),
		StaffID:    q.Get("staff_id"),
		CustomerID: q.Get("customer_id"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid from"})
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid to"})
			return
		}
		f.To = t
	}
	if v := q.Get("page"); v != "" {
		f.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}

	appts, total, err := h.engine.ListByFilter(r.Context(), f)
	if err != nil {
		writeError(w, h.logger, "list appointments", err)
		return
	}
	f.Normalize()
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, listResponse{Appointments: appts, Total: total, Page: f.Page, Limit: f.Limit})
}

func (h *AppointmentHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	company := companyID(r)
	if company == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing company scope"})
		return
	}
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start_date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid start_date"})
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end_date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid end_date"})
		return
	}
	events, err := h.engine.GetCalendarView(r.Context(), company, start, end, q.Get("staff_id"))
	if err != nil {
		writeError(w, h.logger, "calendar view", err)
		return
	}
	if events == nil {
		events = []booking.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
