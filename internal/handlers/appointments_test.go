package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/salonops/booker/internal/booking"
	"github.com/salonops/booker/internal/model"
)

type stubCatalog struct{}

func (stubCatalog) GetActiveService(_ context.Context, companyID, serviceID string) (model.ServiceDefinition, error) {
	if serviceID == "svc-missing" {
		return model.ServiceDefinition{}, &booking.NotFoundError{Kind: "service", ID: serviceID}
	}
	return model.ServiceDefinition{
		ID: serviceID, CompanyID: companyID, Name: "Haircut",
		Price: 40, DurationMins: 30, Active: true,
	}, nil
}

func (stubCatalog) StaffExists(context.Context, string, string) (bool, error)    { return true, nil }
func (stubCatalog) CustomerExists(context.Context, string, string) (bool, error) { return true, nil }

type stubStore struct {
	appts  map[string]*model.Appointment
	nextID int
}

func newStubStore() *stubStore {
	return &stubStore{appts: map[string]*model.Appointment{}}
}

func (s *stubStore) CreateAppointment(_ context.Context, appt *model.Appointment) error {
	s.nextID++
	appt.ID = fmt.Sprintf("appt-%d", s.nextID)
	cp := *appt
	s.appts[appt.ID] = &cp
	return nil
}

func (s *stubStore) GetAppointment(_ context.Context, companyID, id string) (*model.Appointment, error) {
	appt, ok := s.appts[id]
	if !ok || appt.CompanyID != companyID {
		return nil, &booking.NotFoundError{Kind: "appointment", ID: id}
	}
	cp := *appt
	return &cp, nil
}

func (s *stubStore) UpdateAppointment(_ context.Context, appt *model.Appointment) error {
	cp := *appt
	s.appts[appt.ID] = &cp
	return nil
}

func (s *stubStore) CancelAppointment(_ context.Context, appt *model.Appointment) error {
	cp := *appt
	s.appts[appt.ID] = &cp
	return nil
}

func (s *stubStore) ListOverlapping(_ context.Context, companyID, staffID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, appt := range s.appts {
		if appt.CompanyID != companyID || appt.StaffID != staffID || appt.ID == excludeID {
			continue
		}
		if appt.Status == model.StatusCancelled {
			continue
		}
		if appt.Overlaps(start, end) {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (s *stubStore) ListAppointments(_ context.Context, f booking.Filter) ([]model.Appointment, int, error) {
	var out []model.Appointment
	for _, appt := range s.appts {
		if appt.CompanyID == f.CompanyID {
			out = append(out, *appt)
		}
	}
	return out, len(out), nil
}

func (s *stubStore) GetLedger(_ context.Context, _, id string) (*model.SessionLedger, error) {
	return nil, &booking.NotFoundError{Kind: "ledger", ID: id}
}

func newTestHandler(t *testing.T, store *stubStore) (*AppointmentHandler, *booking.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := booking.NewEngine(store, stubCatalog{}, nil, logger)
	return NewAppointmentHandler(engine, nil, logger), engine
}

func createBody(start time.Time) []byte {
	body, _ := json.Marshal(map[string]any{
		"customer_id": "cust-1",
		"staff_id":    "staff-1",
		"services":    []map[string]string{{"service_id": "svc-1"}},
		"start_time":  start.Format(time.RFC3339),
	})
	return body
}

func TestCreateAppointmentReturns201(t *testing.T) {
	h, _ := newTestHandler(t, newStubStore())
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", bytes.NewReader(createBody(start)))
	req.Header.Set(companyHeader, "co-1")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body)
	}
	var appt model.Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if appt.ID == "" || appt.Status != model.StatusScheduled {
		t.Fatalf("unexpected appointment in response: %+v", appt)
	}
	if appt.TotalAmount != 40 {
		t.Fatalf("total = %v, want 40", appt.TotalAmount)
	}

	// The wire format is snake_case throughout, top-level fields included.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode raw response: %v", err)
	}
	for _, key := range []string{"id", "start_time", "end_time", "payment_status"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("response missing %q field; keys: %v", key, rec.Body.String())
		}
	}
	if _, ok := raw["StartTime"]; ok {
		t.Fatal("response leaked Go field names")
	}
}

func TestCreateAppointmentRequiresCompanyScope(t *testing.T) {
	h, _ := newTestHandler(t, newStubStore())
	start := time.Now().UTC().Add(48 * time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", bytes.NewReader(createBody(start)))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateAppointmentConflictMapsTo409(t *testing.T) {
	h, _ := newTestHandler(t, newStubStore())
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)

	for i, wantStatus := range []int{http.StatusCreated, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", bytes.NewReader(createBody(start)))
		req.Header.Set(companyHeader, "co-1")
		rec := httptest.NewRecorder()
		h.Create(rec, req)
		if rec.Code != wantStatus {
			t.Fatalf("request %d: status = %d, want %d; body: %s", i, rec.Code, wantStatus, rec.Body)
		}
	}
}

func TestCreateAppointmentUnknownServiceMapsTo404(t *testing.T) {
	h, _ := newTestHandler(t, newStubStore())
	body, _ := json.Marshal(map[string]any{
		"customer_id": "cust-1",
		"staff_id":    "staff-1",
		"services":    []map[string]string{{"service_id": "svc-missing"}},
		"start_time":  time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", bytes.NewReader(body))
	req.Header.Set(companyHeader, "co-1")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body: %s", rec.Code, rec.Body)
	}
}

func TestGetAppointmentUnknownIDReturns404(t *testing.T) {
	h, _ := newTestHandler(t, newStubStore())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/get?id=nope", nil)
	req.Header.Set(companyHeader, "co-1")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCancelInsideLeadTimeMapsTo422(t *testing.T) {
	store := newStubStore()
	h, engine := newTestHandler(t, store)

	// 12h ahead: bookable, but inside the cancellation window
	start := time.Now().UTC().Add(12 * time.Hour)
	appt, err := engine.CreateAppointment(context.Background(), booking.CreateRequest{
		CompanyID:  "co-1",
		CustomerID: "cust-1",
		StaffID:    "staff-1",
		Selections: []booking.ServiceSelection{{ServiceID: "svc-1"}},
		StartTime:  start,
	})
	if err != nil {
		t.Fatalf("seed appointment: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"appointment_id": appt.ID, "cancelled_by": "customer"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel", bytes.NewReader(body))
	req.Header.Set(companyHeader, "co-1")
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body: %s", rec.Code, rec.Body)
	}
}

func TestTransitionRejectsBackwardStep(t *testing.T) {
	store := newStubStore()
	h, engine := newTestHandler(t, store)
	appt, err := engine.CreateAppointment(context.Background(), booking.CreateRequest{
		CompanyID:  "co-1",
		CustomerID: "cust-1",
		StaffID:    "staff-1",
		Selections: []booking.ServiceSelection{{ServiceID: "svc-1"}},
		StartTime:  time.Now().UTC().Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed appointment: %v", err)
	}

	// completed is two steps ahead of scheduled
	body, _ := json.Marshal(map[string]string{"appointment_id": appt.ID, "status": "completed"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/transition", bytes.NewReader(body))
	req.Header.Set(companyHeader, "co-1")
	rec := httptest.NewRecorder()
	h.Transition(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body: %s", rec.Code, rec.Body)
	}
}

func TestListDefaultsPaging(t *testing.T) {
	h, _ := newTestHandler(t, newStubStore())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set(companyHeader, "co-1")
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Page != 1 || resp.Limit != 20 {
		t.Fatalf("page/limit = %d/%d, want 1/20", resp.Page, resp.Limit)
	}
}
