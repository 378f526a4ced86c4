package booking

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/salonops/booker/internal/model"
)

// CancellationLeadTime is the minimum gap between cancellation and the
// appointment start. Inside this window only no-show or completion can
// end the appointment.
const CancellationLeadTime = 24 * time.Hour

// DefaultReminderLead controls when the first reminder becomes due.
const DefaultReminderLead = 24 * time.Hour

// Catalog resolves booking references within a company scope.
type Catalog interface {
	GetActiveService(ctx context.Context, companyID, serviceID string) (model.ServiceDefinition, error)
	StaffExists(ctx context.Context, companyID, staffID string) (bool, error)
	CustomerExists(ctx context.Context, companyID, customerID string) (bool, error)
}

// Store is the persistence boundary of the engine. CreateAppointment
// and CancelAppointment are atomic: the appointment write and all
// ledger consumptions (or refunds) commit or roll back together.
type Store interface {
	CreateAppointment(ctx context.Context, appt *model.Appointment) error
	GetAppointment(ctx context.Context, companyID, id string) (*model.Appointment, error)
	UpdateAppointment(ctx context.Context, appt *model.Appointment) error
	CancelAppointment(ctx context.Context, appt *model.Appointment) error
	ListOverlapping(ctx context.Context, companyID, staffID string, start, end time.Time, excludeID string) ([]model.Appointment, error)
	ListAppointments(ctx context.Context, f Filter) ([]model.Appointment, int, error)
	GetLedger(ctx context.Context, companyID, id string) (*model.SessionLedger, error)
}

// Notifier enqueues notification tasks for a freshly created
// appointment. Enqueue failures are logged, never surfaced: dispatch is
// an asynchronous side effect of booking.
type Notifier interface {
	QueueConfirmation(ctx context.Context, appt *model.Appointment) error
	QueueReminder(ctx context.Context, appt *model.Appointment, delay time.Duration) error
}

type Engine struct {
	store    Store
	catalog  Catalog
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(store Store, catalog Catalog, notifier Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		catalog:  catalog,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ServiceSelection is one requested line item. LedgerID is optional; a
// usable ledger turns the line into a session consumption billed zero.
type ServiceSelection struct {
	ServiceID string
	LedgerID  string
}

type CreateRequest struct {
	CompanyID     string
	CustomerID    string
	StaffID       string
	Selections    []ServiceSelection
	StartTime     time.Time
	Notes         model.Notes
	PaymentMethod string
}

func (e *Engine) CreateAppointment(ctx context.Context, req CreateRequest) (*model.Appointment, error) {
	if req.CompanyID == "" {
		return nil, &ValidationError{Field: "company_id", Reason: "required"}
	}
	if req.CustomerID == "" {
		return nil, &ValidationError{Field: "customer_id", Reason: "required"}
	}
	if req.StaffID == "" {
		return nil, &ValidationError{Field: "staff_id", Reason: "required"}
	}
	if len(req.Selections) == 0 {
		return nil, &ValidationError{Field: "services", Reason: "at least one service required"}
	}
	if req.StartTime.IsZero() {
		return nil, &ValidationError{Field: "start_time", Reason: "required"}
	}

	if ok, err := e.catalog.StaffExists(ctx, req.CompanyID, req.StaffID); err != nil {
		return nil, err
	} else if !ok {
		return nil, &NotFoundError{Kind: "staff", ID: req.StaffID}
	}
	if ok, err := e.catalog.CustomerExists(ctx, req.CompanyID, req.CustomerID); err != nil {
		return nil, err
	} else if !ok {
		return nil, &NotFoundError{Kind: "customer", ID: req.CustomerID}
	}

	lines := make([]model.ServiceLine, 0, len(req.Selections))
	for _, sel := range req.Selections {
		svc, err := e.catalog.GetActiveService(ctx, req.CompanyID, sel.ServiceID)
		if err != nil {
			return nil, err
		}
		line := model.ServiceLine{
			ServiceID:    svc.ID,
			ServiceName:  svc.Name,
			Price:        svc.Price,
			DurationMins: svc.DurationMins,
		}
		if sel.LedgerID != "" {
			led, err := e.store.GetLedger(ctx, req.CompanyID, sel.LedgerID)
			if err != nil {
				return nil, err
			}
			if led.CustomerID != req.CustomerID {
				return nil, &ValidationError{Field: "ledger_id", Reason: "ledger belongs to another customer"}
			}
			if led.Usable(e.now()) {
				line.LedgerID = led.ID
				line.IsSessionConsumption = true
				line.Price = 0
			}
		}
		lines = append(lines, line)
	}

	now := e.now()
	appt := &model.Appointment{
		CompanyID:     req.CompanyID,
		CustomerID:    req.CustomerID,
		StaffID:       req.StaffID,
		Services:      lines,
		StartTime:     req.StartTime.UTC(),
		Status:        model.StatusScheduled,
		Notes:         req.Notes,
		PaymentStatus: model.PaymentPending,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     now,
	}
	appt.Recompute()
	if appt.DurationMins <= 0 {
		return nil, &ValidationError{Field: "services", Reason: "total duration must be positive"}
	}

	if reminderAt := appt.StartTime.Add(-DefaultReminderLead); reminderAt.After(now) {
		appt.Reminders.NextReminder = &reminderAt
	}

	if err := e.checkConflict(ctx, req.CompanyID, req.StaffID, appt.StartTime, appt.EndTime, ""); err != nil {
		return nil, err
	}

	// The store commits the appointment and every session consumption in
	// one transaction; a ledger that went unusable since the check above
	// fails the whole call.
	if err := e.store.CreateAppointment(ctx, appt); err != nil {
		return nil, err
	}

	if e.notifier != nil {
		if err := e.notifier.QueueConfirmation(ctx, appt); err != nil {
			e.logger.Error("queue confirmation failed", "appointment_id", appt.ID, "err", err)
		}
		if delay := appt.StartTime.Add(-DefaultReminderLead).Sub(now); delay > 0 {
			if err := e.notifier.QueueReminder(ctx, appt, delay); err != nil {
				e.logger.Error("queue reminder failed", "appointment_id", appt.ID, "err", err)
			}
		}
	}
	return appt, nil
}

func (e *Engine) GetAppointment(ctx context.Context, companyID, id string) (*model.Appointment, error) {
	if companyID == "" {
		return nil, &ValidationError{Field: "company_id", Reason: "required"}
	}
	return e.store.GetAppointment(ctx, companyID, id)
}

// Patch carries the mutable appointment fields. Nil pointers leave the
// field untouched.
type Patch struct {
	StartTime     *time.Time
	StaffID       *string
	Notes         *model.Notes
	PaidAmount    *float64
	PaymentMethod *string
}

func (e *Engine) UpdateAppointment(ctx context.Context, companyID, id string, patch Patch) (*model.Appointment, error) {
	appt, err := e.store.GetAppointment(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if appt.Status.IsTerminal() {
		return nil, &StateError{Op: "update", Reason: "appointment is " + string(appt.Status)}
	}

	reschedule := false
	if patch.StaffID != nil && *patch.StaffID != appt.StaffID {
		if ok, err := e.catalog.StaffExists(ctx, companyID, *patch.StaffID); err != nil {
			return nil, err
		} else if !ok {
			return nil, &NotFoundError{Kind: "staff", ID: *patch.StaffID}
		}
		appt.StaffID = *patch.StaffID
		reschedule = true
	}
	if patch.StartTime != nil && !patch.StartTime.Equal(appt.StartTime) {
		appt.StartTime = patch.StartTime.UTC()
		appt.Recompute()
		reschedule = true
	}
	if patch.Notes != nil {
		appt.Notes = *patch.Notes
	}
	if patch.PaymentMethod != nil {
		appt.PaymentMethod = *patch.PaymentMethod
	}
	if patch.PaidAmount != nil {
		if *patch.PaidAmount < 0 {
			return nil, &ValidationError{Field: "paid_amount", Reason: "must not be negative"}
		}
		appt.PaidAmount = *patch.PaidAmount
		appt.PaymentStatus = model.PaymentStatusFor(appt.PaidAmount, appt.TotalAmount)
	}

	if reschedule {
		if err := e.checkConflict(ctx, companyID, appt.StaffID, appt.StartTime, appt.EndTime, appt.ID); err != nil {
			return nil, err
		}
		if reminderAt := appt.StartTime.Add(-DefaultReminderLead); reminderAt.After(e.now()) {
			appt.Reminders.NextReminder = &reminderAt
		} else {
			appt.Reminders.NextReminder = nil
		}
	}

	appt.UpdatedAt = e.now()
	if err := e.store.UpdateAppointment(ctx, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// CancelAppointment ends a scheduled or confirmed appointment at least
// 24 hours ahead of its start. Session-consuming line items hand their
// units back to the ledger. Cancelling an appointment that is already
// cancelled is a no-op, so refunds cannot double-apply.
func (e *Engine) CancelAppointment(ctx context.Context, companyID, id, cancelledBy, reason string) (*model.Appointment, error) {
	appt, err := e.store.GetAppointment(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == model.StatusCancelled {
		return appt, nil
	}
	if appt.Status != model.StatusScheduled && appt.Status != model.StatusConfirmed {
		return nil, &StateError{Op: "cancel", Reason: "appointment is " + string(appt.Status)}
	}
	now := e.now()
	if appt.StartTime.Sub(now) < CancellationLeadTime {
		return nil, &StateError{Op: "cancel", Reason: "less than 24h before start"}
	}

	appt.Status = model.StatusCancelled
	appt.Cancellation = &model.Cancellation{
		CancelledBy:  cancelledBy,
		CancelledAt:  now,
		Reason:       reason,
		RefundAmount: appt.PaidAmount,
	}
	appt.Reminders.NextReminder = nil
	appt.UpdatedAt = now

	// Status write and all ledger refunds share one transaction.
	if err := e.store.CancelAppointment(ctx, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// Transition advances the lifecycle by one explicit step.
func (e *Engine) Transition(ctx context.Context, companyID, id string, next model.AppointmentStatus) (*model.Appointment, error) {
	switch next {
	case model.StatusConfirmed, model.StatusInProgress, model.StatusCompleted:
	default:
		return nil, &ValidationError{Field: "status", Reason: "not an explicit transition target: " + string(next)}
	}

	appt, err := e.store.GetAppointment(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if !appt.Status.CanTransitionTo(next) {
		return nil, &StateError{Op: "transition", Reason: string(appt.Status) + " cannot become " + string(next)}
	}
	appt.Status = next
	appt.UpdatedAt = e.now()
	if err := e.store.UpdateAppointment(ctx, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// Filter selects appointments for listing. Limit is clamped to 100.
type Filter struct {
	CompanyID  string
	Status     model.AppointmentStatus
	StaffID    string
	CustomerID string
	From       time.Time
	To         time.Time
	Page       int
	Limit      int
}

func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
}

func (e *Engine) ListByFilter(ctx context.Context, f Filter) ([]model.Appointment, int, error) {
	if f.CompanyID == "" {
		return nil, 0, &ValidationError{Field: "company_id", Reason: "required"}
	}
	f.Normalize()
	return e.store.ListAppointments(ctx, f)
}

// CalendarEvent is the flattened projection served to calendar UIs.
type CalendarEvent struct {
	ID           string                  `json:"id"`
	Title        string                  `json:"title"`
	Start        time.Time               `json:"start"`
	End          time.Time               `json:"end"`
	Status       model.AppointmentStatus `json:"status"`
	StaffID      string                  `json:"staff_id"`
	ServiceNames []string                `json:"service_names"`
	Amount       float64                 `json:"amount"`
}

func (e *Engine) GetCalendarView(ctx context.Context, companyID string, start, end time.Time, staffID string) ([]CalendarEvent, error) {
	if companyID == "" {
		return nil, &ValidationError{Field: "company_id", Reason: "required"}
	}
	if !end.After(start) {
		return nil, &ValidationError{Field: "end_date", Reason: "must be after start_date"}
	}

	// Calendar ranges are bounded by the date window, not by paging.
	appts, _, err := e.store.ListAppointments(ctx, Filter{
		CompanyID: companyID,
		StaffID:   staffID,
		From:      start,
		To:        end,
		Page:      1,
		Limit:     1000,
	})
	if err != nil {
		return nil, err
	}

	events := make([]CalendarEvent, 0, len(appts))
	for _, a := range appts {
		names := make([]string, 0, len(a.Services))
		for _, line := range a.Services {
			names = append(names, line.ServiceName)
		}
		events = append(events, CalendarEvent{
			ID:           a.ID,
			Title:        strings.Join(names, ", "),
			Start:        a.StartTime,
			End:          a.EndTime,
			Status:       a.Status,
			StaffID:      a.StaffID,
			ServiceNames: names,
			Amount:       a.TotalAmount,
		})
	}
	return events, nil
}

// checkConflict scans non-cancelled appointments of the target staff
// for half-open interval intersection. The database additionally holds
// an exclusion constraint covering the race between two concurrent
// bookings that both pass this check before either commits.
func (e *Engine) checkConflict(ctx context.Context, companyID, staffID string, start, end time.Time, excludeID string) error {
	overlapping, err := e.store.ListOverlapping(ctx, companyID, staffID, start, end, excludeID)
	if err != nil {
		return err
	}
	if len(overlapping) > 0 {
		return &SchedulingConflict{StaffID: staffID, Start: start, End: end}
	}
	return nil
}

// SetClock overrides the engine's time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}
