package model

import "time"

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// CanTransitionTo encodes the forward path of the lifecycle:
// scheduled -> confirmed -> in_progress -> completed. Cancellation and
// no-show promotion are handled by their own operations, not here.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	switch s {
	case StatusScheduled:
		return next == StatusConfirmed || next == StatusInProgress
	case StatusConfirmed:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// PaymentStatusFor derives the payment status from the paid amount.
func PaymentStatusFor(paid, total float64) PaymentStatus {
	switch {
	case paid <= 0:
		return PaymentPending
	case paid < total:
		return PaymentPartial
	default:
		return PaymentPaid
	}
}

// ServiceLine is a priced line item of an appointment. Price and
// duration are snapshots taken at booking time; later catalog edits do
// not affect existing appointments. A line backed by a session ledger
// is billed zero and marked IsSessionConsumption.
type ServiceLine struct {
	ServiceID            string  `json:"service_id"`
	ServiceName          string  `json:"service_name"`
	Price                float64 `json:"price"`
	DurationMins         int     `json:"duration_minutes"`
	LedgerID             string  `json:"ledger_id,omitempty"`
	IsSessionConsumption bool    `json:"is_session_consumption"`
}

type Notes struct {
	Customer string `json:"customer,omitempty"`
	Staff    string `json:"staff,omitempty"`
	Internal string `json:"internal,omitempty"`
}

type Cancellation struct {
	CancelledBy  string    `json:"cancelled_by"`
	CancelledAt  time.Time `json:"cancelled_at"`
	Reason       string    `json:"reason"`
	RefundAmount float64   `json:"refund_amount"`
}

// Reminders tracks notification bookkeeping for an appointment.
// NextReminder is nil once no further reminder is due.
type Reminders struct {
	Sent         []ReminderRecord `json:"sent,omitempty"`
	NextReminder *time.Time       `json:"next_reminder,omitempty"`
}

type ReminderRecord struct {
	Purpose string    `json:"purpose"`
	SentAt  time.Time `json:"sent_at"`
}

type Appointment struct {
	ID            string            `json:"id"`
	CompanyID     string            `json:"company_id"`
	CustomerID    string            `json:"customer_id"`
	StaffID       string            `json:"staff_id"`
	Services      []ServiceLine     `json:"services"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	DurationMins  int               `json:"duration_minutes"`
	Status        AppointmentStatus `json:"status"`
	Notes         Notes             `json:"notes"`
	TotalAmount   float64           `json:"total_amount"`
	PaidAmount    float64           `json:"paid_amount"`
	PaymentStatus PaymentStatus     `json:"payment_status"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	Cancellation  *Cancellation     `json:"cancellation,omitempty"`
	Reminders     Reminders         `json:"reminders"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Recompute derives end time, total duration and total amount from the
// service lines. Session-consuming lines do not contribute to the total.
func (a *Appointment) Recompute() {
	total := 0.0
	duration := 0
	for _, line := range a.Services {
		duration += line.DurationMins
		if !line.IsSessionConsumption {
			total += line.Price
		}
	}
	a.DurationMins = duration
	a.TotalAmount = total
	a.EndTime = a.StartTime.Add(time.Duration(duration) * time.Minute)
}

// Overlaps reports half-open interval intersection with [start, end):
// touching boundaries do not overlap.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}
