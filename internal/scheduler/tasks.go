package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

type Category string

const (
	CategoryNotification Category = "notification"
	CategoryMaintenance  Category = "maintenance"
)

type Kind string

const (
	KindConfirmation  Kind = "notification.confirmation"
	KindReminder      Kind = "notification.reminder"
	KindExpiryWarning Kind = "notification.expiry_warning"

	KindNoShowEvent        Kind = "maintenance.no_show_event"
	KindLedgerExpiredEvent Kind = "maintenance.ledger_expired_event"
)

func (k Kind) Category() Category {
	switch k {
	case KindNoShowEvent, KindLedgerExpiredEvent:
		return CategoryMaintenance
	}
	return CategoryNotification
}

// Task is one queued unit of asynchronous work. Payload is an
// immutable snapshot taken at enqueue time; later entity edits do not
// retroactively change what gets dispatched. IdempotencyKey dedupes
// logically identical enqueues.
type Task struct {
	ID             int64
	Kind           Kind
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	MaxAttempts    int
	RunAt          time.Time
}

// Policy is the retry configuration of one task category.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	Concurrency int
}

// BackoffDelay returns the exponential delay before the next run:
// base, 2*base, 4*base, ... for attempts 1, 2, 3, ...
func BackoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// Queue is the durable task store. Enqueue reports false when the
// idempotency key already exists. FetchDue claims due tasks so
// concurrent workers never double-process a task; a claim lapses after
// a lease window, so tasks stranded by a crashed worker are
// re-delivered on a later fetch.
type Queue interface {
	Enqueue(ctx context.Context, task Task) (bool, error)
	FetchDue(ctx context.Context, category Category, now time.Time, limit int) ([]Task, error)
	MarkDone(ctx context.Context, id int64) error
	Reschedule(ctx context.Context, id int64, attempts int, runAt time.Time, lastError string) error
	MarkExhausted(ctx context.Context, id int64, attempts int, lastError string) error
}

// NotificationPayload is the snapshot carried by notification tasks.
type NotificationPayload struct {
	Purpose        string     `json:"purpose"`
	CompanyID      string     `json:"company_id"`
	AppointmentID  string     `json:"appointment_id,omitempty"`
	LedgerID       string     `json:"ledger_id,omitempty"`
	CustomerName   string     `json:"customer_name"`
	CustomerEmail  string     `json:"customer_email,omitempty"`
	CustomerPhone  string     `json:"customer_phone,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	ServiceNames   []string   `json:"service_names,omitempty"`
	PackageName    string     `json:"package_name,omitempty"`
	RemainingUnits int        `json:"remaining_units,omitempty"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
}

// MaintenancePayload carries a deferred outbox emission.
type MaintenancePayload struct {
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	EventPayload  json.RawMessage `json:"event_payload"`
}
