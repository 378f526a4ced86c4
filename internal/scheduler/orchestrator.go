package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/salonops/booker/internal/model"
	"github.com/salonops/booker/internal/notify"
	"github.com/salonops/booker/internal/outbox"
)

// SweepStore is the read/promote surface the periodic sweeps run
// against. Promotions are performed by the store so a crash between
// sweep and task enqueue never loses the status change.
type SweepStore interface {
	DueReminders(ctx context.Context, until time.Time) ([]model.Appointment, error)
	MarkReminderSent(ctx context.Context, companyID, appointmentID, purpose string, at time.Time) error
	PromoteNoShows(ctx context.Context, now time.Time) ([]model.Appointment, error)
	ExpireLedgers(ctx context.Context, now time.Time) ([]model.SessionLedger, error)
	LedgersExpiringWithin(ctx context.Context, from, until time.Time) ([]model.SessionLedger, error)
}

// Contact is a customer's notification endpoints at snapshot time.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// Directory resolves customer contact details for payload snapshots.
type Directory interface {
	CustomerContact(ctx context.Context, companyID, customerID string) (Contact, error)
}

// EventSink receives the outbox events produced by maintenance tasks.
type EventSink interface {
	Emit(ctx context.Context, evt outbox.Event) error
}

// Config controls sweep cadence and per-category retry behavior.
type Config struct {
	SweepInterval  time.Duration
	WorkerInterval time.Duration
	BatchSize      int
	Notification   Policy
	Maintenance    Policy
	// ReminderHorizon is how far ahead the reminder sweep looks for
	// appointments whose reminder is due.
	ReminderHorizon time.Duration
	// WarningWindow is how close to expiry a ledger must be before
	// the expiry-warning sweep notifies its owner.
	WarningWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:   time.Minute,
		WorkerInterval:  2 * time.Second,
		BatchSize:       50,
		Notification:    Policy{MaxAttempts: 3, BackoffBase: 30 * time.Second, Concurrency: 4},
		Maintenance:     Policy{MaxAttempts: 2, BackoffBase: 30 * time.Second, Concurrency: 2},
		ReminderHorizon: 5 * time.Minute,
		WarningWindow:   7 * 24 * time.Hour,
	}
}

// Orchestrator owns the sweep tickers and the per-category worker
// pools. It holds no package-level state; two instances with separate
// stores are fully independent.
type Orchestrator struct {
	queue      Queue
	store      SweepStore
	directory  Directory
	dispatcher notify.Dispatcher
	sink       EventSink
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(queue Queue, store SweepStore, directory Directory, dispatcher notify.Dispatcher, sink EventSink, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.WorkerInterval <= 0 {
		cfg.WorkerInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Orchestrator{
		queue:      queue,
		store:      store,
		directory:  directory,
		dispatcher: dispatcher,
		sink:       sink,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Start launches the sweep loop and one worker pool per category.
// It returns immediately; background goroutines stop when ctx is
// cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.sweepLoop(ctx)
	}()

	for _, w := range []*worker{
		newWorker(o, CategoryNotification, o.cfg.Notification),
		newWorker(o, CategoryMaintenance, o.cfg.Maintenance),
	} {
		w := w
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w.run(ctx)
		}()
	}
	o.logger.Info("orchestrator started",
		"sweep_interval", o.cfg.SweepInterval.String(),
		"worker_interval", o.cfg.WorkerInterval.String())
}

// Stop cancels the background loops and blocks until in-flight tasks
// finish.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RunSweeps(ctx, o.now())
		}
	}
}

// RunSweeps executes all four sweeps against the given instant.
// Sweep failures are logged and do not abort the remaining sweeps.
func (o *Orchestrator) RunSweeps(ctx context.Context, now time.Time) {
	for _, s := range []struct {
		name string
		fn   func(context.Context, time.Time) error
	}{
		{"reminder", o.ReminderSweep},
		{"status", o.StatusSweep},
		{"expiry", o.ExpirySweep},
		{"expiry_warning", o.ExpiryWarningSweep},
	} {
		if err := s.fn(ctx, now); err != nil {
			o.logger.Error("sweep failed", "sweep", s.name, "error", err)
		}
	}
}

// QueueConfirmation enqueues the booking-confirmation notification
// for a freshly created appointment. Implements booking.Notifier.
func (o *Orchestrator) QueueConfirmation(ctx context.Context, appt *model.Appointment) error {
	return o.enqueueAppointmentNotification(ctx, appt, "confirmation", o.now())
}

// QueueReminder schedules the reminder notification to run after the
// given delay. Implements booking.Notifier.
func (o *Orchestrator) QueueReminder(ctx context.Context, appt *model.Appointment, delay time.Duration) error {
	return o.enqueueAppointmentNotification(ctx, appt, "reminder", o.now().Add(delay))
}

func (o *Orchestrator) enqueueAppointmentNotification(ctx context.Context, appt *model.Appointment, purpose string, runAt time.Time) error {
	contact, err := o.directory.CustomerContact(ctx, appt.CompanyID, appt.CustomerID)
	if err != nil {
		return fmt.Errorf("resolve customer contact: %w", err)
	}
	names := make([]string, 0, len(appt.Services))
	for _, line := range appt.Services {
		names = append(names, line.ServiceName)
	}
	start := appt.StartTime
	payload, err := json.Marshal(NotificationPayload{
		Purpose:       purpose,
		CompanyID:     appt.CompanyID,
		AppointmentID: appt.ID,
		CustomerName:  contact.Name,
		CustomerEmail: contact.Email,
		CustomerPhone: contact.Phone,
		StartTime:     &start,
		ServiceNames:  names,
	})
	if err != nil {
		return err
	}
	kind := KindConfirmation
	if purpose == "reminder" {
		kind = KindReminder
	}
	_, err = o.queue.Enqueue(ctx, Task{
		Kind:           kind,
		IdempotencyKey: appt.ID + "|" + purpose,
		Payload:        payload,
		MaxAttempts:    o.cfg.Notification.MaxAttempts,
		RunAt:          runAt,
	})
	return err
}
