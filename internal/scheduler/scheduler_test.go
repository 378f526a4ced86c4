package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/salonops/booker/internal/model"
	"github.com/salonops/booker/internal/notify"
	"github.com/salonops/booker/internal/outbox"
)

type memTask struct {
	Task
	status    string
	lastError string
	claimedAt time.Time
}

// memQueue mirrors the durable queue contract, including the claim
// lease: a processing task whose claim is older than the lease window
// is handed out again.
type memQueue struct {
	mu     sync.Mutex
	tasks  []*memTask
	nextID int64
	lease  time.Duration
}

func (q *memQueue) Enqueue(_ context.Context, task Task) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.IdempotencyKey == task.IdempotencyKey {
			return false, nil
		}
	}
	q.nextID++
	task.ID = q.nextID
	q.tasks = append(q.tasks, &memTask{Task: task, status: "pending"})
	return true, nil
}

func (q *memQueue) FetchDue(_ context.Context, category Category, now time.Time, limit int) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	lease := q.lease
	if lease == 0 {
		lease = 5 * time.Minute
	}
	var due []Task
	for _, t := range q.tasks {
		if len(due) >= limit {
			break
		}
		if t.Kind.Category() != category {
			continue
		}
		claimable := (t.status == "pending" && !t.RunAt.After(now)) ||
			(t.status == "processing" && !t.claimedAt.After(now.Add(-lease)))
		if claimable {
			t.status = "processing"
			t.claimedAt = now
			due = append(due, t.Task)
		}
	}
	return due, nil
}

func (q *memQueue) MarkDone(_ context.Context, id int64) error {
	return q.set(id, func(t *memTask) { t.status = "done" })
}

func (q *memQueue) Reschedule(_ context.Context, id int64, attempts int, runAt time.Time, lastError string) error {
	return q.set(id, func(t *memTask) {
		t.status = "pending"
		t.Attempts = attempts
		t.RunAt = runAt
		t.lastError = lastError
	})
}

func (q *memQueue) MarkExhausted(_ context.Context, id int64, attempts int, lastError string) error {
	return q.set(id, func(t *memTask) {
		t.status = "failed"
		t.Attempts = attempts
		t.lastError = lastError
	})
}

func (q *memQueue) set(id int64, fn func(*memTask)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.ID == id {
			fn(t)
			return nil
		}
	}
	return errors.New("task not found")
}

func (q *memQueue) byKey(key string) *memTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.IdempotencyKey == key {
			return t
		}
	}
	return nil
}

type memSweepStore struct {
	dueReminders  []model.Appointment
	noShows       []model.Appointment
	expired       []model.SessionLedger
	expiringSoon  []model.SessionLedger
	reminderMarks []string
}

func (s *memSweepStore) DueReminders(context.Context, time.Time) ([]model.Appointment, error) {
	return s.dueReminders, nil
}

func (s *memSweepStore) MarkReminderSent(_ context.Context, _, appointmentID, purpose string, _ time.Time) error {
	s.reminderMarks = append(s.reminderMarks, appointmentID+"|"+purpose)
	return nil
}

func (s *memSweepStore) PromoteNoShows(context.Context, time.Time) ([]model.Appointment, error) {
	return s.noShows, nil
}

func (s *memSweepStore) ExpireLedgers(context.Context, time.Time) ([]model.SessionLedger, error) {
	return s.expired, nil
}

func (s *memSweepStore) LedgersExpiringWithin(context.Context, time.Time, time.Time) ([]model.SessionLedger, error) {
	return s.expiringSoon, nil
}

type memDirectory struct{ contact Contact }

func (d *memDirectory) CustomerContact(context.Context, string, string) (Contact, error) {
	return d.contact, nil
}

type memDispatcher struct {
	mu     sync.Mutex
	emails []string
	sms    []string
	fail   error
}

func (d *memDispatcher) SendEmail(_ context.Context, to, _, _ string, _ map[string]string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return "", d.fail
	}
	d.emails = append(d.emails, to)
	return "msg-1", nil
}

func (d *memDispatcher) SendSMS(_ context.Context, to, _ string, _ map[string]string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return "", d.fail
	}
	d.sms = append(d.sms, to)
	return "msg-2", nil
}

type memSink struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (s *memSink) Emit(_ context.Context, evt outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *memSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

type fixture struct {
	orch       *Orchestrator
	queue      *memQueue
	store      *memSweepStore
	dispatcher *memDispatcher
	sink       *memSink
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue:      &memQueue{},
		store:      &memSweepStore{},
		dispatcher: &memDispatcher{},
		sink:       &memSink{},
		now:        time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := &memDirectory{contact: Contact{Name: "Mia", Email: "mia@example.com", Phone: "+3161234"}}
	f.orch = NewOrchestrator(f.queue, f.store, dir, f.dispatcher, f.sink, DefaultConfig(), logger)
	f.orch.SetClock(func() time.Time { return f.now })
	return f
}

func testAppointment(id string, start time.Time) model.Appointment {
	return model.Appointment{
		ID:         id,
		CompanyID:  "co-1",
		CustomerID: "cust-1",
		StaffID:    "staff-1",
		Services:   []model.ServiceLine{{ServiceID: "svc-1", ServiceName: "Haircut", Price: 40, DurationMins: 30}},
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Status:     model.StatusScheduled,
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	base := 30 * time.Second
	for i, want := range []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute} {
		if got := BackoffDelay(base, i+1); got != want {
			t.Fatalf("attempt %d: got %v, want %v", i+1, got, want)
		}
	}
}

func TestReminderSweepDedupesWithDirectEnqueue(t *testing.T) {
	f := newFixture(t)
	appt := testAppointment("appt-1", f.now.Add(23*time.Hour))
	ctx := context.Background()

	if err := f.orch.QueueReminder(ctx, &appt, time.Hour); err != nil {
		t.Fatalf("queue reminder: %v", err)
	}
	f.store.dueReminders = []model.Appointment{appt}
	if err := f.orch.ReminderSweep(ctx, f.now); err != nil {
		t.Fatalf("reminder sweep: %v", err)
	}
	if err := f.orch.ReminderSweep(ctx, f.now); err != nil {
		t.Fatalf("second reminder sweep: %v", err)
	}

	count := 0
	for _, mt := range f.queue.tasks {
		if mt.Kind == KindReminder {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("got %d reminder tasks, want exactly 1", count)
	}
	mt := f.queue.byKey("appt-1|reminder")
	if mt == nil {
		t.Fatal("reminder task missing expected idempotency key")
	}
	if mt.MaxAttempts != 3 {
		t.Fatalf("reminder max attempts = %d, want 3", mt.MaxAttempts)
	}
}

func TestStatusSweepQueuesNoShowEvent(t *testing.T) {
	f := newFixture(t)
	f.store.noShows = []model.Appointment{testAppointment("appt-late", f.now.Add(-2*time.Hour))}

	if err := f.orch.StatusSweep(context.Background(), f.now); err != nil {
		t.Fatalf("status sweep: %v", err)
	}
	mt := f.queue.byKey("appt-late|no_show_event")
	if mt == nil {
		t.Fatal("no_show maintenance task not queued")
	}
	if mt.Kind.Category() != CategoryMaintenance {
		t.Fatalf("task category = %q, want maintenance", mt.Kind.Category())
	}
	if mt.MaxAttempts != 2 {
		t.Fatalf("maintenance max attempts = %d, want 2", mt.MaxAttempts)
	}
}

func TestExpirySweepEmitsThroughWorker(t *testing.T) {
	f := newFixture(t)
	f.store.expired = []model.SessionLedger{{
		ID: "led-1", CompanyID: "co-1", CustomerID: "cust-1",
		PackageID: "pkg-1", PackageName: "10x Massage", RemainingUnits: 2,
		ExpiryDate: f.now.Add(-time.Hour), Status: model.LedgerExpired,
	}}
	ctx := context.Background()

	if err := f.orch.ExpirySweep(ctx, f.now); err != nil {
		t.Fatalf("expiry sweep: %v", err)
	}
	w := newWorker(f.orch, CategoryMaintenance, f.orch.cfg.Maintenance)
	if err := w.processBatch(ctx); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	types := f.sink.types()
	if len(types) != 1 || types[0] != outbox.EventLedgerExpired {
		t.Fatalf("emitted events = %v, want [%s]", types, outbox.EventLedgerExpired)
	}
	if mt := f.queue.byKey("led-1|expired_event"); mt == nil || mt.status != "done" {
		t.Fatalf("expired_event task not marked done")
	}
}

func TestExpiryWarningFiresOncePerDay(t *testing.T) {
	f := newFixture(t)
	f.store.expiringSoon = []model.SessionLedger{{
		ID: "led-2", CompanyID: "co-1", CustomerID: "cust-1",
		PackageName: "5x Yoga", RemainingUnits: 3,
		ExpiryDate: f.now.Add(48 * time.Hour), Status: model.LedgerActive,
	}}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.orch.ExpiryWarningSweep(ctx, f.now); err != nil {
			t.Fatalf("warning sweep run %d: %v", i, err)
		}
	}
	if len(f.queue.tasks) != 1 {
		t.Fatalf("got %d tasks after same-day sweeps, want 1", len(f.queue.tasks))
	}

	if err := f.orch.ExpiryWarningSweep(ctx, f.now.Add(24*time.Hour)); err != nil {
		t.Fatalf("next-day warning sweep: %v", err)
	}
	if len(f.queue.tasks) != 2 {
		t.Fatalf("got %d tasks after next-day sweep, want 2", len(f.queue.tasks))
	}
}

func TestNotificationTaskDeliversAndMarksReminder(t *testing.T) {
	f := newFixture(t)
	appt := testAppointment("appt-2", f.now.Add(24*time.Hour))
	ctx := context.Background()

	if err := f.orch.QueueConfirmation(ctx, &appt); err != nil {
		t.Fatalf("queue confirmation: %v", err)
	}
	w := newWorker(f.orch, CategoryNotification, f.orch.cfg.Notification)
	if err := w.processBatch(ctx); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	if len(f.dispatcher.emails) != 1 || f.dispatcher.emails[0] != "mia@example.com" {
		t.Fatalf("emails sent = %v, want one to mia@example.com", f.dispatcher.emails)
	}
	if len(f.store.reminderMarks) != 1 || f.store.reminderMarks[0] != "appt-2|confirmation" {
		t.Fatalf("reminder marks = %v", f.store.reminderMarks)
	}
	types := f.sink.types()
	if len(types) != 1 || types[0] != outbox.EventNotificationSent {
		t.Fatalf("emitted events = %v, want [%s]", types, outbox.EventNotificationSent)
	}
}

func TestNotificationTaskRetriesThenDrops(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.fail = &notify.ProviderError{Provider: "smtp", Channel: "email", Err: errors.New("rejected")}
	appt := testAppointment("appt-3", f.now.Add(24*time.Hour))
	ctx := context.Background()

	if err := f.orch.QueueConfirmation(ctx, &appt); err != nil {
		t.Fatalf("queue confirmation: %v", err)
	}
	w := newWorker(f.orch, CategoryNotification, f.orch.cfg.Notification)

	for attempt := 1; attempt <= 3; attempt++ {
		if err := w.processBatch(ctx); err != nil {
			t.Fatalf("process batch %d: %v", attempt, err)
		}
		// jump past the backoff so the next batch picks it up again
		f.now = f.now.Add(time.Hour)
	}

	mt := f.queue.byKey("appt-3|confirmation")
	if mt == nil {
		t.Fatal("confirmation task missing")
	}
	if mt.status != "failed" {
		t.Fatalf("task status = %q after exhaustion, want failed", mt.status)
	}
	if mt.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", mt.Attempts)
	}
	if !strings.Contains(mt.lastError, "rejected") {
		t.Fatalf("last error = %q, want provider rejection", mt.lastError)
	}
	types := f.sink.types()
	if len(types) != 1 || types[0] != outbox.EventNotificationFailed {
		t.Fatalf("emitted events = %v, want [%s]", types, outbox.EventNotificationFailed)
	}

	// a fourth batch must not resurrect the dropped task
	if err := w.processBatch(ctx); err != nil {
		t.Fatalf("post-exhaustion batch: %v", err)
	}
	if len(f.dispatcher.emails) != 0 {
		t.Fatalf("no email should ever have been recorded, got %v", f.dispatcher.emails)
	}
}

func TestFetchDueReclaimsStaleClaims(t *testing.T) {
	f := newFixture(t)
	appt := testAppointment("appt-5", f.now.Add(24*time.Hour))
	ctx := context.Background()

	if err := f.orch.QueueConfirmation(ctx, &appt); err != nil {
		t.Fatalf("queue confirmation: %v", err)
	}

	// Claim the task and never report back, as a crashed worker would.
	claimed, err := f.queue.FetchDue(ctx, CategoryNotification, f.now, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("initial claim: got %d tasks, err %v", len(claimed), err)
	}

	// Within the lease window the claim holds.
	redo, err := f.queue.FetchDue(ctx, CategoryNotification, f.now.Add(time.Minute), 10)
	if err != nil || len(redo) != 0 {
		t.Fatalf("claim must hold inside the lease: got %d tasks, err %v", len(redo), err)
	}

	// Past the lease the task is re-delivered and runs to completion.
	f.now = f.now.Add(10 * time.Minute)
	w := newWorker(f.orch, CategoryNotification, f.orch.cfg.Notification)
	if err := w.processBatch(ctx); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(f.dispatcher.emails) != 1 {
		t.Fatalf("emails sent = %v, want exactly one after reclaim", f.dispatcher.emails)
	}
	if mt := f.queue.byKey("appt-5|confirmation"); mt == nil || mt.status != "done" {
		t.Fatal("reclaimed task not marked done")
	}
}

func TestRescheduleUsesExponentialBackoff(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.fail = errors.New("provider down")
	appt := testAppointment("appt-4", f.now.Add(24*time.Hour))
	ctx := context.Background()

	if err := f.orch.QueueConfirmation(ctx, &appt); err != nil {
		t.Fatalf("queue confirmation: %v", err)
	}
	w := newWorker(f.orch, CategoryNotification, f.orch.cfg.Notification)
	if err := w.processBatch(ctx); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	mt := f.queue.byKey("appt-4|confirmation")
	want := f.now.Add(30 * time.Second)
	if !mt.RunAt.Equal(want) {
		t.Fatalf("first retry at %v, want %v", mt.RunAt, want)
	}
	if mt.status != "pending" {
		t.Fatalf("task status = %q after first failure, want pending", mt.status)
	}
}
