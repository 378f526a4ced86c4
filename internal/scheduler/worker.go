package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/salonops/booker/internal/outbox"
)

// worker drains one task category on a fixed tick. Tasks inside a
// batch run concurrently, bounded by the category's Concurrency.
type worker struct {
	orch     *Orchestrator
	category Category
	policy   Policy
}

func newWorker(o *Orchestrator, category Category, policy Policy) *worker {
	if policy.Concurrency <= 0 {
		policy.Concurrency = 1
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BackoffBase <= 0 {
		policy.BackoffBase = 30 * time.Second
	}
	return &worker{orch: o, category: category, policy: policy}
}

func (w *worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.orch.cfg.WorkerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.orch.logger.Error("task batch failed",
					"category", string(w.category), "error", err)
			}
		}
	}
}

func (w *worker) processBatch(ctx context.Context) error {
	tasks, err := w.orch.queue.FetchDue(ctx, w.category, w.orch.now(), w.orch.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch due tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}
	sem := make(chan struct{}, w.policy.Concurrency)
	done := make(chan struct{})
	for _, task := range tasks {
		task := task
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- struct{}{} }()
			w.handle(ctx, task)
		}()
	}
	for range tasks {
		<-done
	}
	return nil
}

func (w *worker) handle(ctx context.Context, task Task) {
	err := w.orch.execute(ctx, task)
	if err == nil {
		if mErr := w.orch.queue.MarkDone(ctx, task.ID); mErr != nil {
			w.orch.logger.Error("mark task done failed", "task_id", task.ID, "error", mErr)
		}
		return
	}

	attempts := task.Attempts + 1
	if attempts >= task.MaxAttempts {
		w.orch.logger.Error("task exhausted, dropping",
			"task_id", task.ID, "kind", string(task.Kind),
			"attempts", attempts, "error", err)
		if mErr := w.orch.queue.MarkExhausted(ctx, task.ID, attempts, err.Error()); mErr != nil {
			w.orch.logger.Error("mark task exhausted failed", "task_id", task.ID, "error", mErr)
		}
		w.orch.emitNotificationOutcome(ctx, task, outbox.EventNotificationFailed, err)
		return
	}
	next := w.orch.now().Add(BackoffDelay(w.policy.BackoffBase, attempts))
	w.orch.logger.Warn("task failed, rescheduling",
		"task_id", task.ID, "kind", string(task.Kind),
		"attempts", attempts, "next_run", next, "error", err)
	if mErr := w.orch.queue.Reschedule(ctx, task.ID, attempts, next, err.Error()); mErr != nil {
		w.orch.logger.Error("reschedule task failed", "task_id", task.ID, "error", mErr)
	}
}

func (o *Orchestrator) execute(ctx context.Context, task Task) error {
	switch task.Kind.Category() {
	case CategoryMaintenance:
		return o.executeMaintenance(ctx, task)
	default:
		return o.executeNotification(ctx, task)
	}
}

func (o *Orchestrator) executeMaintenance(ctx context.Context, task Task) error {
	var mp MaintenancePayload
	if err := json.Unmarshal(task.Payload, &mp); err != nil {
		return fmt.Errorf("decode maintenance payload: %w", err)
	}
	return o.sink.Emit(ctx, outbox.Event{
		AggregateType: mp.AggregateType,
		AggregateID:   mp.AggregateID,
		EventType:     mp.EventType,
		Payload:       mp.EventPayload,
	})
}

func (o *Orchestrator) executeNotification(ctx context.Context, task Task) error {
	var np NotificationPayload
	if err := json.Unmarshal(task.Payload, &np); err != nil {
		return fmt.Errorf("decode notification payload: %w", err)
	}
	entityID := np.AppointmentID
	if entityID == "" {
		entityID = np.LedgerID
	}
	meta := map[string]string{
		"purpose":    np.Purpose,
		"company_id": np.CompanyID,
		"entity_id":  entityID,
	}

	// Email is the primary channel; SMS covers customers without one.
	switch {
	case np.CustomerEmail != "":
		subject, html := renderEmail(np)
		if _, err := o.dispatcher.SendEmail(ctx, np.CustomerEmail, subject, html, meta); err != nil {
			return err
		}
	case np.CustomerPhone != "":
		if _, err := o.dispatcher.SendSMS(ctx, np.CustomerPhone, renderSMS(np), meta); err != nil {
			return err
		}
	default:
		o.logger.Warn("notification skipped, no contact endpoints",
			"purpose", np.Purpose, "company_id", np.CompanyID, "entity_id", entityID)
		return nil
	}

	if np.AppointmentID != "" {
		if err := o.store.MarkReminderSent(ctx, np.CompanyID, np.AppointmentID, np.Purpose, o.now()); err != nil {
			o.logger.Error("mark reminder sent failed",
				"appointment_id", np.AppointmentID, "error", err)
		}
	}
	o.emitNotificationOutcome(ctx, task, outbox.EventNotificationSent, nil)
	return nil
}

// emitNotificationOutcome publishes a sent/failed event for
// notification tasks. Emission is best effort.
func (o *Orchestrator) emitNotificationOutcome(ctx context.Context, task Task, eventType string, cause error) {
	if task.Kind.Category() != CategoryNotification {
		return
	}
	body := map[string]any{
		"idempotency_key": task.IdempotencyKey,
		"kind":            string(task.Kind),
		"attempts":        task.Attempts + 1,
	}
	if cause != nil {
		body["error"] = cause.Error()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	if err := o.sink.Emit(ctx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   task.IdempotencyKey,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		o.logger.Error("emit notification outcome failed",
			"event_type", eventType, "error", err)
	}
}

func renderEmail(np NotificationPayload) (subject, html string) {
	services := strings.Join(np.ServiceNames, ", ")
	switch np.Purpose {
	case "confirmation":
		subject = "Your appointment is booked"
		html = fmt.Sprintf("<p>Hi %s,</p><p>Your appointment for %s on %s is confirmed.</p>",
			np.CustomerName, services, fmtTime(np.StartTime, "Mon, 2 Jan 2006 at 15:04"))
	case "reminder":
		subject = "Appointment reminder"
		html = fmt.Sprintf("<p>Hi %s,</p><p>Reminder: %s on %s.</p>",
			np.CustomerName, services, fmtTime(np.StartTime, "Mon, 2 Jan 2006 at 15:04"))
	case "expiry_warning":
		subject = fmt.Sprintf("Your %s package expires soon", np.PackageName)
		html = fmt.Sprintf("<p>Hi %s,</p><p>Your %s package has %d session(s) left and expires on %s.</p>",
			np.CustomerName, np.PackageName, np.RemainingUnits, fmtTime(np.ExpiryDate, "2 Jan 2006"))
	default:
		subject = "Notification"
		html = fmt.Sprintf("<p>Hi %s,</p>", np.CustomerName)
	}
	return subject, html
}

func renderSMS(np NotificationPayload) string {
	switch np.Purpose {
	case "confirmation":
		return fmt.Sprintf("Hi %s, your appointment on %s is booked.",
			np.CustomerName, fmtTime(np.StartTime, "2 Jan 15:04"))
	case "reminder":
		return fmt.Sprintf("Hi %s, reminder: appointment on %s.",
			np.CustomerName, fmtTime(np.StartTime, "2 Jan 15:04"))
	case "expiry_warning":
		return fmt.Sprintf("Hi %s, your %s package expires on %s with %d session(s) left.",
			np.CustomerName, np.PackageName, fmtTime(np.ExpiryDate, "2 Jan"), np.RemainingUnits)
	}
	return ""
}

func fmtTime(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}
