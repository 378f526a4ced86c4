package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/salonops/booker/internal/model"
	"github.com/salonops/booker/internal/outbox"
)

// ReminderSweep enqueues reminder notifications for appointments
// whose next_reminder falls inside the lookahead horizon. The
// idempotency key makes it safe to run concurrently with the direct
// enqueue done at booking time.
func (o *Orchestrator) ReminderSweep(ctx context.Context, now time.Time) error {
	appts, err := o.store.DueReminders(ctx, now.Add(o.cfg.ReminderHorizon))
	if err != nil {
		return err
	}
	for i := range appts {
		appt := &appts[i]
		if err := o.enqueueAppointmentNotification(ctx, appt, "reminder", now); err != nil {
			o.logger.Error("enqueue reminder failed",
				"appointment_id", appt.ID, "company_id", appt.CompanyID, "error", err)
		}
	}
	return nil
}

// StatusSweep promotes past appointments that were never confirmed or
// completed to no_show, then queues a maintenance task per promotion
// so the lifecycle event reaches the outbox even if this process dies
// right after the promotion commits.
func (o *Orchestrator) StatusSweep(ctx context.Context, now time.Time) error {
	promoted, err := o.store.PromoteNoShows(ctx, now)
	if err != nil {
		return err
	}
	for i := range promoted {
		appt := &promoted[i]
		body, err := json.Marshal(map[string]any{
			"appointment_id": appt.ID,
			"company_id":     appt.CompanyID,
			"customer_id":    appt.CustomerID,
			"staff_id":       appt.StaffID,
			"start_time":     appt.StartTime,
			"marked_at":      now,
		})
		if err != nil {
			return err
		}
		o.enqueueMaintenance(ctx, KindNoShowEvent, appt.ID+"|no_show_event", MaintenancePayload{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     outbox.EventAppointmentNoShow,
			EventPayload:  body,
		})
	}
	return nil
}

// ExpirySweep transitions ledgers past their expiry date to expired
// and queues the corresponding lifecycle event.
func (o *Orchestrator) ExpirySweep(ctx context.Context, now time.Time) error {
	expired, err := o.store.ExpireLedgers(ctx, now)
	if err != nil {
		return err
	}
	for i := range expired {
		led := &expired[i]
		body, err := json.Marshal(map[string]any{
			"ledger_id":       led.ID,
			"company_id":      led.CompanyID,
			"customer_id":     led.CustomerID,
			"package_id":      led.PackageID,
			"remaining_units": led.RemainingUnits,
			"expired_at":      now,
		})
		if err != nil {
			return err
		}
		o.enqueueMaintenance(ctx, KindLedgerExpiredEvent, led.ID+"|expired_event", MaintenancePayload{
			AggregateType: "session_ledger",
			AggregateID:   led.ID,
			EventType:     outbox.EventLedgerExpired,
			EventPayload:  body,
		})
	}
	return nil
}

// ExpiryWarningSweep notifies owners of still-active ledgers that
// enter the warning window. The date suffix on the key caps the
// warning at one per ledger per day.
func (o *Orchestrator) ExpiryWarningSweep(ctx context.Context, now time.Time) error {
	ledgers, err := o.store.LedgersExpiringWithin(ctx, now, now.Add(o.cfg.WarningWindow))
	if err != nil {
		return err
	}
	for i := range ledgers {
		led := &ledgers[i]
		if err := o.enqueueExpiryWarning(ctx, led, now); err != nil {
			o.logger.Error("enqueue expiry warning failed",
				"ledger_id", led.ID, "company_id", led.CompanyID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) enqueueExpiryWarning(ctx context.Context, led *model.SessionLedger, now time.Time) error {
	contact, err := o.directory.CustomerContact(ctx, led.CompanyID, led.CustomerID)
	if err != nil {
		return err
	}
	expiry := led.ExpiryDate
	payload, err := json.Marshal(NotificationPayload{
		Purpose:        "expiry_warning",
		CompanyID:      led.CompanyID,
		LedgerID:       led.ID,
		CustomerName:   contact.Name,
		CustomerEmail:  contact.Email,
		CustomerPhone:  contact.Phone,
		PackageName:    led.PackageName,
		RemainingUnits: led.RemainingUnits,
		ExpiryDate:     &expiry,
	})
	if err != nil {
		return err
	}
	_, err = o.queue.Enqueue(ctx, Task{
		Kind:           KindExpiryWarning,
		IdempotencyKey: led.ID + "|expiry_warning|" + now.UTC().Format("2006-01-02"),
		Payload:        payload,
		MaxAttempts:    o.cfg.Notification.MaxAttempts,
		RunAt:          now,
	})
	return err
}

func (o *Orchestrator) enqueueMaintenance(ctx context.Context, kind Kind, key string, mp MaintenancePayload) {
	payload, err := json.Marshal(mp)
	if err != nil {
		o.logger.Error("marshal maintenance payload failed", "kind", string(kind), "error", err)
		return
	}
	if _, err := o.queue.Enqueue(ctx, Task{
		Kind:           kind,
		IdempotencyKey: key,
		Payload:        payload,
		MaxAttempts:    o.cfg.Maintenance.MaxAttempts,
		RunAt:          o.now(),
	}); err != nil {
		o.logger.Error("enqueue maintenance task failed",
			"kind", string(kind), "key", key, "error", err)
	}
}
