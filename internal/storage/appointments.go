package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/salonops/booker/internal/booking"
	"github.com/salonops/booker/internal/ledger"
	"github.com/salonops/booker/internal/model"
	"github.com/salonops/booker/internal/outbox"
	"github.com/salonops/booker/libs/db"
)

const appointmentColumns = `
	id, company_id, customer_id, staff_id, services,
	start_time, end_time, duration_minutes, status, notes,
	total_amount, paid_amount, payment_status, payment_method,
	cancellation, reminders, created_at, updated_at`

// AppointmentRepository persists appointments. Besides the table rows
// it owns the two transactional couplings of the system: booking with
// session consumption and cancellation with session refund.
type AppointmentRepository struct {
	pool    *db.Pool
	ledgers *LedgerRepository
	outbox  *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, ledgers *LedgerRepository, ob *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, ledgers: ledgers, outbox: ob}
}

// CreateAppointment inserts the appointment, consumes one unit per
// session-backed line under a ledger row lock, and writes the booked
// event to the outbox, all in one transaction. An exclusion-constraint
// violation surfaces as SchedulingConflict.
func (r *AppointmentRepository) CreateAppointment(ctx context.Context, appt *model.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	appt.UpdatedAt = appt.CreatedAt

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	services, notes, cancellation, reminders, err := marshalAppointmentDocs(appt)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, company_id, customer_id, staff_id, services,
			 start_time, end_time, duration_minutes, status, notes,
			 total_amount, paid_amount, payment_status, payment_method,
			 cancellation, reminders, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, appt.ID, appt.CompanyID, appt.CustomerID, appt.StaffID, services,
		appt.StartTime, appt.EndTime, appt.DurationMins, appt.Status, notes,
		appt.TotalAmount, appt.PaidAmount, appt.PaymentStatus, appt.PaymentMethod,
		cancellation, reminders, appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		if isExclusionViolation(err) {
			return &booking.SchedulingConflict{StaffID: appt.StaffID, Start: appt.StartTime, End: appt.EndTime}
		}
		return err
	}

	for _, line := range appt.Services {
		if !line.IsSessionConsumption {
			continue
		}
		led, err := getLedgerForUpdate(ctx, tx, appt.CompanyID, line.LedgerID)
		if err != nil {
			return err
		}
		if err := ledger.Consume(led, appt.ID, line.ServiceID, appt.StaffID, line.ServiceName, appt.CreatedAt); err != nil {
			return &booking.StateError{Op: "consume", Reason: fmt.Sprintf("ledger %s: %v", led.ID, err)}
		}
		led.UpdatedAt = appt.CreatedAt
		if err := saveLedger(ctx, tx, led); err != nil {
			return err
		}
	}

	if err := r.insertEvent(ctx, tx, outbox.EventAppointmentBooked, appt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) GetAppointment(ctx context.Context, companyID, id string) (*model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND company_id = $2
	`, id, companyID)
	appt, err := scanAppointment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &booking.NotFoundError{Kind: "appointment", ID: id}
		}
		return nil, err
	}
	return appt, nil
}

func (r *AppointmentRepository) UpdateAppointment(ctx context.Context, appt *model.Appointment) error {
	services, notes, cancellation, reminders, err := marshalAppointmentDocs(appt)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET staff_id = $3,
			services = $4,
			start_time = $5,
			end_time = $6,
			duration_minutes = $7,
			status = $8,
			notes = $9,
			total_amount = $10,
			paid_amount = $11,
			payment_status = $12,
			payment_method = $13,
			cancellation = $14,
			reminders = $15,
			updated_at = $16
		WHERE id = $1 AND company_id = $2
	`, appt.ID, appt.CompanyID, appt.StaffID, services,
		appt.StartTime, appt.EndTime, appt.DurationMins, appt.Status, notes,
		appt.TotalAmount, appt.PaidAmount, appt.PaymentStatus, appt.PaymentMethod,
		cancellation, reminders, appt.UpdatedAt)
	if err != nil {
		if isExclusionViolation(err) {
			return &booking.SchedulingConflict{StaffID: appt.StaffID, Start: appt.StartTime, End: appt.EndTime}
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return &booking.NotFoundError{Kind: "appointment", ID: appt.ID}
	}
	return nil
}

// CancelAppointment writes the cancelled row and hands every consumed
// unit back to its ledger in the same transaction. Already refunded
// lines are skipped, so a retried cancel cannot double-refund.
func (r *AppointmentRepository) CancelAppointment(ctx context.Context, appt *model.Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	services, notes, cancellation, reminders, err := marshalAppointmentDocs(appt)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			services = $4,
			notes = $5,
			cancellation = $6,
			reminders = $7,
			updated_at = $8
		WHERE id = $1 AND company_id = $2 AND status NOT IN ('cancelled')
	`, appt.ID, appt.CompanyID, appt.Status, services, notes, cancellation, reminders, appt.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// concurrent cancel won the race; nothing left to refund
		return tx.Commit(ctx)
	}

	for _, line := range appt.Services {
		if !line.IsSessionConsumption {
			continue
		}
		led, err := getLedgerForUpdate(ctx, tx, appt.CompanyID, line.LedgerID)
		if err != nil {
			return err
		}
		refunded, err := ledger.RefundAppointment(led, appt.ID)
		if err != nil {
			return err
		}
		if !refunded {
			continue
		}
		led.UpdatedAt = appt.UpdatedAt
		if err := saveLedger(ctx, tx, led); err != nil {
			return err
		}
	}

	if err := r.insertEvent(ctx, tx, outbox.EventAppointmentCancelled, appt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) ListOverlapping(ctx context.Context, companyID, staffID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE company_id = $1
			AND staff_id = $2
			AND status <> 'cancelled'
			AND start_time < $4
			AND end_time > $3
			AND id::text <> $5
		ORDER BY start_time
	`, companyID, staffID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListAppointments(ctx context.Context, f booking.Filter) ([]model.Appointment, int, error) {
	where := "WHERE company_id = $1"
	args := []any{f.CompanyID}
	add := func(clause string, value any) {
		args = append(args, value)
		where += fmt.Sprintf(" AND "+clause, len(args))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.StaffID != "" {
		add("staff_id = $%d", f.StaffID)
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if !f.From.IsZero() {
		add("end_time > $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start_time < $%d", f.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) FROM appointments "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT `+appointmentColumns+`
		FROM appointments
		%s
		ORDER BY start_time
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	appts, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return appts, total, nil
}

// GetLedger satisfies the engine's store contract by delegating to
// the ledger repository.
func (r *AppointmentRepository) GetLedger(ctx context.Context, companyID, id string) (*model.SessionLedger, error) {
	return r.ledgers.Get(ctx, companyID, id)
}

// DueReminders lists non-terminal appointments whose next reminder
// falls at or before the horizon. Overdue reminders are included.
func (r *AppointmentRepository) DueReminders(ctx context.Context, until time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
			AND reminders->>'next_reminder' IS NOT NULL
			AND (reminders->>'next_reminder')::timestamptz <= $1
		ORDER BY start_time
	`, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

// MarkReminderSent appends a sent record to the appointment's reminder
// bookkeeping; a sent reminder also clears next_reminder so the sweep
// stops picking the appointment up.
func (r *AppointmentRepository) MarkReminderSent(ctx context.Context, companyID, appointmentID, purpose string, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT reminders FROM appointments
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, appointmentID, companyID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if isNoRows(err) {
			return &booking.NotFoundError{Kind: "appointment", ID: appointmentID}
		}
		return err
	}
	var rem model.Reminders
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rem); err != nil {
			return err
		}
	}
	rem.Sent = append(rem.Sent, model.ReminderRecord{Purpose: purpose, SentAt: at})
	if purpose == "reminder" {
		rem.NextReminder = nil
	}
	updated, err := json.Marshal(rem)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE appointments
		SET reminders = $3, updated_at = $4
		WHERE id = $1 AND company_id = $2
	`, appointmentID, companyID, updated, at); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// PromoteNoShows flips past scheduled and confirmed appointments to
// no_show and returns the promoted rows.
func (r *AppointmentRepository) PromoteNoShows(ctx context.Context, now time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE appointments
		SET status = 'no_show', updated_at = $1
		WHERE status IN ('scheduled', 'confirmed') AND end_time < $1
		RETURNING `+appointmentColumns+`
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *AppointmentRepository) insertEvent(ctx context.Context, tx pgx.Tx, eventType string, appt *model.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"company_id":     appt.CompanyID,
		"customer_id":    appt.CustomerID,
		"staff_id":       appt.StaffID,
		"start_time":     appt.StartTime,
		"end_time":       appt.EndTime,
		"status":         appt.Status,
		"total_amount":   appt.TotalAmount,
	})
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func marshalAppointmentDocs(appt *model.Appointment) (services, notes, cancellation, reminders []byte, err error) {
	if services, err = json.Marshal(appt.Services); err != nil {
		return
	}
	if notes, err = json.Marshal(appt.Notes); err != nil {
		return
	}
	if appt.Cancellation != nil {
		if cancellation, err = json.Marshal(appt.Cancellation); err != nil {
			return
		}
	}
	reminders, err = json.Marshal(appt.Reminders)
	return
}

func scanAppointment(row pgx.Row) (*model.Appointment, error) {
	var appt model.Appointment
	var services, notes, cancellation, reminders []byte
	if err := row.Scan(
		&appt.ID,
		&appt.CompanyID,
		&appt.CustomerID,
		&appt.StaffID,
		&services,
		&appt.StartTime,
		&appt.EndTime,
		&appt.DurationMins,
		&appt.Status,
		&notes,
		&appt.TotalAmount,
		&appt.PaidAmount,
		&appt.PaymentStatus,
		&appt.PaymentMethod,
		&cancellation,
		&reminders,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(services, &appt.Services); err != nil {
		return nil, err
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &appt.Notes); err != nil {
			return nil, err
		}
	}
	if len(cancellation) > 0 {
		if err := json.Unmarshal(cancellation, &appt.Cancellation); err != nil {
			return nil, err
		}
	}
	if len(reminders) > 0 {
		if err := json.Unmarshal(reminders, &appt.Reminders); err != nil {
			return nil, err
		}
	}
	return &appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
