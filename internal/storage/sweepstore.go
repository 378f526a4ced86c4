package storage

import (
	"context"
	"time"

	"github.com/salonops/booker/internal/model"
)

// SweepStore bundles the appointment and ledger repositories into the
// single surface the orchestrator sweeps run against.
type SweepStore struct {
	Appointments *AppointmentRepository
	Ledgers      *LedgerRepository
}

func NewSweepStore(appointments *AppointmentRepository, ledgers *LedgerRepository) *SweepStore {
	return &SweepStore{Appointments: appointments, Ledgers: ledgers}
}

func (s *SweepStore) DueReminders(ctx context.Context, until time.Time) ([]model.Appointment, error) {
	return s.Appointments.DueReminders(ctx, until)
}

func (s *SweepStore) MarkReminderSent(ctx context.Context, companyID, appointmentID, purpose string, at time.Time) error {
	return s.Appointments.MarkReminderSent(ctx, companyID, appointmentID, purpose, at)
}

func (s *SweepStore) PromoteNoShows(ctx context.Context, now time.Time) ([]model.Appointment, error) {
	return s.Appointments.PromoteNoShows(ctx, now)
}

func (s *SweepStore) ExpireLedgers(ctx context.Context, now time.Time) ([]model.SessionLedger, error) {
	return s.Ledgers.ExpireLedgers(ctx, now)
}

func (s *SweepStore) LedgersExpiringWithin(ctx context.Context, from, until time.Time) ([]model.SessionLedger, error) {
	return s.Ledgers.LedgersExpiringWithin(ctx, from, until)
}
