// Package ledger holds the mutation rules for session ledgers. The
// functions mutate an in-memory document; callers are responsible for
// loading it under a row lock and persisting the result in the same
// transaction, so concurrent consumes cannot over-spend units.
package ledger

import (
	"errors"
	"time"

	"github.com/salonops/booker/internal/model"
)

var (
	ErrNoRemainingUnits = errors.New("ledger has no remaining units")
	ErrExpired          = errors.New("ledger is expired")
	ErrNotActive        = errors.New("ledger is not active")
	ErrInvalidIndex     = errors.New("usage index out of range")
)

// Consume spends one unit and appends a usage entry. The precondition
// is remaining > 0 and now within the expiry date. Exhaustion is
// checked before the status guard: a drained ledger derives its status
// to completed, and a consume against it must report the missing units,
// not the derived status.
func Consume(l *model.SessionLedger, appointmentID, serviceID, staffID, note string, now time.Time) error {
	if l.RemainingUnits <= 0 {
		return ErrNoRemainingUnits
	}
	if now.After(l.ExpiryDate) {
		return ErrExpired
	}
	if l.Status != model.LedgerActive {
		return ErrNotActive
	}

	l.UsedUnits++
	l.RemainingUnits--
	l.Usage = append(l.Usage, model.UsageEntry{
		AppointmentID: appointmentID,
		ServiceID:     serviceID,
		StaffID:       staffID,
		Note:          note,
		UsedAt:        now,
	})
	deriveStatus(l, now)
	return nil
}

// Refund removes the usage entry at index and restores one unit. A
// completed ledger with units left over reverts to active; an expired
// ledger keeps its status, so refunded units on it stay unusable.
// Expiry is deliberately not re-checked here.
func Refund(l *model.SessionLedger, index int) error {
	if index < 0 || index >= len(l.Usage) {
		return ErrInvalidIndex
	}
	if l.UsedUnits <= 0 {
		return ErrInvalidIndex
	}

	l.Usage = append(l.Usage[:index], l.Usage[index+1:]...)
	l.UsedUnits--
	l.RemainingUnits++
	if l.Status == model.LedgerCompleted && l.RemainingUnits > 0 {
		l.Status = model.LedgerActive
	}
	return nil
}

// RefundAppointment refunds the most recent usage entry belonging to
// the appointment, if any. Returns true when a unit was restored.
func RefundAppointment(l *model.SessionLedger, appointmentID string) (bool, error) {
	for i := len(l.Usage) - 1; i >= 0; i-- {
		if l.Usage[i].AppointmentID == appointmentID {
			return true, Refund(l, i)
		}
	}
	return false, nil
}

// Expire force-promotes an active ledger to expired, regardless of
// remaining units. Used by the expiry sweep.
func Expire(l *model.SessionLedger) bool {
	if l.Status != model.LedgerActive {
		return false
	}
	l.Status = model.LedgerExpired
	return true
}

// deriveStatus reapplies the status rules after a mutation. Expiry
// dominates completion: a ledger that burns its last unit at the edge
// of its window still ends up expired when past the expiry date.
func deriveStatus(l *model.SessionLedger, now time.Time) {
	if now.After(l.ExpiryDate) {
		l.Status = model.LedgerExpired
		return
	}
	if l.RemainingUnits == 0 {
		l.Status = model.LedgerCompleted
	}
}
