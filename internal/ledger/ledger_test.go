package ledger

import (
	"testing"
	"time"

	"github.com/salonops/booker/internal/model"
)

func newLedger(total int, expiry time.Time) *model.SessionLedger {
	return &model.SessionLedger{
		ID:             "led-1",
		CompanyID:      "co-1",
		CustomerID:     "cust-1",
		PackageID:      "pkg-1",
		PurchaseDate:   expiry.AddDate(0, -1, 0),
		ExpiryDate:     expiry,
		TotalUnits:     total,
		RemainingUnits: total,
		Status:         model.LedgerActive,
	}
}

func checkInvariant(t *testing.T, l *model.SessionLedger) {
	t.Helper()
	if l.UsedUnits+l.RemainingUnits != l.TotalUnits {
		t.Fatalf("invariant broken: used=%d remaining=%d total=%d", l.UsedUnits, l.RemainingUnits, l.TotalUnits)
	}
	if l.UsedUnits < 0 || l.UsedUnits > l.TotalUnits {
		t.Fatalf("used units out of range: %d", l.UsedUnits)
	}
	if len(l.Usage) != l.UsedUnits {
		t.Fatalf("usage history length %d != used units %d", len(l.Usage), l.UsedUnits)
	}
}

func TestConsume_DrainsToCompleted(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newLedger(5, now.AddDate(0, 1, 0))

	for i := 0; i < 5; i++ {
		if err := Consume(l, "appt-1", "svc-1", "staff-1", "", now); err != nil {
			t.Fatalf("consume %d: %v", i+1, err)
		}
		checkInvariant(t, l)
	}
	if l.Status != model.LedgerCompleted {
		t.Fatalf("expected completed, got %s", l.Status)
	}
	if l.RemainingUnits != 0 {
		t.Fatalf("expected 0 remaining, got %d", l.RemainingUnits)
	}

	// The sixth consume on a drained ledger reports the missing units,
	// even though draining already derived the status to completed.
	if err := Consume(l, "appt-2", "svc-1", "staff-1", "", now); err != ErrNoRemainingUnits {
		t.Fatalf("expected ErrNoRemainingUnits on drained ledger, got %v", err)
	}
	checkInvariant(t, l)
	if l.Status != model.LedgerCompleted {
		t.Fatalf("failed consume must not change status, got %s", l.Status)
	}
}

func TestConsume_NoRemainingUnits(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newLedger(1, now.AddDate(0, 1, 0))
	// Force the exhausted-but-active shape directly to hit the guard.
	l.UsedUnits = 1
	l.RemainingUnits = 0

	if err := Consume(l, "appt-1", "svc-1", "staff-1", "", now); err != ErrNoRemainingUnits {
		t.Fatalf("expected ErrNoRemainingUnits, got %v", err)
	}
}

func TestConsume_Expired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newLedger(3, now.Add(-time.Hour))

	if err := Consume(l, "appt-1", "svc-1", "staff-1", "", now); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	checkInvariant(t, l)
	if l.RemainingUnits != 3 {
		t.Fatalf("failed consume must not spend units, remaining=%d", l.RemainingUnits)
	}
}

func TestConsume_AtExpiryBoundary(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newLedger(3, now)

	// now == expiry is still inside the window.
	if err := Consume(l, "appt-1", "svc-1", "staff-1", "", now); err != nil {
		t.Fatalf("consume at expiry instant: %v", err)
	}
	checkInvariant(t, l)
}

func TestRefund_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newLedger(2, now.AddDate(0, 1, 0))

	if err := Consume(l, "appt-1", "svc-1", "staff-1", "", now); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := Refund(l, len(l.Usage)-1); err != nil {
		t.Fatalf("refund: %v", err)
	}
	checkInvariant(t, l)
	if l.UsedUnits != 0 || l.RemainingUnits != 2 {
		t.Fatalf("round trip did not restore counters: used=%d remaining=%d", l.UsedUnits, l.RemainingUnits)
	}
	if l.Status != model.LedgerActive {
		t.Fatalf("expected active after round trip, got %s", l.Status)
	}
}

func TestRefund_RevertsCompletedToActive(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newLedger(1, now.AddDate(0, 1, 0))

	if err := Consume(l, "appt-1", "svc-1", "staff-1", "", now); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if l.Status != model.LedgerCompleted {
		t.Fatalf("expected completed, got %s", l.Status)
	}
	if err := Refund(l, 0); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if l.Status != model.LedgerActive {
		t.Fatalf("expected active after refund, got %s", l.Status)
	}
	checkInvariant(t, l)
}

func TestRefund_DoesNotReactivateExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newLedger(2, now.AddDate(0, 1, 0))
	if err := Consume(l, "appt-1", "svc-1", "staff-1", "", now); err != nil {
		t.Fatalf("consume: %v", err)
	}
	Expire(l)

	if err := Refund(l, 0); err != nil {
		t.Fatalf("refund on expired ledger: %v", err)
	}
	checkInvariant(t, l)
	if l.Status != model.LedgerExpired {
		t.Fatalf("refund must not reactivate an expired ledger, got %s", l.Status)
	}
	if err := Consume(l, "appt-2", "svc-1", "staff-1", "", now); err != ErrNotActive {
		t.Fatalf("refunded units on expired ledger must stay unusable, got %v", err)
	}
}

func TestRefund_InvalidIndex(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newLedger(2, now.AddDate(0, 1, 0))

	if err := Refund(l, 0); err != ErrInvalidIndex {
		t.Fatalf("expected ErrInvalidIndex on empty history, got %v", err)
	}
	if err := Refund(l, -1); err != ErrInvalidIndex {
		t.Fatalf("expected ErrInvalidIndex for negative index, got %v", err)
	}
}

func TestRefundAppointment_PicksLatestEntry(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newLedger(3, now.AddDate(0, 1, 0))

	_ = Consume(l, "appt-1", "svc-1", "staff-1", "", now)
	_ = Consume(l, "appt-2", "svc-2", "staff-1", "", now.Add(time.Minute))
	_ = Consume(l, "appt-1", "svc-3", "staff-1", "", now.Add(2*time.Minute))

	refunded, err := RefundAppointment(l, "appt-1")
	if err != nil || !refunded {
		t.Fatalf("refund appointment: refunded=%v err=%v", refunded, err)
	}
	checkInvariant(t, l)
	if l.Usage[len(l.Usage)-1].ServiceID != "svc-2" {
		t.Fatalf("expected latest appt-1 entry removed, tail is %s", l.Usage[len(l.Usage)-1].ServiceID)
	}

	refunded, err = RefundAppointment(l, "appt-9")
	if err != nil || refunded {
		t.Fatalf("unknown appointment must be a no-op, refunded=%v err=%v", refunded, err)
	}
}

func TestExpire_OnlyActiveLedgers(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newLedger(2, now.Add(-24*time.Hour))

	if !Expire(l) {
		t.Fatal("expected active ledger to expire")
	}
	if l.Status != model.LedgerExpired {
		t.Fatalf("expected expired, got %s", l.Status)
	}
	if l.RemainingUnits != 2 {
		t.Fatalf("expiry must not touch unit counters, remaining=%d", l.RemainingUnits)
	}
	if Expire(l) {
		t.Fatal("expiring twice must be a no-op")
	}
}
