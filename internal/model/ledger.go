package model

import "time"

type LedgerStatus string

const (
	LedgerActive    LedgerStatus = "active"
	LedgerCompleted LedgerStatus = "completed"
	LedgerExpired   LedgerStatus = "expired"
	LedgerCancelled LedgerStatus = "cancelled"
)

// UsageEntry records one consumed session unit. Entries are ordered by
// consumption time and addressed by index for refunds.
type UsageEntry struct {
	AppointmentID string    `json:"appointment_id"`
	ServiceID     string    `json:"service_id"`
	StaffID       string    `json:"staff_id"`
	Note          string    `json:"note,omitempty"`
	UsedAt        time.Time `json:"used_at"`
}

// SessionLedger is the consumable-unit account created by a package
// purchase. UsedUnits + RemainingUnits == TotalUnits at all times;
// mutations go through the ledger package, never by direct field writes.
type SessionLedger struct {
	ID             string       `json:"id"`
	CompanyID      string       `json:"company_id"`
	CustomerID     string       `json:"customer_id"`
	PackageID      string       `json:"package_id"`
	PackageName    string       `json:"package_name,omitempty"`
	PurchaseDate   time.Time    `json:"purchase_date"`
	ExpiryDate     time.Time    `json:"expiry_date"`
	TotalUnits     int          `json:"total_units"`
	UsedUnits      int          `json:"used_units"`
	RemainingUnits int          `json:"remaining_units"`
	Usage          []UsageEntry `json:"usage"`
	Status         LedgerStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Usable reports whether a consume attempt could succeed right now.
func (l *SessionLedger) Usable(now time.Time) bool {
	return l.Status == LedgerActive && l.RemainingUnits > 0 && !now.After(l.ExpiryDate)
}
