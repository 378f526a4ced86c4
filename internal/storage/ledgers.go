package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/salonops/booker/internal/booking"
	"github.com/salonops/booker/internal/model"
	"github.com/salonops/booker/libs/db"
)

const ledgerColumns = `
	id, company_id, customer_id, package_id, package_name,
	purchase_date, expiry_date, total_units, used_units, remaining_units,
	usage, status, created_at, updated_at`

type LedgerRepository struct {
	pool *db.Pool
}

func NewLedgerRepository(pool *db.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Create records a package purchase as a fresh active ledger.
func (r *LedgerRepository) Create(ctx context.Context, led *model.SessionLedger) error {
	if led.ID == "" {
		led.ID = uuid.NewString()
	}
	led.UsedUnits = 0
	led.RemainingUnits = led.TotalUnits
	led.Status = model.LedgerActive
	led.UpdatedAt = led.CreatedAt
	_, err := r.pool.Exec(ctx, `
		INSERT INTO session_ledgers
			(id, company_id, customer_id, package_id, package_name,
			 purchase_date, expiry_date, total_units, used_units, remaining_units,
			 usage, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $8, '[]', $9, $10, $10)
	`, led.ID, led.CompanyID, led.CustomerID, led.PackageID, led.PackageName,
		led.PurchaseDate, led.ExpiryDate, led.TotalUnits, led.Status, led.CreatedAt)
	return err
}

func (r *LedgerRepository) Get(ctx context.Context, companyID, id string) (*model.SessionLedger, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM session_ledgers
		WHERE id = $1 AND company_id = $2
	`, id, companyID)
	led, err := scanLedger(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &booking.NotFoundError{Kind: "ledger", ID: id}
		}
		return nil, err
	}
	return led, nil
}

func (r *LedgerRepository) ListByCustomer(ctx context.Context, companyID, customerID string) ([]model.SessionLedger, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM session_ledgers
		WHERE company_id = $1 AND customer_id = $2
		ORDER BY purchase_date DESC
	`, companyID, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLedgers(rows)
}

// ExpireLedgers flips active ledgers past their expiry date to
// expired and returns the affected rows.
func (r *LedgerRepository) ExpireLedgers(ctx context.Context, now time.Time) ([]model.SessionLedger, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE session_ledgers
		SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND expiry_date < $1
		RETURNING `+ledgerColumns+`
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLedgers(rows)
}

// LedgersExpiringWithin lists active ledgers with units left whose
// expiry falls inside (from, until].
func (r *LedgerRepository) LedgersExpiringWithin(ctx context.Context, from, until time.Time) ([]model.SessionLedger, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM session_ledgers
		WHERE status = 'active'
			AND remaining_units > 0
			AND expiry_date > $1
			AND expiry_date <= $2
		ORDER BY expiry_date
	`, from, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLedgers(rows)
}

// getLedgerForUpdate loads a ledger under a row lock so concurrent
// consumes and refunds serialize on it.
func getLedgerForUpdate(ctx context.Context, tx pgx.Tx, companyID, id string) (*model.SessionLedger, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM session_ledgers
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, id, companyID)
	led, err := scanLedger(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &booking.NotFoundError{Kind: "ledger", ID: id}
		}
		return nil, err
	}
	return led, nil
}

func saveLedger(ctx context.Context, tx pgx.Tx, led *model.SessionLedger) error {
	usage, err := json.Marshal(led.Usage)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE session_ledgers
		SET used_units = $3,
			remaining_units = $4,
			usage = $5,
			status = $6,
			updated_at = $7
		WHERE id = $1 AND company_id = $2
	`, led.ID, led.CompanyID, led.UsedUnits, led.RemainingUnits, usage, led.Status, led.UpdatedAt)
	return err
}

func scanLedger(row pgx.Row) (*model.SessionLedger, error) {
	var led model.SessionLedger
	var usage []byte
	if err := row.Scan(
		&led.ID,
		&led.CompanyID,
		&led.CustomerID,
		&led.PackageID,
		&led.PackageName,
		&led.PurchaseDate,
		&led.ExpiryDate,
		&led.TotalUnits,
		&led.UsedUnits,
		&led.RemainingUnits,
		&usage,
		&led.Status,
		&led.CreatedAt,
		&led.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(usage) > 0 {
		if err := json.Unmarshal(usage, &led.Usage); err != nil {
			return nil, err
		}
	}
	return &led, nil
}

func collectLedgers(rows pgx.Rows) ([]model.SessionLedger, error) {
	var ledgers []model.SessionLedger
	for rows.Next() {
		led, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, *led)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ledgers, nil
}
