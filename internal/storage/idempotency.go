package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/salonops/booker/libs/db"
)

// IdempotencyRecord is a finalized (or in-flight) keyed request. A
// record with StatusCode zero means the original request never
// finished; the caller may execute again under the key's row lock.
type IdempotencyRecord struct {
	CompanyID       string
	IdempotencyKey  string
	StatusCode      int
	ResponsePayload []byte
}

// IdempotencyRepository serializes retried requests carrying the same
// Idempotency-Key and replays the stored response.
type IdempotencyRepository struct {
	pool *db.Pool
}

func NewIdempotencyRepository(pool *db.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

func (r *IdempotencyRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Lock claims the key under a row lock, inserting it first if absent.
// Concurrent requests with the same key block here until the winner
// commits, then observe its finalized response.
func (r *IdempotencyRepository) Lock(ctx context.Context, tx pgx.Tx, companyID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectForUpdate(ctx, tx, companyID, key)
	if err == nil {
		return rec, true, nil
	}
	if !isNoRows(err) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO idempotency_keys (company_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (company_id, idempotency_key) DO NOTHING
	`, companyID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectForUpdate(ctx, tx, companyID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *IdempotencyRepository) Finalize(ctx context.Context, tx pgx.Tx, companyID, key string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE idempotency_keys
		SET status_code = $3,
			response_payload = $4,
			updated_at = now()
		WHERE company_id = $1 AND idempotency_key = $2
	`, companyID, key, statusCode, response)
	return err
}

func (r *IdempotencyRepository) selectForUpdate(ctx context.Context, tx pgx.Tx, companyID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var response []byte
	err := tx.QueryRow(ctx, `
		SELECT company_id::text,
			idempotency_key,
			COALESCE(status_code, 0),
			COALESCE(response_payload, '')
		FROM idempotency_keys
		WHERE company_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, companyID, key).Scan(
		&rec.CompanyID,
		&rec.IdempotencyKey,
		&rec.StatusCode,
		&response,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	rec.ResponsePayload = response
	return rec, nil
}
