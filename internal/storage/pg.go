// Package storage holds the pgx repositories behind the booking
// engine, the scheduler and the notification log. All cross-entity
// writes (booking + consumption, cancellation + refund) run in single
// transactions here.
package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// isExclusionViolation reports a tstzrange exclusion-constraint hit,
// the database-level backstop for double bookings.
func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
