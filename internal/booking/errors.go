package booking

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports malformed input with field-level detail.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced entity that is missing or outside
// the caller's company scope.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// SchedulingConflict reports an overlapping interval on the target
// staff calendar.
type SchedulingConflict struct {
	StaffID string
	Start   time.Time
	End     time.Time
}

func (e *SchedulingConflict) Error() string {
	return fmt.Sprintf("staff %s already booked between %s and %s",
		e.StaffID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// StateError reports an operation not allowed in the entity's current
// state: terminal-state transitions, cancellations inside the lead-time
// window, or ledger consume on an exhausted/expired ledger.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed: %s", e.Op, e.Reason)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var sc *SchedulingConflict
	return errors.As(err, &sc)
}

func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
