/*
errors.go - Centralized error types for the payroll core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every structured error unwraps to a sentinel so callers branch with
  errors.Is and extract details with errors.As.

ERROR CATEGORIES:
  1. Batch-level  - ValidationError (reject before any transaction opens)
                    StoreError (full rollback, surfaced verbatim)
  2. Item-level   - DuplicateError, NoConfigError, PreconditionError
                    (accumulate into the batch's failed list)
  3. Side-channel - NotificationError (logged only)

USAGE:
  if errors.Is(err, payroll.ErrDuplicatePeriod) {
      // period already disbursed for this teacher
  }

SEE ALSO:
  - batch/coordinator.go: Applies the propagation policy
  - store/sqlstore: Maps constraint violations onto these errors
*/
package payroll

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation rejects a whole batch before a transaction is opened.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicatePeriod is returned when a disbursement already exists for
	// (teacher, month, year). This is the payroll idempotency guard.
	ErrDuplicatePeriod = errors.New("period already disbursed")

	// ErrNoActiveConfig is returned when a teacher has no active salary config.
	ErrNoActiveConfig = errors.New("no active salary config")

	// ErrPrecondition is returned when a target is not in the required state.
	ErrPrecondition = errors.New("precondition not met")

	// ErrStore wraps transaction and connectivity failures.
	ErrStore = errors.New("store failure")

	// ErrNotification is returned by notifiers. Never fails a batch.
	ErrNotification = errors.New("notification failed")

	// ErrNotFound is returned when a referenced row doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when the single-active-config
	// index rejects an insert because another writer won the race.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes invalid batch input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DuplicateError reports a period that was already disbursed.
type DuplicateError struct {
	TeacherID TeacherID
	Period    Period
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("salary for %s already disbursed to teacher %s", e.Period, e.TeacherID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicatePeriod }

// NoConfigError reports a teacher without an active salary config.
type NoConfigError struct {
	TeacherID TeacherID
}

func (e *NoConfigError) Error() string {
	return fmt.Sprintf("teacher %s has no active salary config", e.TeacherID)
}

func (e *NoConfigError) Unwrap() error { return ErrNoActiveConfig }

// PreconditionError reports a target in the wrong state.
type PreconditionError struct {
	ID       string
	State    string
	Required string
}

func (e *PreconditionError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("%s: requires %s", e.ID, e.Required)
	}
	return fmt.Sprintf("%s is %s, requires %s", e.ID, e.State, e.Required)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// StoreError wraps an underlying data-store failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return e.Op + ": store failure"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// NotificationError wraps a failed notification delivery.
type NotificationError struct {
	Recipient string
	Err       error
}

func (e *NotificationError) Error() string {
	if e.Err == nil {
		return "notification to " + e.Recipient + " failed"
	}
	return fmt.Sprintf("notification to %s failed: %v", e.Recipient, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

func (e *NotificationError) Is(target error) bool { return target == ErrNotification }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsItemError reports whether err is a per-item failure that accumulates into
// a batch's failed list instead of aborting it.
func IsItemError(err error) bool {
	return errors.Is(err, ErrDuplicatePeriod) ||
		errors.Is(err, ErrNoActiveConfig) ||
		errors.Is(err, ErrPrecondition) ||
		errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// Code returns a short machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDuplicatePeriod):
		return "duplicate"
	case errors.Is(err, ErrNoActiveConfig):
		return "no_config"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotification):
		return "notification"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	default:
		return "store"
	}
}
