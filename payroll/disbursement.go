package payroll

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// DISBURSEMENT STATE MACHINE
// =============================================================================
//
//   pending ──▶ processed ──▶ paid
//
// Payroll runs create rows directly in processed. pending exists for manual
// entry paths outside the batch core. paid is terminal.

type DisbursementStatus string

const (
	DisbursementPending   DisbursementStatus = "pending"
	DisbursementProcessed DisbursementStatus = "processed"
	DisbursementPaid      DisbursementStatus = "paid"
)

func (s DisbursementStatus) IsValid() bool {
	switch s {
	case DisbursementPending, DisbursementProcessed, DisbursementPaid:
		return true
	}
	return false
}

func (s DisbursementStatus) IsTerminal() bool { return s == DisbursementPaid }

// CanTransition reports whether a disbursement may move from s to next.
func (s DisbursementStatus) CanTransition(next DisbursementStatus) bool {
	switch s {
	case DisbursementPending:
		return next == DisbursementProcessed
	case DisbursementProcessed:
		return next == DisbursementPaid
	default:
		return false
	}
}

// =============================================================================
// DISBURSER - Set-based processed -> paid transition
// =============================================================================

// DisburseOutcome reports a set-based disbursement.
type DisburseOutcome struct {
	Paid       []Disbursement
	Unaffected int
}

// Disburser pays processed disbursements.
type Disburser struct{}

// Disburse moves every listed disbursement in processed to paid, stamping the
// payment method and date. Rows already paid, still pending, or unknown are
// excluded from the affected set without error, so retrying is safe.
func (Disburser) Disburse(ctx context.Context, tx Tx, ids []DisbursementID, method string, date time.Time) (DisburseOutcome, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return DisburseOutcome{}, &ValidationError{Field: "payment_method", Message: "required"}
	}
	if date.IsZero() {
		return DisburseOutcome{}, &ValidationError{Field: "payment_date", Message: "required"}
	}
	paid, err := tx.TransitionDisbursements(ctx, ids, DisbursementProcessed, DisbursementPaid,
		Payment{Method: method, Date: DateOf(date)})
	if err != nil {
		return DisburseOutcome{}, err
	}
	return DisburseOutcome{Paid: paid, Unaffected: len(ids) - len(paid)}, nil
}

// =============================================================================
// TEACHER STATUS TRANSITIONS
// =============================================================================

// TeacherStatusSources returns the states a teacher may be moved to target
// from. deleted is terminal for bulk operations.
func TeacherStatusSources(target TeacherStatus) []TeacherStatus {
	switch target {
	case TeacherActive:
		return []TeacherStatus{TeacherInactive}
	case TeacherInactive:
		return []TeacherStatus{TeacherActive}
	case TeacherDeleted:
		return []TeacherStatus{TeacherActive, TeacherInactive}
	default:
		return nil
	}
}
