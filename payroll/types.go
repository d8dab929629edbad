/*
Package payroll provides the payroll computation core.

PURPOSE:
  Domain types and algorithms for paying teachers: effective-dated salary
  configuration, attendance-driven bonus/penalty, per-period disbursements
  and their payment lifecycle. The batch package drives these components
  across many targets inside one store transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Period: a (month, year) billing unit
  - Teacher: identity, status, cached nominal salary
  - SalaryConfig: one immutable version of a teacher's pay configuration
  - AttendanceRecord / AttendanceTally: stored attendance and its monthly counts
  - Disbursement: the persisted salary record for one teacher/period

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Append-only history: salary configs are superseded, never edited
  3. Type Safety: distinct ID types for teachers, configs and disbursements

SEE ALSO:
  - attendance.go: Attendance adjustment calculator
  - salary.go: Salary computation engine
  - config_version.go: Salary config versioning
  - disbursement.go: Disbursement state machine
  - store.go: Persistence interfaces
*/
package payroll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TeacherID string
type ConfigID string
type DisbursementID string

// =============================================================================
// PERIOD - Billing unit
// =============================================================================

// Period is a payroll billing unit: one calendar month of one year.
type Period struct {
	Month time.Month `json:"month"`
	Year  int        `json:"year"`
}

func NewPeriod(month time.Month, year int) Period {
	return Period{Month: month, Year: year}
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Month: t.Month(), Year: t.Year()}
}

func (p Period) Validate() error {
	if p.Month < time.January || p.Month > time.December {
		return &ValidationError{Field: "month", Message: fmt.Sprintf("month %d out of range 1-12", p.Month)}
	}
	if p.Year < 1970 || p.Year > 9999 {
		return &ValidationError{Field: "year", Message: fmt.Sprintf("year %d out of range", p.Year)}
	}
	return nil
}

// Start is the first day of the period.
func (p Period) Start() time.Time { return Date(p.Year, p.Month, 1) }

// End is the first day of the following period (exclusive bound).
func (p Period) End() time.Time { return p.Start().AddDate(0, 1, 0) }

// Contains reports whether the day t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return t.Year() == p.Year && t.Month() == p.Month
}

func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }

// =============================================================================
// TEACHER
// =============================================================================

type TeacherStatus string

const (
	TeacherActive   TeacherStatus = "active"
	TeacherInactive TeacherStatus = "inactive"
	TeacherDeleted  TeacherStatus = "deleted" // soft delete; rows are never removed
)

func (s TeacherStatus) IsValid() bool {
	switch s {
	case TeacherActive, TeacherInactive, TeacherDeleted:
		return true
	}
	return false
}

type Teacher struct {
	ID     TeacherID
	Name   string
	Email  string
	Status TeacherStatus

	// Salary caches the basic amount of the active SalaryConfig.
	Salary decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// SALARY CONFIG - Effective-dated pay configuration
// =============================================================================

// PayComponents are the configured monthly amounts of a salary config.
type PayComponents struct {
	Basic      decimal.Decimal `json:"basic"`
	Allowances decimal.Decimal `json:"allowances"`
	Deductions decimal.Decimal `json:"deductions"`
}

// SalaryConfig is one version of a teacher's pay configuration.
//
// INVARIANTS:
//   - At most one Active config per teacher, and it has EffectiveTo == nil.
//   - Pay components are never modified after insertion. Superseding a config
//     only stamps Active=false, EffectiveTo and SupersededBy.
type SalaryConfig struct {
	ID        ConfigID
	TeacherID TeacherID
	PayComponents

	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Active        bool
	SupersededBy  ConfigID

	CreatedAt time.Time
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLate    AttendanceStatus = "late"
	AttendancePartial AttendanceStatus = "partial"
)

func (s AttendanceStatus) IsValid() bool {
	switch s {
	case AttendancePresent, AttendanceAbsent, AttendanceLate, AttendancePartial:
		return true
	}
	return false
}

// AttendanceRecord is unique per (TeacherID, ScheduleID, Date).
type AttendanceRecord struct {
	ID         string
	TeacherID  TeacherID
	ScheduleID string
	Date       time.Time
	Status     AttendanceStatus
}

// AttendanceTally holds the per-status counts of one teacher for one period.
// Partial rows only contribute to Total.
type AttendanceTally struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Late    int `json:"late"`
	Total   int `json:"total"`
}

// Add counts one record.
func (t *AttendanceTally) Add(status AttendanceStatus) {
	t.Total++
	switch status {
	case AttendancePresent:
		t.Present++
	case AttendanceAbsent:
		t.Absent++
	case AttendanceLate:
		t.Late++
	}
}

// =============================================================================
// DISBURSEMENT - Persisted salary for one teacher/period
// =============================================================================

// SalaryLines is the computed salary breakdown for one teacher and period.
type SalaryLines struct {
	TeacherID         TeacherID       `json:"teacher_id"`
	Period            Period          `json:"period"`
	Basic             decimal.Decimal `json:"basic"`
	Allowances        decimal.Decimal `json:"allowances"`
	Deductions        decimal.Decimal `json:"deductions"`
	AttendanceBonus   decimal.Decimal `json:"attendance_bonus"`
	AttendancePenalty decimal.Decimal `json:"attendance_penalty"`
	Net               decimal.Decimal `json:"net"`
	Attendance        Adjustment      `json:"attendance"`
}

type Disbursement struct {
	ID        DisbursementID
	TeacherID TeacherID
	Period    Period

	Basic             decimal.Decimal
	Allowances        decimal.Decimal
	Deductions        decimal.Decimal
	AttendanceBonus   decimal.Decimal
	AttendancePenalty decimal.Decimal
	Net               decimal.Decimal

	Status        DisbursementStatus
	PaymentMethod string
	PaymentDate   *time.Time

	CreatedAt time.Time
}

// =============================================================================
// MUTATION OPTIONS
// =============================================================================

// Overrides adjust a payroll run. A zero field is a no-op, so each one is
// independently applicable.
type Overrides struct {
	IncreasePercent decimal.Decimal `json:"increase_percent"` // applied to basic first
	IncreaseAmount  decimal.Decimal `json:"increase_amount"`  // then added to basic
	Bonus           decimal.Decimal `json:"bonus"`            // added to allowances
	Deduction       decimal.Decimal `json:"deduction"`        // added to deductions
}

type IncreaseKind string

const (
	IncreasePercentage IncreaseKind = "percentage"
	IncreaseFlat       IncreaseKind = "flat"
)

// Increase describes a salary increase applied to a teacher's basic.
type Increase struct {
	Kind  IncreaseKind    `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

func (i Increase) Validate() error {
	switch i.Kind {
	case IncreasePercentage, IncreaseFlat:
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown increase kind %q", i.Kind)}
	}
	if i.Value.IsZero() {
		return &ValidationError{Field: "value", Message: "increase value must be non-zero"}
	}
	// Negative values are decreases. -100% or less can only end at or below zero.
	if i.Kind == IncreasePercentage && i.Value.LessThanOrEqual(hundred.Neg()) {
		return &ValidationError{Field: "value", Message: "percentage must be greater than -100"}
	}
	return nil
}

// Apply returns the new basic after the increase.
func (i Increase) Apply(basic decimal.Decimal) decimal.Decimal {
	if i.Kind == IncreasePercentage {
		return applyPercent(basic, i.Value)
	}
	return basic.Add(i.Value)
}

var hundred = decimal.NewFromInt(100)

func applyPercent(amount, percent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(percent.Div(hundred))
	return amount.Mul(factor).Round(2)
}
