/*
salary.go - Salary computation engine

PURPOSE:
  Derives basic/allowances/deductions/bonus/penalty/net for one teacher and
  one period, and persists the result as a processed disbursement.

ALGORITHM:
  1. Idempotency guard: a disbursement for (teacher, period) -> DuplicateError
  2. Active config required -> NoConfigError
  3. Overrides, in fixed order:
       basic      *= 1 + IncreasePercent/100
       basic      += IncreaseAmount
       allowances += Bonus
       deductions += Deduction
  4. Attendance adjustment for the period (attendance.go)
  5. net = basic + allowances + bonus - deductions - penalty

  Net is not floored at zero. A negative net is surfaced as-is; approving
  it is a caller decision.

CONCURRENCY:
  The check in step 1 is an early exit. The store's unique index on
  (teacher_id, month, year) is what stops two concurrent runs from paying
  the same period: the losing insert returns *DuplicateError.

SEE ALSO:
  - attendance.go: Bonus/penalty rules
  - batch/coordinator.go: Runs this for every target of a payroll batch
*/
package payroll

import (
	"context"

	"github.com/google/uuid"
)

// SalaryEngine computes and records per-period salaries.
type SalaryEngine struct {
	Attendance AttendancePolicy
	Clock      Clock
}

func NewSalaryEngine(policy AttendancePolicy) *SalaryEngine {
	return &SalaryEngine{Attendance: policy}
}

// Compute derives the salary lines without writing anything.
func (e *SalaryEngine) Compute(ctx context.Context, r Reader, id TeacherID, period Period, o Overrides) (SalaryLines, error) {
	exists, err := r.DisbursementExists(ctx, id, period)
	if err != nil {
		return SalaryLines{}, err
	}
	if exists {
		return SalaryLines{}, &DuplicateError{TeacherID: id, Period: period}
	}

	cfg, err := r.ActiveConfig(ctx, id, false)
	if err != nil {
		return SalaryLines{}, err
	}
	if cfg == nil {
		return SalaryLines{}, &NoConfigError{TeacherID: id}
	}

	basic := cfg.Basic
	allowances := cfg.Allowances
	deductions := cfg.Deductions

	if !o.IncreasePercent.IsZero() {
		basic = applyPercent(basic, o.IncreasePercent)
	}
	basic = basic.Add(o.IncreaseAmount)
	allowances = allowances.Add(o.Bonus)
	deductions = deductions.Add(o.Deduction)

	adj, err := e.Attendance.CalculateFor(ctx, r, id, period)
	if err != nil {
		return SalaryLines{}, err
	}

	net := basic.Add(allowances).Add(adj.Bonus).Sub(deductions).Sub(adj.Penalty)

	return SalaryLines{
		TeacherID:         id,
		Period:            period,
		Basic:             basic,
		Allowances:        allowances,
		Deductions:        deductions,
		AttendanceBonus:   adj.Bonus,
		AttendancePenalty: adj.Penalty,
		Net:               net,
		Attendance:        adj,
	}, nil
}

// Run computes the salary and inserts it as a processed disbursement.
func (e *SalaryEngine) Run(ctx context.Context, tx Tx, id TeacherID, period Period, o Overrides) (Disbursement, error) {
	lines, err := e.Compute(ctx, tx, id, period, o)
	if err != nil {
		return Disbursement{}, err
	}

	d := Disbursement{
		ID:                DisbursementID(uuid.NewString()),
		TeacherID:         id,
		Period:            period,
		Basic:             lines.Basic,
		Allowances:        lines.Allowances,
		Deductions:        lines.Deductions,
		AttendanceBonus:   lines.AttendanceBonus,
		AttendancePenalty: lines.AttendancePenalty,
		Net:               lines.Net,
		Status:            DisbursementProcessed,
		CreatedAt:         e.Clock.Now(),
	}
	if err := tx.InsertDisbursement(ctx, d); err != nil {
		return Disbursement{}, err
	}
	return d, nil
}
