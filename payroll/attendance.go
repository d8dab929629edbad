package payroll

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ATTENDANCE ADJUSTMENT - Attendance history to bonus/penalty
// =============================================================================

// AttendancePolicy holds the organization's attendance pay rules. The values
// are policy constants, not derived from data.
type AttendancePolicy struct {
	PerfectBonus    decimal.Decimal // rate == 100
	HighBonus       decimal.Decimal // rate >= HighRate
	HighRate        decimal.Decimal
	PenaltyRate     decimal.Decimal // absences are penalized below this rate
	AbsencePenalty  decimal.Decimal // per absent record
	LatenessPenalty decimal.Decimal // per late record, unconditional
}

// DefaultAttendancePolicy returns the organization defaults.
func DefaultAttendancePolicy() AttendancePolicy {
	return AttendancePolicy{
		PerfectBonus:    decimal.NewFromInt(2000),
		HighBonus:       decimal.NewFromInt(1000),
		HighRate:        decimal.NewFromInt(95),
		PenaltyRate:     decimal.NewFromInt(80),
		AbsencePenalty:  decimal.NewFromInt(500),
		LatenessPenalty: decimal.NewFromInt(100),
	}
}

// Adjustment is the attendance outcome for one teacher and period.
type Adjustment struct {
	Tally   AttendanceTally `json:"tally"`
	Rate    decimal.Decimal `json:"rate"` // present/total*100, rounded to 2 places
	Bonus   decimal.Decimal `json:"bonus"`
	Penalty decimal.Decimal `json:"penalty"`
}

// Calculate converts a period's tally into bonus and penalty. It is a pure
// function of its input.
//
// No attendance rows yields a zero adjustment, not an error.
func (p AttendancePolicy) Calculate(t AttendanceTally) Adjustment {
	adj := Adjustment{Tally: t, Rate: decimal.Zero, Bonus: decimal.Zero, Penalty: decimal.Zero}
	if t.Total == 0 {
		return adj
	}

	rate := decimal.NewFromInt(int64(t.Present)).Mul(hundred).Div(decimal.NewFromInt(int64(t.Total)))

	switch {
	case rate.Equal(hundred):
		adj.Bonus = p.PerfectBonus
	case rate.GreaterThanOrEqual(p.HighRate):
		adj.Bonus = p.HighBonus
	}

	if rate.LessThan(p.PenaltyRate) {
		adj.Penalty = adj.Penalty.Add(p.AbsencePenalty.Mul(decimal.NewFromInt(int64(t.Absent))))
	}
	adj.Penalty = adj.Penalty.Add(p.LatenessPenalty.Mul(decimal.NewFromInt(int64(t.Late))))

	adj.Rate = rate.Round(2)
	return adj
}

// AttendanceReader is the slice of Reader the calculator needs.
type AttendanceReader interface {
	AttendanceTally(ctx context.Context, id TeacherID, period Period) (AttendanceTally, error)
}

// CalculateFor loads the teacher's tally for the period and calculates the
// adjustment. Read-only.
func (p AttendancePolicy) CalculateFor(ctx context.Context, r AttendanceReader, id TeacherID, period Period) (Adjustment, error) {
	tally, err := r.AttendanceTally(ctx, id, period)
	if err != nil {
		return Adjustment{}, err
	}
	return p.Calculate(tally), nil
}
