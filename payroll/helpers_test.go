package payroll_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

var (
	june2024 = payroll.NewPeriod(time.June, 2024)
	today    = payroll.Date(2024, time.July, 15)
	clock    = payroll.FixedClock(today)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %s, got %s", field, want, got.String())
}

func newVersioner() *payroll.ConfigVersioner {
	v := payroll.NewConfigVersioner()
	v.Clock = clock
	return v
}

func newEngine() *payroll.SalaryEngine {
	e := payroll.NewSalaryEngine(payroll.DefaultAttendancePolicy())
	e.Clock = clock
	return e
}

// addTeacher creates a teacher and, when basic is non-empty, an active config.
func addTeacher(t *testing.T, m *store.Memory, id, basic, allowances, deductions string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.SaveTeacher(ctx, payroll.Teacher{
		ID:     payroll.TeacherID(id),
		Name:   "Teacher " + id,
		Email:  id + "@school.example",
		Status: payroll.TeacherActive,
	}))
	if basic == "" {
		return
	}
	require.NoError(t, m.WithTx(ctx, func(tx payroll.Tx) error {
		_, err := newVersioner().Replace(ctx, tx, payroll.TeacherID(id), payroll.PayComponents{
			Basic:      dec(basic),
			Allowances: dec(allowances),
			Deductions: dec(deductions),
		})
		return err
	}))
}

// addAttendance records present, absent and late days for the teacher in the
// given period, one per day starting on the 1st.
func addAttendance(t *testing.T, m *store.Memory, id string, period payroll.Period, present, absent, late int) {
	t.Helper()
	day := period.Start()
	add := func(n int, status payroll.AttendanceStatus) {
		for i := 0; i < n; i++ {
			require.NoError(t, m.RecordAttendance(context.Background(), payroll.AttendanceRecord{
				ID:         fmt.Sprintf("%s-%s", id, day.Format("0102")),
				TeacherID:  payroll.TeacherID(id),
				ScheduleID: "morning",
				Date:       day,
				Status:     status,
			}))
			day = day.AddDate(0, 0, 1)
		}
	}
	add(present, payroll.AttendancePresent)
	add(absent, payroll.AttendanceAbsent)
	add(late, payroll.AttendanceLate)
}

func activeConfigs(history []payroll.SalaryConfig) []payroll.SalaryConfig {
	var out []payroll.SalaryConfig
	for _, c := range history {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}
