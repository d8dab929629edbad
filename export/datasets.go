package export

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// DisbursementRegister lists disbursements with teacher names and a closing
// totals row. teachers may be missing entries; the name is left blank.
func DisbursementRegister(title string, list []payroll.Disbursement, teachers map[payroll.TeacherID]payroll.Teacher) Dataset {
	ds := Dataset{
		Title: title,
		Columns: []string{
			"Disbursement", "Teacher ID", "Teacher", "Period",
			"Basic", "Allowances", "Deductions", "Attendance Bonus", "Attendance Penalty", "Net",
			"Status", "Payment Method", "Payment Date",
		},
	}

	total := decimal.Zero
	for _, d := range list {
		var paidOn any
		if d.PaymentDate != nil {
			paidOn = *d.PaymentDate
		}
		ds.Rows = append(ds.Rows, []any{
			string(d.ID), string(d.TeacherID), teachers[d.TeacherID].Name, d.Period.String(),
			d.Basic, d.Allowances, d.Deductions, d.AttendanceBonus, d.AttendancePenalty, d.Net,
			string(d.Status), d.PaymentMethod, paidOn,
		})
		total = total.Add(d.Net)
	}

	if len(list) > 0 {
		ds.Rows = append(ds.Rows, []any{
			"Total", "", "", "", nil, nil, nil, nil, nil, total, "", "", nil,
		})
	}
	return ds
}

// TeacherRoster lists teachers with their cached salary.
func TeacherRoster(title string, teachers []payroll.Teacher) Dataset {
	ds := Dataset{
		Title:   title,
		Columns: []string{"ID", "Name", "Email", "Status", "Salary"},
	}
	for _, t := range teachers {
		ds.Rows = append(ds.Rows, []any{string(t.ID), t.Name, t.Email, string(t.Status), t.Salary})
	}
	return ds
}
