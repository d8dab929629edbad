/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	payroll data. Each scenario creates teachers, salary configs and one
	month of attendance (the month before today) that exercise specific
	parts of the batch engine.

AVAILABLE SCENARIOS:

	school-month:   Ten teachers with mixed attendance, nothing paid yet
	partly-paid:    school-month with two salaries already run, one paid
	missing-config: Teachers without a salary config and a removed teacher

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create teachers
 3. Set salary configs through the config versioner
 4. Record weekday attendance for the period
 5. Optionally run bulk operations through the coordinator

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "partly-paid"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: HTTP handlers
  - batch/coordinator.go: Bulk operations used by partly-paid
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "school-month",
		Name:        "School Month",
		Description: "Ten teachers, mixed attendance last month, ready for a payroll run",
	},
	{
		ID:          "partly-paid",
		Name:        "Partly Paid",
		Description: "School month where two salaries were already run and one was paid",
	},
	{
		ID:          "missing-config",
		Name:        "Missing Config",
		Description: "Teachers without salary configs and a removed teacher",
	},
}

// ScenarioActor is the actor bulk operations run by scenario loaders are
// attributed to.
const ScenarioActor = "scenario-loader"

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "school-month":
		load = h.loadSchoolMonth
	case "partly-paid":
		load = h.loadPartlyPaid
	case "missing-config":
		load = h.loadMissingConfig
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"period":   h.scenarioPeriod().String(),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// attendancePattern returns the status for the nth weekday of the period.
type attendancePattern func(n int) payroll.AttendanceStatus

func allPresent(int) payroll.AttendanceStatus { return payroll.AttendancePresent }

// absentEvery marks every kth weekday absent and every lth late (0 disables).
func absentEvery(k, l int) attendancePattern {
	return func(n int) payroll.AttendanceStatus {
		switch {
		case k > 0 && n%k == 0:
			return payroll.AttendanceAbsent
		case l > 0 && n%l == 0:
			return payroll.AttendanceLate
		default:
			return payroll.AttendancePresent
		}
	}
}

type seedTeacher struct {
	id         string
	name       string
	basic      int64
	allowances int64
	deductions int64
	pattern    attendancePattern // nil: no attendance
	noConfig   bool
}

var schoolMonth = []seedTeacher{
	{id: "t-001", name: "Amina Okello", basic: 30000, allowances: 5000, deductions: 2000, pattern: allPresent},
	{id: "t-002", name: "Brian Mugisha", basic: 28000, allowances: 4000, deductions: 1500, pattern: absentEvery(0, 7)},
	{id: "t-003", name: "Claire Nansubuga", basic: 32000, allowances: 6000, deductions: 2500, pattern: absentEvery(4, 0)},
	{id: "t-004", name: "David Ssempala", basic: 26000, allowances: 3000, deductions: 1000, pattern: absentEvery(3, 5)},
	{id: "t-005", name: "Esther Achieng", basic: 35000, allowances: 7000, deductions: 3000, pattern: allPresent},
	{id: "t-006", name: "Frank Tumusiime", basic: 24000, allowances: 2500, deductions: 800, pattern: absentEvery(21, 0)},
	{id: "t-007", name: "Grace Nakato", basic: 29000, allowances: 4500, deductions: 1800, pattern: absentEvery(2, 0)},
	{id: "t-008", name: "Henry Kato", basic: 31000, allowances: 5000, deductions: 2200, pattern: nil},
	{id: "t-009", name: "Irene Atim", basic: 27000, allowances: 3500, deductions: 1200, pattern: absentEvery(0, 2)},
	{id: "t-010", name: "Joseph Waiswa", basic: 33000, allowances: 6500, deductions: 2800, pattern: absentEvery(10, 4)},
}

func (h *Handler) loadSchoolMonth(ctx context.Context) error {
	return h.seed(ctx, schoolMonth)
}

func (h *Handler) loadPartlyPaid(ctx context.Context) error {
	if err := h.seed(ctx, schoolMonth); err != nil {
		return err
	}

	period := h.scenarioPeriod()
	run := h.Batch.Execute(ctx, batch.Request{
		ActorID:   ScenarioActor,
		Operation: batch.OpPayrollRun,
		TargetIDs: []string{"t-001", "t-002"},
		Options:   batch.Options{Period: &period},
	})
	if !run.Committed {
		return fmt.Errorf("payroll run: %s", run.Message)
	}

	paid, err := h.Store.ListDisbursements(ctx, payroll.DisbursementFilter{Period: &period, TeacherID: "t-001"})
	if err != nil {
		return err
	}
	if len(paid) != 1 {
		return fmt.Errorf("expected one disbursement for t-001, got %d", len(paid))
	}

	pay := h.Batch.Execute(ctx, batch.Request{
		ActorID:   ScenarioActor,
		Operation: batch.OpDisburse,
		TargetIDs: []string{string(paid[0].ID)},
		Options: batch.Options{
			PaymentMethod: "bank_transfer",
			PaymentDate:   period.End().Format(payroll.DateLayout),
		},
	})
	if !pay.Committed {
		return fmt.Errorf("disburse: %s", pay.Message)
	}
	return nil
}

func (h *Handler) loadMissingConfig(ctx context.Context) error {
	if err := h.seed(ctx, []seedTeacher{
		{id: "t-101", name: "Kevin Opio", basic: 25000, allowances: 3000, deductions: 1000, pattern: allPresent},
		{id: "t-102", name: "Lydia Auma", pattern: allPresent, noConfig: true},
		{id: "t-103", name: "Moses Byaruhanga", pattern: absentEvery(5, 0), noConfig: true},
		{id: "t-104", name: "Nora Kisakye", basic: 27000, allowances: 3000, deductions: 1000, pattern: allPresent},
	}); err != nil {
		return err
	}

	res := h.Batch.Execute(ctx, batch.Request{
		ActorID:   ScenarioActor,
		Operation: batch.OpDelete,
		TargetIDs: []string{"t-104"},
	})
	if !res.Committed {
		return fmt.Errorf("delete: %s", res.Message)
	}
	return nil
}

func (h *Handler) seed(ctx context.Context, teachers []seedTeacher) error {
	period := h.scenarioPeriod()

	for _, s := range teachers {
		t := payroll.Teacher{
			ID:     payroll.TeacherID(s.id),
			Name:   s.name,
			Email:  fmt.Sprintf("%s@school.example", s.id),
			Status: payroll.TeacherActive,
		}
		if err := h.Store.SaveTeacher(ctx, t); err != nil {
			return err
		}

		if !s.noConfig {
			err := h.Store.WithTx(ctx, func(tx payroll.Tx) error {
				_, err := h.Batch.Versioner.Replace(ctx, tx, t.ID, payroll.PayComponents{
					Basic:      decimal.NewFromInt(s.basic),
					Allowances: decimal.NewFromInt(s.allowances),
					Deductions: decimal.NewFromInt(s.deductions),
				})
				return err
			})
			if err != nil {
				return fmt.Errorf("salary for %s: %w", s.id, err)
			}
		}

		if s.pattern == nil {
			continue
		}
		n := 0
		for day := period.Start(); day.Before(period.End()); day = day.AddDate(0, 0, 1) {
			if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
				continue
			}
			n++
			rec := payroll.AttendanceRecord{
				ID:         fmt.Sprintf("att-%s-%s", s.id, day.Format("20060102")),
				TeacherID:  t.ID,
				ScheduleID: "morning",
				Date:       day,
				Status:     s.pattern(n),
			}
			if err := h.Store.RecordAttendance(ctx, rec); err != nil {
				return fmt.Errorf("attendance for %s: %w", s.id, err)
			}
		}
	}
	return nil
}

// scenarioPeriod is the month before today.
func (h *Handler) scenarioPeriod() payroll.Period {
	current := payroll.PeriodOf(h.Batch.Clock.Today())
	return payroll.PeriodOf(current.Start().AddDate(0, -1, 0))
}
