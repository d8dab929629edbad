/*
handlers_test.go - HTTP API behavior

Tests for:
- Teacher, salary config and attendance maintenance endpoints
- Payslip preview before and after a payroll run
- Bulk operations over HTTP (status codes, actor header)
- Disbursement listing, exports and the audit log
- Scenario loading, health and metrics
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/notify"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// server wires the router over a fresh memory store. The clock sits in July
// 2024 so scenarios seed June 2024.
type server struct {
	t       *testing.T
	router  http.Handler
	mailbox *notify.Recorder
}

func setupServer(t *testing.T) *server {
	t.Helper()
	m := store.NewMemory()
	rec := &notify.Recorder{}
	reg := prometheus.NewRegistry()
	logger := zaptest.NewLogger(t)

	c := batch.NewCoordinator(m, payroll.DefaultAttendancePolicy(), rec, logger, batch.NewMetrics(reg))
	c.SetClock(payroll.FixedClock(payroll.Date(2024, time.July, 5)))

	h := api.NewHandler(m, c, logger)
	return &server{t: t, router: api.NewRouter(h, reg), mailbox: rec}
}

func (s *server) do(method, path string, body any, header ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *server) loadScenario(id string) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": id})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
}

// createTeacher adds a teacher with an active salary config.
func (s *server) createTeacher(id string, basic int64) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/teachers", map[string]string{
		"id": id, "name": "Teacher " + id, "email": id + "@school.example",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPut, "/api/teachers/"+id+"/salary", map[string]string{
		"basic": decimal.NewFromInt(basic).String(), "allowances": "5000", "deductions": "2000",
	})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
}

// =============================================================================
// TEACHERS AND SALARY CONFIGS
// =============================================================================

func TestCreateTeacher(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodPost, "/api/teachers", map[string]string{"name": "Amina Okello", "email": "amina@school.example"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	got := decodeBody[api.TeacherDTO](t, w)
	assert.NotEmpty(t, got.ID, "id is generated when omitted")
	assert.Equal(t, "active", got.Status)

	w = s.do(http.MethodGet, "/api/teachers/"+got.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateTeacher_ValidationFails(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodPost, "/api/teachers", map[string]string{"name": "Amina", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody[api.ErrorResponse](t, w)
	assert.Contains(t, resp.Details, "email")

	w = s.do(http.MethodPost, "/api/teachers", "{broken")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTeacher_NotFound(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodGet, "/api/teachers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetSalary_VersionsConfig(t *testing.T) {
	// GIVEN: A teacher with a first config
	s := setupServer(t)
	s.createTeacher("t-1", 30000)

	// WHEN: The config is replaced
	w := s.do(http.MethodPut, "/api/teachers/t-1/salary", map[string]string{
		"basic": "32000", "allowances": "5000", "deductions": "2000",
	})

	// THEN: The previous version is closed and history keeps both
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	change := decodeBody[api.ConfigChangeDTO](t, w)
	require.NotNil(t, change.Previous)
	assert.False(t, change.Previous.Active)
	assert.Equal(t, "30000", change.Previous.Basic.String())
	assert.True(t, change.Current.Active)
	assert.Equal(t, "32000", change.Current.Basic.String())

	w = s.do(http.MethodGet, "/api/teachers/t-1/salary/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decodeBody[[]api.SalaryConfigDTO](t, w)
	require.Len(t, history, 2)
	assert.Equal(t, change.Current.ID, history[0].SupersededBy)

	w = s.do(http.MethodGet, "/api/teachers/t-1", nil)
	assert.Equal(t, "32000", decodeBody[api.TeacherDTO](t, w).Salary.String())
}

func TestSetSalary_UnknownTeacher(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodPut, "/api/teachers/ghost/salary", map[string]string{"basic": "30000"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// ATTENDANCE AND PAYSLIPS
// =============================================================================

func TestAttendance_RecordAndSummarize(t *testing.T) {
	s := setupServer(t)
	s.createTeacher("t-1", 30000)

	for _, rec := range []map[string]string{
		{"schedule_id": "morning", "date": "2024-06-03", "status": "present"},
		{"schedule_id": "morning", "date": "2024-06-04", "status": "late"},
		{"schedule_id": "morning", "date": "2024-06-05", "status": "absent"},
		{"schedule_id": "morning", "date": "2024-07-01", "status": "absent"},
	} {
		w := s.do(http.MethodPost, "/api/teachers/t-1/attendance", rec)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := s.do(http.MethodGet, "/api/teachers/t-1/attendance?month=6&year=2024", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary := decodeBody[api.AttendanceSummaryDTO](t, w)
	assert.Equal(t, "2024-06", summary.Period)
	assert.Len(t, summary.Records, 3, "July record is outside the period")
	assert.Equal(t, payroll.AttendanceTally{Present: 1, Absent: 1, Late: 1, Total: 3}, summary.Adjustment.Tally)
	assert.Equal(t, "600", summary.Adjustment.Penalty.String())
}

func TestAttendance_Rejects(t *testing.T) {
	s := setupServer(t)
	s.createTeacher("t-1", 30000)

	w := s.do(http.MethodPost, "/api/teachers/t-1/attendance",
		map[string]string{"schedule_id": "morning", "date": "2024-06-03", "status": "asleep"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/teachers/ghost/attendance",
		map[string]string{"schedule_id": "morning", "date": "2024-06-03", "status": "present"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/teachers/t-1/attendance", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "period is required")

	w = s.do(http.MethodGet, "/api/teachers/t-1/attendance?month=13&year=2024", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPayslip_PreviewThenProcessed(t *testing.T) {
	// GIVEN: The school-month scenario (June 2024)
	s := setupServer(t)
	s.loadScenario("school-month")

	// WHEN: t-001's payslip is requested before any run
	w := s.do(http.MethodGet, "/api/teachers/t-001/payslip?month=6&year=2024", nil)

	// THEN: It is computed with the perfect attendance bonus
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	lines := decodeBody[payroll.SalaryLines](t, w)
	assert.Equal(t, "35000", lines.Net.String())
	assert.Equal(t, "2000", lines.AttendanceBonus.String())

	// WHEN: The payroll runs and the payslip is requested again
	w = s.do(http.MethodPost, "/api/batch/payroll_run", map[string]any{
		"actor_id": "hr-1", "target_ids": []string{"t-001"},
		"options": map[string]any{"period": map[string]int{"month": 6, "year": 2024}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// THEN: The stored disbursement is returned
	w = s.do(http.MethodGet, "/api/teachers/t-001/payslip?month=6&year=2024", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := decodeBody[api.DisbursementDTO](t, w)
	assert.Equal(t, "processed", d.Status)
	assert.Equal(t, "35000", d.Net.String())
}

func TestPayslip_NoConfig(t *testing.T) {
	s := setupServer(t)
	s.loadScenario("missing-config")

	w := s.do(http.MethodGet, "/api/teachers/t-102/payslip?month=6&year=2024", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

// =============================================================================
// BULK OPERATIONS
// =============================================================================

func TestExecuteBatch_PayrollRun(t *testing.T) {
	// GIVEN: Ten seeded teachers
	s := setupServer(t)
	s.loadScenario("school-month")
	ids := []string{"t-001", "t-002", "t-003", "t-004", "t-005", "t-006", "t-007", "t-008", "t-009", "t-010"}

	// WHEN: Payroll runs for all of them, actor from the header
	w := s.do(http.MethodPost, "/api/batch", map[string]any{
		"operation": "payroll_run", "target_ids": ids,
		"options": map[string]any{"period": map[string]int{"month": 6, "year": 2024}},
	}, "X-Actor-ID", "hr-7")

	// THEN: Every teacher is processed and each gets one notification
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[batch.Result](t, w)
	assert.True(t, res.Success)
	assert.True(t, res.Committed)
	assert.Equal(t, 10, res.SucceededCount)
	assert.Empty(t, res.Failed)
	assert.Len(t, s.mailbox.Sent(), 10)

	w = s.do(http.MethodGet, "/api/audit?actor=hr-7", nil)
	entries := decodeBody[[]api.AuditEntryDTO](t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, "payroll_run", entries[0].Operation)
	assert.Equal(t, 10, entries[0].Succeeded)
}

func TestExecuteBatch_UnsuccessfulIs422(t *testing.T) {
	s := setupServer(t)
	s.loadScenario("partly-paid")

	// t-001 and t-002 already have June disbursements.
	w := s.do(http.MethodPost, "/api/batch/payroll_run", map[string]any{
		"actor_id": "hr-1", "target_ids": []string{"t-001", "t-002"},
		"options": map[string]any{"period": map[string]int{"month": 6, "year": 2024}},
	})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	res := decodeBody[batch.Result](t, w)
	assert.False(t, res.Committed)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, "duplicate", res.Failed[0].Code)
}

func TestExecuteBatch_ValidationIs422AndAudited(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodPost, "/api/batch/archive", map[string]any{
		"actor_id": "hr-1", "target_ids": []string{"t-1"},
	})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	res := decodeBody[batch.Result](t, w)
	assert.False(t, res.Success)

	entries := decodeBody[[]api.AuditEntryDTO](t, s.do(http.MethodGet, "/api/audit", nil))
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Committed)

	w = s.do(http.MethodPost, "/api/batch", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// DISBURSEMENTS AND EXPORTS
// =============================================================================

func TestListDisbursements_Filters(t *testing.T) {
	s := setupServer(t)
	s.loadScenario("partly-paid")

	all := decodeBody[[]api.DisbursementDTO](t, s.do(http.MethodGet, "/api/disbursements?month=6&year=2024", nil))
	require.Len(t, all, 2)

	paid := decodeBody[[]api.DisbursementDTO](t, s.do(http.MethodGet, "/api/disbursements?status=paid", nil))
	require.Len(t, paid, 1)
	assert.Equal(t, "t-001", paid[0].TeacherID)
	assert.Equal(t, "bank_transfer", paid[0].PaymentMethod)
	require.NotNil(t, paid[0].PaymentDate)
	assert.Equal(t, "2024-07-01", *paid[0].PaymentDate)

	w := s.do(http.MethodGet, "/api/disbursements?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodGet, "/api/disbursements?month=6", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "month without year")
}

func TestDisburseOverHTTP_Retry(t *testing.T) {
	// GIVEN: t-002 processed but not paid
	s := setupServer(t)
	s.loadScenario("partly-paid")
	list := decodeBody[[]api.DisbursementDTO](t, s.do(http.MethodGet, "/api/disbursements", nil))
	ids := make([]string, len(list))
	for i, d := range list {
		ids[i] = d.ID
	}
	body := map[string]any{
		"actor_id": "hr-1", "target_ids": ids,
		"options": map[string]string{"payment_method": "cash", "payment_date": "2024-07-05"},
	}

	// WHEN: Both are disbursed, twice
	first := decodeBody[batch.Result](t, s.do(http.MethodPost, "/api/batch/disburse", body))
	second := decodeBody[batch.Result](t, s.do(http.MethodPost, "/api/batch/disburse", body))

	// THEN: Only the processed one is paid, the retry changes nothing
	assert.Equal(t, 1, first.SucceededCount)
	assert.Equal(t, 1, first.UnaffectedCount)
	assert.Equal(t, 0, second.SucceededCount)
	assert.Equal(t, 2, second.UnaffectedCount)
}

func TestExports(t *testing.T) {
	s := setupServer(t)
	s.loadScenario("partly-paid")

	w := s.do(http.MethodGet, "/api/exports/disbursements?month=6&year=2024&format=spreadsheet", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="disbursements-2024-06.xlsx"`, w.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	w = s.do(http.MethodGet, "/api/exports/teachers?format=pdf", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF-"))

	w = s.do(http.MethodGet, "/api/exports/teachers?format=csv", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// AUDIT, SCENARIOS, HEALTH
// =============================================================================

func TestListAudit_FiltersAndLimit(t *testing.T) {
	s := setupServer(t)
	s.loadScenario("partly-paid")

	all := decodeBody[[]api.AuditEntryDTO](t, s.do(http.MethodGet, "/api/audit?actor="+api.ScenarioActor, nil))
	require.Len(t, all, 2)
	assert.Equal(t, "disburse", all[0].Operation, "newest first")

	limited := decodeBody[[]api.AuditEntryDTO](t, s.do(http.MethodGet, "/api/audit?limit=1", nil))
	assert.Len(t, limited, 1)

	runs := decodeBody[[]api.AuditEntryDTO](t, s.do(http.MethodGet, "/api/audit?operation=payroll_run", nil))
	require.Len(t, runs, 1)
	assert.ElementsMatch(t, []string{"t-001", "t-002"}, runs[0].TargetIDs)

	w := s.do(http.MethodGet, "/api/audit?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScenarios_LoadCurrentReset(t *testing.T) {
	s := setupServer(t)

	list := decodeBody[[]api.ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios", nil))
	assert.Len(t, list, 3)

	w := s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "missing-config"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "2024-06", decodeBody[map[string]string](t, w)["period"])

	current := decodeBody[api.ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "missing-config", current.ID)

	teacher := decodeBody[api.TeacherDTO](t, s.do(http.MethodGet, "/api/teachers/t-104", nil))
	assert.Equal(t, "deleted", teacher.Status)

	active := decodeBody[[]api.TeacherDTO](t, s.do(http.MethodGet, "/api/teachers?status=active", nil))
	assert.Len(t, active, 3)

	w = s.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decodeBody[[]api.TeacherDTO](t, s.do(http.MethodGet, "/api/teachers", nil))
	assert.Empty(t, all)

	w = s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupServer(t)
	s.loadScenario("partly-paid")

	w := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, w)["status"])

	w = s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `payroll_batch_total{operation="payroll_run",outcome="committed"} 1`)
}
