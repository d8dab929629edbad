/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the batch engine and the HR maintenance paths via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  the batch and payroll packages.

ENDPOINTS:
  Bulk operations:
    POST   /api/batch                         Execute a bulk operation
    POST   /api/batch/{operation}             Same, operation from the path

  Teachers:
    GET    /api/teachers                      List teachers (?status=)
    POST   /api/teachers                      Create or update a teacher
    GET    /api/teachers/{id}                 Get teacher
    PUT    /api/teachers/{id}/salary          Replace active salary config
    GET    /api/teachers/{id}/salary/history  Config versions, oldest first
    POST   /api/teachers/{id}/attendance      Record attendance (upsert)
    GET    /api/teachers/{id}/attendance      Monthly summary (?month=&year=)
    GET    /api/teachers/{id}/payslip         Salary preview (?month=&year=)

  Disbursements:
    GET    /api/disbursements                 List (?month=&year=&status=&teacher_id=)

  Exports:
    GET    /api/exports/disbursements         Register (?month=&year=&format=)
    GET    /api/exports/teachers              Roster (?format=)

  Audit:
    GET    /api/audit                         Bulk audit log (?actor=&operation=&limit=)

ACTOR:
  Bulk operations are attributed to request.actor_id, or to the X-Actor-ID
  header when the body leaves it empty.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Duplicate period, concurrent modification
  - 422: Missing salary config, precondition not met
  - 500: Internal errors
  Bulk operations always return a batch.Result: 200 when it succeeded,
  422 otherwise.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the storage the API needs: the payroll store plus Reset for the
// demo scenarios.
type Store interface {
	payroll.Store
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  Store
	Batch  *batch.Coordinator
	Logger *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(store Store, coordinator *batch.Coordinator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Store: store, Batch: coordinator, Logger: logger}
}

// =============================================================================
// BULK OPERATIONS
// =============================================================================

// ExecuteBatch runs a bulk operation.
// POST /api/batch, POST /api/batch/{operation}
func (h *Handler) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var req batch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if op := chi.URLParam(r, "operation"); op != "" {
		req.Operation = batch.Operation(op)
	}
	if req.ActorID == "" {
		req.ActorID = r.Header.Get("X-Actor-ID")
	}

	res := h.Batch.Execute(r.Context(), req)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// =============================================================================
// TEACHER HANDLERS
// =============================================================================

// ListTeachers returns all teachers, optionally filtered by status.
func (h *Handler) ListTeachers(w http.ResponseWriter, r *http.Request) {
	status := payroll.TeacherStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		writeError(w, http.StatusBadRequest, "Invalid status", nil)
		return
	}

	teachers, err := h.Store.ListTeachers(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list teachers", err)
		return
	}

	dtos := make([]TeacherDTO, len(teachers))
	for i, t := range teachers {
		dtos[i] = toTeacherDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTeacher returns a single teacher.
func (h *Handler) GetTeacher(w http.ResponseWriter, r *http.Request) {
	t, err := h.Store.GetTeacher(r.Context(), payroll.TeacherID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get teacher", err)
		return
	}
	writeJSON(w, http.StatusOK, toTeacherDTO(*t))
}

// CreateTeacher creates or updates a teacher.
func (h *Handler) CreateTeacher(w http.ResponseWriter, r *http.Request) {
	var req CreateTeacherRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	t := payroll.Teacher{
		ID:     payroll.TeacherID(req.ID),
		Name:   req.Name,
		Email:  req.Email,
		Status: payroll.TeacherStatus(req.Status),
	}
	if err := h.Store.SaveTeacher(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save teacher", err)
		return
	}

	saved, err := h.Store.GetTeacher(r.Context(), t.ID)
	if err != nil {
		writeDomainError(w, "Failed to load teacher", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTeacherDTO(*saved))
}

// =============================================================================
// SALARY CONFIG HANDLERS
// =============================================================================

// SetSalary replaces the teacher's active config with a new version.
// PUT /api/teachers/{id}/salary
func (h *Handler) SetSalary(w http.ResponseWriter, r *http.Request) {
	id := payroll.TeacherID(chi.URLParam(r, "id"))

	var req SetSalaryRequest
	if !decode(w, r, &req) {
		return
	}

	var change payroll.ConfigChange
	err := h.Store.WithTx(r.Context(), func(tx payroll.Tx) error {
		var err error
		change, err = h.Batch.Versioner.Replace(r.Context(), tx, id, payroll.PayComponents{
			Basic:      req.Basic,
			Allowances: req.Allowances,
			Deductions: req.Deductions,
		})
		return err
	})
	if err != nil {
		writeDomainError(w, "Failed to set salary", err)
		return
	}

	dto := ConfigChangeDTO{Current: toConfigDTO(change.Current)}
	if change.Previous != nil {
		prev := toConfigDTO(*change.Previous)
		dto.Previous = &prev
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetSalaryHistory returns every config version of a teacher.
// GET /api/teachers/{id}/salary/history
func (h *Handler) GetSalaryHistory(w http.ResponseWriter, r *http.Request) {
	id := payroll.TeacherID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetTeacher(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get teacher", err)
		return
	}

	history, err := h.Store.ConfigHistory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get salary history", err)
		return
	}

	dtos := make([]SalaryConfigDTO, len(history))
	for i, c := range history {
		dtos[i] = toConfigDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// RecordAttendance upserts one attendance record.
// POST /api/teachers/{id}/attendance
func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	id := payroll.TeacherID(chi.URLParam(r, "id"))

	var req RecordAttendanceRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := payroll.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	rec := payroll.AttendanceRecord{
		ID:         uuid.NewString(),
		TeacherID:  id,
		ScheduleID: req.ScheduleID,
		Date:       date,
		Status:     payroll.AttendanceStatus(req.Status),
	}
	if err := h.Store.RecordAttendance(r.Context(), rec); err != nil {
		writeDomainError(w, "Failed to record attendance", err)
		return
	}

	writeJSON(w, http.StatusCreated, AttendanceDTO{
		ID:         rec.ID,
		ScheduleID: rec.ScheduleID,
		Date:       req.Date,
		Status:     req.Status,
	})
}

// GetAttendanceSummary returns the period's records and the adjustment they
// earn.
// GET /api/teachers/{id}/attendance?month=&year=
func (h *Handler) GetAttendanceSummary(w http.ResponseWriter, r *http.Request) {
	id := payroll.TeacherID(chi.URLParam(r, "id"))
	period, err := requirePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	if _, err := h.Store.GetTeacher(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get teacher", err)
		return
	}

	records, err := h.Store.ListAttendance(r.Context(), id, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list attendance", err)
		return
	}

	var tally payroll.AttendanceTally
	dtos := make([]AttendanceDTO, len(records))
	for i, rec := range records {
		tally.Add(rec.Status)
		dtos[i] = AttendanceDTO{
			ID:         rec.ID,
			ScheduleID: rec.ScheduleID,
			Date:       rec.Date.Format(payroll.DateLayout),
			Status:     string(rec.Status),
		}
	}

	writeJSON(w, http.StatusOK, AttendanceSummaryDTO{
		TeacherID:  string(id),
		Period:     period.String(),
		Records:    dtos,
		Adjustment: h.Batch.Salary.Attendance.Calculate(tally),
	})
}

// GetPayslip computes the teacher's salary for a period without recording it.
// GET /api/teachers/{id}/payslip?month=&year=
func (h *Handler) GetPayslip(w http.ResponseWriter, r *http.Request) {
	id := payroll.TeacherID(chi.URLParam(r, "id"))
	period, err := requirePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	var lines payroll.SalaryLines
	err = h.Store.WithTx(r.Context(), func(tx payroll.Tx) error {
		if _, err := tx.GetTeacher(r.Context(), id); err != nil {
			return err
		}
		var err error
		lines, err = h.Batch.Salary.Compute(r.Context(), tx, id, period, payroll.Overrides{})
		return err
	})
	if errors.Is(err, payroll.ErrDuplicatePeriod) {
		// Already processed: the stored disbursement is the payslip.
		list, lerr := h.Store.ListDisbursements(r.Context(), payroll.DisbursementFilter{TeacherID: id, Period: &period})
		if lerr == nil && len(list) == 1 {
			writeJSON(w, http.StatusOK, toDisbursementDTO(list[0]))
			return
		}
	}
	if err != nil {
		writeDomainError(w, "Failed to compute salary", err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

// =============================================================================
// DISBURSEMENT HANDLERS
// =============================================================================

// ListDisbursements returns disbursements matching the query filters.
// GET /api/disbursements
func (h *Handler) ListDisbursements(w http.ResponseWriter, r *http.Request) {
	filter, err := disbursementFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	list, err := h.Store.ListDisbursements(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list disbursements", err)
		return
	}

	dtos := make([]DisbursementDTO, len(list))
	for i, d := range list {
		dtos[i] = toDisbursementDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func disbursementFilter(r *http.Request) (payroll.DisbursementFilter, error) {
	q := r.URL.Query()
	var f payroll.DisbursementFilter

	period, err := optionalPeriod(r)
	if err != nil {
		return f, err
	}
	f.Period = period

	if s := q.Get("status"); s != "" {
		f.Status = payroll.DisbursementStatus(s)
		if !f.Status.IsValid() {
			return f, &payroll.ValidationError{Field: "status", Message: "unknown status " + s}
		}
	}
	f.TeacherID = payroll.TeacherID(q.Get("teacher_id"))
	return f, nil
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudit returns bulk audit entries, newest first.
// GET /api/audit
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := payroll.AuditFilter{
		ActorID:   q.Get("actor"),
		Operation: q.Get("operation"),
		Limit:     100,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// decode reads and validates a JSON body. On failure it writes a 400 and
// returns false.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusBadRequest, "Validation failed",
				fmt.Errorf("%s: failed %s check", fe.Field(), fe.Tag()))
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func requirePeriod(r *http.Request) (payroll.Period, error) {
	p, err := optionalPeriod(r)
	if err != nil {
		return payroll.Period{}, err
	}
	if p == nil {
		return payroll.Period{}, &payroll.ValidationError{Field: "period", Message: "month and year are required"}
	}
	return *p, nil
}

// optionalPeriod reads ?month=&year=. Both or neither must be given.
func optionalPeriod(r *http.Request) (*payroll.Period, error) {
	q := r.URL.Query()
	ms, ys := q.Get("month"), q.Get("year")
	if ms == "" && ys == "" {
		return nil, nil
	}
	month, err := strconv.Atoi(ms)
	if err != nil {
		return nil, &payroll.ValidationError{Field: "month", Message: "must be a number"}
	}
	year, err := strconv.Atoi(ys)
	if err != nil {
		return nil, &payroll.ValidationError{Field: "year", Message: "must be a number"}
	}
	p := payroll.NewPeriod(time.Month(month), year)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, payroll.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, payroll.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, payroll.ErrDuplicatePeriod), errors.Is(err, payroll.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, payroll.ErrNoActiveConfig), errors.Is(err, payroll.ErrPrecondition):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
