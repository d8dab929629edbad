/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the payroll domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Teacher:       TeacherDTO, CreateTeacherRequest
  Salary:        SalaryConfigDTO, SetSalaryRequest, ConfigChangeDTO
  Attendance:    AttendanceDTO, RecordAttendanceRequest, AttendanceSummaryDTO
  Disbursement:  DisbursementDTO
  Audit:         AuditEntryDTO
  Scenarios:     ScenarioDTO, LoadScenarioRequest

  Bulk operations use batch.Request and batch.Result directly; they are
  already the wire shape.

VALIDATION:
  Request types carry go-playground/validator tags, checked by decode().

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// TEACHERS
// =============================================================================

type TeacherDTO struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Status    string          `json:"status"`
	Salary    decimal.Decimal `json:"salary"`
	CreatedAt string          `json:"created_at,omitempty"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}

// CreateTeacherRequest creates or updates a teacher. ID is generated when
// empty.
type CreateTeacherRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name" validate:"required,max=200"`
	Email  string `json:"email" validate:"omitempty,email"`
	Status string `json:"status" validate:"omitempty,oneof=active inactive"`
}

func toTeacherDTO(t payroll.Teacher) TeacherDTO {
	return TeacherDTO{
		ID:        string(t.ID),
		Name:      t.Name,
		Email:     t.Email,
		Status:    string(t.Status),
		Salary:    t.Salary,
		CreatedAt: formatTime(t.CreatedAt),
		UpdatedAt: formatTime(t.UpdatedAt),
	}
}

// =============================================================================
// SALARY CONFIG
// =============================================================================

type SalaryConfigDTO struct {
	ID            string          `json:"id"`
	TeacherID     string          `json:"teacher_id"`
	Basic         decimal.Decimal `json:"basic"`
	Allowances    decimal.Decimal `json:"allowances"`
	Deductions    decimal.Decimal `json:"deductions"`
	EffectiveFrom string          `json:"effective_from"`
	EffectiveTo   *string         `json:"effective_to"`
	Active        bool            `json:"active"`
	SupersededBy  string          `json:"superseded_by,omitempty"`
	CreatedAt     string          `json:"created_at,omitempty"`
}

// SetSalaryRequest replaces a teacher's active salary config.
type SetSalaryRequest struct {
	Basic      decimal.Decimal `json:"basic"`
	Allowances decimal.Decimal `json:"allowances"`
	Deductions decimal.Decimal `json:"deductions"`
}

type ConfigChangeDTO struct {
	Previous *SalaryConfigDTO `json:"previous"`
	Current  SalaryConfigDTO  `json:"current"`
}

func toConfigDTO(c payroll.SalaryConfig) SalaryConfigDTO {
	dto := SalaryConfigDTO{
		ID:            string(c.ID),
		TeacherID:     string(c.TeacherID),
		Basic:         c.Basic,
		Allowances:    c.Allowances,
		Deductions:    c.Deductions,
		EffectiveFrom: c.EffectiveFrom.Format(payroll.DateLayout),
		Active:        c.Active,
		SupersededBy:  string(c.SupersededBy),
		CreatedAt:     formatTime(c.CreatedAt),
	}
	if c.EffectiveTo != nil {
		s := c.EffectiveTo.Format(payroll.DateLayout)
		dto.EffectiveTo = &s
	}
	return dto
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type AttendanceDTO struct {
	ID         string `json:"id"`
	ScheduleID string `json:"schedule_id"`
	Date       string `json:"date"`
	Status     string `json:"status"`
}

type RecordAttendanceRequest struct {
	ScheduleID string `json:"schedule_id" validate:"required"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Status     string `json:"status" validate:"required,oneof=present absent late partial"`
}

// AttendanceSummaryDTO is a teacher's attendance for one period with the
// bonus/penalty it would earn.
type AttendanceSummaryDTO struct {
	TeacherID  string             `json:"teacher_id"`
	Period     string             `json:"period"`
	Records    []AttendanceDTO    `json:"records"`
	Adjustment payroll.Adjustment `json:"adjustment"`
}

// =============================================================================
// DISBURSEMENTS
// =============================================================================

type DisbursementDTO struct {
	ID                string          `json:"id"`
	TeacherID         string          `json:"teacher_id"`
	Month             int             `json:"month"`
	Year              int             `json:"year"`
	Basic             decimal.Decimal `json:"basic"`
	Allowances        decimal.Decimal `json:"allowances"`
	Deductions        decimal.Decimal `json:"deductions"`
	AttendanceBonus   decimal.Decimal `json:"attendance_bonus"`
	AttendancePenalty decimal.Decimal `json:"attendance_penalty"`
	Net               decimal.Decimal `json:"net"`
	Status            string          `json:"status"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	PaymentDate       *string         `json:"payment_date"`
	CreatedAt         string          `json:"created_at,omitempty"`
}

func toDisbursementDTO(d payroll.Disbursement) DisbursementDTO {
	dto := DisbursementDTO{
		ID:                string(d.ID),
		TeacherID:         string(d.TeacherID),
		Month:             int(d.Period.Month),
		Year:              d.Period.Year,
		Basic:             d.Basic,
		Allowances:        d.Allowances,
		Deductions:        d.Deductions,
		AttendanceBonus:   d.AttendanceBonus,
		AttendancePenalty: d.AttendancePenalty,
		Net:               d.Net,
		Status:            string(d.Status),
		PaymentMethod:     d.PaymentMethod,
		CreatedAt:         formatTime(d.CreatedAt),
	}
	if d.PaymentDate != nil {
		s := d.PaymentDate.Format(payroll.DateLayout)
		dto.PaymentDate = &s
	}
	return dto
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actor_id"`
	Operation  string          `json:"operation"`
	TargetIDs  []string        `json:"target_ids"`
	Options    json.RawMessage `json:"options"`
	Committed  bool            `json:"committed"`
	Succeeded  int             `json:"succeeded"`
	Unaffected int             `json:"unaffected"`
	Failed     int             `json:"failed"`
	Message    string          `json:"message"`
	Timestamp  string          `json:"timestamp"`
}

func toAuditDTO(e payroll.AuditEntry) AuditEntryDTO {
	targets := e.TargetIDs
	if targets == nil {
		targets = []string{}
	}
	return AuditEntryDTO{
		ID:         e.ID,
		ActorID:    e.ActorID,
		Operation:  e.Operation,
		TargetIDs:  targets,
		Options:    e.Options,
		Committed:  e.Committed,
		Succeeded:  e.Succeeded,
		Unaffected: e.Unaffected,
		Failed:     e.Failed,
		Message:    e.Message,
		Timestamp:  formatTime(e.Timestamp),
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is returned for all non-batch errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
