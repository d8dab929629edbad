package batch

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// OPERATIONS
// =============================================================================

type Operation string

const (
	OpStatusUpdate   Operation = "status_update"
	OpPayrollRun     Operation = "payroll_run"
	OpDisburse       Operation = "disburse"
	OpSalaryIncrease Operation = "salary_increase"
	OpDelete         Operation = "delete"
)

// Operations lists every supported operation.
var Operations = []Operation{OpStatusUpdate, OpPayrollRun, OpDisburse, OpSalaryIncrease, OpDelete}

// CommitPolicy decides when a batch commits.
type CommitPolicy int

const (
	// BestEffort processes every target on its own savepoint and commits
	// if at least one succeeded.
	BestEffort CommitPolicy = iota

	// SetBased applies one multi-row statement. Targets that don't match
	// the precondition are counted as unaffected, not failed.
	SetBased
)

func (o Operation) IsValid() bool {
	for _, op := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

func (o Operation) Policy() CommitPolicy {
	switch o {
	case OpPayrollRun, OpSalaryIncrease:
		return BestEffort
	default:
		return SetBased
	}
}

// =============================================================================
// REQUEST
// =============================================================================

// Options carries operation-specific parameters. Fields that don't apply to
// the requested operation are ignored.
type Options struct {
	// status_update
	Status payroll.TeacherStatus `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`

	// payroll_run
	Period    *payroll.Period   `json:"period,omitempty"`
	Overrides payroll.Overrides `json:"overrides"`
	DryRun    bool              `json:"dry_run,omitempty"`

	// salary_increase
	Increase *payroll.Increase `json:"increase,omitempty"`

	// disburse; PaymentDate is YYYY-MM-DD and defaults to today
	PaymentMethod string `json:"payment_method,omitempty" validate:"max=64"`
	PaymentDate   string `json:"payment_date,omitempty" validate:"omitempty,datetime=2006-01-02"`

	// Atomic rolls the whole batch back if any target fails or is unaffected.
	Atomic bool `json:"atomic,omitempty"`
}

// Request is one caller-initiated bulk operation. ActorID is attributed in
// the audit log.
type Request struct {
	ActorID   string    `json:"actor_id" validate:"required"`
	Operation Operation `json:"operation" validate:"required"`
	TargetIDs []string  `json:"target_ids" validate:"required,min=1,dive,required"`
	Options   Options   `json:"options"`
}

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

// Validate checks the request shape and the options its operation needs.
// It returns *payroll.ValidationError.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &payroll.ValidationError{Field: fieldPath(fe.Namespace()), Message: "failed " + fe.Tag() + " check"}
		}
		return &payroll.ValidationError{Message: err.Error()}
	}
	if !r.Operation.IsValid() {
		return &payroll.ValidationError{Field: "operation", Message: "unknown operation " + string(r.Operation)}
	}

	o := r.Options
	switch r.Operation {
	case OpStatusUpdate:
		if o.Status == "" {
			return &payroll.ValidationError{Field: "options.status", Message: "required"}
		}
	case OpPayrollRun:
		if o.Period == nil {
			return &payroll.ValidationError{Field: "options.period", Message: "required"}
		}
		if err := o.Period.Validate(); err != nil {
			return err
		}
	case OpSalaryIncrease:
		if o.Increase == nil {
			return &payroll.ValidationError{Field: "options.increase", Message: "required"}
		}
		if err := o.Increase.Validate(); err != nil {
			return err
		}
	case OpDisburse:
		if strings.TrimSpace(o.PaymentMethod) == "" {
			return &payroll.ValidationError{Field: "options.payment_method", Message: "required"}
		}
	}
	return nil
}

// fieldPath drops the root struct name: "Request.options.status" -> "options.status".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// dedupe removes repeated identifiers, keeping first-occurrence order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
