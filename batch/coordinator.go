/*
Package batch applies bulk mutations across many targets as one unit of work.

PURPOSE:
  A caller names an operation, a set of target IDs and options. The
  Coordinator validates the request, opens one store transaction, delegates
  each target to the payroll core, and decides commit or rollback from the
  operation's commit policy. It then writes exactly one audit entry and, if
  the batch committed, sends one notification per affected teacher.

OPERATIONS:
  Operation        Targets         Policy      Delegate
  payroll_run      teacher IDs     BestEffort  payroll.SalaryEngine.Run
  salary_increase  teacher IDs     BestEffort  payroll.ConfigVersioner.ApplyIncrease
  status_update    teacher IDs     SetBased    payroll.Tx.SetTeacherStatus
  delete           teacher IDs     SetBased    payroll.Tx.SetTeacherStatus (deleted)
  disburse         disbursement IDs SetBased   payroll.Disburser.Disburse

COMMIT POLICIES:
  BestEffort: every target runs on its own savepoint. Duplicate, no-config,
              precondition, not-found and conflict errors roll that savepoint
              back and land in Result.Failed. Commit if at least one target
              succeeded, otherwise roll back.
  SetBased:   one multi-row statement. Targets that don't match its
              precondition are counted in Result.UnaffectedCount.
  Atomic:     Options.Atomic rolls back on any failed or unaffected target.
  DryRun:     Options.DryRun always rolls back. Payroll runs return the
              computed salaries in Result.Preview.

ERROR PROPAGATION:
  - ValidationError: rejected before a transaction opens
  - StoreError, context cancellation: full rollback, every target failed
    with the error text as reason
  - Per-item errors: accumulate into Result.Failed
  - Notification failures: logged and counted, never affect the result

A Result is returned for every call; Execute has no error return.

SEE ALSO:
  - request.go: Request, Options and validation
  - audit.go: AuditRecorder
  - payroll/: The components this package drives
*/
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/notify"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// RESULT
// =============================================================================

// Failure is one target that did not succeed.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"`
}

// Result is the caller-facing outcome of a bulk operation.
type Result struct {
	Success         bool      `json:"success"`
	Message         string    `json:"message"`
	SucceededCount  int       `json:"succeeded_count"`
	UnaffectedCount int       `json:"unaffected_count"`
	Committed       bool      `json:"committed"`
	Failed          []Failure `json:"failed"`

	// Preview holds the computed salaries of a dry-run payroll.
	Preview []payroll.SalaryLines `json:"preview,omitempty"`
}

const (
	outcomeCommitted  = "committed"
	outcomeRolledBack = "rolled_back"
	outcomeRejected   = "rejected"
	outcomeFailed     = "failed"
)

// errRollback aborts the transaction without it being a failure.
var errRollback = errors.New("batch rolled back")

// =============================================================================
// COORDINATOR
// =============================================================================

type Coordinator struct {
	Store     payroll.Store
	Salary    *payroll.SalaryEngine
	Versioner *payroll.ConfigVersioner
	Disburser payroll.Disburser
	Notifier  notify.Notifier
	Audit     *AuditRecorder
	Metrics   *Metrics
	Logger    *zap.Logger
	Clock     payroll.Clock
}

// NewCoordinator wires a coordinator over store. notifier, logger and
// metrics may be nil.
func NewCoordinator(store payroll.Store, policy payroll.AttendancePolicy, notifier notify.Notifier, logger *zap.Logger, metrics *Metrics) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		Store:     store,
		Salary:    payroll.NewSalaryEngine(policy),
		Versioner: payroll.NewConfigVersioner(),
		Notifier:  notifier,
		Audit:     &AuditRecorder{Log: store, Logger: logger},
		Metrics:   metrics,
		Logger:    logger,
	}
}

// SetClock sets the clock of the coordinator and every component it drives.
func (c *Coordinator) SetClock(clock payroll.Clock) {
	c.Clock = clock
	c.Salary.Clock = clock
	c.Versioner.Clock = clock
	c.Audit.Clock = clock
}

// run is the state of one Execute call.
type run struct {
	req        Request
	succeeded  int
	unaffected int
	failed     []Failure
	notices    []notice
	preview    []payroll.SalaryLines
	rollback   string // why errRollback was returned
}

func (st *run) fail(id string, err error) {
	st.failed = append(st.failed, Failure{ID: id, Reason: err.Error(), Code: payroll.Code(err)})
}

// notice is a notification queued until the batch commits.
type notice struct {
	teacherID payroll.TeacherID
	subject   string
	body      string
}

// Execute runs one bulk operation.
func (c *Coordinator) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	req.TargetIDs = dedupe(req.TargetIDs)

	if err := req.Validate(); err != nil {
		res := Result{Message: err.Error(), Failed: []Failure{}}
		c.finish(ctx, req, res, outcomeRejected, start)
		return res
	}

	st := &run{req: req}
	err := c.Store.WithTx(ctx, func(tx payroll.Tx) error {
		return c.apply(ctx, tx, st)
	})

	res, outcome := c.resolve(st, err)
	c.finish(ctx, req, res, outcome, start)
	if res.Committed {
		c.notify(ctx, st.notices)
	}
	return res
}

func (c *Coordinator) apply(ctx context.Context, tx payroll.Tx, st *run) error {
	if st.req.Operation.Policy() == BestEffort {
		return c.applyEach(ctx, tx, st)
	}
	return c.applySet(ctx, tx, st)
}

// =============================================================================
// BEST-EFFORT - One savepoint per target
// =============================================================================

func (c *Coordinator) applyEach(ctx context.Context, tx payroll.Tx, st *run) error {
	for _, id := range st.req.TargetIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var n *notice
		err := tx.Savepoint(ctx, func(tx payroll.Tx) error {
			var ierr error
			n, ierr = c.item(ctx, tx, st, payroll.TeacherID(id))
			return ierr
		})
		switch {
		case err == nil:
			st.succeeded++
			if n != nil {
				st.notices = append(st.notices, *n)
			}
		case isItemFailure(err):
			st.fail(id, err)
		default:
			return err
		}
	}

	switch {
	case st.succeeded == 0:
		st.rollback = "no target succeeded"
	case st.req.Options.Atomic && len(st.failed) > 0:
		st.rollback = "atomic batch had failures"
	case st.req.Options.DryRun:
		st.rollback = "dry run"
	default:
		return nil
	}
	return errRollback
}

func (c *Coordinator) item(ctx context.Context, tx payroll.Tx, st *run, id payroll.TeacherID) (*notice, error) {
	teacher, err := tx.GetTeacher(ctx, id)
	if err != nil {
		return nil, err
	}
	if teacher.Status == payroll.TeacherDeleted {
		return nil, &payroll.PreconditionError{ID: string(id), State: string(teacher.Status), Required: "active or inactive"}
	}

	opts := st.req.Options
	switch st.req.Operation {
	case OpPayrollRun:
		if opts.DryRun {
			lines, err := c.Salary.Compute(ctx, tx, id, *opts.Period, opts.Overrides)
			if err != nil {
				return nil, err
			}
			st.preview = append(st.preview, lines)
			return nil, nil
		}
		d, err := c.Salary.Run(ctx, tx, id, *opts.Period, opts.Overrides)
		if err != nil {
			return nil, err
		}
		return &notice{
			teacherID: id,
			subject:   "Salary processed for " + d.Period.String(),
			body:      fmt.Sprintf("Your salary for %s has been processed.\nNet amount: %s", d.Period, d.Net.StringFixed(2)),
		}, nil

	case OpSalaryIncrease:
		change, err := c.Versioner.ApplyIncrease(ctx, tx, id, *opts.Increase)
		if err != nil {
			return nil, err
		}
		return &notice{
			teacherID: id,
			subject:   "Salary updated",
			body: fmt.Sprintf("Your basic salary changed from %s to %s, effective %s.",
				change.Previous.Basic.StringFixed(2), change.Current.Basic.StringFixed(2),
				change.Current.EffectiveFrom.Format(payroll.DateLayout)),
		}, nil
	}
	return nil, fmt.Errorf("operation %s is not per-item", st.req.Operation)
}

// isItemFailure reports errors that fail one target without aborting the batch.
func isItemFailure(err error) bool {
	return payroll.IsItemError(err) || payroll.IsRetryable(err)
}

// =============================================================================
// SET-BASED - One statement for all targets
// =============================================================================

func (c *Coordinator) applySet(ctx context.Context, tx payroll.Tx, st *run) error {
	opts := st.req.Options
	ids := st.req.TargetIDs

	switch st.req.Operation {
	case OpStatusUpdate, OpDelete:
		status := opts.Status
		if st.req.Operation == OpDelete {
			status = payroll.TeacherDeleted
		}
		teacherIDs := make([]payroll.TeacherID, len(ids))
		for i, id := range ids {
			teacherIDs[i] = payroll.TeacherID(id)
		}
		teachers, err := tx.SetTeacherStatus(ctx, teacherIDs, payroll.TeacherStatusSources(status), status, c.Clock.Now())
		if err != nil {
			return err
		}
		st.succeeded = len(teachers)
		for _, t := range teachers {
			st.notices = append(st.notices, statusNotice(t.ID, status))
		}

	case OpDisburse:
		date := c.Clock.Today()
		if opts.PaymentDate != "" {
			d, err := payroll.ParseDate(opts.PaymentDate)
			if err != nil {
				return &payroll.ValidationError{Field: "options.payment_date", Message: err.Error()}
			}
			date = d
		}
		disbursementIDs := make([]payroll.DisbursementID, len(ids))
		for i, id := range ids {
			disbursementIDs[i] = payroll.DisbursementID(id)
		}
		out, err := c.Disburser.Disburse(ctx, tx, disbursementIDs, opts.PaymentMethod, date)
		if err != nil {
			return err
		}
		st.succeeded = len(out.Paid)
		for _, d := range out.Paid {
			st.notices = append(st.notices, notice{
				teacherID: d.TeacherID,
				subject:   "Salary paid for " + d.Period.String(),
				body: fmt.Sprintf("Your salary for %s (%s) was paid by %s on %s.",
					d.Period, d.Net.StringFixed(2), d.PaymentMethod, d.PaymentDate.Format(payroll.DateLayout)),
			})
		}

	default:
		return fmt.Errorf("operation %s is not set-based", st.req.Operation)
	}

	st.unaffected = len(ids) - st.succeeded
	switch {
	case opts.Atomic && st.unaffected > 0:
		st.rollback = "atomic batch had unaffected targets"
	case opts.DryRun:
		st.rollback = "dry run"
	default:
		return nil
	}
	return errRollback
}

func statusNotice(id payroll.TeacherID, status payroll.TeacherStatus) notice {
	if status == payroll.TeacherDeleted {
		return notice{teacherID: id, subject: "Account removed", body: "Your staff account has been removed."}
	}
	return notice{
		teacherID: id,
		subject:   "Account status changed",
		body:      fmt.Sprintf("Your staff account is now %s.", status),
	}
}

// =============================================================================
// RESOLUTION
// =============================================================================

func (c *Coordinator) resolve(st *run, err error) (Result, string) {
	total := len(st.req.TargetIDs)
	res := Result{
		UnaffectedCount: st.unaffected,
		Failed:          st.failed,
	}
	if res.Failed == nil {
		res.Failed = []Failure{}
	}

	switch {
	case err == nil:
		res.Success = true
		res.Committed = true
		res.SucceededCount = st.succeeded
		res.Message = summary(st.req.Operation, st.succeeded, total, len(st.failed), st.unaffected)
		return res, outcomeCommitted

	case errors.Is(err, errRollback):
		if st.req.Options.DryRun && st.rollback == "dry run" {
			res.Success = true
			res.SucceededCount = st.succeeded
			res.Preview = st.preview
			res.Message = "dry run: " + summary(st.req.Operation, st.succeeded, total, len(st.failed), st.unaffected)
			return res, outcomeRolledBack
		}
		res.Message = fmt.Sprintf("rolled back, %s: %s", st.rollback,
			summary(st.req.Operation, st.succeeded, total, len(st.failed), st.unaffected))
		return res, outcomeRolledBack

	default:
		failed := make([]Failure, total)
		for i, id := range st.req.TargetIDs {
			failed[i] = Failure{ID: id, Reason: err.Error(), Code: payroll.Code(err)}
		}
		return Result{Message: err.Error(), Failed: failed}, outcomeFailed
	}
}

func summary(op Operation, succeeded, total, failed, unaffected int) string {
	if op.Policy() == SetBased {
		return fmt.Sprintf("%d of %d updated, %d unaffected", succeeded, total, unaffected)
	}
	return fmt.Sprintf("%d of %d processed, %d failed", succeeded, total, failed)
}

// finish writes the audit entry, records metrics and logs the batch.
func (c *Coordinator) finish(ctx context.Context, req Request, res Result, outcome string, start time.Time) {
	c.Audit.Record(ctx, req.ActorID, req.Operation, AuditPayload{
		TargetIDs: req.TargetIDs,
		Options:   req.Options,
		Result:    res,
	})

	op := req.Operation
	if !op.IsValid() {
		op = "unknown"
	}
	c.Metrics.observeBatch(op, outcome, res, time.Since(start))

	c.Logger.Info("batch",
		zap.String("operation", string(req.Operation)),
		zap.String("actor", req.ActorID),
		zap.String("outcome", outcome),
		zap.Int("targets", len(req.TargetIDs)),
		zap.Int("succeeded", res.SucceededCount),
		zap.Int("failed", len(res.Failed)),
		zap.Int("unaffected", res.UnaffectedCount),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// =============================================================================
// NOTIFICATIONS - After commit, one per affected teacher
// =============================================================================

func (c *Coordinator) notify(ctx context.Context, notices []notice) {
	if c.Notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, n := range notices {
		t, err := c.Store.GetTeacher(ctx, n.teacherID)
		if err != nil || t.Email == "" {
			c.Metrics.observeNotification("skipped")
			c.Logger.Debug("notification skipped: no recipient",
				zap.String("teacher", string(n.teacherID)), zap.Error(err))
			continue
		}

		ok := c.Notifier.Send(ctx, notify.Message{
			To:      t.Email,
			Name:    t.Name,
			Subject: n.subject,
			Body:    "Hello " + t.Name + ",\n\n" + n.body,
		})
		if !ok {
			c.Metrics.observeNotification("failed")
			c.Logger.Warn("notification failed",
				zap.String("teacher", string(n.teacherID)),
				zap.Error(&payroll.NotificationError{Recipient: t.Email}))
			continue
		}
		c.Metrics.observeNotification("sent")
	}
}
