/*
store.go - Persistence interfaces for the payroll core

PURPOSE:
  Defines the interface between the payroll logic and the database.
  Everything the batch engine mutates goes through Tx, which is only
  reachable inside TxStore.WithTx, so one bulk call is one transaction.

KEY INTERFACES:
  Reader:   Reads the computation needs (teacher, active config, attendance)
  Tx:       Reader plus the writes a batch performs, and nested savepoints
  TxStore:  Opens transactions
  Records:  Maintenance paths outside the batch core (HR edits, listings)
  AuditLog: Append-only bulk operation audit trail

INVARIANTS ENFORCED BY IMPLEMENTATIONS:
  - One disbursement per (teacher, month, year). A second insert returns
    *DuplicateError, also under concurrent writers.
  - One active salary config per teacher. A conflicting insert returns
    ErrConcurrentModification.
  - One attendance record per (teacher, schedule, date).

IMPLEMENTATIONS:
  - store/sqlstore: SQLite or PostgreSQL via sqlx
  - payroll/store:  In-memory, for tests and development

SEE ALSO:
  - batch/coordinator.go: Drives Tx
  - errors.go: Error values implementations must return
*/
package payroll

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

// Reader holds the reads available inside a transaction.
type Reader interface {
	// GetTeacher returns ErrNotFound when the teacher doesn't exist.
	GetTeacher(ctx context.Context, id TeacherID) (*Teacher, error)

	// ActiveConfig returns the teacher's active config, or nil if none.
	// forUpdate locks the row until the transaction ends where supported.
	ActiveConfig(ctx context.Context, id TeacherID, forUpdate bool) (*SalaryConfig, error)

	// AttendanceTally counts the teacher's attendance records in the period.
	AttendanceTally(ctx context.Context, id TeacherID, period Period) (AttendanceTally, error)

	// DisbursementExists checks the (teacher, period) idempotency key.
	DisbursementExists(ctx context.Context, id TeacherID, period Period) (bool, error)
}

// Payment stamps a disbursement when it is paid.
type Payment struct {
	Method string
	Date   time.Time
}

// Tx is the unit of work a batch runs in.
type Tx interface {
	Reader

	// LockTeacher takes the teacher's row lock for the rest of the
	// transaction (SELECT ... FOR UPDATE on PostgreSQL). Config writers take
	// it before reading the active config so concurrent version steps for
	// one teacher run one after the other. Returns ErrNotFound for unknown
	// teachers.
	LockTeacher(ctx context.Context, id TeacherID) error

	// InsertConfig appends a config version.
	InsertConfig(ctx context.Context, c SalaryConfig) error

	// SupersedeConfig deactivates an active config, stamping effectiveTo and
	// the superseding config's ID. Returns ErrConcurrentModification if the
	// config is no longer active.
	SupersedeConfig(ctx context.Context, id ConfigID, effectiveTo time.Time, by ConfigID) error

	// SetTeacherSalary refreshes the teacher's cached nominal salary.
	SetTeacherSalary(ctx context.Context, id TeacherID, salary decimal.Decimal, at time.Time) error

	// SetTeacherStatus moves every listed teacher currently in one of the
	// from states to status, in one statement. Returns the affected teachers.
	SetTeacherStatus(ctx context.Context, ids []TeacherID, from []TeacherStatus, status TeacherStatus, at time.Time) ([]Teacher, error)

	// InsertDisbursement persists a computed disbursement.
	InsertDisbursement(ctx context.Context, d Disbursement) error

	// TransitionDisbursements moves every listed disbursement currently in
	// from to status, in one statement. Returns the affected rows.
	TransitionDisbursements(ctx context.Context, ids []DisbursementID, from, to DisbursementStatus, payment Payment) ([]Disbursement, error)

	// Savepoint runs fn in a nested unit of work. If fn returns an error its
	// writes are discarded and the error is returned; the outer transaction
	// stays usable.
	Savepoint(ctx context.Context, fn func(Tx) error) error
}

// TxStore opens transactions.
type TxStore interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// RECORDS - Maintenance paths outside the batch core
// =============================================================================

// DisbursementFilter selects disbursements. Zero fields don't filter.
type DisbursementFilter struct {
	Period    *Period
	TeacherID TeacherID
	Status    DisbursementStatus
	IDs       []DisbursementID
}

type Records interface {
	// SaveTeacher creates or updates a teacher's identity and status.
	// The salary cache is owned by the config versioner.
	SaveTeacher(ctx context.Context, t Teacher) error
	GetTeacher(ctx context.Context, id TeacherID) (*Teacher, error)
	ListTeachers(ctx context.Context, status TeacherStatus) ([]Teacher, error)

	// ConfigHistory returns every config version, oldest first.
	ConfigHistory(ctx context.Context, id TeacherID) ([]SalaryConfig, error)

	// RecordAttendance upserts on (teacher, schedule, date).
	RecordAttendance(ctx context.Context, r AttendanceRecord) error
	ListAttendance(ctx context.Context, id TeacherID, period Period) ([]AttendanceRecord, error)

	ListDisbursements(ctx context.Context, filter DisbursementFilter) ([]Disbursement, error)
}

// =============================================================================
// AUDIT LOG - Separate from the payroll data, tracks who did what when
// =============================================================================

// AuditEntry records one bulk operation. Written once per batch call,
// whether it committed or rolled back.
type AuditEntry struct {
	ID         string
	ActorID    string
	Operation  string
	TargetIDs  []string
	Options    json.RawMessage // options snapshot
	Committed  bool
	Succeeded  int
	Unaffected int
	Failed     int
	Message    string
	Timestamp  time.Time
}

type AuditFilter struct {
	ActorID   string
	Operation string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// Store is everything a full storage backend provides.
type Store interface {
	TxStore
	Records
	AuditLog
}
