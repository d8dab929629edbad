/*
Package sqlstore provides a SQL-backed implementation of payroll.Store.

PURPOSE:
  Implements every persistence interface of the payroll core on top of
  sqlx, so the same queries run on SQLite (mattn/go-sqlite3) and
  PostgreSQL (lib/pq). Queries are written with ? placeholders and
  rebound for the active driver.

INTERFACES IMPLEMENTED:
  payroll.TxStore:  One transaction per batch, savepoints per item
  payroll.Records:  Teachers, config history, attendance, disbursements
  payroll.AuditLog: Bulk operation audit trail

KEY TABLES:
  teachers:             Identity, status, cached salary
  salary_configs:       Append-only config versions
  attendance_records:   One row per (teacher, schedule, date)
  salary_disbursements: One row per (teacher, month, year)
  bulk_audit_log:       One row per batch call

INVARIANT INDEXES:
  - salary_disbursements UNIQUE(teacher_id, month, year): payroll idempotency.
    A violation maps to *payroll.DuplicateError.
  - idx_salary_configs_single_active: partial unique index on active configs.
    A violation maps to payroll.ErrConcurrentModification.
  - attendance_records UNIQUE(teacher_id, schedule_id, date).

CONCURRENCY:
  SQLite runs with a single connection, which serializes writers. On
  PostgreSQL, ActiveConfig(forUpdate) takes a row lock and the indexes
  above resolve the remaining races.

MONEY AND DATES:
  Amounts are stored as decimal strings (never floats). Days are stored as
  YYYY-MM-DD and instants in a fixed-width UTC layout, so text comparison
  orders them correctly on both engines.

USAGE:
  store, err := sqlstore.Open("sqlite3", "./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	timestampLayout = "2006-01-02T15:04:05.000000Z"
)

// Store implements payroll.Store using database/sql via sqlx.
type Store struct {
	db     *sqlx.DB
	driver string
}

var _ payroll.Store = (*Store)(nil)

// New creates a SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects to the database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if path := strings.SplitN(dsn, "?", 2)[0]; path != ":memory:" && !strings.HasPrefix(path, "file:") {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, errors.Wrap(err, "failed to create database directory")
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if driver == DriverSQLite {
		// One connection: keeps ":memory:" databases shared and makes
		// SQLite's single writer explicit.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, driver: driver}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migrate: %s", firstLine(stmt))
		}
	}
	return nil
}

const schema = `
	-- Teachers (never physically deleted by bulk operations)
	CREATE TABLE IF NOT EXISTS teachers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		salary TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_teachers_status
		ON teachers(status);

	-- Salary configs (append-only, amounts never updated)
	CREATE TABLE IF NOT EXISTS salary_configs (
		id TEXT PRIMARY KEY,
		teacher_id TEXT NOT NULL REFERENCES teachers(id),
		basic TEXT NOT NULL,
		allowances TEXT NOT NULL,
		deductions TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		superseded_by TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one active config per teacher
	CREATE UNIQUE INDEX IF NOT EXISTS idx_salary_configs_single_active
		ON salary_configs(teacher_id) WHERE active = 1;

	CREATE INDEX IF NOT EXISTS idx_salary_configs_teacher
		ON salary_configs(teacher_id, effective_from);

	-- Attendance (recorded externally, read-only to payroll)
	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		teacher_id TEXT NOT NULL REFERENCES teachers(id),
		schedule_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(teacher_id, schedule_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_teacher_date
		ON attendance_records(teacher_id, date);

	-- Disbursements
	-- CRITICAL: one row per (teacher, month, year), the payroll idempotency guard
	CREATE TABLE IF NOT EXISTS salary_disbursements (
		id TEXT PRIMARY KEY,
		teacher_id TEXT NOT NULL REFERENCES teachers(id),
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		basic TEXT NOT NULL,
		allowances TEXT NOT NULL,
		deductions TEXT NOT NULL,
		attendance_bonus TEXT NOT NULL,
		attendance_penalty TEXT NOT NULL,
		net TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		payment_date TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(teacher_id, month, year)
	);

	CREATE INDEX IF NOT EXISTS idx_disbursements_period
		ON salary_disbursements(year, month);
	CREATE INDEX IF NOT EXISTS idx_disbursements_status
		ON salary_disbursements(status);

	-- Bulk operation audit (append-only)
	CREATE TABLE IF NOT EXISTS bulk_audit_log (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		target_ids TEXT NOT NULL,
		options TEXT NOT NULL,
		committed INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		unaffected INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_created
		ON bulk_audit_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_actor
		ON bulk_audit_log(actor_id)
`

// Reset removes all rows. Used by the demo loader and tests.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"bulk_audit_log", "salary_disbursements", "attendance_records", "salary_configs", "teachers"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "reset %s", table)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (payroll.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. A cancelled ctx
// rolls the transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(payroll.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &payroll.StoreError{Op: "begin", Err: err}
	}
	defer sqlTx.Rollback()

	ts := &txStore{q: queries{ext: sqlTx, driver: s.driver}, tx: sqlTx}
	if err := fn(ts); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &payroll.StoreError{Op: "commit", Err: err}
	}
	return nil
}

type txStore struct {
	q          queries
	tx         *sqlx.Tx
	savepoints int
}

func (ts *txStore) Savepoint(ctx context.Context, fn func(payroll.Tx) error) error {
	ts.savepoints++
	name := fmt.Sprintf("sp_%d", ts.savepoints)

	if _, err := ts.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return &payroll.StoreError{Op: "savepoint", Err: err}
	}

	if ferr := fn(ts); ferr != nil {
		if _, err := ts.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
			return &payroll.StoreError{Op: "rollback to savepoint", Err: err}
		}
		if _, err := ts.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
			return &payroll.StoreError{Op: "release savepoint", Err: err}
		}
		return ferr
	}

	if _, err := ts.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return &payroll.StoreError{Op: "release savepoint", Err: err}
	}
	return nil
}

func (ts *txStore) GetTeacher(ctx context.Context, id payroll.TeacherID) (*payroll.Teacher, error) {
	return ts.q.getTeacher(ctx, id)
}

func (ts *txStore) LockTeacher(ctx context.Context, id payroll.TeacherID) error {
	query := `SELECT id FROM teachers WHERE id = ?`
	if ts.q.driver == DriverPostgres {
		query += " FOR UPDATE"
	}

	var got string
	err := sqlx.GetContext(ctx, ts.q.ext, &got, ts.q.ext.Rebind(query), string(id))
	if err == sql.ErrNoRows {
		return payroll.ErrNotFound
	}
	if err != nil {
		return storeErr("lock teacher", err)
	}
	return nil
}

func (ts *txStore) ActiveConfig(ctx context.Context, id payroll.TeacherID, forUpdate bool) (*payroll.SalaryConfig, error) {
	query := `SELECT ` + configColumns + ` FROM salary_configs WHERE teacher_id = ? AND active = 1`
	if forUpdate && ts.q.driver == DriverPostgres {
		query += " FOR UPDATE"
	}

	var row configRow
	err := sqlx.GetContext(ctx, ts.q.ext, &row, ts.q.ext.Rebind(query), string(id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("active config", err)
	}
	cfg := row.toConfig()
	return &cfg, nil
}

func (ts *txStore) AttendanceTally(ctx context.Context, id payroll.TeacherID, period payroll.Period) (payroll.AttendanceTally, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'present' THEN 1 ELSE 0 END), 0) AS present,
			COALESCE(SUM(CASE WHEN status = 'absent' THEN 1 ELSE 0 END), 0) AS absent,
			COALESCE(SUM(CASE WHEN status = 'late' THEN 1 ELSE 0 END), 0) AS late
		FROM attendance_records
		WHERE teacher_id = ? AND date >= ? AND date < ?
	`
	var row struct {
		Total   int `db:"total"`
		Present int `db:"present"`
		Absent  int `db:"absent"`
		Late    int `db:"late"`
	}
	err := sqlx.GetContext(ctx, ts.q.ext, &row, ts.q.ext.Rebind(query),
		string(id), formatDate(period.Start()), formatDate(period.End()))
	if err != nil {
		return payroll.AttendanceTally{}, storeErr("attendance tally", err)
	}
	return payroll.AttendanceTally{Present: row.Present, Absent: row.Absent, Late: row.Late, Total: row.Total}, nil
}

func (ts *txStore) DisbursementExists(ctx context.Context, id payroll.TeacherID, period payroll.Period) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, ts.q.ext, &count, ts.q.ext.Rebind(
		`SELECT COUNT(*) FROM salary_disbursements WHERE teacher_id = ? AND month = ? AND year = ?`),
		string(id), int(period.Month), period.Year)
	if err != nil {
		return false, storeErr("disbursement exists", err)
	}
	return count > 0, nil
}

func (ts *txStore) InsertConfig(ctx context.Context, c payroll.SalaryConfig) error {
	query := `
		INSERT INTO salary_configs
		(id, teacher_id, basic, allowances, deductions, effective_from, effective_to, active, superseded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ts.q.ext.ExecContext(ctx, ts.q.ext.Rebind(query),
		string(c.ID), string(c.TeacherID),
		c.Basic.String(), c.Allowances.String(), c.Deductions.String(),
		formatDate(c.EffectiveFrom), nullDate(c.EffectiveTo),
		boolInt(c.Active), nullString(string(c.SupersededBy)),
		formatTimestamp(c.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payroll.ErrConcurrentModification
		}
		return storeErr("insert config", err)
	}
	return nil
}

func (ts *txStore) SupersedeConfig(ctx context.Context, id payroll.ConfigID, effectiveTo time.Time, by payroll.ConfigID) error {
	res, err := ts.q.ext.ExecContext(ctx, ts.q.ext.Rebind(`
		UPDATE salary_configs
		SET active = 0, effective_to = ?, superseded_by = ?
		WHERE id = ? AND active = 1
	`), formatDate(effectiveTo), string(by), string(id))
	if err != nil {
		return storeErr("supersede config", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("supersede config", err)
	}
	if n == 0 {
		return payroll.ErrConcurrentModification
	}
	return nil
}

func (ts *txStore) SetTeacherSalary(ctx context.Context, id payroll.TeacherID, salary decimal.Decimal, at time.Time) error {
	res, err := ts.q.ext.ExecContext(ctx, ts.q.ext.Rebind(
		`UPDATE teachers SET salary = ?, updated_at = ? WHERE id = ?`),
		salary.String(), formatTimestamp(at), string(id))
	if err != nil {
		return storeErr("set teacher salary", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("set teacher salary", err)
	}
	if n == 0 {
		return payroll.ErrNotFound
	}
	return nil
}

func (ts *txStore) SetTeacherStatus(ctx context.Context, ids []payroll.TeacherID, from []payroll.TeacherStatus, status payroll.TeacherStatus, at time.Time) ([]payroll.Teacher, error) {
	if len(ids) == 0 || len(from) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		UPDATE teachers SET status = ?, updated_at = ?
		WHERE id IN (?) AND status IN (?)
		RETURNING `+teacherColumns,
		string(status), formatTimestamp(at), teacherIDStrings(ids), statusStrings(from))
	if err != nil {
		return nil, storeErr("set teacher status", err)
	}

	var rows []teacherRow
	if err := sqlx.SelectContext(ctx, ts.q.ext, &rows, ts.q.ext.Rebind(query), args...); err != nil {
		return nil, storeErr("set teacher status", err)
	}
	out := make([]payroll.Teacher, len(rows))
	for i, r := range rows {
		out[i] = r.toTeacher()
	}
	return out, nil
}

func (ts *txStore) InsertDisbursement(ctx context.Context, d payroll.Disbursement) error {
	query := `
		INSERT INTO salary_disbursements
		(id, teacher_id, month, year, basic, allowances, deductions, attendance_bonus, attendance_penalty,
		 net, status, payment_method, payment_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ts.q.ext.ExecContext(ctx, ts.q.ext.Rebind(query),
		string(d.ID), string(d.TeacherID), int(d.Period.Month), d.Period.Year,
		d.Basic.String(), d.Allowances.String(), d.Deductions.String(),
		d.AttendanceBonus.String(), d.AttendancePenalty.String(), d.Net.String(),
		string(d.Status), d.PaymentMethod, nullDate(d.PaymentDate),
		formatTimestamp(d.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &payroll.DuplicateError{TeacherID: d.TeacherID, Period: d.Period}
		}
		return storeErr("insert disbursement", err)
	}
	return nil
}

func (ts *txStore) TransitionDisbursements(ctx context.Context, ids []payroll.DisbursementID, from, to payroll.DisbursementStatus, payment payroll.Payment) ([]payroll.Disbursement, error) {
	if len(ids) == 0 || !from.CanTransition(to) {
		return nil, nil
	}

	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}

	var query string
	var args []any
	var err error
	if to == payroll.DisbursementPaid {
		query, args, err = sqlx.In(`
			UPDATE salary_disbursements SET status = ?, payment_method = ?, payment_date = ?
			WHERE id IN (?) AND status = ?
			RETURNING `+disbursementColumns,
			string(to), payment.Method, formatDate(payment.Date), strs, string(from))
	} else {
		query, args, err = sqlx.In(`
			UPDATE salary_disbursements SET status = ?
			WHERE id IN (?) AND status = ?
			RETURNING `+disbursementColumns,
			string(to), strs, string(from))
	}
	if err != nil {
		return nil, storeErr("transition disbursements", err)
	}

	var rows []disbursementRow
	if err := sqlx.SelectContext(ctx, ts.q.ext, &rows, ts.q.ext.Rebind(query), args...); err != nil {
		return nil, storeErr("transition disbursements", err)
	}
	out := make([]payroll.Disbursement, len(rows))
	for i, r := range rows {
		out[i] = r.toDisbursement()
	}
	return out, nil
}

// =============================================================================
// RECORDS (payroll.Records interface)
// =============================================================================

func (s *Store) q() queries { return queries{ext: s.db, driver: s.driver} }

// SaveTeacher creates or updates a teacher. The salary column is owned by
// the config versioner and is left untouched on update.
func (s *Store) SaveTeacher(ctx context.Context, t payroll.Teacher) error {
	if t.Status == "" {
		t.Status = payroll.TeacherActive
	}
	now := formatTimestamp(time.Now())
	query := `
		INSERT INTO teachers (id, name, email, status, salary, created_at, updated_at)
		VALUES (?, ?, ?, ?, '0', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		string(t.ID), t.Name, t.Email, string(t.Status), now, now)
	return storeErr("save teacher", err)
}

func (s *Store) GetTeacher(ctx context.Context, id payroll.TeacherID) (*payroll.Teacher, error) {
	return s.q().getTeacher(ctx, id)
}

func (s *Store) ListTeachers(ctx context.Context, status payroll.TeacherStatus) ([]payroll.Teacher, error) {
	query := `SELECT ` + teacherColumns + ` FROM teachers`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY name, id`

	var rows []teacherRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, storeErr("list teachers", err)
	}
	out := make([]payroll.Teacher, len(rows))
	for i, r := range rows {
		out[i] = r.toTeacher()
	}
	return out, nil
}

func (s *Store) ConfigHistory(ctx context.Context, id payroll.TeacherID) ([]payroll.SalaryConfig, error) {
	var rows []configRow
	err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(
		`SELECT `+configColumns+` FROM salary_configs WHERE teacher_id = ? ORDER BY created_at ASC, effective_from ASC`),
		string(id))
	if err != nil {
		return nil, storeErr("config history", err)
	}
	out := make([]payroll.SalaryConfig, len(rows))
	for i, r := range rows {
		out[i] = r.toConfig()
	}
	return out, nil
}

// RecordAttendance upserts on (teacher, schedule, date).
func (s *Store) RecordAttendance(ctx context.Context, r payroll.AttendanceRecord) error {
	query := `
		INSERT INTO attendance_records (id, teacher_id, schedule_id, date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(teacher_id, schedule_id, date) DO UPDATE SET
			status = excluded.status
	`
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		r.ID, string(r.TeacherID), r.ScheduleID, formatDate(r.Date), string(r.Status),
		formatTimestamp(time.Now()))
	if isForeignKeyViolation(err) {
		return payroll.ErrNotFound
	}
	return storeErr("record attendance", err)
}

func (s *Store) ListAttendance(ctx context.Context, id payroll.TeacherID, period payroll.Period) ([]payroll.AttendanceRecord, error) {
	var rows []struct {
		ID         string `db:"id"`
		TeacherID  string `db:"teacher_id"`
		ScheduleID string `db:"schedule_id"`
		Date       string `db:"date"`
		Status     string `db:"status"`
	}
	err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(`
		SELECT id, teacher_id, schedule_id, date, status
		FROM attendance_records
		WHERE teacher_id = ? AND date >= ? AND date < ?
		ORDER BY date, schedule_id
	`), string(id), formatDate(period.Start()), formatDate(period.End()))
	if err != nil {
		return nil, storeErr("list attendance", err)
	}

	out := make([]payroll.AttendanceRecord, len(rows))
	for i, r := range rows {
		out[i] = payroll.AttendanceRecord{
			ID:         r.ID,
			TeacherID:  payroll.TeacherID(r.TeacherID),
			ScheduleID: r.ScheduleID,
			Date:       parseDate(r.Date),
			Status:     payroll.AttendanceStatus(r.Status),
		}
	}
	return out, nil
}

func (s *Store) ListDisbursements(ctx context.Context, f payroll.DisbursementFilter) ([]payroll.Disbursement, error) {
	var where []string
	var args []any
	if f.Period != nil {
		where = append(where, "month = ? AND year = ?")
		args = append(args, int(f.Period.Month), f.Period.Year)
	}
	if f.TeacherID != "" {
		where = append(where, "teacher_id = ?")
		args = append(args, string(f.TeacherID))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(f.IDs) > 0 {
		strs := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			strs[i] = string(id)
		}
		where = append(where, "id IN (?)")
		args = append(args, strs)
	}

	query := `SELECT ` + disbursementColumns + ` FROM salary_disbursements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY year, month, teacher_id"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, storeErr("list disbursements", err)
	}

	var rows []disbursementRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, storeErr("list disbursements", err)
	}
	out := make([]payroll.Disbursement, len(rows))
	for i, r := range rows {
		out[i] = r.toDisbursement()
	}
	return out, nil
}

// =============================================================================
// AUDIT LOG (payroll.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e payroll.AuditEntry) error {
	targets, err := json.Marshal(e.TargetIDs)
	if err != nil {
		return errors.Wrap(err, "marshal audit targets")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	options := string(e.Options)
	if options == "" {
		options = "{}"
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO bulk_audit_log
		(id, actor_id, operation, target_ids, options, committed, succeeded, unaffected, failed, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.ActorID, e.Operation, string(targets), options,
		boolInt(e.Committed), e.Succeeded, e.Unaffected, e.Failed, e.Message,
		formatTimestamp(e.Timestamp))
	return storeErr("append audit", err)
}

func (s *Store) QueryAudit(ctx context.Context, f payroll.AuditFilter) ([]payroll.AuditEntry, error) {
	var where []string
	var args []any
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, f.Operation)
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTimestamp(*f.From))
	}
	if f.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTimestamp(*f.To))
	}

	query := `
		SELECT id, actor_id, operation, target_ids, options, committed, succeeded, unaffected, failed, message, created_at
		FROM bulk_audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []struct {
		ID         string `db:"id"`
		ActorID    string `db:"actor_id"`
		Operation  string `db:"operation"`
		TargetIDs  string `db:"target_ids"`
		Options    string `db:"options"`
		Committed  int    `db:"committed"`
		Succeeded  int    `db:"succeeded"`
		Unaffected int    `db:"unaffected"`
		Failed     int    `db:"failed"`
		Message    string `db:"message"`
		CreatedAt  string `db:"created_at"`
	}
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, storeErr("query audit", err)
	}

	out := make([]payroll.AuditEntry, len(rows))
	for i, r := range rows {
		e := payroll.AuditEntry{
			ID:         r.ID,
			ActorID:    r.ActorID,
			Operation:  r.Operation,
			Options:    json.RawMessage(r.Options),
			Committed:  r.Committed == 1,
			Succeeded:  r.Succeeded,
			Unaffected: r.Unaffected,
			Failed:     r.Failed,
			Message:    r.Message,
			Timestamp:  parseTimestamp(r.CreatedAt),
		}
		if err := json.Unmarshal([]byte(r.TargetIDs), &e.TargetIDs); err != nil {
			return nil, storeErr("decode audit "+r.ID, err)
		}
		out[i] = e
	}
	return out, nil
}

// =============================================================================
// SHARED QUERIES - Usable on the pool and inside a transaction
// =============================================================================

type queries struct {
	ext    sqlx.ExtContext
	driver string
}

func (q queries) getTeacher(ctx context.Context, id payroll.TeacherID) (*payroll.Teacher, error) {
	var row teacherRow
	err := sqlx.GetContext(ctx, q.ext, &row, q.ext.Rebind(
		`SELECT `+teacherColumns+` FROM teachers WHERE id = ?`), string(id))
	if err == sql.ErrNoRows {
		return nil, payroll.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get teacher", err)
	}
	t := row.toTeacher()
	return &t, nil
}

// =============================================================================
// ROW MAPPING
// =============================================================================

const teacherColumns = `id, name, email, status, salary, created_at, updated_at`

type teacherRow struct {
	ID        string          `db:"id"`
	Name      string          `db:"name"`
	Email     string          `db:"email"`
	Status    string          `db:"status"`
	Salary    decimal.Decimal `db:"salary"`
	CreatedAt string          `db:"created_at"`
	UpdatedAt string          `db:"updated_at"`
}

func (r teacherRow) toTeacher() payroll.Teacher {
	return payroll.Teacher{
		ID:        payroll.TeacherID(r.ID),
		Name:      r.Name,
		Email:     r.Email,
		Status:    payroll.TeacherStatus(r.Status),
		Salary:    r.Salary,
		CreatedAt: parseTimestamp(r.CreatedAt),
		UpdatedAt: parseTimestamp(r.UpdatedAt),
	}
}

const configColumns = `id, teacher_id, basic, allowances, deductions, effective_from, effective_to, active, superseded_by, created_at`

type configRow struct {
	ID            string          `db:"id"`
	TeacherID     string          `db:"teacher_id"`
	Basic         decimal.Decimal `db:"basic"`
	Allowances    decimal.Decimal `db:"allowances"`
	Deductions    decimal.Decimal `db:"deductions"`
	EffectiveFrom string          `db:"effective_from"`
	EffectiveTo   sql.NullString  `db:"effective_to"`
	Active        int             `db:"active"`
	SupersededBy  sql.NullString  `db:"superseded_by"`
	CreatedAt     string          `db:"created_at"`
}

func (r configRow) toConfig() payroll.SalaryConfig {
	c := payroll.SalaryConfig{
		ID:        payroll.ConfigID(r.ID),
		TeacherID: payroll.TeacherID(r.TeacherID),
		PayComponents: payroll.PayComponents{
			Basic:      r.Basic,
			Allowances: r.Allowances,
			Deductions: r.Deductions,
		},
		EffectiveFrom: parseDate(r.EffectiveFrom),
		Active:        r.Active == 1,
		SupersededBy:  payroll.ConfigID(r.SupersededBy.String),
		CreatedAt:     parseTimestamp(r.CreatedAt),
	}
	if r.EffectiveTo.Valid {
		to := parseDate(r.EffectiveTo.String)
		c.EffectiveTo = &to
	}
	return c
}

const disbursementColumns = `id, teacher_id, month, year, basic, allowances, deductions, attendance_bonus,
	attendance_penalty, net, status, payment_method, payment_date, created_at`

type disbursementRow struct {
	ID                string          `db:"id"`
	TeacherID         string          `db:"teacher_id"`
	Month             int             `db:"month"`
	Year              int             `db:"year"`
	Basic             decimal.Decimal `db:"basic"`
	Allowances        decimal.Decimal `db:"allowances"`
	Deductions        decimal.Decimal `db:"deductions"`
	AttendanceBonus   decimal.Decimal `db:"attendance_bonus"`
	AttendancePenalty decimal.Decimal `db:"attendance_penalty"`
	Net               decimal.Decimal `db:"net"`
	Status            string          `db:"status"`
	PaymentMethod     string          `db:"payment_method"`
	PaymentDate       sql.NullString  `db:"payment_date"`
	CreatedAt         string          `db:"created_at"`
}

func (r disbursementRow) toDisbursement() payroll.Disbursement {
	d := payroll.Disbursement{
		ID:                payroll.DisbursementID(r.ID),
		TeacherID:         payroll.TeacherID(r.TeacherID),
		Period:            payroll.NewPeriod(time.Month(r.Month), r.Year),
		Basic:             r.Basic,
		Allowances:        r.Allowances,
		Deductions:        r.Deductions,
		AttendanceBonus:   r.AttendanceBonus,
		AttendancePenalty: r.AttendancePenalty,
		Net:               r.Net,
		Status:            payroll.DisbursementStatus(r.Status),
		PaymentMethod:     r.PaymentMethod,
		CreatedAt:         parseTimestamp(r.CreatedAt),
	}
	if r.PaymentDate.Valid {
		pd := parseDate(r.PaymentDate.String)
		d.PaymentDate = &pd
	}
	return d
}

// =============================================================================
// HELPERS
// =============================================================================

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &payroll.StoreError{Op: op, Err: errors.WithStack(err)}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}

func formatDate(t time.Time) string { return t.UTC().Format(payroll.DateLayout) }

func parseDate(s string) time.Time {
	t, _ := payroll.ParseDate(s)
	return t
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func formatTimestamp(t time.Time) string { return t.UTC().Format(timestampLayout) }

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(timestampLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func teacherIDStrings(ids []payroll.TeacherID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func statusStrings(list []payroll.TeacherStatus) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
