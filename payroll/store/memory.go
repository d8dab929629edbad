/*
memory.go - In-memory payroll.Store

PURPOSE:
  A complete payroll.Store without a database, for tests and local
  development. It enforces the same invariants as the SQL store so batch
  behavior is identical on both.

TRANSACTIONS:
  WithTx holds the write lock for the whole call and snapshots the state.
  An error (or a cancelled context) restores the snapshot. Savepoints
  snapshot again and restore only their own writes. The audit log is never
  rolled back.

  Calling Memory methods (not the Tx) from inside WithTx deadlocks.

INVARIANTS (same as the SQL unique indexes):
  - One disbursement per (teacher, month, year) -> *payroll.DuplicateError
  - At most one active config per teacher -> ErrConcurrentModification
  - One attendance row per (teacher, schedule, date), upserted

ORDERING:
  List methods sort like the SQL store: teachers by name then ID,
  disbursements by year, month, teacher, audit entries newest first.

TESTING HOOKS:
  InjectFault makes a named Tx operation fail with a StoreError.

SEE ALSO:
  - payroll/store.go: Interface definitions
  - store/sqlstore: SQL implementation
*/
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type periodKey struct {
	TeacherID payroll.TeacherID
	Period    payroll.Period
}

type attendanceKey struct {
	TeacherID  payroll.TeacherID
	ScheduleID string
	Date       string
}

type state struct {
	teachers      map[payroll.TeacherID]payroll.Teacher
	configs       []payroll.SalaryConfig
	attendance    map[attendanceKey]payroll.AttendanceRecord
	disbursements []payroll.Disbursement
	periods       map[periodKey]payroll.DisbursementID
	audit         []payroll.AuditEntry
}

func newState() *state {
	return &state{
		teachers:   make(map[payroll.TeacherID]payroll.Teacher),
		attendance: make(map[attendanceKey]payroll.AttendanceRecord),
		periods:    make(map[periodKey]payroll.DisbursementID),
	}
}

func (s *state) clone() *state {
	c := &state{
		teachers:      make(map[payroll.TeacherID]payroll.Teacher, len(s.teachers)),
		configs:       append([]payroll.SalaryConfig{}, s.configs...),
		attendance:    make(map[attendanceKey]payroll.AttendanceRecord, len(s.attendance)),
		disbursements: append([]payroll.Disbursement{}, s.disbursements...),
		periods:       make(map[periodKey]payroll.DisbursementID, len(s.periods)),
		audit:         s.audit, // append-only, never rolled back
	}
	for k, v := range s.teachers {
		c.teachers[k] = v
	}
	for k, v := range s.attendance {
		c.attendance[k] = v
	}
	for k, v := range s.periods {
		c.periods[k] = v
	}
	return c
}

// Memory implements payroll.Store in memory. Transactions are simulated with
// a snapshot + restore on error, serialized by a single lock.
type Memory struct {
	mu     sync.RWMutex
	st     *state
	faults map[string]error
}

var _ payroll.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{st: newState(), faults: make(map[string]error)}
}

// InjectFault makes the named transactional operation fail with err until
// cleared with a nil err. Used to exercise store-failure paths.
func (m *Memory) InjectFault(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// Reset clears all data, audit log included.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
func (m *Memory) WithTx(ctx context.Context, fn func(payroll.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	// A cancelled caller never commits.
	if err := ctx.Err(); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *Memory) restore(s *state) {
	s.audit = m.st.audit
	m.st = s
}

type txView struct {
	m *Memory
}

func (tv *txView) fault(op string) error {
	if err, ok := tv.m.faults[op]; ok {
		return &payroll.StoreError{Op: op, Err: err}
	}
	return nil
}

func (tv *txView) Savepoint(ctx context.Context, fn func(payroll.Tx) error) error {
	snapshot := tv.m.st.clone()
	if err := fn(tv); err != nil {
		tv.m.restore(snapshot)
		return err
	}
	return nil
}

func (tv *txView) GetTeacher(_ context.Context, id payroll.TeacherID) (*payroll.Teacher, error) {
	if err := tv.fault("GetTeacher"); err != nil {
		return nil, err
	}
	t, ok := tv.m.st.teachers[id]
	if !ok {
		return nil, payroll.ErrNotFound
	}
	return &t, nil
}

// LockTeacher only checks existence: WithTx already holds the store lock.
func (tv *txView) LockTeacher(_ context.Context, id payroll.TeacherID) error {
	if err := tv.fault("LockTeacher"); err != nil {
		return err
	}
	if _, ok := tv.m.st.teachers[id]; !ok {
		return payroll.ErrNotFound
	}
	return nil
}

func (tv *txView) ActiveConfig(_ context.Context, id payroll.TeacherID, _ bool) (*payroll.SalaryConfig, error) {
	if err := tv.fault("ActiveConfig"); err != nil {
		return nil, err
	}
	return tv.m.st.activeConfig(id), nil
}

func (tv *txView) AttendanceTally(_ context.Context, id payroll.TeacherID, period payroll.Period) (payroll.AttendanceTally, error) {
	if err := tv.fault("AttendanceTally"); err != nil {
		return payroll.AttendanceTally{}, err
	}
	var tally payroll.AttendanceTally
	for _, r := range tv.m.st.attendance {
		if r.TeacherID == id && period.Contains(r.Date) {
			tally.Add(r.Status)
		}
	}
	return tally, nil
}

func (tv *txView) DisbursementExists(_ context.Context, id payroll.TeacherID, period payroll.Period) (bool, error) {
	if err := tv.fault("DisbursementExists"); err != nil {
		return false, err
	}
	_, ok := tv.m.st.periods[periodKey{TeacherID: id, Period: period}]
	return ok, nil
}

func (tv *txView) InsertConfig(_ context.Context, c payroll.SalaryConfig) error {
	if err := tv.fault("InsertConfig"); err != nil {
		return err
	}
	if c.Active && tv.m.st.activeConfig(c.TeacherID) != nil {
		return payroll.ErrConcurrentModification
	}
	tv.m.st.configs = append(tv.m.st.configs, c)
	return nil
}

func (tv *txView) SupersedeConfig(_ context.Context, id payroll.ConfigID, effectiveTo time.Time, by payroll.ConfigID) error {
	if err := tv.fault("SupersedeConfig"); err != nil {
		return err
	}
	for i, c := range tv.m.st.configs {
		if c.ID != id {
			continue
		}
		if !c.Active {
			return payroll.ErrConcurrentModification
		}
		to := effectiveTo
		c.Active = false
		c.EffectiveTo = &to
		c.SupersededBy = by
		tv.m.st.configs[i] = c
		return nil
	}
	return payroll.ErrNotFound
}

func (tv *txView) SetTeacherSalary(_ context.Context, id payroll.TeacherID, salary decimal.Decimal, at time.Time) error {
	if err := tv.fault("SetTeacherSalary"); err != nil {
		return err
	}
	t, ok := tv.m.st.teachers[id]
	if !ok {
		return payroll.ErrNotFound
	}
	t.Salary = salary
	t.UpdatedAt = at
	tv.m.st.teachers[id] = t
	return nil
}

func (tv *txView) SetTeacherStatus(_ context.Context, ids []payroll.TeacherID, from []payroll.TeacherStatus, status payroll.TeacherStatus, at time.Time) ([]payroll.Teacher, error) {
	if err := tv.fault("SetTeacherStatus"); err != nil {
		return nil, err
	}
	var affected []payroll.Teacher
	for _, id := range ids {
		t, ok := tv.m.st.teachers[id]
		if !ok || !containsStatus(from, t.Status) {
			continue
		}
		t.Status = status
		t.UpdatedAt = at
		tv.m.st.teachers[id] = t
		affected = append(affected, t)
	}
	return affected, nil
}

func (tv *txView) InsertDisbursement(_ context.Context, d payroll.Disbursement) error {
	if err := tv.fault("InsertDisbursement"); err != nil {
		return err
	}
	k := periodKey{TeacherID: d.TeacherID, Period: d.Period}
	if _, ok := tv.m.st.periods[k]; ok {
		return &payroll.DuplicateError{TeacherID: d.TeacherID, Period: d.Period}
	}
	tv.m.st.disbursements = append(tv.m.st.disbursements, d)
	tv.m.st.periods[k] = d.ID
	return nil
}

func (tv *txView) TransitionDisbursements(_ context.Context, ids []payroll.DisbursementID, from, to payroll.DisbursementStatus, payment payroll.Payment) ([]payroll.Disbursement, error) {
	if err := tv.fault("TransitionDisbursements"); err != nil {
		return nil, err
	}
	if !from.CanTransition(to) {
		return nil, nil
	}
	want := make(map[payroll.DisbursementID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var affected []payroll.Disbursement
	for i, d := range tv.m.st.disbursements {
		if !want[d.ID] || d.Status != from {
			continue
		}
		d.Status = to
		if to == payroll.DisbursementPaid {
			date := payment.Date
			d.PaymentMethod = payment.Method
			d.PaymentDate = &date
		}
		tv.m.st.disbursements[i] = d
		affected = append(affected, d)
	}
	return affected, nil
}

func (s *state) activeConfig(id payroll.TeacherID) *payroll.SalaryConfig {
	for _, c := range s.configs {
		if c.TeacherID == id && c.Active {
			c := c
			return &c
		}
	}
	return nil
}

func containsStatus(list []payroll.TeacherStatus, s payroll.TeacherStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// RECORDS
// =============================================================================

func (m *Memory) SaveTeacher(_ context.Context, t payroll.Teacher) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.st.teachers[t.ID]; ok {
		t.Salary = existing.Salary
		t.CreatedAt = existing.CreatedAt
	} else {
		t.Salary = decimal.Zero
		t.CreatedAt = now
	}
	if t.Status == "" {
		t.Status = payroll.TeacherActive
	}
	t.UpdatedAt = now
	m.st.teachers[t.ID] = t
	return nil
}

func (m *Memory) GetTeacher(_ context.Context, id payroll.TeacherID) (*payroll.Teacher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.st.teachers[id]
	if !ok {
		return nil, payroll.ErrNotFound
	}
	return &t, nil
}

func (m *Memory) ListTeachers(_ context.Context, status payroll.TeacherStatus) ([]payroll.Teacher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []payroll.Teacher
	for _, t := range m.st.teachers {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ConfigHistory(_ context.Context, id payroll.TeacherID) ([]payroll.SalaryConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []payroll.SalaryConfig
	for _, c := range m.st.configs {
		if c.TeacherID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) RecordAttendance(_ context.Context, r payroll.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.st.teachers[r.TeacherID]; !ok {
		return payroll.ErrNotFound
	}
	r.Date = payroll.DateOf(r.Date)
	k := attendanceKey{TeacherID: r.TeacherID, ScheduleID: r.ScheduleID, Date: r.Date.Format(payroll.DateLayout)}
	if existing, ok := m.st.attendance[k]; ok {
		r.ID = existing.ID
	} else if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.st.attendance[k] = r
	return nil
}

func (m *Memory) ListAttendance(_ context.Context, id payroll.TeacherID, period payroll.Period) ([]payroll.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []payroll.AttendanceRecord
	for _, r := range m.st.attendance {
		if r.TeacherID == id && period.Contains(r.Date) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ScheduleID < out[j].ScheduleID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (m *Memory) ListDisbursements(_ context.Context, f payroll.DisbursementFilter) ([]payroll.Disbursement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make(map[payroll.DisbursementID]bool, len(f.IDs))
	for _, id := range f.IDs {
		ids[id] = true
	}

	var out []payroll.Disbursement
	for _, d := range m.st.disbursements {
		if f.Period != nil && d.Period != *f.Period {
			continue
		}
		if f.TeacherID != "" && d.TeacherID != f.TeacherID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if len(ids) > 0 && !ids[d.ID] {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Period.Year != b.Period.Year {
			return a.Period.Year < b.Period.Year
		}
		if a.Period.Month != b.Period.Month {
			return a.Period.Month < b.Period.Month
		}
		return a.TeacherID < b.TeacherID
	})
	return out, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, e payroll.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.faults["AppendAudit"]; ok {
		return &payroll.StoreError{Op: "AppendAudit", Err: err}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.st.audit = append(m.st.audit, e)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, f payroll.AuditFilter) ([]payroll.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []payroll.AuditEntry
	for i := len(m.st.audit) - 1; i >= 0; i-- {
		e := m.st.audit[i]
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		if f.From != nil && e.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && e.Timestamp.After(*f.To) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
