/*
config_version.go - Effective-dated salary config history

PURPOSE:
  Maintains the append-only history of a teacher's pay configuration.
  "Changing" a salary never edits a row: the active row is superseded
  (active=false, effective_to=today, superseded_by=new) and a new active
  row is appended with effective_from=today.

INVARIANT:
  At most one active config per teacher, before and after every call.

CONCURRENCY:
  Every step first locks the teacher row (Tx.LockTeacher), then reads the
  active config with forUpdate=true. On PostgreSQL a second writer waits on
  the teacher lock and, once the first commits, reads the new active row
  in a fresh statement. SQLite serializes writers. If two writers still
  both insert, the store's partial unique index on active configs rejects
  the loser with ErrConcurrentModification and the versioner retries once
  against the now-visible winner.

SEE ALSO:
  - types.go: SalaryConfig
  - batch/coordinator.go: Bulk salary increases
*/
package payroll

import (
	"context"

	"github.com/google/uuid"
)

// ConfigChange is the outcome of one version step.
type ConfigChange struct {
	Previous *SalaryConfig
	Current  SalaryConfig
}

// ConfigVersioner appends salary config versions.
type ConfigVersioner struct {
	Clock Clock

	// Retries is how many times a version step is retried after losing a
	// concurrent insert race.
	Retries int
}

func NewConfigVersioner() *ConfigVersioner {
	return &ConfigVersioner{Retries: 1}
}

// ApplyIncrease raises the teacher's basic, carrying allowances and
// deductions over unchanged. A teacher without an active config yields
// *NoConfigError. A decrease that would take basic below zero yields
// *PreconditionError and writes nothing.
func (v *ConfigVersioner) ApplyIncrease(ctx context.Context, tx Tx, id TeacherID, inc Increase) (ConfigChange, error) {
	if err := inc.Validate(); err != nil {
		return ConfigChange{}, err
	}
	return v.step(ctx, tx, id, func(prev *SalaryConfig) (PayComponents, error) {
		if prev == nil {
			return PayComponents{}, &NoConfigError{TeacherID: id}
		}
		basic := inc.Apply(prev.Basic)
		if basic.IsNegative() {
			return PayComponents{}, &PreconditionError{
				ID:       string(id),
				State:    "at basic " + prev.Basic.StringFixed(2),
				Required: "a non-negative basic after the change (got " + basic.StringFixed(2) + ")",
			}
		}
		return PayComponents{
			Basic:      basic,
			Allowances: prev.Allowances,
			Deductions: prev.Deductions,
		}, nil
	})
}

// Replace makes pay the teacher's active config, superseding the current one
// if any. The teacher must exist.
func (v *ConfigVersioner) Replace(ctx context.Context, tx Tx, id TeacherID, pay PayComponents) (ConfigChange, error) {
	if pay.Basic.IsNegative() || pay.Allowances.IsNegative() || pay.Deductions.IsNegative() {
		return ConfigChange{}, &ValidationError{Field: "pay", Message: "amounts must not be negative"}
	}
	if _, err := tx.GetTeacher(ctx, id); err != nil {
		return ConfigChange{}, err
	}
	return v.step(ctx, tx, id, func(*SalaryConfig) (PayComponents, error) {
		return pay, nil
	})
}

func (v *ConfigVersioner) step(ctx context.Context, tx Tx, id TeacherID, next func(*SalaryConfig) (PayComponents, error)) (ConfigChange, error) {
	var change ConfigChange
	var err error
	for attempt := 0; attempt <= v.Retries; attempt++ {
		err = tx.Savepoint(ctx, func(tx Tx) error {
			var serr error
			change, serr = v.supersede(ctx, tx, id, next)
			return serr
		})
		if !IsRetryable(err) {
			break
		}
	}
	return change, err
}

func (v *ConfigVersioner) supersede(ctx context.Context, tx Tx, id TeacherID, next func(*SalaryConfig) (PayComponents, error)) (ConfigChange, error) {
	// The teacher row lock is taken before the read: a writer that waited
	// on it reads the winner's new active row, not an empty result.
	if err := tx.LockTeacher(ctx, id); err != nil {
		return ConfigChange{}, err
	}
	prev, err := tx.ActiveConfig(ctx, id, true)
	if err != nil {
		return ConfigChange{}, err
	}

	pay, err := next(prev)
	if err != nil {
		return ConfigChange{}, err
	}

	today := v.Clock.Today()
	cfg := SalaryConfig{
		ID:            ConfigID(uuid.NewString()),
		TeacherID:     id,
		PayComponents: pay,
		EffectiveFrom: today,
		Active:        true,
		CreatedAt:     v.Clock.Now(),
	}

	// Deactivate first so the single-active index never sees two rows.
	if prev != nil {
		if err := tx.SupersedeConfig(ctx, prev.ID, today, cfg.ID); err != nil {
			return ConfigChange{}, err
		}
		closed := *prev
		closed.Active = false
		closed.EffectiveTo = &today
		closed.SupersededBy = cfg.ID
		prev = &closed
	}

	if err := tx.InsertConfig(ctx, cfg); err != nil {
		return ConfigChange{}, err
	}
	if err := tx.SetTeacherSalary(ctx, id, cfg.Basic, cfg.CreatedAt); err != nil {
		return ConfigChange{}, err
	}

	return ConfigChange{Previous: prev, Current: cfg}, nil
}
