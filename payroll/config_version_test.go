package payroll_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

func TestVersioner_PercentageIncrease_SupersedesActiveConfig(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	// GIVEN: an active config of 30000
	addTeacher(t, m, "t-1", "30000", "5000", "2000")

	// WHEN: applying +10%
	var change payroll.ConfigChange
	require.NoError(t, m.WithTx(ctx, func(tx payroll.Tx) error {
		var err error
		change, err = newVersioner().ApplyIncrease(ctx, tx, "t-1", payroll.Increase{
			Kind:  payroll.IncreasePercentage,
			Value: dec("10"),
		})
		return err
	}))

	// THEN: the new config carries 33000 and keeps the other components
	assertAmount(t, "33000", change.Current.Basic, "basic")
	assertAmount(t, "5000", change.Current.Allowances, "allowances")
	assert.True(t, change.Current.Active)
	assert.Equal(t, today, change.Current.EffectiveFrom)

	// AND: the old config is closed, not edited
	require.NotNil(t, change.Previous)
	assertAmount(t, "30000", change.Previous.Basic, "previous basic")
	assert.False(t, change.Previous.Active)
	require.NotNil(t, change.Previous.EffectiveTo)
	assert.Equal(t, today, *change.Previous.EffectiveTo)
	assert.Equal(t, change.Current.ID, change.Previous.SupersededBy)

	// AND: exactly one active config in history
	history, err := m.ConfigHistory(ctx, "t-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	active := activeConfigs(history)
	require.Len(t, active, 1)
	assert.Equal(t, change.Current.ID, active[0].ID)

	// AND: the teacher's cached salary follows
	teacher, err := m.GetTeacher(ctx, "t-1")
	require.NoError(t, err)
	assertAmount(t, "33000", teacher.Salary, "teacher salary")
}

func TestVersioner_FlatIncrease(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	addTeacher(t, m, "t-1", "30000", "0", "0")

	var change payroll.ConfigChange
	require.NoError(t, m.WithTx(ctx, func(tx payroll.Tx) error {
		var err error
		change, err = newVersioner().ApplyIncrease(ctx, tx, "t-1", payroll.Increase{
			Kind:  payroll.IncreaseFlat,
			Value: dec("1500"),
		})
		return err
	}))

	assertAmount(t, "31500", change.Current.Basic, "basic")
}

func TestVersioner_Increase_NoConfig_WritesNothing(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	addTeacher(t, m, "t-1", "", "", "")

	err := m.WithTx(ctx, func(tx payroll.Tx) error {
		_, err := newVersioner().ApplyIncrease(ctx, tx, "t-1", payroll.Increase{
			Kind:  payroll.IncreasePercentage,
			Value: dec("10"),
		})
		return err
	})

	assert.ErrorIs(t, err, payroll.ErrNoActiveConfig)
	history, err := m.ConfigHistory(ctx, "t-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestVersioner_Increase_InvalidValue_Rejected(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	addTeacher(t, m, "t-1", "30000", "0", "0")

	err := m.WithTx(ctx, func(tx payroll.Tx) error {
		_, err := newVersioner().ApplyIncrease(ctx, tx, "t-1", payroll.Increase{Kind: "bonus", Value: dec("10")})
		return err
	})

	assert.ErrorIs(t, err, payroll.ErrValidation)
}

func TestVersioner_Decrease_BelowZero_WritesNothing(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	// GIVEN: an active config of 30000
	addTeacher(t, m, "t-1", "30000", "0", "0")

	// WHEN: a flat change of -50000 is applied
	err := m.WithTx(ctx, func(tx payroll.Tx) error {
		_, err := newVersioner().ApplyIncrease(ctx, tx, "t-1", payroll.Increase{
			Kind:  payroll.IncreaseFlat,
			Value: dec("-50000"),
		})
		return err
	})

	// THEN: it fails that teacher only, and the 30000 config stays active
	assert.ErrorIs(t, err, payroll.ErrPrecondition)
	assert.True(t, payroll.IsItemError(err))
	history, err := m.ConfigHistory(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Active)
	teacher, err := m.GetTeacher(ctx, "t-1")
	require.NoError(t, err)
	assertAmount(t, "30000", teacher.Salary, "teacher salary")
}

func TestVersioner_Decrease_WithinBasic_Applies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	addTeacher(t, m, "t-1", "30000", "0", "0")

	var change payroll.ConfigChange
	require.NoError(t, m.WithTx(ctx, func(tx payroll.Tx) error {
		var err error
		change, err = newVersioner().ApplyIncrease(ctx, tx, "t-1", payroll.Increase{
			Kind:  payroll.IncreasePercentage,
			Value: dec("-10"),
		})
		return err
	}))

	assertAmount(t, "27000", change.Current.Basic, "basic")
}

func TestVersioner_Decrease_HundredPercent_Rejected(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	addTeacher(t, m, "t-1", "30000", "0", "0")

	err := m.WithTx(ctx, func(tx payroll.Tx) error {
		_, err := newVersioner().ApplyIncrease(ctx, tx, "t-1", payroll.Increase{
			Kind:  payroll.IncreasePercentage,
			Value: dec("-100"),
		})
		return err
	})

	var verr *payroll.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "value", verr.Field)
}

func TestVersioner_Replace_FirstConfig(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	addTeacher(t, m, "t-1", "", "", "")

	var change payroll.ConfigChange
	require.NoError(t, m.WithTx(ctx, func(tx payroll.Tx) error {
		var err error
		change, err = newVersioner().Replace(ctx, tx, "t-1", payroll.PayComponents{
			Basic:      dec("25000"),
			Allowances: dec("1000"),
			Deductions: dec("0"),
		})
		return err
	}))

	assert.Nil(t, change.Previous)
	assert.True(t, change.Current.Active)
	assert.Nil(t, change.Current.EffectiveTo)
}

func TestVersioner_Replace_UnknownTeacher(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	err := m.WithTx(ctx, func(tx payroll.Tx) error {
		_, err := newVersioner().Replace(ctx, tx, "ghost", payroll.PayComponents{Basic: dec("1")})
		return err
	})

	assert.ErrorIs(t, err, payroll.ErrNotFound)
}

// =============================================================================
// CONCURRENT WRITERS
// =============================================================================

// staleTx hides the active config from the first n reads, which is what a
// writer sees when a concurrent transaction inserts the first active config
// after its read.
type staleTx struct {
	payroll.Tx
	stale *int
}

func (s *staleTx) ActiveConfig(ctx context.Context, id payroll.TeacherID, forUpdate bool) (*payroll.SalaryConfig, error) {
	if *s.stale > 0 {
		*s.stale--
		return nil, nil
	}
	return s.Tx.ActiveConfig(ctx, id, forUpdate)
}

func (s *staleTx) Savepoint(ctx context.Context, fn func(payroll.Tx) error) error {
	return s.Tx.Savepoint(ctx, func(inner payroll.Tx) error {
		return fn(&staleTx{Tx: inner, stale: s.stale})
	})
}

func TestVersioner_LostRace_RetriesAgainstWinner(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	addTeacher(t, m, "t-1", "30000", "0", "0")

	// GIVEN: the first read misses the active config
	stale := 1

	// WHEN: replacing the config
	var change payroll.ConfigChange
	require.NoError(t, m.WithTx(ctx, func(tx payroll.Tx) error {
		var err error
		change, err = newVersioner().Replace(ctx, &staleTx{Tx: tx, stale: &stale}, "t-1", payroll.PayComponents{
			Basic:      dec("32000"),
			Allowances: dec("0"),
			Deductions: dec("0"),
		})
		return err
	}))

	// THEN: the retry superseded the winner and one config is active
	require.NotNil(t, change.Previous)
	assertAmount(t, "30000", change.Previous.Basic, "previous basic")
	history, err := m.ConfigHistory(ctx, "t-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Len(t, activeConfigs(history), 1)
}

func TestVersioner_LostRace_NoRetries_ReportsConflict(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	addTeacher(t, m, "t-1", "30000", "0", "0")

	stale := 1
	v := newVersioner()
	v.Retries = 0

	err := m.WithTx(ctx, func(tx payroll.Tx) error {
		_, err := v.Replace(ctx, &staleTx{Tx: tx, stale: &stale}, "t-1", payroll.PayComponents{Basic: dec("32000")})
		return err
	})

	assert.True(t, errors.Is(err, payroll.ErrConcurrentModification))
	assert.Equal(t, "conflict", payroll.Code(err))
	history, err := m.ConfigHistory(ctx, "t-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// blockedTx hides the active config until the teacher lock is taken. It
// models a writer whose concurrent peer committed a new version while it
// waited: reads before the lock see nothing, reads after it see the winner.
type blockedTx struct {
	payroll.Tx
	locked *bool
	calls  *[]string
}

func (b *blockedTx) LockTeacher(ctx context.Context, id payroll.TeacherID) error {
	*b.calls = append(*b.calls, "lock")
	*b.locked = true
	return b.Tx.LockTeacher(ctx, id)
}

func (b *blockedTx) ActiveConfig(ctx context.Context, id payroll.TeacherID, forUpdate bool) (*payroll.SalaryConfig, error) {
	*b.calls = append(*b.calls, "read")
	if !*b.locked {
		return nil, nil
	}
	return b.Tx.ActiveConfig(ctx, id, forUpdate)
}

func (b *blockedTx) Savepoint(ctx context.Context, fn func(payroll.Tx) error) error {
	return b.Tx.Savepoint(ctx, func(inner payroll.Tx) error {
		return fn(&blockedTx{Tx: inner, locked: b.locked, calls: b.calls})
	})
}

func TestVersioner_Increase_ReadsActiveConfigUnderTeacherLock(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	// GIVEN: an active config only visible once the teacher lock is held
	addTeacher(t, m, "t-1", "30000", "0", "0")
	locked := false
	var calls []string
	v := newVersioner()
	v.Retries = 0

	// WHEN: applying +10%
	var change payroll.ConfigChange
	require.NoError(t, m.WithTx(ctx, func(tx payroll.Tx) error {
		var err error
		change, err = v.ApplyIncrease(ctx, &blockedTx{Tx: tx, locked: &locked, calls: &calls}, "t-1", payroll.Increase{
			Kind:  payroll.IncreasePercentage,
			Value: dec("10"),
		})
		return err
	}))

	// THEN: the lock came first, so the config was found and superseded
	assert.Equal(t, []string{"lock", "read"}, calls)
	require.NotNil(t, change.Previous)
	assertAmount(t, "33000", change.Current.Basic, "basic")
}
