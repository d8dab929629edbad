package payroll_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

func TestDisbursementStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to payroll.DisbursementStatus
		allowed  bool
	}{
		{payroll.DisbursementPending, payroll.DisbursementProcessed, true},
		{payroll.DisbursementProcessed, payroll.DisbursementPaid, true},
		{payroll.DisbursementPending, payroll.DisbursementPaid, false},
		{payroll.DisbursementPaid, payroll.DisbursementProcessed, false},
		{payroll.DisbursementPaid, payroll.DisbursementPaid, false},
		{payroll.DisbursementProcessed, payroll.DisbursementPending, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
	assert.True(t, payroll.DisbursementPaid.IsTerminal())
}

// seedDisbursements stores one disbursement per status, IDs d-0, d-1, ...
func seedDisbursements(t *testing.T, m *store.Memory, statuses ...payroll.DisbursementStatus) []payroll.DisbursementID {
	t.Helper()
	ctx := context.Background()
	var ids []payroll.DisbursementID
	require.NoError(t, m.WithTx(ctx, func(tx payroll.Tx) error {
		for i, s := range statuses {
			teacher := fmt.Sprintf("t-%d", i)
			d := payroll.Disbursement{
				ID:        payroll.DisbursementID(fmt.Sprintf("d-%d", i)),
				TeacherID: payroll.TeacherID(teacher),
				Period:    june2024,
				Net:       dec("1000"),
				Status:    s,
			}
			if s == payroll.DisbursementPaid {
				paid := payroll.Date(2024, 7, 1)
				d.PaymentMethod = "cash"
				d.PaymentDate = &paid
			}
			if err := tx.InsertDisbursement(ctx, d); err != nil {
				return err
			}
			ids = append(ids, d.ID)
		}
		return nil
	}))
	return ids
}

func TestDisburser_OnlyProcessedBecomePaid(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	// GIVEN: 3 processed, 2 already paid
	ids := seedDisbursements(t, m,
		payroll.DisbursementProcessed, payroll.DisbursementPaid, payroll.DisbursementProcessed,
		payroll.DisbursementPaid, payroll.DisbursementProcessed)

	// WHEN: disbursing all five
	var out payroll.DisburseOutcome
	require.NoError(t, m.WithTx(ctx, func(tx payroll.Tx) error {
		var err error
		out, err = payroll.Disburser{}.Disburse(ctx, tx, ids, "bank_transfer", today)
		return err
	}))

	// THEN: 3 paid, 2 unaffected
	assert.Len(t, out.Paid, 3)
	assert.Equal(t, 2, out.Unaffected)
	for _, d := range out.Paid {
		assert.Equal(t, payroll.DisbursementPaid, d.Status)
		assert.Equal(t, "bank_transfer", d.PaymentMethod)
		require.NotNil(t, d.PaymentDate)
		assert.Equal(t, today, *d.PaymentDate)
	}

	// AND: the previously paid rows keep their payment details
	paid, err := m.ListDisbursements(ctx, payroll.DisbursementFilter{IDs: []payroll.DisbursementID{"d-1"}})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, "cash", paid[0].PaymentMethod)
}

func TestDisburser_Retry_IsNoOp(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	ids := seedDisbursements(t, m, payroll.DisbursementProcessed, payroll.DisbursementProcessed)

	disburse := func() payroll.DisburseOutcome {
		var out payroll.DisburseOutcome
		require.NoError(t, m.WithTx(ctx, func(tx payroll.Tx) error {
			var err error
			out, err = payroll.Disburser{}.Disburse(ctx, tx, ids, "cash", today)
			return err
		}))
		return out
	}

	first := disburse()
	second := disburse()

	assert.Len(t, first.Paid, 2)
	assert.Empty(t, second.Paid)
	assert.Equal(t, 2, second.Unaffected)
}

func TestDisburser_PendingIsNotPaid(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	ids := seedDisbursements(t, m, payroll.DisbursementPending)

	var out payroll.DisburseOutcome
	require.NoError(t, m.WithTx(ctx, func(tx payroll.Tx) error {
		var err error
		out, err = payroll.Disburser{}.Disburse(ctx, tx, ids, "cash", today)
		return err
	}))

	assert.Empty(t, out.Paid)
	assert.Equal(t, 1, out.Unaffected)
}

func TestDisburser_RequiresPaymentMethod(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	ids := seedDisbursements(t, m, payroll.DisbursementProcessed)

	err := m.WithTx(ctx, func(tx payroll.Tx) error {
		_, err := payroll.Disburser{}.Disburse(ctx, tx, ids, "  ", today)
		return err
	})

	var verr *payroll.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "payment_method", verr.Field)
}

func TestTeacherStatusSources(t *testing.T) {
	assert.Equal(t, []payroll.TeacherStatus{payroll.TeacherInactive}, payroll.TeacherStatusSources(payroll.TeacherActive))
	assert.Equal(t, []payroll.TeacherStatus{payroll.TeacherActive}, payroll.TeacherStatusSources(payroll.TeacherInactive))
	assert.ElementsMatch(t,
		[]payroll.TeacherStatus{payroll.TeacherActive, payroll.TeacherInactive},
		payroll.TeacherStatusSources(payroll.TeacherDeleted))
	assert.Nil(t, payroll.TeacherStatusSources("archived"))
}
