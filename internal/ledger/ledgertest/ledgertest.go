// Package ledgertest holds behaviour checks shared by every ledger.Store implementation.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizxpense/internal/core"
	"bizxpense/internal/ledger"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) ledger.Store

// Run executes the conformance checks against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("UpsertByExternalID", func(t *testing.T) { testUpsert(t, newStore(t)) })
	t.Run("DeleteByExternalID", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("RecurringOccurrenceGuard", func(t *testing.T) { testOccurrence(t, newStore(t)) })
	t.Run("Items", func(t *testing.T) { testItems(t, newStore(t)) })
	t.Run("RelinkMovesAccount", func(t *testing.T) { testRelinkAccount(t, newStore(t)) })
	t.Run("ItemCursorCAS", func(t *testing.T) { testCursorCAS(t, newStore(t)) })
	t.Run("RecurringCRUD", func(t *testing.T) { testRecurringCRUD(t, newStore(t)) })
	t.Run("DueSelection", func(t *testing.T) { testDueSelection(t, newStore(t)) })
	t.Run("AdvanceCAS", func(t *testing.T) { testAdvanceCAS(t, newStore(t)) })
}

// ExpenseView is the comparable part of an expense, without ids or timestamps.
type ExpenseView struct {
	Date          string
	Vendor        string
	Description   string
	Cents         int64
	PaymentMethod string
	ExternalID    string
	RecurringID   string
}

// View projects expenses for diffing with cmp.
func View(es []core.Expense) []ExpenseView {
	out := make([]ExpenseView, 0, len(es))
	for _, e := range es {
		out = append(out, ExpenseView{
			Date:          e.Date.String(),
			Vendor:        e.Vendor,
			Description:   e.Description,
			Cents:         e.Amount.Cents(),
			PaymentMethod: e.PaymentMethod,
			ExternalID:    e.ExternalTransactionID,
			RecurringID:   e.RecurringExpenseID,
		})
	}
	return out
}

func testUpsert(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	first := core.Expense{
		UserID:                "u1",
		Date:                  core.NewDate(2025, time.March, 1),
		Vendor:                "Blue Bottle",
		Description:           "BLUE BOTTLE #12",
		Amount:                core.MoneyFromCents(450),
		PaymentMethod:         core.PaymentMethodCreditCard,
		ExternalTransactionID: "tx-1",
	}
	id1, err := s.UpsertExpenseByExternalID(ctx, first)
	require.NoError(t, err)

	second := first
	second.Date = core.NewDate(2025, time.March, 2)
	second.Amount = core.MoneyFromCents(475)
	second.PaymentMethod = core.PaymentMethodCash
	id2, err := s.UpsertExpenseByExternalID(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	got, err := s.ListExpenses(ctx, "u1")
	require.NoError(t, err)
	want := []ExpenseView{{
		Date: "2025-03-02", Vendor: "Blue Bottle", Description: "BLUE BOTTLE #12",
		Cents: 475, PaymentMethod: core.PaymentMethodCreditCard, ExternalID: "tx-1",
	}}
	if diff := cmp.Diff(want, View(got)); diff != "" {
		t.Fatalf("ledger mismatch (-want +got):\n%s", diff)
	}

	other, err := s.ListExpenses(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testDelete(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	_, err := s.UpsertExpenseByExternalID(ctx, core.Expense{
		UserID: "u1", Date: core.NewDate(2025, time.April, 1), Vendor: "Uber",
		Amount: core.MoneyFromCents(1200), ExternalTransactionID: "tx-9",
	})
	require.NoError(t, err)

	n, err := s.DeleteExpensesByExternalID(ctx, "tx-9")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteExpensesByExternalID(ctx, "tx-9")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testOccurrence(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	r, err := s.CreateRecurring(ctx, core.RecurringExpense{
		UserID: "u1", Vendor: "Adobe", Amount: core.MoneyFromCents(5499),
		Frequency: core.Monthly, DayOfMonth: 15,
		StartDate: core.NewDate(2025, time.January, 15), NextDueDate: core.NewDate(2025, time.January, 15),
		Active: true,
	})
	require.NoError(t, err)
	due := core.NewDate(2025, time.January, 15)

	has, err := s.HasRecurringOccurrence(ctx, r.ID, due)
	require.NoError(t, err)
	assert.False(t, has)

	e := core.Expense{UserID: "u1", Date: due, Vendor: "Adobe", Amount: r.Amount, RecurringExpenseID: r.ID}
	created, err := s.CreateRecurringOccurrence(ctx, e)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateRecurringOccurrence(ctx, e)
	require.NoError(t, err)
	assert.False(t, created)

	has, err = s.HasRecurringOccurrence(ctx, r.ID, due)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.DeleteRecurring(ctx, r.ID))
	left, err := s.ListExpenses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Empty(t, left[0].RecurringExpenseID)
}

func testItems(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	item, err := s.CreateItem(ctx, core.LinkedItem{
		UserID: "u1", ExternalItemID: "ext-1", InstitutionID: "ins_1",
		InstitutionName: "First Platypus Bank", AccessToken: "access-sandbox-1",
	}, []core.LinkedAccount{
		{ExternalAccountID: "acc-1", Name: "Checking", Type: "depository", Subtype: "checking", Mask: "0000"},
		{ExternalAccountID: "acc-2", Name: "Card", Type: "credit", Subtype: "credit card", Mask: "3333"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, item.ID)
	assert.Len(t, item.Accounts, 2)

	_, err = s.CreateItem(ctx, core.LinkedItem{UserID: "u1", ExternalItemID: "ext-1", AccessToken: "x"}, nil)
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	byExt, err := s.GetItemByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, item.ID, byExt.ID)
	assert.Equal(t, "access-sandbox-1", byExt.AccessToken)
	assert.Empty(t, byExt.Cursor)
	assert.Nil(t, byExt.LastSyncedAt)

	items, err := s.ListItems(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Len(t, items[0].Accounts, 2)

	require.NoError(t, s.DeleteItem(ctx, item.ID))
	_, err = s.GetItem(ctx, item.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.ErrorIs(t, s.DeleteItem(ctx, item.ID), ledger.ErrNotFound)
}

func testRelinkAccount(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	first, err := s.CreateItem(ctx, core.LinkedItem{UserID: "u1", ExternalItemID: "ext-1", AccessToken: "access-1"},
		[]core.LinkedAccount{{ExternalAccountID: "acc-1", Name: "Checking", Type: "depository", Mask: "0000"}})
	require.NoError(t, err)
	require.Len(t, first.Accounts, 1)
	accountID := first.Accounts[0].ID

	second, err := s.CreateItem(ctx, core.LinkedItem{UserID: "u1", ExternalItemID: "ext-2", AccessToken: "access-2"},
		[]core.LinkedAccount{{ExternalAccountID: "acc-1", Name: "Operating", Type: "depository", Mask: "0000"}})
	require.NoError(t, err)
	require.Len(t, second.Accounts, 1)
	assert.Equal(t, accountID, second.Accounts[0].ID)

	old, err := s.GetItem(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, old.Accounts)

	moved, err := s.GetItem(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, moved.Accounts, 1)
	assert.Equal(t, accountID, moved.Accounts[0].ID)
	assert.Equal(t, second.ID, moved.Accounts[0].ItemID)
	assert.Equal(t, "Operating", moved.Accounts[0].Name)
}

func testCursorCAS(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	item, err := s.CreateItem(ctx, core.LinkedItem{UserID: "u1", ExternalItemID: "ext-2", AccessToken: "tok"}, nil)
	require.NoError(t, err)
	at := time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC)

	ok, err := s.UpdateItemCursor(ctx, item.ID, "", "c1", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateItemCursor(ctx, item.ID, "", "c-stale", at)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.Cursor)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, got.LastSyncedAt.Equal(at))
}

func testRecurringCRUD(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	r, err := s.CreateRecurring(ctx, core.RecurringExpense{
		UserID: "u1", Vendor: "Gusto", Description: "Payroll", Amount: core.MoneyFromCents(4000),
		Frequency: core.Monthly, DayOfMonth: 1, StartDate: core.NewDate(2025, time.January, 1),
		EndDate: core.NewDate(2025, time.December, 31), NextDueDate: core.NewDate(2025, time.February, 1),
		Active: true,
	})
	require.NoError(t, err)

	got, err := s.GetRecurring(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, core.NewDate(2025, time.December, 31), got.EndDate)
	assert.True(t, got.Amount.Equal(core.MoneyFromCents(4000)))

	got.Vendor = "Gusto Inc"
	got.Active = false
	got.EndDate = core.Date{}
	require.NoError(t, s.UpdateRecurring(ctx, got))

	active, err := s.ListRecurring(ctx, "u1", true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListRecurring(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Gusto Inc", all[0].Vendor)
	assert.True(t, all[0].EndDate.IsZero())

	require.NoError(t, s.DeleteRecurring(ctx, r.ID))
	_, err = s.GetRecurring(ctx, r.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testDueSelection(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	today := core.NewDate(2025, time.June, 10)
	mk := func(vendor string, next, end core.Date, active bool, user string) {
		_, err := s.CreateRecurring(ctx, core.RecurringExpense{
			UserID: user, Vendor: vendor, Amount: core.MoneyFromCents(100), Frequency: core.Monthly,
			DayOfMonth: 1, StartDate: core.NewDate(2025, time.January, 1), EndDate: end,
			NextDueDate: next, Active: active,
		})
		require.NoError(t, err)
	}
	mk("due", core.NewDate(2025, time.June, 1), core.Date{}, true, "u1")
	mk("due-today", today, core.Date{}, true, "u1")
	mk("ends-today", core.NewDate(2025, time.May, 1), today, true, "u1")
	mk("future", core.NewDate(2025, time.July, 1), core.Date{}, true, "u1")
	mk("inactive", core.NewDate(2025, time.June, 1), core.Date{}, false, "u1")
	mk("lapsed", core.NewDate(2025, time.June, 1), core.NewDate(2025, time.June, 9), true, "u1")
	mk("other-user", core.NewDate(2025, time.June, 1), core.Date{}, true, "u2")

	due, err := s.ListDueRecurring(ctx, "u1", today)
	require.NoError(t, err)
	var vendors []string
	for _, r := range due {
		vendors = append(vendors, r.Vendor)
	}
	assert.Equal(t, []string{"ends-today", "due", "due-today"}, vendors)

	owners, err := s.ListRecurringOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, owners)
}

func testAdvanceCAS(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	start := core.NewDate(2025, time.January, 15)
	r, err := s.CreateRecurring(ctx, core.RecurringExpense{
		UserID: "u1", Vendor: "Rent", Amount: core.MoneyFromCents(150000), Frequency: core.Monthly,
		DayOfMonth: 15, StartDate: start, NextDueDate: start, Active: true,
	})
	require.NoError(t, err)

	next := core.NewDate(2025, time.February, 15)
	ok, err := s.AdvanceRecurring(ctx, r.ID, start, next, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AdvanceRecurring(ctx, r.ID, start, core.NewDate(2025, time.March, 15), false)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetRecurring(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, next, got.NextDueDate)
	assert.True(t, got.Active)
}
