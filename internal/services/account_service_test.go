package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizxpense/internal/aggregator"
	"bizxpense/internal/aggregator/aggregatortest"
	"bizxpense/internal/core"
	"bizxpense/internal/ledger/memory"
)

func newLinkFake() *aggregatortest.Fake {
	agg := newFakeAggregator()
	agg.LinkToken = "link-sandbox-123"
	agg.AccessToken = "access-sandbox-abc"
	agg.ItemID = "ext-item-1"
	agg.Accounts = []aggregator.Account{
		{ID: "acc-1", Name: "Plaid Checking", Type: "depository", Subtype: "checking", Mask: "0000"},
		{ID: "acc-2", Name: "Plaid Credit Card", Type: "credit", Subtype: "credit card", Mask: "3333"},
	}
	return agg
}

func TestAccountServiceExchangeStoresItemAndAccounts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewAccountService(store, newLinkFake())

	token, err := svc.CreateLinkToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "link-sandbox-123", token)

	res, err := svc.ExchangePublicToken(ctx, "u1", "public-sandbox-xyz", Institution{ID: "ins_109508", Name: "First Platypus Bank"})
	require.NoError(t, err)
	assert.Equal(t, "First Platypus Bank", res.InstitutionName)
	assert.Equal(t, 2, res.AccountCount)

	stored, err := store.GetItemByExternalID(ctx, "ext-item-1")
	require.NoError(t, err)
	assert.Equal(t, "access-sandbox-abc", stored.AccessToken)
	assert.Equal(t, res.ItemID, stored.ID)

	items, err := svc.ListItems(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].AccessToken)
	assert.Len(t, items[0].Accounts, 2)
}

func TestAccountServiceExchangeRequiresToken(t *testing.T) {
	_, err := NewAccountService(memory.New(), newLinkFake()).ExchangePublicToken(context.Background(), "u1", " ", Institution{})
	assert.ErrorIs(t, err, core.ErrMissingPublicToken)
	assert.True(t, core.IsValidationError(err))
}

func TestAccountServiceDisconnect(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	agg := newLinkFake()
	agg.RemoveErr = errors.New("ITEM_NOT_FOUND")
	svc := NewAccountService(store, agg)

	res, err := svc.ExchangePublicToken(ctx, "u1", "public", Institution{Name: "Chase"})
	require.NoError(t, err)
	_, err = store.UpsertExpenseByExternalID(ctx, core.Expense{
		UserID: "u1", Date: on(2025, 1, 5), Vendor: "Costco", Amount: core.MoneyFromCents(8800), ExternalTransactionID: "tx",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Disconnect(ctx, "someone-else", res.ItemID), ErrItemNotFound)

	require.NoError(t, svc.Disconnect(ctx, "u1", res.ItemID))
	assert.Equal(t, []string{"access-sandbox-abc"}, agg.Removed())

	items, err := svc.ListItems(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Len(t, ledgerView(t, store, "u1"), 1)

	assert.ErrorIs(t, svc.Disconnect(ctx, "u1", res.ItemID), ErrItemNotFound)
}
