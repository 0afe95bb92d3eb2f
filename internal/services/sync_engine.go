package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"bizxpense/internal/aggregator"
	"bizxpense/internal/core"
	"bizxpense/internal/ledger"
	applog "bizxpense/internal/log"
)

var (
	// ErrItemNotFound is returned for unknown items and items owned by another user.
	ErrItemNotFound = errors.New("linked item not found")
	// ErrCursorStalled means the aggregator reported more pages without moving the cursor.
	ErrCursorStalled = errors.New("aggregator cursor did not advance")
)

// SyncResult counts the changes applied by a sync pass. Pending transactions are not counted.
type SyncResult struct {
	Added    int `json:"synced"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

func (r *SyncResult) add(o SyncResult) {
	r.Added += o.Added
	r.Modified += o.Modified
	r.Removed += o.Removed
}

// ItemSyncResult is the outcome for one item of a batch sync.
type ItemSyncResult struct {
	ItemID          string
	InstitutionName string
	SyncResult
	Err error
}

// SyncSummary aggregates a batch sync; totals only include items that succeeded.
type SyncSummary struct {
	SyncResult
	Items []ItemSyncResult
}

// Failed returns the items whose sync returned an error.
func (s SyncSummary) Failed() []ItemSyncResult {
	var out []ItemSyncResult
	for _, it := range s.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// SyncEngine merges aggregator transaction deltas into the expense ledger.
type SyncEngine struct {
	items    ledger.ItemStore
	expenses ledger.ExpenseStore
	client   aggregator.Client
	now      func() time.Time
	group    singleflight.Group
}

func NewSyncEngine(items ledger.ItemStore, expenses ledger.ExpenseStore, client aggregator.Client) *SyncEngine {
	return &SyncEngine{
		items:    items,
		expenses: expenses,
		client:   client,
		now:      time.Now,
	}
}

// SyncItem pulls every pending delta page for item and applies it. The
// stored cursor moves only after all pages were applied. Concurrent calls
// for the same item share one execution. A cancelled caller stops waiting,
// but the shared pass runs to completion for the others.
func (e *SyncEngine) SyncItem(ctx context.Context, item core.LinkedItem) (SyncResult, error) {
	shared := context.WithoutCancel(ctx)
	ch := e.group.DoChan(item.ID, func() (any, error) {
		return e.syncItem(shared, item.ID)
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(SyncResult)
		return res, r.Err
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	}
}

func (e *SyncEngine) syncItem(ctx context.Context, itemID string) (SyncResult, error) {
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentSync)

	// Re-read so a caller holding a stale copy does not replay from an old cursor
	item, err := e.items.GetItem(ctx, itemID)
	if errors.Is(err, ledger.ErrNotFound) {
		return SyncResult{}, ErrItemNotFound
	}
	if err != nil {
		return SyncResult{}, fmt.Errorf("load item %s: %w", itemID, err)
	}

	start := item.Cursor
	cursor := start
	var (
		result SyncResult
		pages  int
	)
	for {
		page, err := e.client.FetchTransactionPage(ctx, item.AccessToken, cursor)
		if err != nil {
			return SyncResult{}, fmt.Errorf("fetch transactions for item %s: %w", item.ID, err)
		}
		pages++

		applied, err := e.applyPage(ctx, item.UserID, page)
		if err != nil {
			return SyncResult{}, fmt.Errorf("apply page %d for item %s: %w", pages, item.ID, err)
		}
		result.add(applied)

		if page.HasMore && page.NextCursor == cursor {
			return SyncResult{}, fmt.Errorf("item %s: %w", item.ID, ErrCursorStalled)
		}
		cursor = page.NextCursor
		if !page.HasMore {
			break
		}
	}

	swapped, err := e.items.UpdateItemCursor(ctx, item.ID, start, cursor, e.now())
	if err != nil {
		return SyncResult{}, fmt.Errorf("store cursor for item %s: %w", item.ID, err)
	}
	if !swapped {
		logger.WarnContext(ctx, "Cursor advanced by a concurrent sync, keeping stored cursor",
			applog.FieldItemID, item.ID)
	}

	applog.NewStructuredLogger(logger).LogSyncCompleted(ctx, item.ID, item.InstitutionName,
		result.Added, result.Modified, result.Removed, pages)
	return result, nil
}

func (e *SyncEngine) applyPage(ctx context.Context, userID string, page aggregator.TransactionPage) (SyncResult, error) {
	var res SyncResult
	for _, t := range page.Added {
		if t.Pending {
			continue
		}
		if _, err := e.expenses.UpsertExpenseByExternalID(ctx, expenseFromTransaction(userID, t)); err != nil {
			return res, err
		}
		res.Added++
	}
	for _, t := range page.Modified {
		if t.Pending {
			continue
		}
		if _, err := e.expenses.UpsertExpenseByExternalID(ctx, expenseFromTransaction(userID, t)); err != nil {
			return res, err
		}
		res.Modified++
	}
	for _, id := range page.Removed {
		if _, err := e.expenses.DeleteExpensesByExternalID(ctx, id); err != nil {
			return res, err
		}
		res.Removed++
	}
	return res, nil
}

func expenseFromTransaction(userID string, t aggregator.Transaction) core.Expense {
	return core.Expense{
		UserID:                userID,
		Date:                  t.Date,
		Vendor:                t.Vendor(),
		Description:           t.Name,
		Amount:                core.MoneyFromDecimal(t.Amount.Abs()),
		PaymentMethod:         core.PaymentMethodCreditCard,
		ExternalTransactionID: t.ID,
	}
}

// SyncAll syncs itemID, or every item of userID when itemID is empty. Each
// item is attempted; failures are combined and returned with the summary.
func (e *SyncEngine) SyncAll(ctx context.Context, userID, itemID string) (SyncSummary, error) {
	var items []core.LinkedItem
	if itemID != "" {
		item, err := e.items.GetItem(ctx, itemID)
		if errors.Is(err, ledger.ErrNotFound) || (err == nil && item.UserID != userID) {
			return SyncSummary{}, ErrItemNotFound
		}
		if err != nil {
			return SyncSummary{}, fmt.Errorf("load item %s: %w", itemID, err)
		}
		items = []core.LinkedItem{item}
	} else {
		var err error
		items, err = e.items.ListItems(ctx, userID)
		if err != nil {
			return SyncSummary{}, fmt.Errorf("list items: %w", err)
		}
	}

	structured := applog.NewStructuredLogger(applog.FromContext(ctx).WithComponent(applog.ComponentSync))
	var (
		summary SyncSummary
		errs    error
	)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		res, err := e.SyncItem(ctx, item)
		outcome := ItemSyncResult{ItemID: item.ID, InstitutionName: item.InstitutionName, Err: err}
		if err != nil {
			structured.LogError(ctx, "Item sync failed", err, applog.OpSync,
				applog.NewFields().WithItem(item.ID, item.InstitutionName))
			errs = multierr.Append(errs, fmt.Errorf("item %s: %w", item.ID, err))
		} else {
			outcome.SyncResult = res
			summary.add(res)
		}
		summary.Items = append(summary.Items, outcome)
	}
	return summary, errs
}

// SyncByExternalItemID resolves the aggregator's item id and syncs it.
func (e *SyncEngine) SyncByExternalItemID(ctx context.Context, externalItemID string) (SyncResult, error) {
	item, err := e.items.GetItemByExternalID(ctx, externalItemID)
	if errors.Is(err, ledger.ErrNotFound) {
		return SyncResult{}, ErrItemNotFound
	}
	if err != nil {
		return SyncResult{}, fmt.Errorf("resolve item %s: %w", externalItemID, err)
	}
	return e.SyncItem(ctx, item)
}
