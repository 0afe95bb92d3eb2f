package ledger

import (
	"context"
	"errors"
	"time"

	"bizxpense/internal/core"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an item with the same external id is already linked.
	ErrDuplicate = errors.New("already exists")
)

// Ports implemented by the SQLite and in-memory ledgers.
type (
	ExpenseStore interface {
		// UpsertExpenseByExternalID inserts e, or when a row with the same
		// external transaction id exists, updates its date, vendor,
		// description and amount. Payment method is written only on insert.
		UpsertExpenseByExternalID(ctx context.Context, e core.Expense) (id string, err error)
		// DeleteExpensesByExternalID removes every expense carrying the id.
		DeleteExpensesByExternalID(ctx context.Context, externalID string) (int64, error)
		HasRecurringOccurrence(ctx context.Context, recurringID string, date core.Date) (bool, error)
		// CreateRecurringOccurrence inserts e unless an expense for the same
		// (recurring id, date) exists; created reports which happened.
		CreateRecurringOccurrence(ctx context.Context, e core.Expense) (created bool, err error)
		ListExpenses(ctx context.Context, userID string) ([]core.Expense, error)
	}

	ItemStore interface {
		CreateItem(ctx context.Context, item core.LinkedItem, accounts []core.LinkedAccount) (core.LinkedItem, error)
		GetItem(ctx context.Context, id string) (core.LinkedItem, error)
		GetItemByExternalID(ctx context.Context, externalItemID string) (core.LinkedItem, error)
		// ListItems returns the user's items with accounts, newest first.
		ListItems(ctx context.Context, userID string) ([]core.LinkedItem, error)
		// UpdateItemCursor stores next only if the current cursor still equals prev.
		UpdateItemCursor(ctx context.Context, id, prev, next string, syncedAt time.Time) (swapped bool, err error)
		DeleteItem(ctx context.Context, id string) error
	}

	RecurringStore interface {
		CreateRecurring(ctx context.Context, r core.RecurringExpense) (core.RecurringExpense, error)
		GetRecurring(ctx context.Context, id string) (core.RecurringExpense, error)
		// ListRecurring orders by next-due date.
		ListRecurring(ctx context.Context, userID string, activeOnly bool) ([]core.RecurringExpense, error)
		UpdateRecurring(ctx context.Context, r core.RecurringExpense) error
		DeleteRecurring(ctx context.Context, id string) error
		// ListDueRecurring selects active templates with next-due <= today
		// whose end date is unset or >= today.
		ListDueRecurring(ctx context.Context, userID string, today core.Date) ([]core.RecurringExpense, error)
		// AdvanceRecurring writes next-due and active only if next-due still equals prev.
		AdvanceRecurring(ctx context.Context, id string, prev, next core.Date, active bool) (swapped bool, err error)
		// ListRecurringOwners returns users owning at least one active template.
		ListRecurringOwners(ctx context.Context) ([]string, error)
	}

	Store interface {
		ExpenseStore
		ItemStore
		RecurringStore
		Ping(ctx context.Context) error
		Close() error
	}
)
