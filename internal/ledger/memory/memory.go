// Package memory is an in-process ledger used by the memory backend and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bizxpense/internal/core"
	"bizxpense/internal/ledger"
)

type Store struct {
	mu        sync.Mutex
	expenses  []core.Expense
	items     map[string]core.LinkedItem
	accounts  map[string][]core.LinkedAccount
	recurring map[string]core.RecurringExpense
	now       func() time.Time
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		items:     map[string]core.LinkedItem{},
		accounts:  map[string][]core.LinkedAccount{},
		recurring: map[string]core.RecurringExpense{},
		now:       time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) UpsertExpenseByExternalID(_ context.Context, e core.Expense) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for i := range s.expenses {
		cur := &s.expenses[i]
		if e.ExternalTransactionID == "" || cur.ExternalTransactionID != e.ExternalTransactionID {
			continue
		}
		cur.Date = e.Date
		cur.Vendor = e.Vendor
		cur.Description = e.Description
		cur.Amount = e.Amount
		cur.UpdatedAt = now
		return cur.ID, nil
	}
	e.ID = uuid.NewString()
	e.CreatedAt, e.UpdatedAt = now, now
	s.expenses = append(s.expenses, e)
	return e.ID, nil
}

func (s *Store) DeleteExpensesByExternalID(_ context.Context, externalID string) (int64, error) {
	if externalID == "" {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.expenses)
	s.expenses = slices.DeleteFunc(s.expenses, func(e core.Expense) bool {
		return e.ExternalTransactionID == externalID
	})
	return int64(before - len(s.expenses)), nil
}

func (s *Store) HasRecurringOccurrence(_ context.Context, recurringID string, date core.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasOccurrence(recurringID, date), nil
}

func (s *Store) hasOccurrence(recurringID string, date core.Date) bool {
	for _, e := range s.expenses {
		if e.RecurringExpenseID == recurringID && e.Date == date {
			return true
		}
	}
	return false
}

func (s *Store) CreateRecurringOccurrence(_ context.Context, e core.Expense) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasOccurrence(e.RecurringExpenseID, e.Date) {
		return false, nil
	}
	now := s.now()
	e.ID = uuid.NewString()
	e.CreatedAt, e.UpdatedAt = now, now
	s.expenses = append(s.expenses, e)
	return true, nil
}

// ListExpenses returns the user's expenses ordered by date, newest first.
func (s *Store) ListExpenses(_ context.Context, userID string) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Expense
	for _, e := range s.expenses {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (s *Store) CreateItem(_ context.Context, item core.LinkedItem, accounts []core.LinkedAccount) (core.LinkedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.ExternalItemID == item.ExternalItemID {
			return core.LinkedItem{}, ledger.ErrDuplicate
		}
	}
	item.ID = uuid.NewString()
	item.CreatedAt = s.now()
	stored := make([]core.LinkedAccount, 0, len(accounts))
	for _, a := range accounts {
		a.ID = s.takeAccount(a.ExternalAccountID)
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.ItemID = item.ID
		stored = append(stored, a)
	}
	item.Accounts = nil
	s.items[item.ID] = item
	s.accounts[item.ID] = stored
	return s.withAccounts(item), nil
}

// takeAccount detaches the account linked under externalID from its current
// item and returns its id, or "" when none is linked.
func (s *Store) takeAccount(externalID string) string {
	for itemID, accounts := range s.accounts {
		for i, a := range accounts {
			if a.ExternalAccountID == externalID {
				s.accounts[itemID] = append(accounts[:i:i], accounts[i+1:]...)
				return a.ID
			}
		}
	}
	return ""
}

func (s *Store) withAccounts(item core.LinkedItem) core.LinkedItem {
	item.Accounts = append([]core.LinkedAccount{}, s.accounts[item.ID]...)
	return item
}

func (s *Store) GetItem(_ context.Context, id string) (core.LinkedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return core.LinkedItem{}, ledger.ErrNotFound
	}
	return s.withAccounts(item), nil
}

func (s *Store) GetItemByExternalID(_ context.Context, externalItemID string) (core.LinkedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ExternalItemID == externalItemID {
			return s.withAccounts(item), nil
		}
	}
	return core.LinkedItem{}, ledger.ErrNotFound
}

func (s *Store) ListItems(_ context.Context, userID string) ([]core.LinkedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LinkedItem
	for _, item := range s.items {
		if item.UserID == userID {
			out = append(out, s.withAccounts(item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateItemCursor(_ context.Context, id, prev, next string, syncedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false, ledger.ErrNotFound
	}
	if item.Cursor != prev {
		return false, nil
	}
	item.Cursor = next
	synced := syncedAt
	item.LastSyncedAt = &synced
	s.items[id] = item
	return true, nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.items, id)
	delete(s.accounts, id)
	return nil
}

func (s *Store) CreateRecurring(_ context.Context, r core.RecurringExpense) (core.RecurringExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	r.ID = uuid.NewString()
	r.CreatedAt, r.UpdatedAt = now, now
	s.recurring[r.ID] = r
	return r, nil
}

func (s *Store) GetRecurring(_ context.Context, id string) (core.RecurringExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recurring[id]
	if !ok {
		return core.RecurringExpense{}, ledger.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListRecurring(_ context.Context, userID string, activeOnly bool) ([]core.RecurringExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterRecurring(func(r core.RecurringExpense) bool {
		return r.UserID == userID && (!activeOnly || r.Active)
	}), nil
}

func (s *Store) filterRecurring(keep func(core.RecurringExpense) bool) []core.RecurringExpense {
	var out []core.RecurringExpense
	for _, r := range s.recurring {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].NextDueDate.Compare(out[j].NextDueDate); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) UpdateRecurring(_ context.Context, r core.RecurringExpense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.recurring[r.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	r.UserID = cur.UserID
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = s.now()
	s.recurring[r.ID] = r
	return nil
}

// DeleteRecurring unlinks materialized expenses from the template before removing it.
func (s *Store) DeleteRecurring(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recurring[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.recurring, id)
	for i := range s.expenses {
		if s.expenses[i].RecurringExpenseID == id {
			s.expenses[i].RecurringExpenseID = ""
		}
	}
	return nil
}

func (s *Store) ListDueRecurring(_ context.Context, userID string, today core.Date) ([]core.RecurringExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterRecurring(func(r core.RecurringExpense) bool {
		return r.UserID == userID && r.Active &&
			!r.NextDueDate.After(today) &&
			(r.EndDate.IsZero() || !r.EndDate.Before(today))
	}), nil
}

func (s *Store) AdvanceRecurring(_ context.Context, id string, prev, next core.Date, active bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recurring[id]
	if !ok {
		return false, ledger.ErrNotFound
	}
	if r.NextDueDate != prev {
		return false, nil
	}
	r.NextDueDate = next
	r.Active = active
	r.UpdatedAt = s.now()
	s.recurring[id] = r
	return true, nil
}

func (s *Store) ListRecurringOwners(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, r := range s.recurring {
		if _, ok := seen[r.UserID]; ok || !r.Active {
			continue
		}
		seen[r.UserID] = struct{}{}
		out = append(out, r.UserID)
	}
	sort.Strings(out)
	return out, nil
}
