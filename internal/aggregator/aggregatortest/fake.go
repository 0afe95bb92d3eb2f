// Package aggregatortest provides a scripted aggregator.Client for tests.
package aggregatortest

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"bizxpense/internal/aggregator"
	"bizxpense/internal/core"
)

// Fake serves scripted delta pages keyed by access token and cursor. A
// cursor with no scripted page returns an empty page that keeps the cursor.
type Fake struct {
	mu       sync.Mutex
	pages    map[string]map[string]aggregator.TransactionPage
	fail     map[string]error // "token|cursor" or "token"
	requests []string
	removed  []string

	LinkToken   string
	AccessToken string
	ItemID      string
	Accounts    []aggregator.Account
	LinkErr     error
	ExchangeErr error
	RemoveErr   error
}

func New() *Fake {
	return &Fake{
		pages: map[string]map[string]aggregator.TransactionPage{},
		fail:  map[string]error{},
	}
}

func (f *Fake) AddPage(token, cursor string, page aggregator.TransactionPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pages[token] == nil {
		f.pages[token] = map[string]aggregator.TransactionPage{}
	}
	f.pages[token][cursor] = page
}

// FailWith makes fetches for key ("token" or "token|cursor") return err.
func (f *Fake) FailWith(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[key] = err
}

// Requested lists fetches as "token|cursor" in call order.
func (f *Fake) Requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// Removed lists the access tokens passed to RemoveItem.
func (f *Fake) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func (f *Fake) FetchTransactionPage(_ context.Context, token, cursor string) (aggregator.TransactionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, token+"|"+cursor)
	if err := f.fail[token]; err != nil {
		return aggregator.TransactionPage{}, err
	}
	if err := f.fail[token+"|"+cursor]; err != nil {
		return aggregator.TransactionPage{}, err
	}
	if page, ok := f.pages[token][cursor]; ok {
		return page, nil
	}
	return aggregator.TransactionPage{NextCursor: cursor}, nil
}

func (f *Fake) CreateLinkToken(context.Context, string) (string, error) {
	return f.LinkToken, f.LinkErr
}

func (f *Fake) ExchangePublicToken(context.Context, string) (string, string, error) {
	if f.ExchangeErr != nil {
		return "", "", f.ExchangeErr
	}
	return f.AccessToken, f.ItemID, nil
}

func (f *Fake) ListAccounts(context.Context, string) ([]aggregator.Account, error) {
	return f.Accounts, nil
}

func (f *Fake) RemoveItem(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, token)
	return f.RemoveErr
}

// Txn builds a transaction with a decimal amount given as text.
func Txn(id string, date core.Date, name, merchant, amount string, pending bool) aggregator.Transaction {
	return aggregator.Transaction{
		ID:           id,
		Date:         date,
		Name:         name,
		MerchantName: merchant,
		Amount:       decimal.RequireFromString(amount),
		Pending:      pending,
	}
}

var _ aggregator.Client = (*Fake)(nil)
