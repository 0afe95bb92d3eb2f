// Package aggregator defines the financial-data aggregator contract used by
// the sync engine and the linked account service.
package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bizxpense/internal/core"
)

type (
	// Transaction is one posted or pending card/bank transaction. Amount is
	// signed as reported upstream (positive = money out).
	Transaction struct {
		ID           string
		AccountID    string
		Date         core.Date
		Name         string
		MerchantName string
		Amount       decimal.Decimal
		Pending      bool
	}

	// TransactionPage is one delta page of an incremental sync.
	TransactionPage struct {
		Added      []Transaction
		Modified   []Transaction
		Removed    []string
		NextCursor string
		HasMore    bool
	}

	Account struct {
		ID           string
		Name         string
		OfficialName string
		Type         string
		Subtype      string
		Mask         string
	}

	Client interface {
		CreateLinkToken(ctx context.Context, userID string) (string, error)
		ExchangePublicToken(ctx context.Context, publicToken string) (accessToken, itemID string, err error)
		ListAccounts(ctx context.Context, accessToken string) ([]Account, error)
		// FetchTransactionPage returns the deltas after cursor; an empty cursor starts from the beginning.
		FetchTransactionPage(ctx context.Context, accessToken, cursor string) (TransactionPage, error)
		RemoveItem(ctx context.Context, accessToken string) error
	}
)

// Vendor is the merchant name, falling back to the raw transaction name.
func (t Transaction) Vendor() string {
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.Name
}

// Error is an upstream failure reduced to fields that are safe to log and
// show: never the raw response body or credentials.
type Error struct {
	Op     string
	Code   string
	Type   string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("aggregator %s failed: %s (status %d)", e.Op, e.Code, e.Status)
	}
	return fmt.Sprintf("aggregator %s failed: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Item-level error codes that require the user to re-authenticate.
var reauthCodes = map[string]struct{}{
	"ITEM_LOGIN_REQUIRED":     {},
	"PENDING_EXPIRATION":      {},
	"ACCESS_NOT_GRANTED":      {},
	"INVALID_ACCESS_TOKEN":    {},
	"ITEM_NOT_FOUND":          {},
	"USER_PERMISSION_REVOKED": {},
}

// NeedsReauth reports whether err means the item's credential is no longer usable.
func NeedsReauth(err error) bool {
	var aggErr *Error
	if !errors.As(err, &aggErr) {
		return false
	}
	_, ok := reauthCodes[aggErr.Code]
	return ok
}
