package aggregator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransactionVendor(t *testing.T) {
	assert.Equal(t, "Starbucks", Transaction{Name: "STARBUCKS 1234", MerchantName: "Starbucks"}.Vendor())
	assert.Equal(t, "ACH TRANSFER", Transaction{Name: "ACH TRANSFER"}.Vendor())
}

func TestErrorIsSafeAndUnwraps(t *testing.T) {
	raw := errors.New(`{"access_token":"access-sandbox-secret","error_code":"ITEM_LOGIN_REQUIRED"}`)
	err := fmt.Errorf("sync item: %w", &Error{Op: "transactions sync", Code: "ITEM_LOGIN_REQUIRED", Status: 400, Err: raw})

	assert.NotContains(t, err.Error(), "access-sandbox-secret")
	assert.ErrorIs(t, err, raw)
	assert.True(t, NeedsReauth(err))
	assert.False(t, NeedsReauth(&Error{Op: "x", Code: "RATE_LIMIT_EXCEEDED"}))
	assert.False(t, NeedsReauth(context.Canceled))
}
