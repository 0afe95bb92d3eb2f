package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizxpense/internal/aggregator"
	"bizxpense/internal/aggregator/aggregatortest"
	"bizxpense/internal/core"
	"bizxpense/internal/ledger/memory"
	"bizxpense/internal/services"
)

type testEnv struct {
	srv   *Server
	store *memory.Store
	agg   *aggregatortest.Fake
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	store := memory.New()
	agg := aggregatortest.New()
	agg.LinkToken = "link-sandbox-1"
	agg.AccessToken = "access-sandbox-1"
	agg.ItemID = "ext-1"
	agg.Accounts = []aggregator.Account{{ID: "acc-1", Name: "Business Checking", Type: "depository", Mask: "1234"}}

	engine := services.NewSyncEngine(store, store, agg)
	srv := NewServer(Config{Addr: ":0", RateLimitPerMinute: rateLimit}, Services{
		Store:     store,
		Sync:      engine,
		Webhooks:  services.NewWebhookReceiver(engine, nil),
		Accounts:  services.NewAccountService(store, agg),
		Recurring: services.NewRecurringService(store, time.UTC),
		Processor: services.NewRecurringProcessor(store, store, time.UTC),
	})
	srv.now = func() time.Time { return time.Date(2025, time.March, 20, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(srv.rateLimiter.Stop)
	return &testEnv{srv: srv, store: store, agg: agg}
}

func (e *testEnv) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (e *testEnv) link(t *testing.T) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/plaid/exchange-token", "u1",
		`{"public_token":"public-sandbox-1","metadata":{"institution":{"institution_id":"ins_1","name":"First Platypus Bank"}}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[map[string]any](t, rr)
	return res["itemId"].(string)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, 60)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	}
}

func TestRequiresUser(t *testing.T) {
	env := newTestEnv(t, 60)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/plaid/sync"},
		{http.MethodGet, "/api/plaid/accounts"},
		{http.MethodGet, "/api/recurring-expenses"},
		{http.MethodPost, "/api/recurring-expenses/process"},
	} {
		rr := env.do(t, tc.method, tc.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, tc.path)
		assert.Equal(t, "Unauthorized", decode[errorResponse](t, rr).Error)
	}
}

func TestLinkFlow(t *testing.T) {
	env := newTestEnv(t, 60)

	rr := env.do(t, http.MethodPost, "/api/plaid/link-token", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "link-sandbox-1", decode[map[string]string](t, rr)["link_token"])

	rr = env.do(t, http.MethodPost, "/api/plaid/exchange-token", "u1", `{"metadata":{}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/plaid/exchange-token", "u1",
		`{"public_token":"public-sandbox-1","metadata":{"institution":{"institution_id":"ins_1","name":"First Platypus Bank"}}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	res := decode[map[string]any](t, rr)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "First Platypus Bank", res["institutionName"])
	assert.Equal(t, float64(1), res["accountCount"])

	rr = env.do(t, http.MethodGet, "/api/plaid/accounts", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "access-sandbox-1")
	assert.Contains(t, rr.Body.String(), "Business Checking")

	rr = env.do(t, http.MethodGet, "/api/plaid/accounts", "u2", "")
	assert.JSONEq(t, `{"items":[]}`, rr.Body.String())

	itemID := res["itemId"].(string)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/plaid/accounts/"+itemID, "u2", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/plaid/accounts/"+itemID, "u1", "").Code)
	assert.Equal(t, []string{"access-sandbox-1"}, env.agg.Removed())
}

func TestLinkTokenFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t, 60)
	env.agg.LinkErr = &aggregator.Error{Op: "link token create", Code: "INVALID_API_KEYS", Err: errors.New("secret=shh")}

	rr := env.do(t, http.MethodPost, "/api/plaid/link-token", "u1", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "shh")
}

func TestSync(t *testing.T) {
	env := newTestEnv(t, 60)
	itemID := env.link(t)
	env.agg.AddPage("access-sandbox-1", "", aggregator.TransactionPage{
		Added: []aggregator.Transaction{
			aggregatortest.Txn("t1", core.NewDate(2025, time.March, 3), "AMZN Mktp", "Amazon", "42.10", false),
			aggregatortest.Txn("t2", core.NewDate(2025, time.March, 4), "Uber", "Uber", "12.00", true),
		},
		NextCursor: "c1",
	})

	rr := env.do(t, http.MethodPost, "/api/plaid/sync", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"synced":1,"modified":0,"removed":0}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/plaid/sync", "u1", `{"itemId":"`+itemID+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"synced":0,"modified":0,"removed":0}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/plaid/sync", "u1", `{"itemId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/plaid/sync", "u1", `{"itemId":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSyncFailures(t *testing.T) {
	env := newTestEnv(t, 60)
	env.link(t)
	env.agg.FailWith("access-sandbox-1", &aggregator.Error{Op: "transactions sync", Code: "ITEM_LOGIN_REQUIRED"})

	rr := env.do(t, http.MethodPost, "/api/plaid/sync", "u1", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Failed to sync transactions", decode[errorResponse](t, rr).Error)

	// a second, healthy item turns the response into a partial success
	env.agg.AccessToken, env.agg.ItemID = "access-sandbox-2", "ext-2"
	env.link(t)

	rr = env.do(t, http.MethodPost, "/api/plaid/sync", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[syncResponse](t, rr)
	require.Len(t, body.Failures, 1)
	assert.Equal(t, "Re-authentication required", body.Failures[0].Error)
}

func TestWebhook(t *testing.T) {
	env := newTestEnv(t, 60)
	env.link(t)
	env.agg.AddPage("access-sandbox-1", "", aggregator.TransactionPage{
		Added:      []aggregator.Transaction{aggregatortest.Txn("t1", core.NewDate(2025, time.March, 3), "Staples", "", "19.99", false)},
		NextCursor: "c1",
	})

	rr := env.do(t, http.MethodPost, webhookPath, "", `not json`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = env.do(t, http.MethodPost, webhookPath, "", `{"webhook_type":"TRANSACTIONS","webhook_code":"SYNC_UPDATES_AVAILABLE","item_id":"unknown"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, webhookPath, "", `{"webhook_type":"TRANSACTIONS","webhook_code":"SYNC_UPDATES_AVAILABLE","item_id":"ext-1"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	es, err := env.store.ListExpenses(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.Equal(t, "Staples", es[0].Vendor)
}

func TestRecurringEndpoints(t *testing.T) {
	env := newTestEnv(t, 60)

	rr := env.do(t, http.MethodPost, "/api/recurring-expenses", "u1", `{"vendor":"Adobe","amount":"54.99","startDate":"2025-01-10","endDate":"2024-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/recurring-expenses", "u1", `{"vendor":"Adobe","amount":"abc","startDate":"2025-01-10"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/recurring-expenses", "u1", `{"vendor":"Adobe","amount":54.99,"dayOfMonth":15,"startDate":"2025-01-10"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[core.RecurringExpense](t, rr)
	assert.Equal(t, core.NewDate(2025, time.April, 15), created.NextDueDate)
	assert.Equal(t, core.Monthly, created.Frequency)

	rr = env.do(t, http.MethodGet, "/api/recurring-expenses/"+created.ID, "u2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/recurring-expenses/"+created.ID, "u1", `{"vendor":"Adobe CC","amount":59.99,"isActive":false}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.False(t, decode[core.RecurringExpense](t, rr).Active)

	rr = env.do(t, http.MethodGet, "/api/recurring-expenses", "u1", "")
	assert.JSONEq(t, `[]`, rr.Body.String())
	rr = env.do(t, http.MethodGet, "/api/recurring-expenses?active=false", "u1", "")
	assert.Len(t, decode[[]core.RecurringExpense](t, rr), 1)
	rr = env.do(t, http.MethodGet, "/api/recurring-expenses?active=maybe", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/recurring-expenses/"+created.ID, "u1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/recurring-expenses/"+created.ID, "u1", "").Code)
}

func TestProcessRecurring(t *testing.T) {
	env := newTestEnv(t, 60)
	_, err := env.store.CreateRecurring(context.Background(), core.RecurringExpense{
		UserID: "u1", Vendor: "Rent", Amount: core.MoneyFromCents(150000), Frequency: core.Monthly,
		DayOfMonth: 1, StartDate: core.NewDate(2025, time.January, 1), NextDueDate: core.NewDate(2025, time.January, 1), Active: true,
	})
	require.NoError(t, err)

	rr := env.do(t, http.MethodPost, "/api/recurring-expenses/process", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"processed":1,"generated":3}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/recurring-expenses/process", "u1", "")
	assert.JSONEq(t, `{"processed":0,"generated":0}`, rr.Body.String())
}

func TestRateLimitSkipsWebhookAndReads(t *testing.T) {
	env := newTestEnv(t, 1)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/recurring-expenses/process", "u1", "").Code)
	rr := env.do(t, http.MethodPost, "/api/recurring-expenses/process", "u1", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/recurring-expenses", "u1", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, webhookPath, "", `{"webhook_type":"ITEM","webhook_code":"ERROR","item_id":"x"}`).Code)
}

// occurrenceFailStore rejects generated expenses of one template.
type occurrenceFailStore struct {
	*memory.Store
	failFor string
}

func (s *occurrenceFailStore) CreateRecurringOccurrence(ctx context.Context, e core.Expense) (bool, error) {
	if e.RecurringExpenseID == s.failFor {
		return false, errors.New("constraint violation")
	}
	return s.Store.CreateRecurringOccurrence(ctx, e)
}

func TestProcessRecurringReportsFailedTemplates(t *testing.T) {
	env := newTestEnv(t, 60)
	seed := func(vendor string) core.RecurringExpense {
		re, err := env.store.CreateRecurring(context.Background(), core.RecurringExpense{
			UserID: "u1", Vendor: vendor, Amount: core.MoneyFromCents(10000), Frequency: core.Monthly,
			DayOfMonth: 1, StartDate: core.NewDate(2025, time.January, 1), NextDueDate: core.NewDate(2025, time.January, 1), Active: true,
		})
		require.NoError(t, err)
		return re
	}
	broken := seed("Broken")
	seed("Healthy")

	store := &occurrenceFailStore{Store: env.store, failFor: broken.ID}
	env.srv.svc.Processor = services.NewRecurringProcessor(store, store, time.UTC)

	rr := env.do(t, http.MethodPost, "/api/recurring-expenses/process", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"processed":2,"generated":3,"failures":["`+broken.ID+`"]}`, rr.Body.String())
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, 2)
	env.link(t)
	env.agg.AddPage("access-sandbox-1", "", aggregator.TransactionPage{
		Added:      []aggregator.Transaction{aggregatortest.Txn("t1", core.NewDate(2025, time.March, 3), "Staples", "", "19.99", false)},
		NextCursor: "c1",
	})

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/plaid/sync", "u1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, "/api/recurring-expenses/process", "u1", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, webhookPath, "", `{"webhook_type":"TRANSACTIONS","webhook_code":"SYNC_UPDATES_AVAILABLE","item_id":"ext-1"}`).Code)
	env.do(t, http.MethodGet, "/.env", "", "")

	rr := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	for _, line := range []string{
		"# TYPE http_requests_total counter\nhttp_requests_total 6\n",
		"rate_limit_hits_total 1\n",
		"rate_limit_clients 1\n",
		"suspicious_requests_total 1\n",
		"sync_runs_total 1\n",
		"sync_item_failures_total 0\n",
		"transactions_added_total 1\n",
		"webhooks_received_total 1\n",
		"recurring_processed_total 0\n",
		"# TYPE uptime_seconds gauge\n",
	} {
		assert.Contains(t, body, line)
	}
}
