// Package plaid adapts the Plaid API to aggregator.Client.
package plaid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	plaidsdk "github.com/plaid/plaid-go/v29/plaid"
	"github.com/shopspring/decimal"

	"bizxpense/internal/aggregator"
	"bizxpense/internal/core"
)

const defaultClientName = "BizExpenseTracker"

type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox | production
	WebhookURL  string
	ClientName  string
	// BaseURL overrides the environment host.
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	api        *plaidsdk.APIClient
	webhookURL string
	clientName string
}

var _ aggregator.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, errors.New("plaid client id and secret are required")
	}
	if cfg.ClientName == "" {
		cfg.ClientName = defaultClientName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	conf := plaidsdk.NewConfiguration()
	conf.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	conf.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	conf.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	if cfg.BaseURL != "" {
		conf.UseEnvironment(plaidsdk.Environment(cfg.BaseURL))
	} else {
		conf.UseEnvironment(environment(cfg.Environment))
	}

	return &Client{
		api:        plaidsdk.NewAPIClient(conf),
		webhookURL: cfg.WebhookURL,
		clientName: cfg.ClientName,
	}, nil
}

func environment(name string) plaidsdk.Environment {
	if strings.EqualFold(name, "production") {
		return plaidsdk.Production
	}
	return plaidsdk.Sandbox
}

func (c *Client) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	user := plaidsdk.LinkTokenCreateRequestUser{ClientUserId: userID}
	req := plaidsdk.NewLinkTokenCreateRequest(c.clientName, "en", []plaidsdk.CountryCode{plaidsdk.COUNTRYCODE_US}, user)
	req.SetProducts([]plaidsdk.Products{plaidsdk.PRODUCTS_TRANSACTIONS})
	if c.webhookURL != "" {
		req.SetWebhook(c.webhookURL)
	}

	resp, httpResp, err := c.api.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*req).Execute()
	if err != nil {
		return "", wrapError("link token create", httpResp, err)
	}
	return resp.GetLinkToken(), nil
}

func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	req := plaidsdk.NewItemPublicTokenExchangeRequest(publicToken)
	resp, httpResp, err := c.api.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*req).Execute()
	if err != nil {
		return "", "", wrapError("public token exchange", httpResp, err)
	}
	return resp.GetAccessToken(), resp.GetItemId(), nil
}

func (c *Client) ListAccounts(ctx context.Context, accessToken string) ([]aggregator.Account, error) {
	req := plaidsdk.NewAccountsGetRequest(accessToken)
	resp, httpResp, err := c.api.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*req).Execute()
	if err != nil {
		return nil, wrapError("accounts get", httpResp, err)
	}
	accounts := make([]aggregator.Account, 0, len(resp.GetAccounts()))
	for _, a := range resp.GetAccounts() {
		accounts = append(accounts, aggregator.Account{
			ID:           a.GetAccountId(),
			Name:         a.GetName(),
			OfficialName: a.GetOfficialName(),
			Type:         string(a.GetType()),
			Subtype:      string(a.GetSubtype()),
			Mask:         a.GetMask(),
		})
	}
	return accounts, nil
}

func (c *Client) FetchTransactionPage(ctx context.Context, accessToken, cursor string) (aggregator.TransactionPage, error) {
	req := plaidsdk.NewTransactionsSyncRequest(accessToken)
	if cursor != "" {
		req.SetCursor(cursor)
	}
	resp, httpResp, err := c.api.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(*req).Execute()
	if err != nil {
		return aggregator.TransactionPage{}, wrapError("transactions sync", httpResp, err)
	}

	page := aggregator.TransactionPage{
		NextCursor: resp.GetNextCursor(),
		HasMore:    resp.GetHasMore(),
	}
	if page.Added, err = convertTransactions(resp.GetAdded()); err != nil {
		return aggregator.TransactionPage{}, err
	}
	if page.Modified, err = convertTransactions(resp.GetModified()); err != nil {
		return aggregator.TransactionPage{}, err
	}
	for _, r := range resp.GetRemoved() {
		page.Removed = append(page.Removed, r.GetTransactionId())
	}
	return page, nil
}

func convertTransactions(in []plaidsdk.Transaction) ([]aggregator.Transaction, error) {
	out := make([]aggregator.Transaction, 0, len(in))
	for _, t := range in {
		date, err := core.ParseDate(t.GetDate())
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.GetTransactionId(), err)
		}
		out = append(out, aggregator.Transaction{
			ID:           t.GetTransactionId(),
			AccountID:    t.GetAccountId(),
			Date:         date,
			Name:         t.GetName(),
			MerchantName: t.GetMerchantName(),
			Amount:       decimal.NewFromFloat(t.GetAmount()),
			Pending:      t.GetPending(),
		})
	}
	return out, nil
}

func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	req := plaidsdk.NewItemRemoveRequest(accessToken)
	_, httpResp, err := c.api.PlaidApi.ItemRemove(ctx).ItemRemoveRequest(*req).Execute()
	if err != nil {
		return wrapError("item remove", httpResp, err)
	}
	return nil
}

// wrapError keeps only Plaid's error code and type; the response body can echo request fields.
func wrapError(op string, httpResp *http.Response, err error) error {
	aggErr := &aggregator.Error{Op: op, Code: "UNKNOWN", Err: err}
	if httpResp != nil {
		aggErr.Status = httpResp.StatusCode
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		aggErr.Code = "CANCELED"
		return aggErr
	}
	if perr, convErr := plaidsdk.ToPlaidError(err); convErr == nil && perr.ErrorCode != "" {
		aggErr.Code = perr.ErrorCode
		aggErr.Type = string(perr.ErrorType)
	}
	return aggErr
}
