package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bizxpense/internal/aggregator"
	"bizxpense/internal/core"
	"bizxpense/internal/ledger"
	applog "bizxpense/internal/log"
)

// Institution identifies the bank chosen in the link flow.
type Institution struct {
	ID   string `json:"institution_id"`
	Name string `json:"name"`
}

// LinkResult describes a newly linked item.
type LinkResult struct {
	ItemID          string `json:"itemId"`
	InstitutionName string `json:"institutionName"`
	AccountCount    int    `json:"accountCount"`
}

// AccountService manages the user's linked institutions.
type AccountService struct {
	items  ledger.ItemStore
	client aggregator.Client
}

func NewAccountService(items ledger.ItemStore, client aggregator.Client) *AccountService {
	return &AccountService{items: items, client: client}
}

func (s *AccountService) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	token, err := s.client.CreateLinkToken(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("create link token: %w", err)
	}
	return token, nil
}

// ExchangePublicToken trades the link flow's public token for a stored item and its accounts.
func (s *AccountService) ExchangePublicToken(ctx context.Context, userID, publicToken string, inst Institution) (LinkResult, error) {
	if strings.TrimSpace(publicToken) == "" {
		return LinkResult{}, core.ErrMissingPublicToken
	}

	accessToken, externalItemID, err := s.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return LinkResult{}, fmt.Errorf("exchange public token: %w", err)
	}
	accounts, err := s.client.ListAccounts(ctx, accessToken)
	if err != nil {
		return LinkResult{}, fmt.Errorf("list accounts: %w", err)
	}

	linked := make([]core.LinkedAccount, 0, len(accounts))
	for _, a := range accounts {
		linked = append(linked, core.LinkedAccount{
			ExternalAccountID: a.ID,
			Name:              a.Name,
			OfficialName:      a.OfficialName,
			Type:              a.Type,
			Subtype:           a.Subtype,
			Mask:              a.Mask,
		})
	}

	item, err := s.items.CreateItem(ctx, core.LinkedItem{
		UserID:          userID,
		ExternalItemID:  externalItemID,
		InstitutionID:   inst.ID,
		InstitutionName: inst.Name,
		AccessToken:     accessToken,
	}, linked)
	if err != nil {
		return LinkResult{}, fmt.Errorf("store linked item: %w", err)
	}

	applog.FromContext(ctx).WithComponent(applog.ComponentAccounts).InfoContext(ctx, "Institution linked",
		applog.FieldUserID, userID,
		applog.FieldItemID, item.ID,
		applog.FieldInstitution, inst.Name,
		"accounts", len(item.Accounts))

	return LinkResult{ItemID: item.ID, InstitutionName: item.InstitutionName, AccountCount: len(item.Accounts)}, nil
}

// ListItems returns the user's items, newest first, without credentials.
func (s *AccountService) ListItems(ctx context.Context, userID string) ([]core.LinkedItem, error) {
	items, err := s.items.ListItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	for i := range items {
		items[i].AccessToken = ""
		items[i].Cursor = ""
		if items[i].Accounts == nil {
			items[i].Accounts = []core.LinkedAccount{}
		}
	}
	return items, nil
}

// Disconnect revokes the item upstream when possible and deletes it locally.
// Expenses already imported from it are kept.
func (s *AccountService) Disconnect(ctx context.Context, userID, itemID string) error {
	item, err := s.items.GetItem(ctx, itemID)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && item.UserID != userID) {
		return ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("load item %s: %w", itemID, err)
	}

	logger := applog.FromContext(ctx).WithComponent(applog.ComponentAccounts)
	if err := s.client.RemoveItem(ctx, item.AccessToken); err != nil {
		logger.WarnContext(ctx, "Failed to remove item upstream, deleting locally",
			applog.FieldItemID, item.ID,
			applog.FieldError, err)
	}

	if err := s.items.DeleteItem(ctx, item.ID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrItemNotFound
		}
		return fmt.Errorf("delete item %s: %w", item.ID, err)
	}
	logger.InfoContext(ctx, "Institution disconnected", applog.FieldItemID, item.ID)
	return nil
}
