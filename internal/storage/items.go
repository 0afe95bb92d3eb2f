package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bizxpense/internal/core"
	"bizxpense/internal/ledger"
)

const itemColumns = `id, user_id, external_item_id, institution_id, institution_name,
	access_token, cursor, last_synced_at, created_at`

func (r *SQLiteRepository) CreateItem(ctx context.Context, item core.LinkedItem, accounts []core.LinkedAccount) (core.LinkedItem, error) {
	item.ID = uuid.NewString()
	item.CreatedAt = r.now().UTC()
	item.Accounts = make([]core.LinkedAccount, 0, len(accounts))

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM linked_items WHERE external_item_id = ?)`, item.ExternalItemID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check item: %w", err)
		}
		if exists == 1 {
			return ledger.ErrDuplicate
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO linked_items (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, ?)`,
			item.ID, item.UserID, item.ExternalItemID, nullString(item.InstitutionID),
			nullString(item.InstitutionName), item.AccessToken, formatTime(item.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}

		for _, a := range accounts {
			a.ID = uuid.NewString()
			a.ItemID = item.ID
			// Re-linking the same account moves it to the new item and keeps its id
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO linked_accounts (id, item_id, external_account_id, name, official_name, type, subtype, mask)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(external_account_id) DO UPDATE SET
					item_id = excluded.item_id,
					name = excluded.name,
					official_name = excluded.official_name,
					type = excluded.type,
					subtype = excluded.subtype,
					mask = excluded.mask
				RETURNING id`,
				a.ID, a.ItemID, a.ExternalAccountID, a.Name, nullString(a.OfficialName),
				a.Type, nullString(a.Subtype), nullString(a.Mask),
			).Scan(&a.ID); err != nil {
				return fmt.Errorf("insert account %s: %w", a.ExternalAccountID, err)
			}
			item.Accounts = append(item.Accounts, a)
		}
		return nil
	})
	if err != nil {
		return core.LinkedItem{}, err
	}
	return item, nil
}

func (r *SQLiteRepository) GetItem(ctx context.Context, id string) (core.LinkedItem, error) {
	return r.getItem(ctx, `id = ?`, id)
}

func (r *SQLiteRepository) GetItemByExternalID(ctx context.Context, externalItemID string) (core.LinkedItem, error) {
	return r.getItem(ctx, `external_item_id = ?`, externalItemID)
}

func (r *SQLiteRepository) getItem(ctx context.Context, where string, arg string) (core.LinkedItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM linked_items WHERE `+where, arg)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LinkedItem{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.LinkedItem{}, err
	}
	accounts, err := r.listAccounts(ctx, []string{item.ID})
	if err != nil {
		return core.LinkedItem{}, err
	}
	item.Accounts = accounts[item.ID]
	return item, nil
}

func (r *SQLiteRepository) ListItems(ctx context.Context, userID string) ([]core.LinkedItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM linked_items WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	var (
		items []core.LinkedItem
		ids   []string
	)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, item)
		ids = append(ids, item.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	accounts, err := r.listAccounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Accounts = accounts[items[i].ID]
	}
	return items, nil
}

func (r *SQLiteRepository) listAccounts(ctx context.Context, itemIDs []string) (map[string][]core.LinkedAccount, error) {
	out := make(map[string][]core.LinkedAccount, len(itemIDs))
	for _, id := range itemIDs {
		out[id] = []core.LinkedAccount{}
	}
	if len(itemIDs) == 0 {
		return out, nil
	}
	// One query per item keeps the SQL static; users link a handful of institutions.
	for _, id := range itemIDs {
		rows, err := r.db.QueryContext(ctx, `
			SELECT id, item_id, external_account_id, name, official_name, type, subtype, mask
			FROM linked_accounts WHERE item_id = ? ORDER BY name, id`, id)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		for rows.Next() {
			var (
				a                       core.LinkedAccount
				official, subtype, mask sql.NullString
			)
			if err := rows.Scan(&a.ID, &a.ItemID, &a.ExternalAccountID, &a.Name, &official, &a.Type, &subtype, &mask); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan account: %w", err)
			}
			a.OfficialName, a.Subtype, a.Mask = official.String, subtype.String, mask.String
			out[id] = append(out[id], a)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
	}
	return out, nil
}

func (r *SQLiteRepository) UpdateItemCursor(ctx context.Context, id, prev, next string, syncedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE linked_items SET cursor = ?, last_synced_at = ?
		WHERE id = ? AND COALESCE(cursor, '') = ?`,
		nullString(next), formatTime(syncedAt), id, prev,
	)
	if err != nil {
		return false, fmt.Errorf("update cursor for item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := r.GetItem(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

func (r *SQLiteRepository) DeleteItem(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM linked_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func scanItem(s scanner) (core.LinkedItem, error) {
	var (
		item                     core.LinkedItem
		instID, instName, cursor sql.NullString
		lastSynced               sql.NullString
		created                  string
	)
	err := s.Scan(&item.ID, &item.UserID, &item.ExternalItemID, &instID, &instName,
		&item.AccessToken, &cursor, &lastSynced, &created)
	if err != nil {
		return core.LinkedItem{}, err
	}
	item.InstitutionID = instID.String
	item.InstitutionName = instName.String
	item.Cursor = cursor.String
	if lastSynced.Valid {
		t := parseTime(lastSynced.String)
		item.LastSyncedAt = &t
	}
	item.CreatedAt = parseTime(created)
	return item, nil
}
