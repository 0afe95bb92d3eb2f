package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"bizxpense/internal/core"
)

const expenseColumns = `id, user_id, date, vendor, description, amount_cents, category_id,
	payment_method, notes, tags, receipt_path, external_transaction_id,
	recurring_expense_id, created_at, updated_at`

func (r *SQLiteRepository) UpsertExpenseByExternalID(ctx context.Context, e core.Expense) (string, error) {
	now := formatTime(r.now())
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_transaction_id) DO UPDATE SET
			date = excluded.date,
			vendor = excluded.vendor,
			description = excluded.description,
			amount_cents = excluded.amount_cents,
			updated_at = excluded.updated_at
		RETURNING id`,
		uuid.NewString(), e.UserID, e.Date, e.Vendor, nullString(e.Description), e.Amount,
		nullString(e.CategoryID), nullString(e.PaymentMethod), nullString(e.Notes), nullString(e.Tags),
		nullString(e.ReceiptPath), nullString(e.ExternalTransactionID), nullString(e.RecurringExpenseID),
		now, now,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert expense %s: %w", e.ExternalTransactionID, err)
	}
	return id, nil
}

func (r *SQLiteRepository) DeleteExpensesByExternalID(ctx context.Context, externalID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE external_transaction_id = ?`, externalID)
	if err != nil {
		return 0, fmt.Errorf("delete expenses for %s: %w", externalID, err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) HasRecurringOccurrence(ctx context.Context, recurringID string, date core.Date) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM expenses WHERE recurring_expense_id = ? AND date = ?)`,
		recurringID, date,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check occurrence %s@%s: %w", recurringID, date, err)
	}
	return exists == 1, nil
}

func (r *SQLiteRepository) CreateRecurringOccurrence(ctx context.Context, e core.Expense) (bool, error) {
	now := formatTime(r.now())
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(recurring_expense_id, date) DO NOTHING`,
		uuid.NewString(), e.UserID, e.Date, e.Vendor, nullString(e.Description), e.Amount,
		nullString(e.CategoryID), nullString(e.PaymentMethod), nullString(e.Notes), nullString(e.Tags),
		nullString(e.ReceiptPath), nil, e.RecurringExpenseID,
		now, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert occurrence %s@%s: %w", e.RecurringExpenseID, e.Date, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE user_id = ? ORDER BY date DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExpense(s scanner) (core.Expense, error) {
	var (
		e                                   core.Expense
		desc, cat, pm, notes, tags, receipt sql.NullString
		extID, recID                        sql.NullString
		created, updated                    string
	)
	err := s.Scan(&e.ID, &e.UserID, &e.Date, &e.Vendor, &desc, &e.Amount, &cat,
		&pm, &notes, &tags, &receipt, &extID, &recID, &created, &updated)
	if err != nil {
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}
	e.Description = desc.String
	e.CategoryID = cat.String
	e.PaymentMethod = pm.String
	e.Notes = notes.String
	e.Tags = tags.String
	e.ReceiptPath = receipt.String
	e.ExternalTransactionID = extID.String
	e.RecurringExpenseID = recID.String
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	return e, nil
}
