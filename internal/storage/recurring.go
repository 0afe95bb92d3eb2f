package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"bizxpense/internal/core"
	"bizxpense/internal/ledger"
)

const recurringColumns = `id, user_id, vendor, description, amount_cents, category_id,
	payment_method, notes, tags, frequency, day_of_month, start_date, end_date,
	next_due_date, active, created_at, updated_at`

func (r *SQLiteRepository) CreateRecurring(ctx context.Context, re core.RecurringExpense) (core.RecurringExpense, error) {
	now := r.now().UTC()
	re.ID = uuid.NewString()
	re.CreatedAt, re.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_expenses (`+recurringColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		re.ID, re.UserID, re.Vendor, nullString(re.Description), re.Amount, nullString(re.CategoryID),
		nullString(re.PaymentMethod), nullString(re.Notes), nullString(re.Tags), string(re.Frequency),
		re.DayOfMonth, re.StartDate, re.EndDate, re.NextDueDate, boolToInt(re.Active),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return core.RecurringExpense{}, fmt.Errorf("insert recurring expense: %w", err)
	}
	return re, nil
}

func (r *SQLiteRepository) GetRecurring(ctx context.Context, id string) (core.RecurringExpense, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recurringColumns+` FROM recurring_expenses WHERE id = ?`, id)
	re, err := scanRecurring(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringExpense{}, ledger.ErrNotFound
	}
	return re, err
}

func (r *SQLiteRepository) ListRecurring(ctx context.Context, userID string, activeOnly bool) ([]core.RecurringExpense, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_expenses WHERE user_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	return r.queryRecurring(ctx, query+` ORDER BY next_due_date, id`, userID)
}

func (r *SQLiteRepository) ListDueRecurring(ctx context.Context, userID string, today core.Date) ([]core.RecurringExpense, error) {
	return r.queryRecurring(ctx, `
		SELECT `+recurringColumns+` FROM recurring_expenses
		WHERE user_id = ? AND active = 1 AND next_due_date <= ?
		  AND (end_date IS NULL OR end_date >= ?)
		ORDER BY next_due_date, id`,
		userID, today, today,
	)
}

func (r *SQLiteRepository) queryRecurring(ctx context.Context, query string, args ...any) ([]core.RecurringExpense, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recurring expenses: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringExpense
	for rows.Next() {
		re, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateRecurring(ctx context.Context, re core.RecurringExpense) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_expenses SET
			vendor = ?, description = ?, amount_cents = ?, category_id = ?, payment_method = ?,
			notes = ?, tags = ?, frequency = ?, day_of_month = ?, start_date = ?, end_date = ?,
			next_due_date = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		re.Vendor, nullString(re.Description), re.Amount, nullString(re.CategoryID), nullString(re.PaymentMethod),
		nullString(re.Notes), nullString(re.Tags), string(re.Frequency), re.DayOfMonth, re.StartDate, re.EndDate,
		re.NextDueDate, boolToInt(re.Active), formatTime(r.now()),
		re.ID,
	)
	if err != nil {
		return fmt.Errorf("update recurring expense %s: %w", re.ID, err)
	}
	return expectOneRow(res)
}

func (r *SQLiteRepository) DeleteRecurring(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recurring_expenses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recurring expense %s: %w", id, err)
	}
	return expectOneRow(res)
}

func (r *SQLiteRepository) AdvanceRecurring(ctx context.Context, id string, prev, next core.Date, active bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_expenses SET next_due_date = ?, active = ?, updated_at = ?
		WHERE id = ? AND next_due_date = ?`,
		next, boolToInt(active), formatTime(r.now()), id, prev,
	)
	if err != nil {
		return false, fmt.Errorf("advance recurring expense %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := r.GetRecurring(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

func (r *SQLiteRepository) ListRecurringOwners(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM recurring_expenses WHERE active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list recurring owners: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func scanRecurring(s scanner) (core.RecurringExpense, error) {
	var (
		re                         core.RecurringExpense
		desc, cat, pm, notes, tags sql.NullString
		freq                       string
		active                     int
		created, updated           string
	)
	err := s.Scan(&re.ID, &re.UserID, &re.Vendor, &desc, &re.Amount, &cat,
		&pm, &notes, &tags, &freq, &re.DayOfMonth, &re.StartDate, &re.EndDate,
		&re.NextDueDate, &active, &created, &updated)
	if err != nil {
		return core.RecurringExpense{}, err
	}
	re.Description = desc.String
	re.CategoryID = cat.String
	re.PaymentMethod = pm.String
	re.Notes = notes.String
	re.Tags = tags.String
	re.Frequency = core.Frequency(freq)
	re.Active = active == 1
	re.CreatedAt = parseTime(created)
	re.UpdatedAt = parseTime(updated)
	return re, nil
}
