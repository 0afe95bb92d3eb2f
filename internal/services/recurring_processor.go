package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"bizxpense/internal/core"
	"bizxpense/internal/ledger"
	applog "bizxpense/internal/log"
)

// MaxCatchUpPeriods bounds how many missed periods one template may backfill in a pass.
const MaxCatchUpPeriods = 500

// ErrCatchUpOverflow means a template's next-due date lies implausibly far in the past.
var ErrCatchUpOverflow = errors.New("recurring catch-up exceeds period bound")

// ProcessResult counts selected templates and materialized expenses. Failed
// lists the templates whose pass returned an error.
type ProcessResult struct {
	Processed int      `json:"processed"`
	Generated int      `json:"generated"`
	Failed    []string `json:"failures,omitempty"`
}

func (r *ProcessResult) add(o ProcessResult) {
	r.Processed += o.Processed
	r.Generated += o.Generated
	r.Failed = append(r.Failed, o.Failed...)
}

// RecurringProcessor materializes expenses from due recurring templates
type RecurringProcessor struct {
	templates ledger.RecurringStore
	expenses  ledger.ExpenseStore
	location  *time.Location
	group     singleflight.Group
}

// NewRecurringProcessor creates a processor; loc decides which calendar day "now" falls on.
func NewRecurringProcessor(templates ledger.RecurringStore, expenses ledger.ExpenseStore, loc *time.Location) *RecurringProcessor {
	if loc == nil {
		loc = time.Local
	}
	return &RecurringProcessor{templates: templates, expenses: expenses, location: loc}
}

// Location returns the zone used to derive today's date.
func (p *RecurringProcessor) Location() *time.Location {
	return p.location
}

// ProcessDue backfills every due template of userID up to today. Concurrent
// calls for the same user and day share one execution. A cancelled caller
// stops waiting, but the shared pass runs to completion for the others.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, userID string, now time.Time) (ProcessResult, error) {
	key := userID + "|" + core.DateOf(now, p.location).String()
	shared := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (any, error) {
		return p.processDue(shared, userID, now)
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(ProcessResult)
		return res, r.Err
	case <-ctx.Done():
		return ProcessResult{}, ctx.Err()
	}
}

func (p *RecurringProcessor) processDue(ctx context.Context, userID string, now time.Time) (ProcessResult, error) {
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentRecurring)
	today := core.DateOf(now, p.location)

	due, err := p.templates.ListDueRecurring(ctx, userID, today)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("list due recurring expenses: %w", err)
	}

	logger.InfoContext(ctx, "Processing recurring expenses",
		applog.FieldUserID, userID,
		"due", len(due),
		"today", today.String())

	result := ProcessResult{Processed: len(due)}
	var errs error
	for _, re := range due {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		generated, err := p.processTemplate(ctx, re, today)
		result.Generated += generated
		if err != nil {
			logger.ErrorContext(ctx, "Failed to process recurring expense",
				applog.FieldRecurringID, re.ID,
				applog.FieldDueDate, re.NextDueDate.String(),
				applog.FieldError, err)
			result.Failed = append(result.Failed, re.ID)
			errs = multierr.Append(errs, fmt.Errorf("recurring expense %s: %w", re.ID, err))
		}
	}

	logger.InfoContext(ctx, "Recurring expense processing complete",
		applog.FieldUserID, userID,
		applog.FieldProcessed, result.Processed,
		applog.FieldGenerated, result.Generated,
		"failed", len(multierr.Errors(errs)))

	return result, errs
}

// processTemplate creates the missing occurrences of re up to today, then
// moves its next-due date past today. A failed insert returns before the
// template is advanced so the next pass resumes from the same date.
func (p *RecurringProcessor) processTemplate(ctx context.Context, re core.RecurringExpense, today core.Date) (int, error) {
	occurrences, next, err := catchUp(re, today)
	if err != nil {
		return 0, err
	}

	generated := 0
	for _, date := range occurrences {
		exists, err := p.expenses.HasRecurringOccurrence(ctx, re.ID, date)
		if err != nil {
			return generated, fmt.Errorf("check occurrence %s: %w", date, err)
		}
		if exists {
			continue
		}
		created, err := p.expenses.CreateRecurringOccurrence(ctx, occurrenceExpense(re, date))
		if err != nil {
			return generated, fmt.Errorf("create occurrence %s: %w", date, err)
		}
		if created {
			generated++
		}
	}

	active := re.EndDate.IsZero() || !next.After(re.EndDate)
	swapped, err := p.templates.AdvanceRecurring(ctx, re.ID, re.NextDueDate, next, active)
	if err != nil {
		return generated, fmt.Errorf("advance next due date: %w", err)
	}
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentRecurring)
	if !swapped {
		logger.WarnContext(ctx, "Recurring expense advanced concurrently, keeping stored next due date",
			applog.FieldRecurringID, re.ID)
		return generated, nil
	}
	if !active {
		logger.InfoContext(ctx, "Recurring expense reached its end date and was deactivated",
			applog.FieldRecurringID, re.ID,
			"end_date", re.EndDate.String())
	}
	return generated, nil
}

// catchUp lists the occurrences from re's next-due date through today and
// returns the first occurrence after today.
func catchUp(re core.RecurringExpense, today core.Date) ([]core.Date, core.Date, error) {
	var occurrences []core.Date
	due := re.NextDueDate
	for !due.After(today) {
		if len(occurrences) == MaxCatchUpPeriods {
			return nil, core.Date{}, fmt.Errorf("%w: next due %s", ErrCatchUpOverflow, re.NextDueDate)
		}
		occurrences = append(occurrences, due)
		due = NextOccurrence(due, re.Frequency, re.DayOfMonth)
	}
	return occurrences, due, nil
}

func occurrenceExpense(re core.RecurringExpense, date core.Date) core.Expense {
	description := "Recurring payment - " + re.Vendor
	if re.Description != "" {
		description = re.Description + " (recurring)"
	}
	return core.Expense{
		UserID:             re.UserID,
		Date:               date,
		Vendor:             re.Vendor,
		Description:        description,
		Amount:             re.Amount,
		CategoryID:         re.CategoryID,
		PaymentMethod:      re.PaymentMethod,
		Notes:              re.Notes,
		Tags:               re.Tags,
		RecurringExpenseID: re.ID,
	}
}

// ProcessAllDue runs ProcessDue for every user owning an active template.
func (p *RecurringProcessor) ProcessAllDue(ctx context.Context, now time.Time) (ProcessResult, error) {
	owners, err := p.templates.ListRecurringOwners(ctx)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("list recurring owners: %w", err)
	}

	var (
		total ProcessResult
		errs  error
	)
	for _, userID := range owners {
		if err := ctx.Err(); err != nil {
			return total, multierr.Append(errs, err)
		}
		res, err := p.ProcessDue(ctx, userID, now)
		total.add(res)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("user %s: %w", userID, err))
		}
	}
	return total, errs
}
