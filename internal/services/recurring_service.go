package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bizxpense/internal/core"
	"bizxpense/internal/ledger"
	applog "bizxpense/internal/log"
)

// ErrRecurringNotFound is returned for missing templates and templates owned by another user.
var ErrRecurringNotFound = errors.New("recurring expense not found")

// RecurringInput carries user supplied template fields. Zero values take
// defaults on create and keep the stored value on update, except EndDate,
// which is cleared when empty.
type RecurringInput struct {
	Vendor        string         `json:"vendor"`
	Description   string         `json:"description"`
	Amount        core.Money     `json:"amount"`
	CategoryID    string         `json:"categoryId"`
	PaymentMethod string         `json:"paymentMethod"`
	Notes         string         `json:"notes"`
	Tags          string         `json:"tags"`
	Frequency     core.Frequency `json:"frequency"`
	DayOfMonth    int            `json:"dayOfMonth"`
	StartDate     core.Date      `json:"startDate"`
	EndDate       core.Date      `json:"endDate"`
	Active        *bool          `json:"isActive"`
}

// RecurringService manages recurring expense templates.
type RecurringService struct {
	store    ledger.RecurringStore
	location *time.Location
}

func NewRecurringService(store ledger.RecurringStore, loc *time.Location) *RecurringService {
	if loc == nil {
		loc = time.Local
	}
	return &RecurringService{store: store, location: loc}
}

func (s *RecurringService) Create(ctx context.Context, userID string, in RecurringInput, now time.Time) (core.RecurringExpense, error) {
	if in.Frequency == "" {
		in.Frequency = core.Monthly
	}
	if in.DayOfMonth == 0 {
		in.DayOfMonth = 1
	}
	re := core.RecurringExpense{
		UserID:        userID,
		Vendor:        strings.TrimSpace(in.Vendor),
		Description:   strings.TrimSpace(in.Description),
		Amount:        in.Amount,
		CategoryID:    in.CategoryID,
		PaymentMethod: in.PaymentMethod,
		Notes:         in.Notes,
		Tags:          in.Tags,
		Frequency:     in.Frequency,
		DayOfMonth:    in.DayOfMonth,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		Active:        in.Active == nil || *in.Active,
	}
	if err := re.Validate(); err != nil {
		return core.RecurringExpense{}, err
	}
	re.NextDueDate = InitialNextDue(re.StartDate, re.DayOfMonth, re.Frequency, core.DateOf(now, s.location))

	created, err := s.store.CreateRecurring(ctx, re)
	if err != nil {
		return core.RecurringExpense{}, fmt.Errorf("create recurring expense: %w", err)
	}
	applog.FromContext(ctx).WithComponent(applog.ComponentRecurring).InfoContext(ctx, "Recurring expense created",
		applog.FieldRecurringID, created.ID,
		"frequency", created.Frequency,
		applog.FieldDueDate, created.NextDueDate.String())
	return created, nil
}

// Update edits a template. Next-due is recomputed from today only when the
// frequency or the day-of-month changed, or when the start date moved past it.
func (s *RecurringService) Update(ctx context.Context, userID, id string, in RecurringInput, now time.Time) (core.RecurringExpense, error) {
	existing, err := s.Get(ctx, userID, id)
	if err != nil {
		return core.RecurringExpense{}, err
	}

	updated := existing
	updated.Vendor = strings.TrimSpace(in.Vendor)
	updated.Description = strings.TrimSpace(in.Description)
	updated.Amount = in.Amount
	updated.CategoryID = in.CategoryID
	updated.PaymentMethod = in.PaymentMethod
	updated.Notes = in.Notes
	updated.Tags = in.Tags
	updated.EndDate = in.EndDate
	if in.Frequency != "" {
		updated.Frequency = in.Frequency
	}
	if in.DayOfMonth != 0 {
		updated.DayOfMonth = in.DayOfMonth
	}
	if !in.StartDate.IsZero() {
		updated.StartDate = in.StartDate
	}
	if in.Active != nil {
		updated.Active = *in.Active
	}
	if err := updated.Validate(); err != nil {
		return core.RecurringExpense{}, err
	}

	if updated.Frequency != existing.Frequency || updated.DayOfMonth != existing.DayOfMonth ||
		updated.NextDueDate.Before(updated.StartDate) {
		updated.NextDueDate = RescheduledNextDue(updated.StartDate, updated.DayOfMonth, updated.Frequency, core.DateOf(now, s.location))
	}

	if err := s.store.UpdateRecurring(ctx, updated); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return core.RecurringExpense{}, ErrRecurringNotFound
		}
		return core.RecurringExpense{}, fmt.Errorf("update recurring expense %s: %w", id, err)
	}
	return s.store.GetRecurring(ctx, id)
}

func (s *RecurringService) Get(ctx context.Context, userID, id string) (core.RecurringExpense, error) {
	re, err := s.store.GetRecurring(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && re.UserID != userID) {
		return core.RecurringExpense{}, ErrRecurringNotFound
	}
	if err != nil {
		return core.RecurringExpense{}, fmt.Errorf("get recurring expense %s: %w", id, err)
	}
	return re, nil
}

// List returns the user's templates ordered by next-due date.
func (s *RecurringService) List(ctx context.Context, userID string, activeOnly bool) ([]core.RecurringExpense, error) {
	list, err := s.store.ListRecurring(ctx, userID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list recurring expenses: %w", err)
	}
	if list == nil {
		list = []core.RecurringExpense{}
	}
	return list, nil
}

// Delete removes a template; expenses it generated are kept.
func (s *RecurringService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteRecurring(ctx, id); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrRecurringNotFound
		}
		return fmt.Errorf("delete recurring expense %s: %w", id, err)
	}
	return nil
}
