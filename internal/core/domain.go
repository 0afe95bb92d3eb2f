package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// Payment methods offered to users. Synced card transactions use PaymentMethodCreditCard.
const (
	PaymentMethodCreditCard   = "Credit Card"
	PaymentMethodDebitCard    = "Debit Card"
	PaymentMethodCash         = "Cash"
	PaymentMethodCheck        = "Check"
	PaymentMethodBankTransfer = "Bank Transfer"
	PaymentMethodPayPal       = "PayPal"
	PaymentMethodOther        = "Other"
)

const maxVendorLength = 200

type (
	Frequency string

	Expense struct {
		ID                    string    `json:"id"`
		UserID                string    `json:"-"`
		Date                  Date      `json:"date"`
		Vendor                string    `json:"vendor"`
		Description           string    `json:"description,omitempty"`
		Amount                Money     `json:"amount"`
		CategoryID            string    `json:"categoryId,omitempty"`
		PaymentMethod         string    `json:"paymentMethod,omitempty"`
		Notes                 string    `json:"notes,omitempty"`
		Tags                  string    `json:"tags,omitempty"`
		ReceiptPath           string    `json:"receiptPath,omitempty"`
		ExternalTransactionID string    `json:"plaidTransactionId,omitempty"`
		RecurringExpenseID    string    `json:"recurringExpenseId,omitempty"`
		CreatedAt             time.Time `json:"createdAt"`
		UpdatedAt             time.Time `json:"updatedAt"`
	}

	// RecurringExpense is a template materialized into expenses on a schedule.
	RecurringExpense struct {
		ID            string    `json:"id"`
		UserID        string    `json:"-"`
		Vendor        string    `json:"vendor"`
		Description   string    `json:"description,omitempty"`
		Amount        Money     `json:"amount"`
		CategoryID    string    `json:"categoryId,omitempty"`
		PaymentMethod string    `json:"paymentMethod,omitempty"`
		Notes         string    `json:"notes,omitempty"`
		Tags          string    `json:"tags,omitempty"`
		Frequency     Frequency `json:"frequency"`
		DayOfMonth    int       `json:"dayOfMonth"`
		StartDate     Date      `json:"startDate"`
		EndDate       Date      `json:"endDate"`
		NextDueDate   Date      `json:"nextDueDate"`
		Active        bool      `json:"isActive"`
		CreatedAt     time.Time `json:"createdAt"`
		UpdatedAt     time.Time `json:"updatedAt"`
	}

	// LinkedItem is one aggregator connection to a financial institution.
	LinkedItem struct {
		ID              string          `json:"id"`
		UserID          string          `json:"-"`
		ExternalItemID  string          `json:"itemId"`
		InstitutionID   string          `json:"institutionId,omitempty"`
		InstitutionName string          `json:"institutionName,omitempty"`
		AccessToken     string          `json:"-"`
		Cursor          string          `json:"-"`
		LastSyncedAt    *time.Time      `json:"lastSynced"`
		CreatedAt       time.Time       `json:"createdAt"`
		Accounts        []LinkedAccount `json:"accounts"`
	}

	LinkedAccount struct {
		ID                string `json:"id"`
		ItemID            string `json:"-"`
		ExternalAccountID string `json:"accountId"`
		Name              string `json:"name"`
		OfficialName      string `json:"officialName,omitempty"`
		Type              string `json:"type"`
		Subtype           string `json:"subtype,omitempty"`
		Mask              string `json:"mask,omitempty"`
	}
)

var (
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidDay         = errors.New("invalid day")
	ErrInvalidMonth       = errors.New("invalid month")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyVendor        = errors.New("empty vendor")
	ErrVendorTooLong      = fmt.Errorf("vendor too long (max %d characters)", maxVendorLength)
	ErrInvalidFrequency   = errors.New("invalid frequency")
	ErrInvalidDayOfMonth  = errors.New("day of month must be between 1 and 28")
	ErrMissingStartDate   = errors.New("start date is required")
	ErrEndBeforeStart     = errors.New("end date must not be before start date")
	ErrMissingPublicToken = errors.New("public token is required")
)

func (f Frequency) IsValid() bool {
	switch f {
	case Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func validateVendor(v string) error {
	if strings.TrimSpace(v) == "" {
		return ErrEmptyVendor
	}
	if len(v) > maxVendorLength {
		return ErrVendorTooLong
	}
	return nil
}

func (e Expense) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if err := validateVendor(e.Vendor); err != nil {
		return err
	}
	return e.Amount.Validate()
}

func (re RecurringExpense) Validate() error {
	if err := validateVendor(re.Vendor); err != nil {
		return err
	}
	if err := re.Amount.Validate(); err != nil {
		return err
	}
	if !re.Frequency.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, re.Frequency)
	}
	if re.DayOfMonth < 1 || re.DayOfMonth > 28 {
		return ErrInvalidDayOfMonth
	}
	if re.StartDate.IsZero() {
		return ErrMissingStartDate
	}
	if err := re.StartDate.Validate(); err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	if !re.EndDate.IsZero() {
		if err := re.EndDate.Validate(); err != nil {
			return fmt.Errorf("invalid end date: %w", err)
		}
		if re.EndDate.Before(re.StartDate) {
			return ErrEndBeforeStart
		}
	}
	return nil
}

// IsValidationError reports whether err stems from user supplied data.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidDate, ErrInvalidDay, ErrInvalidMonth, ErrInvalidAmount,
		ErrEmptyVendor, ErrVendorTooLong, ErrInvalidFrequency,
		ErrInvalidDayOfMonth, ErrMissingStartDate, ErrEndBeforeStart,
		ErrMissingPublicToken,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
