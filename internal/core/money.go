package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a USD amount with two fraction digits.
type Money struct {
	d decimal.Decimal
}

// MoneyFromCents builds an amount from an integer number of cents.
func MoneyFromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -2)}
}

// MoneyFromDecimal rounds d half away from zero to cents.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{d: d.Round(2)}
}

// ParseMoney parses a user supplied amount such as "12.34", "$1,200" or "12.345".
//
// Thousands separators and a leading dollar sign are ignored, the third
// fraction digit rounds half-up, and the result must be positive.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	m := MoneyFromDecimal(d)
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Cents() int64 {
	return m.d.Shift(2).Round(0).IntPart()
}

func (m Money) IsZero() bool { return m.d.IsZero() }

func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }

func (m Money) String() string { return m.d.StringFixed(2) }

func (m Money) Validate() error {
	if !m.d.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.d.InexactFloat64())
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		*m = Money{}
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, raw)
	}
	*m = MoneyFromDecimal(d)
	return nil
}

// Value stores the amount as integer cents.
func (m Money) Value() (driver.Value, error) {
	return m.Cents(), nil
}

func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*m = MoneyFromCents(v)
	case nil:
		*m = Money{}
	default:
		return fmt.Errorf("core.Money: cannot scan %T", src)
	}
	return nil
}
