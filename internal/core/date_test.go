package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want Date
		ok   bool
	}{
		{"2025-03-15", NewDate(2025, time.March, 15), true},
		{" 2024-02-29 ", NewDate(2024, time.February, 29), true},
		{"2025-03-15T23:30:00-08:00", NewDate(2025, time.March, 15), true},
		{"2025-02-30", Date{}, false},
		{"15/03/2025", Date{}, false},
		{"", Date{}, false},
	}
	for _, tc := range cases {
		got, err := ParseDate(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrInvalidDate, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestDateOfUsesLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	instant := time.Date(2025, time.March, 1, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, NewDate(2025, time.February, 28), DateOf(instant, ny))
	assert.Equal(t, NewDate(2025, time.March, 1), DateOf(instant, time.UTC))
}

func TestDateArithmetic(t *testing.T) {
	assert.Equal(t, NewDate(2025, time.March, 3), NewDate(2025, time.February, 24).AddDays(7))

	assert.Equal(t, NewDate(2025, time.February, 28), NewDate(2025, time.January, 31).AddMonthsClamped(1, 31))
	assert.Equal(t, NewDate(2024, time.February, 29), NewDate(2024, time.January, 31).AddMonthsClamped(1, 31))
	assert.Equal(t, NewDate(2026, time.January, 15), NewDate(2025, time.December, 15).AddMonthsClamped(1, 15))
	assert.Equal(t, NewDate(2025, time.March, 28), NewDate(2025, time.February, 28).AddMonthsClamped(1, 28))
	assert.Equal(t, NewDate(2025, time.May, 10), NewDate(2025, time.April, 10).AddMonthsClamped(1, 0))

	assert.Equal(t, NewDate(2025, time.February, 28), NewDate(2024, time.February, 29).AddYears(1))
	assert.Equal(t, NewDate(2026, time.July, 4), NewDate(2025, time.July, 4).AddYears(1))
}

func TestDateCompare(t *testing.T) {
	a := NewDate(2025, time.January, 31)
	b := NewDate(2025, time.February, 1)
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.Equal(t, 0, a.Compare(NewDate(2025, time.January, 31)))
	assert.Equal(t, "2025-01-31", a.String())
}

func TestDateJSONAndSQL(t *testing.T) {
	type payload struct {
		Start Date `json:"start"`
		End   Date `json:"end"`
	}
	b, err := json.Marshal(payload{Start: NewDate(2025, time.June, 1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2025-06-01","end":null}`, string(b))

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"start":"2025-06-01T00:00:00.000Z","end":""}`), &p))
	assert.Equal(t, NewDate(2025, time.June, 1), p.Start)
	assert.True(t, p.End.IsZero())

	v, err := Date{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var d Date
	require.NoError(t, d.Scan([]byte("2025-12-24")))
	assert.Equal(t, NewDate(2025, time.December, 24), d)
	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())
}
