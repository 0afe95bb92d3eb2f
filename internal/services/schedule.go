// Package services holds the sync engine, the recurring scheduler and the
// application services built on the ledger and aggregator ports.
package services

import (
	"bizxpense/internal/core"
)

// Advancer is the strategy for stepping a recurring schedule by one period.
type Advancer interface {
	// Next returns the occurrence following current. anchorDay is the
	// template's day-of-month.
	Next(current core.Date, anchorDay int) core.Date
}

// WeeklyAdvancer steps seven days.
type WeeklyAdvancer struct{}

func (WeeklyAdvancer) Next(current core.Date, _ int) core.Date {
	return current.AddDays(7)
}

// MonthlyAdvancer steps one calendar month onto the anchor day, clamped to the month length.
type MonthlyAdvancer struct{}

func (MonthlyAdvancer) Next(current core.Date, anchorDay int) core.Date {
	return current.AddMonthsClamped(1, anchorDay)
}

// YearlyAdvancer steps one year; Feb 29 lands on Feb 28.
type YearlyAdvancer struct{}

func (YearlyAdvancer) Next(current core.Date, _ int) core.Date {
	return current.AddYears(1)
}

var advancers = map[core.Frequency]Advancer{
	core.Weekly:  WeeklyAdvancer{},
	core.Monthly: MonthlyAdvancer{},
	core.Yearly:  YearlyAdvancer{},
}

// GetAdvancer returns the strategy for frequency. Unknown values advance monthly.
func GetAdvancer(frequency core.Frequency) Advancer {
	if a, ok := advancers[frequency]; ok {
		return a
	}
	return MonthlyAdvancer{}
}

// NextOccurrence steps current by one period of frequency.
func NextOccurrence(current core.Date, frequency core.Frequency, anchorDay int) core.Date {
	return GetAdvancer(frequency).Next(current, anchorDay)
}

// InitialNextDue derives the first due date of a new template.
//
// The candidate is the anchor day in the month of start when start lies in
// the future, otherwise in today's month. It then moves forward by whole
// periods until it is on or after start and after today.
func InitialNextDue(start core.Date, anchorDay int, frequency core.Frequency, today core.Date) core.Date {
	if start.After(today) {
		return advanceUntilDue(anchoredIn(start, anchorDay), start, anchorDay, frequency, today)
	}
	return RescheduledNextDue(start, anchorDay, frequency, today)
}

// RescheduledNextDue derives next-due after the cadence of an existing
// template changed: the anchor day in today's month, moved forward until it
// is after today and not before start.
func RescheduledNextDue(start core.Date, anchorDay int, frequency core.Frequency, today core.Date) core.Date {
	return advanceUntilDue(anchoredIn(today, anchorDay), start, anchorDay, frequency, today)
}

func advanceUntilDue(candidate, start core.Date, anchorDay int, frequency core.Frequency, today core.Date) core.Date {
	for candidate.Before(start) || !candidate.After(today) {
		candidate = NextOccurrence(candidate, frequency, anchorDay)
	}
	return candidate
}

func anchoredIn(d core.Date, anchorDay int) core.Date {
	return core.Date{Year: d.Year, Month: d.Month, Day: min(anchorDay, core.DaysIn(d.Year, d.Month))}
}
