package services

import (
	"testing"
	"time"

	"bizxpense/internal/core"
)

func TestGetAdvancer(t *testing.T) {
	tests := []struct {
		name      string
		frequency core.Frequency
		current   core.Date
		anchor    int
		want      core.Date
	}{
		{"weekly crosses month", core.Weekly, on(2025, time.January, 29), 1, on(2025, time.February, 5)},
		{"monthly keeps anchor", core.Monthly, on(2025, time.January, 15), 15, on(2025, time.February, 15)},
		{"monthly crosses year", core.Monthly, on(2025, time.December, 28), 28, on(2026, time.January, 28)},
		{"yearly leap day", core.Yearly, on(2024, time.February, 29), 29, on(2025, time.February, 28)},
		{"unknown is monthly", core.Frequency("fortnightly"), on(2025, time.March, 10), 10, on(2025, time.April, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetAdvancer(tt.frequency).Next(tt.current, tt.anchor)
			if got != tt.want {
				t.Errorf("Next(%s) = %s, want %s", tt.current, got, tt.want)
			}
		})
	}
}

func TestInitialNextDue(t *testing.T) {
	today := on(2025, time.March, 20)
	tests := []struct {
		name      string
		start     core.Date
		anchor    int
		frequency core.Frequency
		want      core.Date
	}{
		{"past start, anchor already passed", on(2025, time.January, 1), 15, core.Monthly, on(2025, time.April, 15)},
		{"past start, anchor ahead", on(2025, time.January, 1), 25, core.Monthly, on(2025, time.March, 25)},
		{"start today, anchor today", today, 20, core.Monthly, on(2025, time.April, 20)},
		{"future start after anchor", on(2025, time.May, 20), 10, core.Monthly, on(2025, time.June, 10)},
		{"future start before anchor", on(2025, time.May, 5), 10, core.Monthly, on(2025, time.May, 10)},
		{"weekly from today's month", on(2025, time.January, 1), 20, core.Weekly, on(2025, time.March, 27)},
		{"yearly", on(2024, time.June, 1), 1, core.Yearly, on(2026, time.March, 1)},
		{"weekly future start needs several steps", on(2025, time.June, 20), 1, core.Weekly, on(2025, time.June, 22)},
		{"future start on anchor", on(2025, time.June, 10), 10, core.Monthly, on(2025, time.June, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InitialNextDue(tt.start, tt.anchor, tt.frequency, today)
			if got != tt.want {
				t.Errorf("InitialNextDue() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRescheduledNextDue(t *testing.T) {
	today := on(2025, time.March, 20)
	pastStart := on(2025, time.January, 1)
	tests := []struct {
		name      string
		start     core.Date
		anchor    int
		frequency core.Frequency
		want      core.Date
	}{
		{"anchor ahead", pastStart, 28, core.Monthly, on(2025, time.March, 28)},
		{"anchor passed", pastStart, 5, core.Monthly, on(2025, time.April, 5)},
		{"weekly on today", pastStart, 20, core.Weekly, on(2025, time.March, 27)},
		{"future start monthly", on(2025, time.June, 20), 5, core.Monthly, on(2025, time.July, 5)},
		{"future start weekly", on(2025, time.June, 20), 5, core.Weekly, on(2025, time.June, 25)},
		{"future start on anchor", on(2025, time.June, 5), 5, core.Monthly, on(2025, time.June, 5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RescheduledNextDue(tt.start, tt.anchor, tt.frequency, today)
			if got != tt.want {
				t.Errorf("RescheduledNextDue() = %s, want %s", got, tt.want)
			}
			if got.Before(tt.start) || !got.After(today) {
				t.Errorf("RescheduledNextDue() = %s outside (today %s, start %s)", got, today, tt.start)
			}
		})
	}
}
