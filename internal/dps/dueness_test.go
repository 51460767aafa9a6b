package dps

import (
	"testing"
	"time"

	"finledger/internal/core"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestDailyChecker_IsDue(t *testing.T) {
	checker := DailyChecker{}
	now := date(2025, 7, 15)
	anchor := date(2025, 7, 1)

	tests := []struct {
		name    string
		lastRun time.Time
		want    bool
	}{
		{"never run - is due", time.Time{}, true},
		{"ran today - not due", date(2025, 7, 15), false},
		{"ran yesterday - is due", date(2025, 7, 14), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checker.IsDue(tt.lastRun, now, anchor); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWeeklyChecker_IsDue(t *testing.T) {
	checker := WeeklyChecker{}
	now := date(2025, 7, 15)
	anchor := date(2025, 7, 1)

	tests := []struct {
		name    string
		lastRun time.Time
		want    bool
	}{
		{"never run - is due", time.Time{}, true},
		{"ran 3 days ago - not due", date(2025, 7, 12), false},
		{"ran 7 days ago - is due", date(2025, 7, 8), true},
		{"ran 10 days ago - is due", date(2025, 7, 5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checker.IsDue(tt.lastRun, now, anchor); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonthlyChecker_IsDue(t *testing.T) {
	checker := MonthlyChecker{}

	tests := []struct {
		name    string
		lastRun time.Time
		now     time.Time
		anchor  time.Time
		want    bool
	}{
		{"never run - is due", time.Time{}, date(2025, 7, 15), date(2025, 7, 10), true},
		{"ran this month - not due", date(2025, 7, 10), date(2025, 7, 15), date(2025, 7, 10), false},
		{"new month before anchor day - not due", date(2025, 6, 15), date(2025, 7, 10), date(2025, 6, 15), false},
		{"new month on anchor day - is due", date(2025, 6, 15), date(2025, 7, 15), date(2025, 6, 15), true},
		{"new month past anchor day - is due", date(2025, 6, 15), date(2025, 7, 20), date(2025, 6, 15), true},
		{"anchor day 31 in short month - clamps", date(2025, 1, 31), date(2025, 2, 28), date(2025, 1, 31), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checker.IsDue(tt.lastRun, tt.now, tt.anchor); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestYearlyChecker_IsDue(t *testing.T) {
	checker := YearlyChecker{}

	tests := []struct {
		name    string
		lastRun time.Time
		now     time.Time
		anchor  time.Time
		want    bool
	}{
		{"never run - is due", time.Time{}, date(2025, 7, 15), date(2024, 7, 10), true},
		{"ran this year - not due", date(2025, 3, 10), date(2025, 7, 15), date(2024, 7, 10), false},
		{"new year before anchor month - not due", date(2024, 7, 10), date(2025, 5, 15), date(2024, 7, 10), false},
		{"new year on anchor date - is due", date(2024, 7, 10), date(2025, 7, 10), date(2024, 7, 10), true},
		{"new year past anchor month - is due", date(2024, 7, 10), date(2025, 9, 1), date(2024, 7, 10), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checker.IsDue(tt.lastRun, tt.now, tt.anchor); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckerFor(t *testing.T) {
	for _, rep := range []core.RepetitionType{core.Daily, core.Weekly, core.Monthly, core.Yearly} {
		if _, err := CheckerFor(rep); err != nil {
			t.Errorf("CheckerFor(%s): %v", rep, err)
		}
	}
	if _, err := CheckerFor("fortnightly"); err == nil {
		t.Error("CheckerFor should reject unknown repetition types")
	}
}
