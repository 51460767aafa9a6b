package dps

import (
	"fmt"
	"time"

	"finledger/internal/core"
)

// Checker decides whether a recurring contribution is due. Each repetition
// type has its own implementation; the anchor is the date the plan was
// enabled and fixes the target day for monthly and yearly plans.
type Checker interface {
	IsDue(lastRun, now, anchor time.Time) bool
}

type DailyChecker struct{}

// IsDue returns true if the last run was before today.
func (DailyChecker) IsDue(lastRun, now, _ time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	return lastRun.Format("2006-01-02") != now.Format("2006-01-02")
}

type WeeklyChecker struct{}

// IsDue returns true if 7 or more days have passed since the last run.
func (WeeklyChecker) IsDue(lastRun, now, _ time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	return now.Sub(lastRun).Hours()/24 >= 7
}

type MonthlyChecker struct{}

// IsDue returns true in a new month once the anchor day is reached.
func (MonthlyChecker) IsDue(lastRun, now, anchor time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	if lastRun.Year() == now.Year() && lastRun.Month() == now.Month() {
		return false
	}
	return now.Day() >= clampDay(anchor.Day(), now)
}

type YearlyChecker struct{}

// IsDue returns true in a new year once the anchor month and day are reached.
func (YearlyChecker) IsDue(lastRun, now, anchor time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	if lastRun.Year() == now.Year() {
		return false
	}
	if now.Month() < anchor.Month() {
		return false
	}
	if now.Month() == anchor.Month() {
		return now.Day() >= clampDay(anchor.Day(), now)
	}
	return true
}

// clampDay folds a target day that does not exist in now's month (e.g. the
// 31st in February) onto that month's last day.
func clampDay(target int, now time.Time) int {
	last := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if target > last {
		return last
	}
	return target
}

var checkers = map[core.RepetitionType]Checker{
	core.Daily:   DailyChecker{},
	core.Weekly:  WeeklyChecker{},
	core.Monthly: MonthlyChecker{},
	core.Yearly:  YearlyChecker{},
}

// CheckerFor returns the dueness checker for a repetition type.
func CheckerFor(rep core.RepetitionType) (Checker, error) {
	c, ok := checkers[rep]
	if !ok {
		return nil, fmt.Errorf("unknown repetition type: %s", rep)
	}
	return c, nil
}
