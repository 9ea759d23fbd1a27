package util

import (
	"time"
)

// TradingCalendar answers weekday/holiday questions for daily bar data. It
// knows nothing about intraday sessions.
type TradingCalendar struct {
	holidays map[time.Time]struct{}
}

// NewTradingCalendar creates a TradingCalendar that treats weekends and the
// given dates as non-trading days.
func NewTradingCalendar(holidays ...time.Time) *TradingCalendar {
	tc := &TradingCalendar{holidays: make(map[time.Time]struct{}, len(holidays))}
	for _, h := range holidays {
		tc.holidays[truncateDay(h)] = struct{}{}
	}
	return tc
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := tc.holidays[truncateDay(t)]
	return !holiday
}

// TradingDays returns every trading day in [start, end], ordered.
func (tc *TradingCalendar) TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := truncateDay(start); !d.After(truncateDay(end)); d = d.AddDate(0, 0, 1) {
		if tc.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// CountTradingDays returns the number of trading days in [start, end]. It
// is an upper bound on the number of daily bars a provider can return.
func (tc *TradingCalendar) CountTradingDays(start, end time.Time) int {
	n := 0
	for d := truncateDay(start); !d.After(truncateDay(end)); d = d.AddDate(0, 0, 1) {
		if tc.IsTradingDay(d) {
			n++
		}
	}
	return n
}

// NextTradingDay returns the first trading day strictly after t.
func (tc *TradingCalendar) NextTradingDay(t time.Time) time.Time {
	d := truncateDay(t).AddDate(0, 0, 1)
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
