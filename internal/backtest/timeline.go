package backtest

import (
	"sort"
	"strings"
	"time"

	"marketintel/internal/domain"
	"marketintel/internal/util"
)

// maxTradingDays bounds the number of daily bars any symbol can have in
// [start, end]: weekdays for exchange-listed assets, every calendar day
// once a crypto pair is involved.
func maxTradingDays(symbols []string, start, end time.Time) int {
	for _, s := range symbols {
		if strings.Contains(s, "/") {
			return int(domain.DateOf(end).Sub(domain.DateOf(start)).Hours()/24) + 1
		}
	}
	return util.NewTradingCalendar().CountTradingDays(start, end)
}

// tradingDays returns the sorted union of bar dates within [start, end]
// across symbols.
func tradingDays(bars map[string][]domain.Bar, symbols []string, start, end time.Time) []time.Time {
	set := make(map[time.Time]struct{})
	for _, sym := range symbols {
		for _, b := range bars[sym] {
			d := b.Date()
			if d.Before(start) || d.After(end) {
				continue
			}
			set[d] = struct{}{}
		}
	}
	days := make([]time.Time, 0, len(set))
	for d := range set {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// isRebalanceDay reports whether days[i] starts a new rebalance period:
// every day for daily, the first trading day of an ISO week for weekly,
// the first trading day of a month for monthly. The first evaluation day
// (i == first) always rebalances.
func isRebalanceDay(freq domain.RebalanceFrequency, days []time.Time, i, first int) bool {
	if i == first {
		return true
	}
	prev, cur := days[i-1], days[i]
	switch freq {
	case domain.RebalanceWeekly:
		py, pw := prev.ISOWeek()
		cy, cw := cur.ISOWeek()
		return py != cy || pw != cw
	case domain.RebalanceMonthly:
		return prev.Year() != cur.Year() || prev.Month() != cur.Month()
	default:
		return true
	}
}
