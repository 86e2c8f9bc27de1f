package cache

import (
	"time"

	"github.com/wonny/screener/internal/market"
)

// Minimum distinct trading dates for a cache hit.
const (
	MinFlowDays = 20
	MinBarDays  = 55
)

// HasSufficientFlow reports whether the cached flow rows cover enough
// distinct dates to skip a refetch.
func HasSufficientFlow(flows []market.InvestorFlowDay) bool {
	return distinctDates(flows, func(f market.InvestorFlowDay) time.Time { return f.Date }) >= MinFlowDays
}

// HasSufficientBars reports whether the cached bars cover enough distinct
// dates to skip a refetch.
func HasSufficientBars(bars []market.DailyBar) bool {
	return distinctDates(bars, func(b market.DailyBar) time.Time { return b.Date }) >= MinBarDays
}

func distinctDates[T any](rows []T, date func(T) time.Time) int {
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seen[date(r).Format("20060102")] = struct{}{}
	}
	return len(seen)
}
