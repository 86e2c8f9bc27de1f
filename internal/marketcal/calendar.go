package marketcal

import "time"

// 휴장일 (KRX), 2025~2026
var holidays = map[string]bool{
	// 2025
	"2025-01-01": true,
	"2025-01-28": true, "2025-01-29": true, "2025-01-30": true, // 설날
	"2025-03-01": true,
	"2025-05-05": true, "2025-05-06": true,
	"2025-06-06": true,
	"2025-08-15": true,
	"2025-10-03": true,
	"2025-10-09": true,
	"2025-12-25": true,
	// 2026
	"2026-01-01": true,
	"2026-02-16": true, "2026-02-17": true, "2026-02-18": true, // 설날
	"2026-03-01": true,
	"2026-05-05": true,
	"2026-05-24": true, // 부처님오신날
	"2026-06-06": true,
	"2026-08-15": true,
	"2026-09-24": true, "2026-09-25": true, "2026-09-26": true, // 추석
	"2026-10-03": true,
	"2026-10-09": true,
	"2026-12-25": true,
}

// CompletedCutoffHour is the local hour after which the current trading day
// is considered confirmed (일별 확정치는 장 마감 후 반영).
const CompletedCutoffHour = 18

// IsTradingDay reports whether d is a KRX trading day.
func IsTradingDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !holidays[d.Format("2006-01-02")]
}

// PreviousTradingDay returns the most recent trading day at or before fromInclusive.
func PreviousTradingDay(fromInclusive time.Time) time.Time {
	d := truncate(fromInclusive)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// LatestCompletedTradingDay returns the most recent trading day whose
// end-of-day figures are confirmed as of now. Before the cutoff hour the
// current day does not count even if it is a trading day.
func LatestCompletedTradingDay(now time.Time) time.Time {
	d := truncate(now)
	if now.Hour() < CompletedCutoffHour {
		d = d.AddDate(0, 0, -1)
	}
	return PreviousTradingDay(d)
}

// RecentTradingDays returns the count most recent trading days starting from
// fromInclusive, newest first.
func RecentTradingDays(count int, fromInclusive time.Time) []time.Time {
	days := make([]time.Time, 0, count)
	d := truncate(fromInclusive)
	for len(days) < count {
		d = PreviousTradingDay(d)
		days = append(days, d)
		d = d.AddDate(0, 0, -1)
	}
	return days
}

// APIDate formats d for upstream feeds (yyyyMMdd).
func APIDate(d time.Time) string {
	return d.Format("20060102")
}

// DisplayDate formats d for logs and output (yyyy-MM-dd).
func DisplayDate(d time.Time) string {
	return d.Format("2006-01-02")
}

// ParseAPIDate parses a yyyyMMdd date string.
func ParseAPIDate(s string) (time.Time, bool) {
	d, err := time.ParseInLocation("20060102", s, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func truncate(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}
