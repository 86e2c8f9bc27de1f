package kiwoom

import (
	"strconv"
	"strings"
	"time"
)

func (r trRow) str(key string) string {
	return strings.TrimSpace(r[key])
}

func (r trRow) int64(key string) int64 {
	v, err := strconv.ParseInt(cleanNumber(r[key]), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (r trRow) float(key string) float64 {
	v, err := strconv.ParseFloat(cleanNumber(r[key]), 64)
	if err != nil {
		return 0
	}
	return v
}

// floatPtr treats empty, unparsable and zero values as absent. The
// terminal pads missing ratios with "0.00".
func (r trRow) floatPtr(key string) *float64 {
	v, err := strconv.ParseFloat(cleanNumber(r[key]), 64)
	if err != nil || v == 0 {
		return nil
	}
	return &v
}

func (r trRow) date(key string) (time.Time, bool) {
	t, err := time.Parse("20060102", r.str(key))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
