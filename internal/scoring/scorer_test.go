package scoring

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wonny/screener/internal/market"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		x, maxAbs, want float64
	}{
		{0, 100, 0.5},     // neutral midpoint
		{100, 100, 1},     // full positive
		{-100, 100, 0},    // full negative
		{500, 100, 1},     // clamped high
		{-500, 100, 0},    // clamped low
		{50, 100, 0.75},
		{7, 0, 0.5},       // degenerate max
	}
	for _, tt := range tests {
		if got := Normalize(tt.x, tt.maxAbs); got != tt.want {
			t.Errorf("Normalize(%f, %f) = %f, want %f", tt.x, tt.maxAbs, got, tt.want)
		}
	}
}

func TestDiscount(t *testing.T) {
	// deeper below the average scores higher
	if Discount(5, 10) <= Discount(8, 10) {
		t.Error("discount must grow as the multiple falls below the average")
	}
	if got := Discount(5, 10); got != 0.5 {
		t.Errorf("Discount(5,10) = %f", got)
	}
	// above average clamps to zero, never negative
	if got := Discount(15, 10); got != 0 {
		t.Errorf("Discount(15,10) = %f", got)
	}
	// non-positive inputs contribute nothing
	if Discount(-3, 10) != 0 || Discount(5, 0) != 0 || Discount(0, 10) != 0 {
		t.Error("non-positive own value or average must score zero")
	}
}

func TestValueScoreSkipsNonPositiveMultiples(t *testing.T) {
	negPER := -4.2
	avgPER := 12.0
	roe := 15.0
	in := Input{
		Security: market.Security{Code: "005930"},
		Fundamental: &market.FundamentalSnapshot{
			Code: "005930", AsOf: time.Now(), PER: &negPER, ROE: &roe,
		},
		SectorValuation: &market.SectorValuation{AvgPER: &avgPER},
	}
	res := Score(in, DefaultWeights())

	want := clamp01(roe/roeFullMark) * DefaultWeights().ROE
	if res.ValueScore != want {
		t.Errorf("ValueScore = %f, want ROE-only %f (negative PER skipped)", res.ValueScore, want)
	}
}

func TestTotalScoreIsSumOfSubScores(t *testing.T) {
	per := 8.0
	avgPER := 12.0
	in := Input{
		Security:        market.Security{Code: "005930"},
		Fundamental:     &market.FundamentalSnapshot{PER: &per, AsOf: time.Now()},
		SectorValuation: &market.SectorValuation{AvgPER: &avgPER},
		Flows:           alternatingFlows(20),
		SectorFlows: []market.SectorFlowDay{
			{ForeignNet: 100, InstNet: 50},
			{ForeignNet: -30, InstNet: 10},
			{ForeignNet: 70, InstNet: 0},
			{ForeignNet: 20, InstNet: 20},
			{ForeignNet: -10, InstNet: 5},
		},
	}
	res := Score(in, DefaultWeights())

	if res.ValueScore <= 0 {
		t.Error("PER below sector average should yield a positive value score")
	}
	sum := res.ValueScore + res.StockSupplyScore + res.SectorSupplyScore
	if res.TotalScore != sum {
		t.Errorf("TotalScore = %f, want sum of sub-scores %f", res.TotalScore, sum)
	}
}

func TestSupplyWindowSums(t *testing.T) {
	in := Input{
		Security: market.Security{Code: "000001"},
		Flows:    alternatingFlows(20),
	}
	res := Score(in, DefaultWeights())

	// +100/-50 alternating, newest first: 5d = 100-50+100-50+100
	if res.SupplyNet5D != 200 {
		t.Errorf("SupplyNet5D = %d", res.SupplyNet5D)
	}
	if res.SupplyNet10D != 250 {
		t.Errorf("SupplyNet10D = %d", res.SupplyNet10D)
	}
	if res.SupplyNet20D != 500 {
		t.Errorf("SupplyNet20D = %d", res.SupplyNet20D)
	}
}

func TestVolumeTrend(t *testing.T) {
	rising := make([]market.DailyBar, 60)
	for i := range rising {
		vol := int64(100)
		if i < 20 {
			vol = 200 // recent window hot
		}
		rising[i] = market.DailyBar{Volume: vol}
	}
	if _, _, state := volumeTrend(rising); state != market.TrendRising {
		t.Errorf("state = %s, want rising", state)
	}

	for i := range rising {
		rising[i].Volume = 100
	}
	if _, _, state := volumeTrend(rising); state != market.TrendFlat {
		t.Errorf("state = %s, want flat", state)
	}

	if _, _, state := volumeTrend(rising[:10]); state != market.TrendFlat {
		t.Errorf("state = %s, want flat on insufficient bars", state)
	}
}

func TestSupplyTrendStates(t *testing.T) {
	w := DefaultWeights()

	mk := func(recent, prev int64) []market.InvestorFlowDay {
		flows := make([]market.InvestorFlowDay, 10)
		for i := range flows {
			qty := recent
			if i >= 5 {
				qty = prev
			}
			flows[i] = market.InvestorFlowDay{ForeignNetQty: qty, Volume: 1000}
		}
		return flows
	}

	tests := []struct {
		name         string
		recent, prev int64
		want         market.TrendState
	}{
		{"reversal up", 50, -50, market.TrendReversalUp},
		{"reversal down", -50, 50, market.TrendReversalDown},
		{"rising", 80, 50, market.TrendRising},
		{"falling", 30, 50, market.TrendFalling},
		{"flat within threshold", 52, 50, market.TrendFlat},
	}
	for _, tt := range tests {
		_, _, state := supplyTrend(mk(tt.recent, tt.prev), w)
		if state != tt.want {
			t.Errorf("%s: state = %s, want %s", tt.name, state, tt.want)
		}
	}

	if _, _, state := supplyTrend(nil, w); state != market.TrendFlat {
		t.Errorf("short history: state = %s, want flat", state)
	}
}

func TestStrengthBlend(t *testing.T) {
	flows := []market.InvestorFlowDay{{
		ForeignNetQty: 100, Volume: 1000, // qtyRatio 0.1
		ForeignNetAmt: 300, TradingValue: 1000, // amtRatio 0.3
	}}
	if got := strength(flows, 0.5); got != 0.2 {
		t.Errorf("strength = %f, want even blend 0.2", got)
	}
	if got := strength(flows, 1); got != 0.1 {
		t.Errorf("strength = %f, want qty only", got)
	}
	if got := strength(flows, 0); got != 0.3 {
		t.Errorf("strength = %f, want amt only", got)
	}
}

func TestWeightsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")

	// missing file: defaults
	w, err := LoadWeights(path)
	if err != nil {
		t.Fatal(err)
	}
	if w != DefaultWeights() {
		t.Errorf("missing file should yield defaults: %+v", w)
	}

	w.PER = 5
	w.StrengthQtyBlend = 0.7
	if err := SaveWeights(path, w); err != nil {
		t.Fatal(err)
	}
	got, err := LoadWeights(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != w {
		t.Errorf("round trip mismatch: %+v vs %+v", got, w)
	}
}

// alternatingFlows builds n days of +100/-50 combined quantity flow,
// newest first.
func alternatingFlows(n int) []market.InvestorFlowDay {
	flows := make([]market.InvestorFlowDay, n)
	base := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	for i := range flows {
		qty := int64(100)
		if i%2 == 1 {
			qty = -50
		}
		flows[i] = market.InvestorFlowDay{
			Date:          base.AddDate(0, 0, -i),
			ForeignNetQty: qty,
			QtyStatus:     market.StatusOK,
			Volume:        1000,
		}
	}
	return flows
}
