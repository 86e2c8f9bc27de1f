package scoring

import (
	"math"

	"github.com/wonny/screener/internal/market"
)

// roeFullMark is the ROE at which the ROE factor scores full marks.
const roeFullMark = 30.0

// Input carries everything the scorer reads. Flow, bar and sector series
// are newest first.
type Input struct {
	Security        market.Security
	Fundamental     *market.FundamentalSnapshot
	SectorValuation *market.SectorValuation
	Flows           []market.InvestorFlowDay
	Bars            []market.DailyBar
	SectorFlows     []market.SectorFlowDay
}

// Score computes the full result for one security. Pure: same input, same
// output.
// ⭐ SSOT: 점수 산정 로직은 전부 여기
func Score(in Input, w Weights) market.AnalysisResult {
	res := market.AnalysisResult{
		Code:         in.Security.Code,
		Name:         in.Security.Name,
		Market:       in.Security.Market,
		SectorCode:   in.Security.SectorCode,
		SectorName:   in.Security.SectorName,
		CurrentPrice: in.Security.CurrentPrice,
		Status:       market.StatusDone,
	}

	scoreValue(&res, in, w)
	scoreStockSupply(&res, in, w)
	scoreSectorSupply(&res, in, w)

	res.TotalScore = res.ValueScore + res.StockSupplyScore + res.SectorSupplyScore
	return res
}

// Normalize maps a signed sum against its maximum magnitude onto [0,1],
// with 0.5 as the neutral midpoint.
func Normalize(x, maxAbs float64) float64 {
	if maxAbs <= 0 {
		return 0.5
	}
	return clamp01(x/maxAbs/2 + 0.5)
}

// Discount scores how far below the sector average a multiple sits,
// clamped to [0,1]. Requires both own value and sector average positive.
func Discount(own, sectorAvg float64) float64 {
	if own <= 0 || sectorAvg <= 0 {
		return 0
	}
	return clamp01((sectorAvg - own) / sectorAvg)
}

func scoreValue(res *market.AnalysisResult, in Input, w Weights) {
	f := in.Fundamental
	if f == nil {
		return
	}
	res.PER, res.PBR, res.ROE = f.PER, f.PBR, f.ROE

	var avgPER, avgPBR *float64
	if in.SectorValuation != nil {
		avgPER, avgPBR = in.SectorValuation.AvgPER, in.SectorValuation.AvgPBR
		res.SectorAvgPER, res.SectorAvgPBR = avgPER, avgPBR
	}

	if f.PER != nil && avgPER != nil {
		res.ValueScore += Discount(*f.PER, *avgPER) * w.PER
	}
	if f.PBR != nil && avgPBR != nil {
		res.ValueScore += Discount(*f.PBR, *avgPBR) * w.PBR
	}
	if f.ROE != nil && *f.ROE > 0 {
		res.ValueScore += clamp01(*f.ROE/roeFullMark) * w.ROE
	}
}

func scoreStockSupply(res *market.AnalysisResult, in Input, w Weights) {
	if len(in.Flows) > 0 {
		maxDaily := 1.0
		for _, f := range in.Flows {
			if v := math.Abs(float64(f.CombinedNet())); v > maxDaily {
				maxDaily = v
			}
		}

		res.SupplyNet5D = sumCombined(in.Flows, 5)
		res.SupplyNet10D = sumCombined(in.Flows, 10)
		res.SupplyNet20D = sumCombined(in.Flows, 20)

		res.StockSupplyScore += Normalize(float64(res.SupplyNet5D), maxDaily*5) * w.Supply5D
		res.StockSupplyScore += Normalize(float64(res.SupplyNet10D), maxDaily*10) * w.Supply10D
		res.StockSupplyScore += Normalize(float64(res.SupplyNet20D), maxDaily*20) * w.Supply20D
	}

	scoreTurnover(res, in, w)
	res.Volume20D, res.Volume60D, res.VolTrend = volumeTrend(in.Bars)
	res.SupplyStrength5D, res.SupplyStrengthPrev5D, res.SupplyTrend = supplyTrend(in.Flows, w)
}

func scoreTurnover(res *market.AnalysisResult, in Input, w Weights) {
	if len(in.Bars) < 20 {
		return
	}
	t20 := meanTurnover(in.Bars[:20])
	t60 := meanTurnover(window(in.Bars, 60))
	res.Turnover20D, res.Turnover60D = t20, t60
	if t60 <= 0 {
		return
	}
	res.TurnoverRate = (t20 - t60) / t60 * 100
	if w.TurnoverFullPct > 0 {
		res.StockSupplyScore += clamp01(res.TurnoverRate/w.TurnoverFullPct) * w.Turnover
	}
}

func scoreSectorSupply(res *market.AnalysisResult, in Input, w Weights) {
	if len(in.SectorFlows) == 0 {
		return
	}
	maxDaily := 1.0
	for _, f := range in.SectorFlows {
		if v := math.Abs(f.CombinedNet()); v > maxDaily {
			maxDaily = v
		}
	}

	for _, f := range window(in.SectorFlows, 5) {
		res.SectorNet5D += f.CombinedNet()
	}
	for _, f := range window(in.SectorFlows, 10) {
		res.SectorNet10D += f.CombinedNet()
	}

	res.SectorSupplyScore += Normalize(res.SectorNet5D, maxDaily*5) * w.SectorSupply5D
	res.SectorSupplyScore += Normalize(res.SectorNet10D, maxDaily*10) * w.SectorSupply10D
}

// volumeTrend compares mean volume of the recent 20 bars against the
// recent 60. A move past ±10% is a trend, anything less is flat.
func volumeTrend(bars []market.DailyBar) (v20, v60 float64, state market.TrendState) {
	state = market.TrendFlat
	if len(bars) < 20 {
		return 0, 0, state
	}
	v20 = meanVolume(bars[:20])
	v60 = meanVolume(window(bars, 60))
	if v60 <= 0 {
		return v20, v60, state
	}
	switch change := (v20 - v60) / v60 * 100; {
	case change > 10:
		state = market.TrendRising
	case change < -10:
		state = market.TrendFalling
	}
	return v20, v60, state
}

// supplyTrend compares buying strength of the recent 5 days against the
// preceding 5. A sign change is a reversal; otherwise the relative change
// is measured against the trend threshold.
func supplyTrend(flows []market.InvestorFlowDay, w Weights) (recent, prev float64, state market.TrendState) {
	state = market.TrendFlat
	if len(flows) < 10 {
		return 0, 0, state
	}
	recent = strength(flows[:5], w.StrengthQtyBlend)
	prev = strength(flows[5:10], w.StrengthQtyBlend)

	switch {
	case prev <= 0 && recent > 0:
		state = market.TrendReversalUp
	case prev >= 0 && recent < 0:
		state = market.TrendReversalDown
	case prev != 0:
		change := (recent - prev) / math.Abs(prev) * 100
		if change > w.TrendThresholdPct {
			state = market.TrendRising
		} else if change < -w.TrendThresholdPct {
			state = market.TrendFalling
		}
	}
	return recent, prev, state
}

// strength blends the quantity ratio (net shares over volume) with the
// amount ratio (net amount over traded value).
func strength(flows []market.InvestorFlowDay, qtyBlend float64) float64 {
	var netQty, vol, netAmt, value float64
	for _, f := range flows {
		netQty += float64(f.ForeignNetQty + f.InstNetQty)
		vol += float64(f.Volume)
		netAmt += float64(f.ForeignNetAmt + f.InstNetAmt)
		value += f.TradingValue
	}

	var qtyRatio, amtRatio float64
	if vol > 0 {
		qtyRatio = netQty / vol
	}
	if value > 0 {
		amtRatio = netAmt / value
	}
	return qtyBlend*qtyRatio + (1-qtyBlend)*amtRatio
}

func sumCombined(flows []market.InvestorFlowDay, n int) int64 {
	var sum int64
	for _, f := range window(flows, n) {
		sum += f.CombinedNet()
	}
	return sum
}

func meanTurnover(bars []market.DailyBar) float64 {
	var sum float64
	var n int
	for _, b := range bars {
		if b.MarketCap > 0 {
			sum += b.TradingValue / b.MarketCap
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func meanVolume(bars []market.DailyBar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars {
		sum += float64(b.Volume)
	}
	return sum / float64(len(bars))
}

func window[T any](rows []T, n int) []T {
	if len(rows) < n {
		return rows
	}
	return rows[:n]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
