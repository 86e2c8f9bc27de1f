package market

import "time"

// Market venues
const (
	KOSPI  = "KOSPI"
	KOSDAQ = "KOSDAQ"
)

// FieldStatus marks whether an independently-sourced field arrived.
type FieldStatus string

const (
	StatusOK      FieldStatus = "OK"
	StatusMissing FieldStatus = "MISSING"
)

// PairStatus is the completeness of the two flow sub-feeds combined.
type PairStatus string

const (
	PairComplete PairStatus = "COMPLETE"
	PairPartial  PairStatus = "PARTIAL"
	PairMissing  PairStatus = "MISSING"
)

// Security is one row of the security master.
type Security struct {
	Code          string  `json:"code"` // 6-digit short code
	Name          string  `json:"name"`
	Market        string  `json:"market"` // KOSPI / KOSDAQ
	SectorCode    string  `json:"sector_code,omitempty"` // terminal sector code
	SectorName    string  `json:"sector_name,omitempty"` // terminal sector name
	KRXSectorName string  `json:"krx_sector_name,omitempty"`
	CurrentPrice  float64 `json:"current_price"`
}

// InvestorFlowDay is one confirmed day of per-security investor flow.
// The quantity and amount figures come from independent sub-feeds and each
// carries its own status.
type InvestorFlowDay struct {
	Date          time.Time   `json:"date"`
	ForeignNetQty int64       `json:"foreign_net_qty"`
	InstNetQty    int64       `json:"inst_net_qty"`
	ForeignNetAmt int64       `json:"foreign_net_amt"`
	InstNetAmt    int64       `json:"inst_net_amt"`
	Volume        int64       `json:"volume"`
	TradingValue  float64     `json:"trading_value"`
	QtyStatus     FieldStatus `json:"qty_status"`
	AmtStatus     FieldStatus `json:"amt_status"`
}

// PairStatus derives the completeness flag from the two sub-feed statuses.
func (f InvestorFlowDay) PairStatus() PairStatus {
	switch {
	case f.QtyStatus == StatusOK && f.AmtStatus == StatusOK:
		return PairComplete
	case f.QtyStatus == StatusOK || f.AmtStatus == StatusOK:
		return PairPartial
	default:
		return PairMissing
	}
}

// ForeignNet returns the effective foreign net flow. 종목수급은 수량 기준,
// 수량이 없으면 금액으로 대체.
func (f InvestorFlowDay) ForeignNet() int64 {
	if f.ForeignNetQty != 0 {
		return f.ForeignNetQty
	}
	return f.ForeignNetAmt
}

// InstNet returns the effective institution net flow.
func (f InvestorFlowDay) InstNet() int64 {
	if f.InstNetQty != 0 {
		return f.InstNetQty
	}
	return f.InstNetAmt
}

// CombinedNet is foreign + institution effective net flow.
func (f InvestorFlowDay) CombinedNet() int64 {
	return f.ForeignNet() + f.InstNet()
}

// DailyBar is one confirmed day of per-security trading figures.
type DailyBar struct {
	Date         time.Time `json:"date"`
	Volume       int64     `json:"volume"`
	TradingValue float64   `json:"trading_value"`
	MarketCap    float64   `json:"market_cap"`
}

// FundamentalSnapshot holds per-security fundamentals as of a date.
// Valid within a bounded freshness window before it is refetched.
type FundamentalSnapshot struct {
	Code      string    `json:"code"`
	AsOf      time.Time `json:"asof"`
	PER       *float64  `json:"per,omitempty"`
	PBR       *float64  `json:"pbr,omitempty"`
	ROE       *float64  `json:"roe,omitempty"`
	EPS       *float64  `json:"eps,omitempty"`
	BPS       *float64  `json:"bps,omitempty"`
	MarketCap float64   `json:"market_cap"`
}

// FundamentalMaxAge is the freshness window for cached fundamentals.
const FundamentalMaxAge = 7 * 24 * time.Hour

// SectorFlowDay is one day of per-sector investor flow (amount basis).
type SectorFlowDay struct {
	Date       time.Time `json:"date"`
	ForeignNet float64   `json:"foreign_net"`
	InstNet    float64   `json:"inst_net"`
}

// CombinedNet is foreign + institution net flow for the sector.
func (s SectorFlowDay) CombinedNet() float64 {
	return s.ForeignNet + s.InstNet
}

// SectorFlowRow is a sector flow figure as reported by the terminal for a
// single date, carrying the sector identity alongside.
type SectorFlowRow struct {
	SectorCode string  `json:"sector_code"`
	SectorName string  `json:"sector_name"`
	ForeignNet float64 `json:"foreign_net"`
	InstNet    float64 `json:"inst_net"`
}

// SectorValuation holds sector-average multiples as of a date.
type SectorValuation struct {
	SectorCode string   `json:"sector_code"`
	SectorName string   `json:"sector_name,omitempty"`
	AvgPER     *float64 `json:"avg_per,omitempty"`
	AvgPBR     *float64 `json:"avg_pbr,omitempty"`
}

// ConsensusSnapshot is a scraped analyst consensus. Held in memory with a
// TTL, never persisted.
type ConsensusSnapshot struct {
	Code             string    `json:"code"`
	Opinion          string    `json:"opinion,omitempty"`
	TargetPrice      *float64  `json:"target_price,omitempty"`
	TargetPriceMin   *float64  `json:"target_price_min,omitempty"`
	TargetPriceMax   *float64  `json:"target_price_max,omitempty"`
	CurrentPrice     *float64  `json:"current_price,omitempty"`
	DeviationPct     *float64  `json:"deviation_pct,omitempty"`
	ConsensusEPS     *float64  `json:"consensus_eps,omitempty"`
	ConsensusPER     *float64  `json:"consensus_per,omitempty"`
	AnalystCount     int       `json:"analyst_count"`
	LatestReportDate string    `json:"latest_report_date,omitempty"`
	FetchedAt        time.Time `json:"fetched_at"`
}

// IntradayQuote is a provisional in-session price snapshot for a security.
type IntradayQuote struct {
	Code         string    `json:"code"`
	Price        float64   `json:"price"`
	Volume       int64     `json:"volume"`
	TradingValue float64   `json:"trading_value"`
	CapturedAt   time.Time `json:"captured_at"`
}

// TrendState classifies a short-window trend.
type TrendState string

const (
	TrendRising       TrendState = "rising"
	TrendFalling      TrendState = "falling"
	TrendFlat         TrendState = "flat"
	TrendReversalUp   TrendState = "reversal-up"
	TrendReversalDown TrendState = "reversal-down"
)

// Result statuses
const (
	StatusDone  = "done"
	StatusError = "error"
)

// AnalysisResult is the scored output for one security. Recomputed from
// scratch on every run, never persisted.
type AnalysisResult struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Market       string  `json:"market"`
	SectorCode   string  `json:"sector_code,omitempty"`
	SectorName   string  `json:"sector_name,omitempty"`
	CurrentPrice float64 `json:"current_price"`
	Status       string  `json:"status"`
	ErrorMsg     string  `json:"error_msg,omitempty"`

	// Scores
	TotalScore        float64 `json:"total_score"`
	ValueScore        float64 `json:"value_score"`
	StockSupplyScore  float64 `json:"stock_supply_score"`
	SectorSupplyScore float64 `json:"sector_supply_score"`

	// Value detail
	PER          *float64 `json:"per,omitempty"`
	PBR          *float64 `json:"pbr,omitempty"`
	ROE          *float64 `json:"roe,omitempty"`
	SectorAvgPER *float64 `json:"sector_avg_per,omitempty"`
	SectorAvgPBR *float64 `json:"sector_avg_pbr,omitempty"`

	// Stock supply detail (foreign+institution combined)
	SupplyNet5D  int64 `json:"supply_net_5d"`
	SupplyNet10D int64 `json:"supply_net_10d"`
	SupplyNet20D int64 `json:"supply_net_20d"`

	// Turnover trend
	Turnover20D  float64 `json:"turnover_20d"`
	Turnover60D  float64 `json:"turnover_60d"`
	TurnoverRate float64 `json:"turnover_rate"` // pct change 20d vs 60d

	// Volume trend
	Volume20D float64    `json:"volume_20d"`
	Volume60D float64    `json:"volume_60d"`
	VolTrend  TrendState `json:"vol_trend,omitempty"`

	// Supply strength trend
	SupplyStrength5D     float64    `json:"supply_strength_5d"`
	SupplyStrengthPrev5D float64    `json:"supply_strength_prev_5d"`
	SupplyTrend          TrendState `json:"supply_trend,omitempty"`

	// Sector supply detail
	SectorNet5D  float64 `json:"sector_net_5d"`
	SectorNet10D float64 `json:"sector_net_10d"`
}

// SectorSummary aggregates 5-day sector flow for the market overview.
type SectorSummary struct {
	Market       string  `json:"market"`
	SectorCode   string  `json:"sector_code"`
	SectorName   string  `json:"sector_name"`
	ForeignNet5D float64 `json:"foreign_net_5d"`
	InstNet5D    float64 `json:"inst_net_5d"`
	TotalNet5D   float64 `json:"total_net_5d"`
}
