package market

// MergeFlow merges an incoming flow row into an existing one for the same
// (code, date). Field-wise: each figure is taken from whichever side has it,
// incoming preferred when both do, and a status already OK is never demoted.
// ⭐ SSOT: 수급 캐시 병합 규칙은 여기 한 곳에만 정의한다.
func MergeFlow(existing, incoming InvestorFlowDay) InvestorFlowDay {
	out := existing

	if incoming.QtyStatus == StatusOK {
		out.ForeignNetQty = incoming.ForeignNetQty
		out.InstNetQty = incoming.InstNetQty
		out.QtyStatus = StatusOK
	}
	if incoming.AmtStatus == StatusOK {
		out.ForeignNetAmt = incoming.ForeignNetAmt
		out.InstNetAmt = incoming.InstNetAmt
		out.AmtStatus = StatusOK
	}
	if incoming.Volume != 0 {
		out.Volume = incoming.Volume
	}
	if incoming.TradingValue != 0 {
		out.TradingValue = incoming.TradingValue
	}
	return out
}

// MergeBar merges an incoming bar into an existing one for the same
// (code, date). Last write wins, except a positive cached market cap is
// kept over a non-positive incoming one.
func MergeBar(existing, incoming DailyBar) DailyBar {
	out := incoming
	out.Date = existing.Date
	if incoming.MarketCap <= 0 && existing.MarketCap > 0 {
		out.MarketCap = existing.MarketCap
	}
	return out
}

// MergeSecurity merges incoming master data into an existing security row.
// Names and sector identity coalesce non-empty, incoming preferred;
// current price only moves forward to a positive value.
func MergeSecurity(existing, incoming Security) Security {
	out := existing
	if incoming.Name != "" {
		out.Name = incoming.Name
	}
	if incoming.Market != "" {
		out.Market = incoming.Market
	}
	if incoming.SectorCode != "" {
		out.SectorCode = incoming.SectorCode
	}
	if incoming.SectorName != "" {
		out.SectorName = incoming.SectorName
	}
	if incoming.KRXSectorName != "" {
		out.KRXSectorName = incoming.KRXSectorName
	}
	if incoming.CurrentPrice > 0 {
		out.CurrentPrice = incoming.CurrentPrice
	}
	return out
}
