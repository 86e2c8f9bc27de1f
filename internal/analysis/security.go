package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/screener/internal/cache"
	"github.com/wonny/screener/internal/market"
	"github.com/wonny/screener/internal/scoring"
)

// analyzeOne runs the per-security sequence: fundamentals, investor flow,
// bars, price, sector match, score. Order matters: bar backfill depends on
// fundamentals, the score depends on all of them.
func (p *Pipeline) analyzeOne(
	ctx context.Context,
	sec market.Security,
	series sectorSeries,
	nameIndex map[market.SectorNameKey]string,
	valuations map[market.SectorKey]*market.SectorValuation,
	from20, from60 time.Time,
	overlay bool,
) (*market.AnalysisResult, error) {
	fund, err := p.fundamentalFor(ctx, sec.Code)
	if err != nil {
		return nil, fmt.Errorf("기본정보: %w", err)
	}

	flows, err := p.flowFor(ctx, sec.Code, from20, overlay)
	if err != nil {
		return nil, fmt.Errorf("수급: %w", err)
	}

	bars := p.barsFor(ctx, sec.Code, from60)

	if fund != nil && fund.MarketCap > 0 {
		backfillCap(bars, fund.MarketCap)
		if err := p.store.BackfillMarketCap(ctx, sec.Code, fund.MarketCap); err != nil {
			p.log.WithError(err).WithField("code", sec.Code).Warn("시총 보정 기록 실패")
		}
	}

	if price := p.currentPrice(ctx, sec.Code, bars, overlay); price > 0 {
		sec.CurrentPrice = price
		if err := p.store.UpsertSecurities(ctx, []market.Security{sec}); err != nil {
			p.log.WithError(err).WithField("code", sec.Code).Warn("현재가 기록 실패")
		}
	}

	var sectorFlows []market.SectorFlowDay
	var valuation *market.SectorValuation
	if key, ok := sectorKeyFor(sec, nameIndex); ok {
		sec.SectorCode = key.Code
		sectorFlows = sectorFlowsFor(series[key.Market], key.Code)
		valuation = valuations[key]
		if valuation != nil && sec.SectorName == "" {
			sec.SectorName = valuation.SectorName
		}
	}

	res := scoring.Score(scoring.Input{
		Security:        sec,
		Fundamental:     fund,
		SectorValuation: valuation,
		Flows:           flows,
		Bars:            bars,
		SectorFlows:     sectorFlows,
	}, p.cfg.Weights)
	return &res, nil
}

// fundamentalFor serves fundamentals cache-first within the freshness
// window.
func (p *Pipeline) fundamentalFor(ctx context.Context, code string) (*market.FundamentalSnapshot, error) {
	if f, err := p.store.GetLatestFundamental(ctx, code, p.now()); err == nil && f != nil {
		return f, nil
	} else if err != nil {
		p.log.WithError(err).WithField("code", code).Warn("기본정보 캐시 조회 실패")
	}

	start := p.now()
	f, err := p.terminal.Fundamental(ctx, code)
	p.logFetch(ctx, "kiwoom", "fundamental", code, start, 1, err)
	if err != nil {
		return nil, err
	}
	if err := p.store.UpsertFundamental(ctx, *f); err != nil {
		p.log.WithError(err).WithField("code", code).Warn("기본정보 기록 실패")
	}
	return f, nil
}

// flowFor serves the investor flow series cache-first by the sufficiency
// predicate. Both sub-feeds are fetched on a miss; when the overlay is on,
// today's provisional row replaces any confirmed row for today.
func (p *Pipeline) flowFor(ctx context.Context, code string, from time.Time, overlay bool) ([]market.InvestorFlowDay, error) {
	flows, err := p.store.GetInvestorDaily(ctx, code, from)
	if err != nil {
		p.log.WithError(err).WithField("code", code).Warn("수급 캐시 조회 실패")
	}

	if !cache.HasSufficientFlow(flows) {
		for _, amount := range []bool{false, true} {
			start := p.now()
			fetched, err := p.terminal.InvestorFlow(ctx, code, from, amount)
			op := "investor_flow_qty"
			if amount {
				op = "investor_flow_amt"
			}
			p.logFetch(ctx, "kiwoom", op, code, start, len(fetched), err)
			if err != nil {
				return nil, err
			}
			if err := p.store.UpsertInvestorDaily(ctx, code, fetched); err != nil {
				p.log.WithError(err).WithField("code", code).Warn("수급 기록 실패")
			}
		}
		if flows, err = p.store.GetInvestorDaily(ctx, code, from); err != nil {
			return nil, err
		}
	}

	if overlay {
		flows = p.topUpTodayFlow(ctx, code, flows)
	}
	return flows, nil
}

// topUpTodayFlow overlays today's provisional flow row, replace-by-date.
func (p *Pipeline) topUpTodayFlow(ctx context.Context, code string, flows []market.InvestorFlowDay) []market.InvestorFlowDay {
	today := p.today()
	start := p.now()
	fetched, err := p.terminal.InvestorFlow(ctx, code, today, false)
	p.logFetch(ctx, "kiwoom", "investor_flow_intraday", code, start, len(fetched), err)
	if err != nil {
		return flows
	}

	for _, f := range fetched {
		if !f.Date.Equal(today) {
			continue
		}
		if err := p.store.UpsertIntradayInvestor(ctx, code, f); err != nil {
			p.log.WithError(err).WithField("code", code).Warn("장중 수급 기록 실패")
		}
		replaced := false
		for i := range flows {
			if flows[i].Date.Equal(today) {
				flows[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			flows = append(flows, f)
		}
		sort.SliceStable(flows, func(i, j int) bool { return flows[i].Date.After(flows[j].Date) })
		break
	}
	return flows
}

// barsFor serves daily bars cache-first by the sufficiency predicate. A
// terminal timeout is retried once, then the cached series stands.
func (p *Pipeline) barsFor(ctx context.Context, code string, from time.Time) []market.DailyBar {
	bars, err := p.store.GetDailyBars(ctx, code, from)
	if err != nil {
		p.log.WithError(err).WithField("code", code).Warn("일봉 캐시 조회 실패")
	}
	if cache.HasSufficientBars(bars) {
		return bars
	}

	var fetched []market.DailyBar
	for attempt := 0; attempt <= barFetchRetries; attempt++ {
		start := p.now()
		fetched, err = p.terminal.DailyBars(ctx, code, from)
		p.logFetch(ctx, "kiwoom", "daily_bars", code, start, len(fetched), err)
		if err == nil || !errTimeout(err) {
			break
		}
		p.log.WithField("code", code).Warn("일봉 조회 타임아웃, 재시도")
	}
	if err != nil {
		if ctx.Err() == nil {
			p.log.WithError(err).WithField("code", code).Warn("일봉 조회 실패, 캐시로 진행")
		}
		return bars
	}

	if err := p.store.UpsertDailyBars(ctx, code, fetched); err != nil {
		p.log.WithError(err).WithField("code", code).Warn("일봉 기록 실패")
	}
	if refreshed, err := p.store.GetDailyBars(ctx, code, from); err == nil {
		return refreshed
	}
	return fetched
}

// currentPrice resolves today's price: in-session quote when the overlay
// is on, otherwise the newest bar's value over volume.
func (p *Pipeline) currentPrice(ctx context.Context, code string, bars []market.DailyBar, overlay bool) float64 {
	if overlay {
		start := p.now()
		q, err := p.terminal.Quote(ctx, code)
		p.logFetch(ctx, "kiwoom", "quote", code, start, 1, err)
		if err == nil && q.Price > 0 {
			if err := p.store.UpsertIntradayQuote(ctx, *q); err != nil {
				p.log.WithError(err).WithField("code", code).Warn("장중 시세 기록 실패")
			}
			return q.Price
		}
	}

	if len(bars) > 0 && bars[0].Volume > 0 {
		return bars[0].TradingValue / float64(bars[0].Volume)
	}
	return 0
}

// backfillCap fills missing market caps in memory.
func backfillCap(bars []market.DailyBar, cap float64) {
	for i := range bars {
		if bars[i].MarketCap <= 0 {
			bars[i].MarketCap = cap
		}
	}
}

// sectorFlowsFor projects one sector's daily series out of the market
// walk, newest first.
func sectorFlowsFor(days []sectorDay, sectorCode string) []market.SectorFlowDay {
	var out []market.SectorFlowDay
	for _, day := range days {
		for _, row := range day.Rows {
			if row.SectorCode == sectorCode {
				out = append(out, market.SectorFlowDay{
					Date:       day.Date,
					ForeignNet: row.ForeignNet,
					InstNet:    row.InstNet,
				})
				break
			}
		}
	}
	return out
}
