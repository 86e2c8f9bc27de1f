package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/screener/internal/cache"
	"github.com/wonny/screener/internal/market"
	"github.com/wonny/screener/internal/marketcal"
	"github.com/wonny/screener/internal/provider/kiwoom"
	"github.com/wonny/screener/internal/scoring"
	"github.com/wonny/screener/pkg/logger"
)

// Walk and retry bounds
const (
	targetSectorFlowDates = 20
	maxSectorFlowTries    = 45
	barFetchRetries       = 1
)

// Market session hours (KST)
const (
	marketOpenMinute  = 9 * 60
	marketCloseMinute = 15*60 + 40
)

// Store is the cache surface the pipeline needs. *cache.Store satisfies it.
type Store interface {
	UpsertSecurities(ctx context.Context, secs []market.Security) error
	GetSecurity(ctx context.Context, code string) (*market.Security, error)
	UpsertSectorHistory(ctx context.Context, code string, asof time.Time, marketName, sectorCode, sectorName string) error

	GetInvestorDaily(ctx context.Context, code string, from time.Time) ([]market.InvestorFlowDay, error)
	UpsertInvestorDaily(ctx context.Context, code string, flows []market.InvestorFlowDay) error

	GetDailyBars(ctx context.Context, code string, from time.Time) ([]market.DailyBar, error)
	UpsertDailyBars(ctx context.Context, code string, bars []market.DailyBar) error
	BackfillMarketCap(ctx context.Context, code string, cap float64) error

	GetLatestFundamental(ctx context.Context, code string, now time.Time) (*market.FundamentalSnapshot, error)
	UpsertFundamental(ctx context.Context, f market.FundamentalSnapshot) error

	GetSectorFlow(ctx context.Context, marketName string, date time.Time) ([]market.SectorFlowRow, error)
	UpsertSectorFlow(ctx context.Context, marketName string, date time.Time, flows []market.SectorFlowRow) error
	GetSectorValuation(ctx context.Context, marketName, sectorCode string, date time.Time) (*market.SectorValuation, error)
	UpsertSectorValuation(ctx context.Context, marketName string, date time.Time, v market.SectorValuation) error

	UpsertIntradayQuote(ctx context.Context, q market.IntradayQuote) error
	UpsertIntradayInvestor(ctx context.Context, code string, f market.InvestorFlowDay) error
	UpsertIntradaySector(ctx context.Context, marketName string, date time.Time, flows []market.SectorFlowRow) error

	WriteFetchLog(ctx context.Context, e cache.FetchLogEntry)
}

// Terminal is the brokerage feed surface. *kiwoom.Client satisfies it.
type Terminal interface {
	Fundamental(ctx context.Context, code string) (*market.FundamentalSnapshot, error)
	Quote(ctx context.Context, code string) (*market.IntradayQuote, error)
	InvestorFlow(ctx context.Context, code string, from time.Time, amount bool) ([]market.InvestorFlowDay, error)
	DailyBars(ctx context.Context, code string, from time.Time) ([]market.DailyBar, error)
	SectorFlow(ctx context.Context, marketName string, date time.Time) ([]market.SectorFlowRow, error)
	SectorValuation(ctx context.Context, marketName, sectorCode string) (*market.SectorValuation, error)
	MasterInfo(ctx context.Context, code string) (marketName, sectorName string, err error)
}

// Reference is the listed-security reference feed. *krx.Client satisfies it.
type Reference interface {
	AllSecurities(ctx context.Context, basDd time.Time) ([]market.Security, error)
}

// Config tunes one pipeline instance.
type Config struct {
	Weights         scoring.Weights
	IntradayRefresh bool
}

// Outcome is the product of one run.
type Outcome struct {
	Results         []market.AnalysisResult
	SectorSummaries map[string][]market.SectorSummary
	LatestDay       time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Pipeline reconciles the cache against the upstream feeds and scores a
// list of securities. One run at a time; see Supervisor.
type Pipeline struct {
	store     Store
	terminal  Terminal
	reference Reference
	cfg       Config
	reporter  Reporter
	log       *logger.Logger

	now func() time.Time
}

// New wires a pipeline. A nil reporter is replaced with a no-op.
func New(store Store, terminal Terminal, reference Reference, cfg Config, rep Reporter, log *logger.Logger) *Pipeline {
	if rep == nil {
		rep = nopReporter{}
	}
	return &Pipeline{
		store:     store,
		terminal:  terminal,
		reference: reference,
		cfg:       cfg,
		reporter:  rep,
		log:       log,
		now:       time.Now,
	}
}

// sectorDay is one dated set of per-sector flow rows.
type sectorDay struct {
	Date time.Time
	Rows []market.SectorFlowRow
}

// sectorSeries holds the flow walk result per market, newest first.
type sectorSeries map[string][]sectorDay

var markets = []string{market.KOSPI, market.KOSDAQ}

// Run executes the full pipeline over the given codes.
func (p *Pipeline) Run(ctx context.Context, codes []string) (*Outcome, error) {
	started := p.now()

	// 1. trading-day window
	latest := marketcal.LatestCompletedTradingDay(p.now())
	window60 := marketcal.RecentTradingDays(60, latest)
	window20 := marketcal.RecentTradingDays(targetSectorFlowDates, latest)
	from60 := window60[len(window60)-1]
	from20 := window20[len(window20)-1]
	p.reporter.Log(fmt.Sprintf("분석 기준일 %s", marketcal.DisplayDate(latest)))

	// 2. security master
	if err := p.refreshMaster(ctx, latest); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.WithError(err).Warn("종목 마스터 갱신 실패, 캐시로 진행")
	}

	// 3. terminal sector identity
	secs, err := p.resolveSecurities(ctx, codes)
	if err != nil {
		return nil, err
	}

	// 4. sector-flow walk
	series, err := p.buildSectorSeries(ctx, latest)
	if err != nil {
		return nil, err
	}

	// 5. intraday overlay
	overlay := p.intradayActive()
	if overlay {
		p.overlaySectorSeries(ctx, series)
	}

	// 6. sector valuation per needed key
	nameIndex := buildNameIndex(series)
	valuations := p.resolveValuations(ctx, secs, nameIndex, latest)

	// 7. per-security loop
	results := make([]market.AnalysisResult, 0, len(codes))
	for i, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.reporter.Progress(i+1, len(codes), code)

		sec := secs[code]
		res, err := p.analyzeOne(ctx, sec, series, nameIndex, valuations, from20, from60, overlay)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.log.WithError(err).WithField("code", code).Warn("종목 분석 실패")
			results = append(results, market.AnalysisResult{
				Code:     code,
				Name:     sec.Name,
				Market:   sec.Market,
				Status:   market.StatusError,
				ErrorMsg: err.Error(),
			})
			continue
		}
		results = append(results, *res)
	}

	// 8. per-market sector summaries
	summaries := make(map[string][]market.SectorSummary, len(markets))
	for _, m := range markets {
		summaries[m] = summarizeSectors(m, series[m])
	}

	// 9. rank by total score
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TotalScore > results[j].TotalScore
	})

	return &Outcome{
		Results:         results,
		SectorSummaries: summaries,
		LatestDay:       latest,
		StartedAt:       started,
		FinishedAt:      p.now(),
	}, nil
}

// refreshMaster pulls the reference feed and folds it into the master.
func (p *Pipeline) refreshMaster(ctx context.Context, latest time.Time) error {
	start := p.now()
	secs, err := p.reference.AllSecurities(ctx, latest)
	p.logFetch(ctx, "krx", "all_securities", marketcal.APIDate(latest), start, len(secs), err)
	if err != nil {
		return err
	}
	if err := p.store.UpsertSecurities(ctx, secs); err != nil {
		p.log.WithError(err).Warn("종목 마스터 캐시 기록 실패")
	}
	return nil
}

// resolveSecurities loads master rows for the batch and fills missing
// terminal sector identity.
func (p *Pipeline) resolveSecurities(ctx context.Context, codes []string) (map[string]market.Security, error) {
	secs := make(map[string]market.Security, len(codes))
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var sec market.Security
		if cached, err := p.store.GetSecurity(ctx, code); err != nil {
			p.log.WithError(err).WithField("code", code).Warn("종목 마스터 조회 실패")
			sec = market.Security{Code: code}
		} else if cached != nil {
			sec = *cached
		} else {
			sec = market.Security{Code: code}
		}

		if sec.SectorName == "" || sec.Market == "" {
			start := p.now()
			marketName, sectorName, err := p.terminal.MasterInfo(ctx, code)
			p.logFetch(ctx, "kiwoom", "master_info", code, start, 1, err)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				p.log.WithError(err).WithField("code", code).Warn("업종 식별 실패")
			} else {
				sec = market.MergeSecurity(sec, market.Security{
					Code: code, Market: marketName, SectorName: sectorName,
				})
				if err := p.store.UpsertSectorHistory(ctx, code, p.today(), marketName, "", sectorName); err != nil {
					p.log.WithError(err).WithField("code", code).Warn("업종 이력 기록 실패")
				}
			}
		}
		if sec.Market == "" {
			sec.Market = market.KOSPI
		}
		secs[code] = sec
	}
	return secs, nil
}

// buildSectorSeries walks backward from the latest completed trading day
// until enough dated rows are collected. A date where both markets come
// back empty is skipped without counting.
func (p *Pipeline) buildSectorSeries(ctx context.Context, latest time.Time) (sectorSeries, error) {
	series := make(sectorSeries, len(markets))
	collected := 0
	d := latest

	for tries := 0; tries < maxSectorFlowTries && collected < targetSectorFlowDates; tries++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dayHasData := false
		for _, m := range markets {
			rows, err := p.sectorFlowFor(ctx, m, d)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				p.log.WithError(err).WithFields(map[string]interface{}{
					"market": m, "date": marketcal.APIDate(d),
				}).Warn("업종 수급 조회 실패")
				continue
			}
			if len(rows) > 0 {
				dayHasData = true
				series[m] = append(series[m], sectorDay{Date: d, Rows: rows})
			}
		}
		if dayHasData {
			collected++
		}
		d = marketcal.PreviousTradingDay(d.AddDate(0, 0, -1))
	}

	if collected < targetSectorFlowDates {
		p.log.WithField("collected", collected).Warn("업종 수급 일수 부족, 수집분으로 진행")
	}
	return series, nil
}

// sectorFlowFor serves one (market, date) cache-first with write-through.
func (p *Pipeline) sectorFlowFor(ctx context.Context, marketName string, date time.Time) ([]market.SectorFlowRow, error) {
	if rows, err := p.store.GetSectorFlow(ctx, marketName, date); err == nil && len(rows) > 0 {
		return rows, nil
	} else if err != nil {
		p.log.WithError(err).Warn("업종 수급 캐시 조회 실패")
	}

	start := p.now()
	rows, err := p.terminal.SectorFlow(ctx, marketName, date)
	p.logFetch(ctx, "kiwoom", "sector_flow", marketName+"/"+marketcal.APIDate(date), start, len(rows), err)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		if err := p.store.UpsertSectorFlow(ctx, marketName, date, rows); err != nil {
			p.log.WithError(err).Warn("업종 수급 캐시 기록 실패")
		}
	}
	return rows, nil
}

// overlaySectorSeries replaces today's row in each market series with the
// provisional in-session figures, then restores descending date order.
func (p *Pipeline) overlaySectorSeries(ctx context.Context, series sectorSeries) {
	today := p.today()
	for _, m := range markets {
		start := p.now()
		rows, err := p.terminal.SectorFlow(ctx, m, today)
		p.logFetch(ctx, "kiwoom", "sector_flow_intraday", m+"/"+marketcal.APIDate(today), start, len(rows), err)
		if err != nil || len(rows) == 0 {
			continue
		}
		if err := p.store.UpsertIntradaySector(ctx, m, today, rows); err != nil {
			p.log.WithError(err).Warn("장중 업종 수급 기록 실패")
		}
		series[m] = replaceDay(series[m], sectorDay{Date: today, Rows: rows})
	}
}

// replaceDay upserts a dated entry by date then re-sorts newest first.
func replaceDay(days []sectorDay, d sectorDay) []sectorDay {
	replaced := false
	for i := range days {
		if days[i].Date.Equal(d.Date) {
			days[i] = d
			replaced = true
			break
		}
	}
	if !replaced {
		days = append(days, d)
	}
	sort.SliceStable(days, func(i, j int) bool { return days[i].Date.After(days[j].Date) })
	return days
}

// buildNameIndex maps (market, normalized sector name) onto the terminal
// sector code, from whatever the flow walk delivered.
func buildNameIndex(series sectorSeries) map[market.SectorNameKey]string {
	index := make(map[market.SectorNameKey]string)
	for m, days := range series {
		for _, day := range days {
			for _, row := range day.Rows {
				if row.SectorName == "" || row.SectorCode == "" {
					continue
				}
				key := market.NewSectorNameKey(m, row.SectorName)
				if _, ok := index[key]; !ok {
					index[key] = row.SectorCode
				}
			}
		}
	}
	return index
}

// sectorKeyFor resolves the composite sector key of one security, by code
// when the master has it, otherwise by normalized name.
func sectorKeyFor(sec market.Security, nameIndex map[market.SectorNameKey]string) (market.SectorKey, bool) {
	if sec.SectorCode != "" {
		return market.NewSectorKey(sec.Market, sec.SectorCode), true
	}
	for _, name := range []string{sec.SectorName, sec.KRXSectorName} {
		if name == "" {
			continue
		}
		if code, ok := nameIndex[market.NewSectorNameKey(sec.Market, name)]; ok {
			return market.NewSectorKey(sec.Market, code), true
		}
	}
	return market.SectorKey{}, false
}

// resolveValuations fetches sector multiples for every key the batch
// needs, cache-first against the latest completed trading day.
func (p *Pipeline) resolveValuations(ctx context.Context, secs map[string]market.Security, nameIndex map[market.SectorNameKey]string, latest time.Time) map[market.SectorKey]*market.SectorValuation {
	out := make(map[market.SectorKey]*market.SectorValuation)
	for _, sec := range secs {
		if ctx.Err() != nil {
			return out
		}
		key, ok := sectorKeyFor(sec, nameIndex)
		if !ok {
			continue
		}
		if _, seen := out[key]; seen {
			continue
		}

		if v, err := p.store.GetSectorValuation(ctx, key.Market, key.Code, latest); err == nil && v != nil {
			out[key] = v
			continue
		} else if err != nil {
			p.log.WithError(err).Warn("업종 밸류에이션 캐시 조회 실패")
		}

		start := p.now()
		v, err := p.terminal.SectorValuation(ctx, key.Market, key.Code)
		p.logFetch(ctx, "kiwoom", "sector_valuation", key.Market+"/"+key.Code, start, 1, err)
		if err != nil {
			if ctx.Err() != nil {
				return out
			}
			p.log.WithError(err).WithField("sector", key.Code).Warn("업종 밸류에이션 조회 실패")
			continue
		}
		if err := p.store.UpsertSectorValuation(ctx, key.Market, latest, *v); err != nil {
			p.log.WithError(err).Warn("업종 밸류에이션 기록 실패")
		}
		out[key] = v
	}
	return out
}

// summarizeSectors aggregates the newest five dated rows of one market
// into per-sector totals, ranked by combined net flow.
func summarizeSectors(marketName string, days []sectorDay) []market.SectorSummary {
	bySector := make(map[string]*market.SectorSummary)
	for _, day := range window(days, 5) {
		for _, row := range day.Rows {
			s, ok := bySector[row.SectorCode]
			if !ok {
				s = &market.SectorSummary{
					Market:     marketName,
					SectorCode: row.SectorCode,
					SectorName: row.SectorName,
				}
				bySector[row.SectorCode] = s
			}
			s.ForeignNet5D += row.ForeignNet
			s.InstNet5D += row.InstNet
		}
	}

	out := make([]market.SectorSummary, 0, len(bySector))
	for _, s := range bySector {
		s.TotalNet5D = s.ForeignNet5D + s.InstNet5D
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalNet5D > out[j].TotalNet5D })
	return out
}

// intradayActive reports whether the in-session overlay applies right now.
func (p *Pipeline) intradayActive() bool {
	if !p.cfg.IntradayRefresh {
		return false
	}
	now := p.now()
	if !marketcal.IsTradingDay(now) {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	return minute >= marketOpenMinute && minute <= marketCloseMinute
}

func (p *Pipeline) today() time.Time {
	now := p.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// logFetch appends a fetch audit row. Never fails the caller.
func (p *Pipeline) logFetch(ctx context.Context, source, op, key string, start time.Time, rowCount int, err error) {
	e := cache.FetchLogEntry{
		StartedAt:  start,
		FinishedAt: p.now(),
		Source:     source,
		Operation:  op,
		TargetKey:  key,
		RowCount:   rowCount,
		Status:     cache.FetchOK,
	}
	if err != nil {
		e.Status = cache.FetchError
		e.ErrorText = err.Error()
		e.RowCount = 0
	} else if rowCount == 0 {
		e.Status = cache.FetchEmpty
	}
	p.store.WriteFetchLog(ctx, e)
}

func window[T any](rows []T, n int) []T {
	if len(rows) < n {
		return rows
	}
	return rows[:n]
}

// errTimeout reports whether err is a terminal TR timeout.
func errTimeout(err error) bool {
	return errors.Is(err, kiwoom.ErrTimeout)
}
