package analysis

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/screener/internal/cache"
	"github.com/wonny/screener/internal/market"
	"github.com/wonny/screener/internal/marketcal"
	"github.com/wonny/screener/internal/provider/kiwoom"
	"github.com/wonny/screener/internal/scoring"
	"github.com/wonny/screener/pkg/logger"
)

// fakeStore is an in-memory Store with the real merge semantics.
type fakeStore struct {
	mu         sync.Mutex
	secs       map[string]market.Security
	flows      map[string][]market.InvestorFlowDay
	bars       map[string][]market.DailyBar
	funds      map[string]market.FundamentalSnapshot
	sectorFlow map[string]map[string][]market.SectorFlowRow
	valuations map[string]market.SectorValuation
	fetchLog   []cache.FetchLogEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		secs:       make(map[string]market.Security),
		flows:      make(map[string][]market.InvestorFlowDay),
		bars:       make(map[string][]market.DailyBar),
		funds:      make(map[string]market.FundamentalSnapshot),
		sectorFlow: make(map[string]map[string][]market.SectorFlowRow),
		valuations: make(map[string]market.SectorValuation),
	}
}

func dateKey(d time.Time) string { return d.Format("20060102") }

func (s *fakeStore) UpsertSecurities(_ context.Context, secs []market.Security) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sec := range secs {
		if old, ok := s.secs[sec.Code]; ok {
			sec = market.MergeSecurity(old, sec)
		}
		s.secs[sec.Code] = sec
	}
	return nil
}

func (s *fakeStore) GetSecurity(_ context.Context, code string) (*market.Security, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sec, ok := s.secs[code]; ok {
		return &sec, nil
	}
	return nil, nil
}

func (s *fakeStore) UpsertSectorHistory(ctx context.Context, code string, _ time.Time, marketName, sectorCode, sectorName string) error {
	return s.UpsertSecurities(ctx, []market.Security{{
		Code: code, Market: marketName, SectorCode: sectorCode, SectorName: sectorName,
	}})
}

func (s *fakeStore) GetInvestorDaily(_ context.Context, code string, from time.Time) ([]market.InvestorFlowDay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []market.InvestorFlowDay
	for _, f := range s.flows[code] {
		if !f.Date.Before(from) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (s *fakeStore) UpsertInvestorDaily(_ context.Context, code string, flows []market.InvestorFlowDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range flows {
		merged := false
		for i, old := range s.flows[code] {
			if old.Date.Equal(in.Date) {
				s.flows[code][i] = market.MergeFlow(old, in)
				merged = true
				break
			}
		}
		if !merged {
			s.flows[code] = append(s.flows[code], in)
		}
	}
	return nil
}

func (s *fakeStore) GetDailyBars(_ context.Context, code string, from time.Time) ([]market.DailyBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []market.DailyBar
	for _, b := range s.bars[code] {
		if !b.Date.Before(from) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (s *fakeStore) UpsertDailyBars(_ context.Context, code string, bars []market.DailyBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range bars {
		merged := false
		for i, old := range s.bars[code] {
			if old.Date.Equal(in.Date) {
				s.bars[code][i] = market.MergeBar(old, in)
				merged = true
				break
			}
		}
		if !merged {
			s.bars[code] = append(s.bars[code], in)
		}
	}
	return nil
}

func (s *fakeStore) BackfillMarketCap(_ context.Context, code string, cap float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bars[code] {
		if s.bars[code][i].MarketCap <= 0 {
			s.bars[code][i].MarketCap = cap
		}
	}
	return nil
}

func (s *fakeStore) GetLatestFundamental(_ context.Context, code string, now time.Time) (*market.FundamentalSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.funds[code]
	if !ok || now.Sub(f.AsOf) > market.FundamentalMaxAge {
		return nil, nil
	}
	return &f, nil
}

func (s *fakeStore) UpsertFundamental(_ context.Context, f market.FundamentalSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funds[f.Code] = f
	return nil
}

func (s *fakeStore) GetSectorFlow(_ context.Context, marketName string, date time.Time) ([]market.SectorFlowRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sectorFlow[marketName][dateKey(date)], nil
}

func (s *fakeStore) UpsertSectorFlow(_ context.Context, marketName string, date time.Time, flows []market.SectorFlowRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sectorFlow[marketName] == nil {
		s.sectorFlow[marketName] = make(map[string][]market.SectorFlowRow)
	}
	s.sectorFlow[marketName][dateKey(date)] = flows
	return nil
}

func (s *fakeStore) GetSectorValuation(_ context.Context, marketName, sectorCode string, date time.Time) (*market.SectorValuation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.valuations[marketName+"/"+sectorCode+"/"+dateKey(date)]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *fakeStore) UpsertSectorValuation(_ context.Context, marketName string, date time.Time, v market.SectorValuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valuations[marketName+"/"+v.SectorCode+"/"+dateKey(date)] = v
	return nil
}

func (s *fakeStore) UpsertIntradayQuote(context.Context, market.IntradayQuote) error { return nil }
func (s *fakeStore) UpsertIntradayInvestor(context.Context, string, market.InvestorFlowDay) error {
	return nil
}
func (s *fakeStore) UpsertIntradaySector(context.Context, string, time.Time, []market.SectorFlowRow) error {
	return nil
}

func (s *fakeStore) WriteFetchLog(_ context.Context, e cache.FetchLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchLog = append(s.fetchLog, e)
}

// fakeTerminal answers from optional hooks; everything else is empty.
type fakeTerminal struct {
	fundamental     func(code string) (*market.FundamentalSnapshot, error)
	dailyBars       func(code string) ([]market.DailyBar, error)
	sectorFlow      func(marketName string, date time.Time) ([]market.SectorFlowRow, error)
	sectorValuation func(marketName, sectorCode string) (*market.SectorValuation, error)
	masterInfo      func(code string) (string, string, error)
	investorFlow    func(code string, amount bool) ([]market.InvestorFlowDay, error)
}

func (t *fakeTerminal) Fundamental(_ context.Context, code string) (*market.FundamentalSnapshot, error) {
	if t.fundamental != nil {
		return t.fundamental(code)
	}
	return &market.FundamentalSnapshot{Code: code, AsOf: time.Now()}, nil
}

func (t *fakeTerminal) Quote(_ context.Context, code string) (*market.IntradayQuote, error) {
	return &market.IntradayQuote{Code: code}, nil
}

func (t *fakeTerminal) InvestorFlow(_ context.Context, code string, _ time.Time, amount bool) ([]market.InvestorFlowDay, error) {
	if t.investorFlow != nil {
		return t.investorFlow(code, amount)
	}
	return nil, nil
}

func (t *fakeTerminal) DailyBars(_ context.Context, code string, _ time.Time) ([]market.DailyBar, error) {
	if t.dailyBars != nil {
		return t.dailyBars(code)
	}
	return nil, nil
}

func (t *fakeTerminal) SectorFlow(_ context.Context, marketName string, date time.Time) ([]market.SectorFlowRow, error) {
	if t.sectorFlow != nil {
		return t.sectorFlow(marketName, date)
	}
	return nil, nil
}

func (t *fakeTerminal) SectorValuation(_ context.Context, marketName, sectorCode string) (*market.SectorValuation, error) {
	if t.sectorValuation != nil {
		return t.sectorValuation(marketName, sectorCode)
	}
	return &market.SectorValuation{SectorCode: sectorCode}, nil
}

func (t *fakeTerminal) MasterInfo(_ context.Context, code string) (string, string, error) {
	if t.masterInfo != nil {
		return t.masterInfo(code)
	}
	return market.KOSPI, "", nil
}

type fakeReference struct {
	secs []market.Security
}

func (r *fakeReference) AllSecurities(context.Context, time.Time) ([]market.Security, error) {
	return r.secs, nil
}

// recordingReporter captures progress calls.
type recordingReporter struct {
	mu       sync.Mutex
	progress []string
}

func (r *recordingReporter) Progress(_, _ int, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, label)
}
func (r *recordingReporter) Log(string) {}

// fixedNow is an evening after the close, so the latest completed trading
// day is that same Friday.
var fixedNow = time.Date(2026, 8, 28, 19, 0, 0, 0, time.UTC)

func newTestPipeline(store Store, terminal Terminal, ref Reference, rep Reporter) *Pipeline {
	p := New(store, terminal, ref, Config{Weights: scoring.DefaultWeights()}, rep, logger.NewNop())
	p.now = func() time.Time { return fixedNow }
	return p
}

func seedSectorWalk(store *fakeStore, latest time.Time, rows []market.SectorFlowRow) {
	for _, d := range marketcal.RecentTradingDays(20, latest) {
		store.UpsertSectorFlow(context.Background(), market.KOSPI, d, rows)
		store.UpsertSectorFlow(context.Background(), market.KOSDAQ, d, []market.SectorFlowRow{
			{SectorCode: "101", SectorName: "기타서비스", ForeignNet: 1, InstNet: 1},
		})
	}
}

func TestRunEndToEnd(t *testing.T) {
	store := newFakeStore()
	latest := marketcal.LatestCompletedTradingDay(fixedNow)

	per := 8.0
	avgPER := 12.0
	store.UpsertSecurities(context.Background(), []market.Security{
		{Code: "005930", Name: "삼성전자", Market: market.KOSPI, SectorCode: "013", SectorName: "전기전자"},
		{Code: "000001", Name: "테스트", Market: market.KOSPI, SectorCode: "013", SectorName: "전기전자"},
	})
	store.UpsertFundamental(context.Background(), market.FundamentalSnapshot{
		Code: "005930", AsOf: fixedNow.Add(-time.Hour), PER: &per, MarketCap: 1e12,
	})
	store.UpsertFundamental(context.Background(), market.FundamentalSnapshot{
		Code: "000001", AsOf: fixedNow.Add(-time.Hour), MarketCap: 1e10,
	})
	store.UpsertSectorValuation(context.Background(), market.KOSPI, latest, market.SectorValuation{
		SectorCode: "013", SectorName: "전기전자", AvgPER: &avgPER,
	})
	seedSectorWalk(store, latest, []market.SectorFlowRow{
		{SectorCode: "013", SectorName: "전기전자", ForeignNet: 100, InstNet: 50},
	})

	// 20 cached alternating flow days: the sufficiency predicate holds, no
	// terminal flow fetch needed
	for _, code := range []string{"005930", "000001"} {
		var flows []market.InvestorFlowDay
		for i, d := range marketcal.RecentTradingDays(20, latest) {
			qty := int64(100)
			if i%2 == 1 {
				qty = -50
			}
			flows = append(flows, market.InvestorFlowDay{
				Date: d, ForeignNetQty: qty, QtyStatus: market.StatusOK, Volume: 1000,
			})
		}
		store.UpsertInvestorDaily(context.Background(), code, flows)
	}

	rep := &recordingReporter{}
	p := newTestPipeline(store, &fakeTerminal{}, &fakeReference{}, rep)

	outcome, err := p.Run(context.Background(), []string{"005930", "000001"})
	require.NoError(t, err)
	require.Len(t, outcome.Results, 2)
	assert.Equal(t, []string{"005930", "000001"}, rep.progress)

	for _, res := range outcome.Results {
		assert.Equal(t, market.StatusDone, res.Status, res.Code)
		assert.Equal(t, res.ValueScore+res.StockSupplyScore+res.SectorSupplyScore, res.TotalScore)
	}

	// 005930 has PER below the sector average, 000001 has no multiples
	assert.Equal(t, "005930", outcome.Results[0].Code, "value edge should rank first")
	assert.Greater(t, outcome.Results[0].ValueScore, 0.0)
	assert.GreaterOrEqual(t, outcome.Results[0].TotalScore, outcome.Results[1].TotalScore)

	assert.Equal(t, int64(200), outcome.Results[0].SupplyNet5D)
	assert.Equal(t, latest, outcome.LatestDay)
}

func TestSectorSummaryRanking(t *testing.T) {
	store := newFakeStore()
	latest := marketcal.LatestCompletedTradingDay(fixedNow)

	// five days, three sectors: 5-day totals 100 / 30 / -50
	for _, d := range marketcal.RecentTradingDays(5, latest) {
		store.UpsertSectorFlow(context.Background(), market.KOSPI, d, []market.SectorFlowRow{
			{SectorCode: "B", SectorName: "중위", ForeignNet: 6, InstNet: 0},
			{SectorCode: "C", SectorName: "하위", ForeignNet: -10, InstNet: 0},
			{SectorCode: "A", SectorName: "상위", ForeignNet: 15, InstNet: 5},
		})
	}

	p := newTestPipeline(store, &fakeTerminal{}, &fakeReference{}, nil)
	outcome, err := p.Run(context.Background(), nil)
	require.NoError(t, err)

	got := outcome.SectorSummaries[market.KOSPI]
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].SectorCode)
	assert.Equal(t, 100.0, got[0].TotalNet5D)
	assert.Equal(t, "B", got[1].SectorCode)
	assert.Equal(t, 30.0, got[1].TotalNet5D)
	assert.Equal(t, "C", got[2].SectorCode)
	assert.Equal(t, -50.0, got[2].TotalNet5D)
}

func TestMidBatchCancellation(t *testing.T) {
	store := newFakeStore()
	latest := marketcal.LatestCompletedTradingDay(fixedNow)
	seedSectorWalk(store, latest, []market.SectorFlowRow{
		{SectorCode: "013", SectorName: "전기전자", ForeignNet: 1, InstNet: 1},
	})
	store.UpsertSecurities(context.Background(), []market.Security{
		{Code: "000001", Market: market.KOSPI, SectorName: "전기전자"},
		{Code: "000002", Market: market.KOSPI, SectorName: "전기전자"},
		{Code: "000003", Market: market.KOSPI, SectorName: "전기전자"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	terminal := &fakeTerminal{
		fundamental: func(code string) (*market.FundamentalSnapshot, error) {
			if code == "000002" {
				cancel() // user hits cancel mid-batch
				return nil, ctx.Err()
			}
			return &market.FundamentalSnapshot{Code: code, AsOf: fixedNow}, nil
		},
	}

	rep := &recordingReporter{}
	p := newTestPipeline(store, terminal, &fakeReference{}, rep)

	_, err := p.Run(ctx, []string{"000001", "000002", "000003"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, kiwoom.ErrTimeout, "cancellation must stay distinct from timeout")
	assert.LessOrEqual(t, len(rep.progress), 2, "no security after the cancel point may start")
}

func TestBarsTimeoutRetriesOnceThenDegrades(t *testing.T) {
	store := newFakeStore()
	latest := marketcal.LatestCompletedTradingDay(fixedNow)
	seedSectorWalk(store, latest, []market.SectorFlowRow{
		{SectorCode: "013", SectorName: "전기전자", ForeignNet: 1, InstNet: 1},
	})
	store.UpsertSecurities(context.Background(), []market.Security{
		{Code: "005930", Market: market.KOSPI, SectorCode: "013", SectorName: "전기전자"},
	})
	store.UpsertFundamental(context.Background(), market.FundamentalSnapshot{
		Code: "005930", AsOf: fixedNow.Add(-time.Hour),
	})

	barCalls := 0
	terminal := &fakeTerminal{
		dailyBars: func(string) ([]market.DailyBar, error) {
			barCalls++
			return nil, kiwoom.ErrTimeout
		},
	}

	p := newTestPipeline(store, terminal, &fakeReference{}, nil)
	outcome, err := p.Run(context.Background(), []string{"005930"})
	require.NoError(t, err)

	assert.Equal(t, 2, barCalls, "one retry after the timeout")
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, market.StatusDone, outcome.Results[0].Status, "bar timeout degrades, not fails")
}

func TestSupervisorSingleSlot(t *testing.T) {
	store := newFakeStore()
	block := make(chan struct{})
	ref := &blockingReference{block: block}

	p := newTestPipeline(store, &fakeTerminal{}, ref, nil)
	sup := NewSupervisor(p, logger.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.TryRun(context.Background(), nil)
	}()

	// wait until the first run is inside the gate
	require.Eventually(t, sup.Busy, time.Second, time.Millisecond)

	_, err := sup.TryRun(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBusy)

	close(block)
	<-done
	assert.False(t, sup.Busy())
}

func TestValuationWalkStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	latest := marketcal.LatestCompletedTradingDay(fixedNow)
	seedSectorWalk(store, latest, []market.SectorFlowRow{
		{SectorCode: "013", SectorName: "전기전자", ForeignNet: 1, InstNet: 1},
		{SectorCode: "027", SectorName: "운수장비", ForeignNet: 1, InstNet: 1},
	})
	store.UpsertSecurities(context.Background(), []market.Security{
		{Code: "000001", Market: market.KOSPI, SectorCode: "013", SectorName: "전기전자"},
		{Code: "000002", Market: market.KOSPI, SectorCode: "027", SectorName: "운수장비"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	terminal := &fakeTerminal{
		sectorValuation: func(_, sectorCode string) (*market.SectorValuation, error) {
			calls++
			cancel() // user hits cancel during the valuation walk
			return &market.SectorValuation{SectorCode: sectorCode}, nil
		},
	}

	p := newTestPipeline(store, terminal, &fakeReference{}, nil)
	_, err := p.Run(ctx, []string{"000001", "000002"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "no valuation fetch after the cancel point")
}

func TestWatchAcceptsSecondsSchedule(t *testing.T) {
	p := newTestPipeline(newFakeStore(), &fakeTerminal{}, &fakeReference{}, nil)
	sup := NewSupervisor(p, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the shipped ANALYSIS_WATCH_SCHEDULE default is seconds-first
	err := sup.Watch(ctx, "0 */10 9-15 * * 1-5", nil, nil)
	require.NoError(t, err)
}

type blockingReference struct {
	block chan struct{}
}

func (r *blockingReference) AllSecurities(ctx context.Context, _ time.Time) ([]market.Security, error) {
	select {
	case <-r.block:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}
