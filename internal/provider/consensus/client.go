package consensus

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/screener/internal/market"
	"github.com/wonny/screener/pkg/config"
	"github.com/wonny/screener/pkg/httputil"
	"github.com/wonny/screener/pkg/logger"
)

// Opinion rating buckets
const (
	OpinionStrongBuy  = "강력매수"
	OpinionBuy        = "매수"
	OpinionHold       = "보유"
	OpinionSell       = "매도"
	OpinionStrongSell = "강력매도"
)

var (
	opinionRe = regexp.MustCompile(`투자의견\s*([\d.]+)`)
	targetRe  = regexp.MustCompile(`목표주가\s*([\d,]+)`)
	epsRe     = regexp.MustCompile(`추정EPS\s*([\d,]+)`)
	perRe     = regexp.MustCompile(`추정PER\s*([\d.]+)`)
)

type cached struct {
	snap market.ConsensusSnapshot
	at   time.Time
}

// Client scrapes analyst consensus from the aggregator pages. Results live
// in memory for the configured TTL and are never persisted.
type Client struct {
	http    *httputil.Client
	baseURL string
	ttl     time.Duration
	log     *logger.Logger

	mu      sync.Mutex
	entries map[string]cached

	now func() time.Time
}

// New creates a consensus scraper.
func New(cfg config.ConsensusConfig, log *logger.Logger) *Client {
	return &Client{
		http:    httputil.New(log),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		ttl:     cfg.CacheTTL,
		log:     log,
		entries: make(map[string]cached),
		now:     time.Now,
	}
}

// Consensus returns the consensus snapshot for a code, served from the TTL
// cache when fresh. currentPrice feeds the target deviation.
func (c *Client) Consensus(ctx context.Context, code string, currentPrice float64) (*market.ConsensusSnapshot, error) {
	c.mu.Lock()
	if e, ok := c.entries[code]; ok && c.now().Sub(e.at) < c.ttl {
		c.mu.Unlock()
		snap := e.snap
		applyDeviation(&snap, currentPrice)
		return &snap, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/company/main.aspx?cmp_cd=%s", c.baseURL, code)
	resp, err := c.http.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("consensus %s: %w", code, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("consensus %s: status %d", code, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("consensus %s: parse: %w", code, err)
	}

	snap := parsePage(doc)
	snap.Code = code
	snap.FetchedAt = c.now()

	c.mu.Lock()
	c.entries[code] = cached{snap: snap, at: snap.FetchedAt}
	c.mu.Unlock()

	applyDeviation(&snap, currentPrice)
	return &snap, nil
}

func parsePage(doc *goquery.Document) market.ConsensusSnapshot {
	var snap market.ConsensusSnapshot
	text := doc.Text()

	if m := opinionRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			snap.Opinion = OpinionLabel(v)
		}
	}
	if v := matchNumber(targetRe, text); v != nil {
		snap.TargetPrice = v
	}
	if v := matchNumber(epsRe, text); v != nil {
		snap.ConsensusEPS = v
	}
	if v := matchNumber(perRe, text); v != nil {
		snap.ConsensusPER = v
	}

	// 증권사별 목표가 테이블
	var quotes []float64
	doc.Find("table.tb_consensus tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		if p := parseNumber(cells.Eq(3).Text()); p > 0 {
			quotes = append(quotes, p)
			if d := strings.TrimSpace(cells.Eq(0).Text()); d > snap.LatestReportDate {
				snap.LatestReportDate = d
			}
		}
	})

	snap.AnalystCount = len(quotes)
	if len(quotes) > 0 {
		lo, hi := TrimmedRange(quotes)
		snap.TargetPriceMin = &lo
		snap.TargetPriceMax = &hi
	}
	return snap
}

func applyDeviation(snap *market.ConsensusSnapshot, currentPrice float64) {
	if currentPrice <= 0 || snap.TargetPrice == nil {
		return
	}
	snap.CurrentPrice = &currentPrice
	dev := (*snap.TargetPrice - currentPrice) / currentPrice * 100
	snap.DeviationPct = &dev
}

// OpinionLabel maps a numeric broker rating onto the five opinion buckets.
func OpinionLabel(rating float64) string {
	switch {
	case rating >= 4.21:
		return OpinionStrongBuy
	case rating >= 3.41:
		return OpinionBuy
	case rating >= 2.61:
		return OpinionHold
	case rating >= 1.81:
		return OpinionSell
	default:
		return OpinionStrongSell
	}
}

// TrimmedRange returns the min and max of the quotes after dropping one
// lowest and one highest when at least three are present.
func TrimmedRange(quotes []float64) (lo, hi float64) {
	sorted := append([]float64(nil), quotes...)
	sort.Float64s(sorted)
	if len(sorted) >= 3 {
		sorted = sorted[1 : len(sorted)-1]
	}
	return sorted[0], sorted[len(sorted)-1]
}

func matchNumber(re *regexp.Regexp, text string) *float64 {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v := parseNumber(m[1])
	if v == 0 {
		return nil
	}
	return &v
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
