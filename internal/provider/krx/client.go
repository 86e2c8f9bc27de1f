package krx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/screener/internal/market"
	"github.com/wonny/screener/pkg/config"
	"github.com/wonny/screener/pkg/httputil"
	"github.com/wonny/screener/pkg/logger"
)

// KRX open-data endpoints, per market
const (
	pathBaseInfoKospi  = "/svc/apis/sto/stk_isu_base_info"
	pathBaseInfoKosdaq = "/svc/apis/sto/ksq_isu_base_info"
	pathDailyKospi     = "/svc/apis/sto/stk_bydd_trd"
	pathDailyKosdaq    = "/svc/apis/sto/ksq_bydd_trd"
)

// Client fetches the listed-security reference feed from KRX open data.
type Client struct {
	http    *httputil.Client
	baseURL string
	log     *logger.Logger
}

// New creates a KRX client. The issued key rides on every request as the
// AUTH_KEY header.
func New(cfg config.KRXConfig, log *logger.Logger) *Client {
	return &Client{
		http:    httputil.New(log).WithHeader("AUTH_KEY", cfg.AuthKey),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		log:     log,
	}
}

type outBlock struct {
	Rows []map[string]string `json:"OutBlock_1"`
}

func (c *Client) fetch(ctx context.Context, path string, basDd time.Time) ([]map[string]string, error) {
	resp, err := c.http.PostJSON(ctx, c.baseURL+path, map[string]string{
		"basDd": basDd.Format("20060102"),
	})
	if err != nil {
		return nil, fmt.Errorf("krx %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("krx %s: status %d: %s", path, resp.StatusCode, body)
	}

	var out outBlock
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("krx %s: decode: %w", path, err)
	}
	return out.Rows, nil
}

// AllSecurities fetches base info plus last close for both markets as of
// the given trading day and merges them into master rows.
func (c *Client) AllSecurities(ctx context.Context, basDd time.Time) ([]market.Security, error) {
	type feed struct {
		marketName     string
		baseInfoPath   string
		dailyTradePath string
	}
	feeds := []feed{
		{market.KOSPI, pathBaseInfoKospi, pathDailyKospi},
		{market.KOSDAQ, pathBaseInfoKosdaq, pathDailyKosdaq},
	}

	var all []market.Security
	for _, f := range feeds {
		baseRows, err := c.fetch(ctx, f.baseInfoPath, basDd)
		if err != nil {
			return nil, err
		}
		tradeRows, err := c.fetch(ctx, f.dailyTradePath, basDd)
		if err != nil {
			return nil, err
		}
		all = append(all, mergeMarket(f.marketName, baseRows, tradeRows)...)
	}
	return all, nil
}

// mergeMarket joins base info with the daily trade rows of one market.
func mergeMarket(marketName string, baseRows, tradeRows []map[string]string) []market.Security {
	secs := make(map[string]market.Security, len(baseRows))
	order := make([]string, 0, len(baseRows))

	for _, r := range baseRows {
		code := ExtractCode(r["ISU_SRT_CD"], r["ISU_CD"])
		if code == "" {
			continue
		}
		name := r["ISU_ABBRV"]
		if name == "" {
			name = r["ISU_NM"]
		}
		secs[code] = market.Security{Code: code, Name: name, Market: marketName}
		order = append(order, code)
	}

	for _, r := range tradeRows {
		code := ExtractCode(r["ISU_CD"], "")
		if code == "" {
			continue
		}
		sec, ok := secs[code]
		if !ok {
			sec = market.Security{Code: code, Name: r["ISU_NM"], Market: marketName}
			order = append(order, code)
		}
		sec.KRXSectorName = r["SECT_TP_NM"]
		sec.CurrentPrice = parsePrice(r["TDD_CLSPRC"])
		secs[code] = sec
	}

	out := make([]market.Security, 0, len(order))
	for _, code := range order {
		out = append(out, secs[code])
	}
	return out
}

// ExtractCode returns the 6-digit short code. The short field is used when
// it is already 6 digits, otherwise the code is cut out of the ISIN
// (KR7005930003 -> 005930).
func ExtractCode(short, isin string) string {
	short = strings.TrimSpace(short)
	if len(short) == 6 && isDigits(short) {
		return short
	}
	if short != "" && isin == "" {
		isin = short
	}
	isin = strings.TrimSpace(isin)
	if len(isin) == 12 && strings.HasPrefix(isin, "KR") {
		if code := isin[3:9]; isDigits(code) {
			return code
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func parsePrice(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
