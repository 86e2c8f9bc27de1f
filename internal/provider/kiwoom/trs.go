package kiwoom

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wonny/screener/internal/market"
)

// Scale factors on TR output fields.
const (
	barValueScale      = 1_000       // opt10081 거래대금: 천원
	barMarketCapScale  = 1_000_000   // opt10081 시가총액: 백만원
	fundMarketCapScale = 100_000_000 // opt10001 시가총액: 억원
)

const maxPages = 20

func decodeRows(raw []json.RawMessage) []trRow {
	rows := make([]trRow, 0, len(raw))
	for _, r := range raw {
		var row trRow
		if err := json.Unmarshal(r, &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func marketType(marketName string) string {
	if marketName == market.KOSDAQ {
		return "1"
	}
	return "0"
}

// Fundamental fetches the fundamentals snapshot for a code (opt10001).
func (c *Client) Fundamental(ctx context.Context, code string) (*market.FundamentalSnapshot, error) {
	resp, err := c.request(ctx, wireRequest{
		Type:   msgTR,
		RqName: fmt.Sprintf("%s_%s", TRFundamental, code),
		TRCode: TRFundamental,
		Params: map[string]string{"종목코드": code},
	})
	if err != nil {
		return nil, err
	}
	rows := decodeRows(resp.Rows)
	if len(rows) == 0 {
		return nil, fmt.Errorf("kiwoom: %s %s: 빈 응답", TRFundamental, code)
	}

	r := rows[0]
	return &market.FundamentalSnapshot{
		Code:      code,
		AsOf:      time.Now(),
		PER:       r.floatPtr("PER"),
		PBR:       r.floatPtr("PBR"),
		ROE:       r.floatPtr("ROE"),
		EPS:       r.floatPtr("EPS"),
		BPS:       r.floatPtr("BPS"),
		MarketCap: r.float("시가총액") * fundMarketCapScale,
	}, nil
}

// Quote fetches the in-session price snapshot for a code (opt10001).
func (c *Client) Quote(ctx context.Context, code string) (*market.IntradayQuote, error) {
	resp, err := c.request(ctx, wireRequest{
		Type:   msgTR,
		RqName: fmt.Sprintf("%s_quote_%s", TRFundamental, code),
		TRCode: TRFundamental,
		Params: map[string]string{"종목코드": code},
	})
	if err != nil {
		return nil, err
	}
	rows := decodeRows(resp.Rows)
	if len(rows) == 0 {
		return nil, fmt.Errorf("kiwoom: %s %s: 빈 응답", TRFundamental, code)
	}

	r := rows[0]
	price := r.float("현재가")
	if price < 0 {
		price = -price // 대비 부호가 현재가에 실려 온다
	}
	return &market.IntradayQuote{
		Code:         code,
		Price:        price,
		Volume:       r.int64("거래량"),
		TradingValue: r.float("거래대금"),
		CapturedAt:   time.Now(),
	}, nil
}

// InvestorFlow fetches per-security investor flow back to from (opt10059,
// paged). amount selects the amount sub-feed, otherwise quantity. Rows come
// newest first; the matching sub-feed status is set OK on every row.
func (c *Client) InvestorFlow(ctx context.Context, code string, from time.Time, amount bool) ([]market.InvestorFlowDay, error) {
	mode := "2" // 수량
	status := func(f *market.InvestorFlowDay, foreign, inst int64) {
		f.ForeignNetQty, f.InstNetQty = foreign, inst
		f.QtyStatus, f.AmtStatus = market.StatusOK, market.StatusMissing
	}
	if amount {
		mode = "1"
		status = func(f *market.InvestorFlowDay, foreign, inst int64) {
			f.ForeignNetAmt, f.InstNetAmt = foreign, inst
			f.QtyStatus, f.AmtStatus = market.StatusMissing, market.StatusOK
		}
	}

	var flows []market.InvestorFlowDay
	next := false
	for page := 0; page < maxPages; page++ {
		resp, err := c.request(ctx, wireRequest{
			Type:   msgTR,
			RqName: fmt.Sprintf("%s_%s_m%s_p%d", TRInvestorFlow, code, mode, page),
			TRCode: TRInvestorFlow,
			Params: map[string]string{
				"일자":     time.Now().Format("20060102"),
				"종목코드":   code,
				"금액수량구분": mode,
				"매매구분":   "0",
				"단위구분":   "1",
			},
			Next: next,
		})
		if err != nil {
			return nil, err
		}

		reachedFrom := false
		for _, r := range decodeRows(resp.Rows) {
			d, ok := r.date("일자")
			if !ok {
				continue
			}
			if d.Before(from) {
				reachedFrom = true
				break
			}
			f := market.InvestorFlowDay{
				Date:         d,
				Volume:       r.int64("거래량"),
				TradingValue: r.float("누적거래대금"),
			}
			status(&f, r.int64("외국인투자자"), r.int64("기관계"))
			flows = append(flows, f)
		}

		if reachedFrom || !resp.HasNext {
			break
		}
		next = true
	}
	return flows, nil
}

// DailyBars fetches daily bars back to from (opt10081, paged). Trading
// value and market cap are rescaled to won.
func (c *Client) DailyBars(ctx context.Context, code string, from time.Time) ([]market.DailyBar, error) {
	var bars []market.DailyBar
	next := false
	for page := 0; page < maxPages; page++ {
		resp, err := c.request(ctx, wireRequest{
			Type:   msgTR,
			RqName: fmt.Sprintf("%s_%s_p%d", TRDailyBars, code, page),
			TRCode: TRDailyBars,
			Params: map[string]string{
				"종목코드":   code,
				"기준일자":   time.Now().Format("20060102"),
				"수정주가구분": "1",
			},
			Next: next,
		})
		if err != nil {
			return nil, err
		}

		reachedFrom := false
		for _, r := range decodeRows(resp.Rows) {
			d, ok := r.date("일자")
			if !ok {
				continue
			}
			if d.Before(from) {
				reachedFrom = true
				break
			}
			bars = append(bars, market.DailyBar{
				Date:         d,
				Volume:       r.int64("거래량"),
				TradingValue: r.float("거래대금") * barValueScale,
				MarketCap:    r.float("시가총액") * barMarketCapScale,
			})
		}

		if reachedFrom || !resp.HasNext {
			break
		}
		next = true
	}
	return bars, nil
}

// SectorFlow fetches per-sector investor net flow for one market and date
// (opt10051, amount basis).
func (c *Client) SectorFlow(ctx context.Context, marketName string, date time.Time) ([]market.SectorFlowRow, error) {
	resp, err := c.request(ctx, wireRequest{
		Type:   msgTR,
		RqName: fmt.Sprintf("%s_%s_%s", TRSectorFlow, marketName, date.Format("20060102")),
		TRCode: TRSectorFlow,
		Params: map[string]string{
			"시장구분":   marketType(marketName),
			"금액수량구분": "0", // 금액
			"일자":     date.Format("20060102"),
		},
	})
	if err != nil {
		return nil, err
	}

	var flows []market.SectorFlowRow
	for _, r := range decodeRows(resp.Rows) {
		code := r.str("업종코드")
		if code == "" {
			continue
		}
		flows = append(flows, market.SectorFlowRow{
			SectorCode: code,
			SectorName: r.str("업종명"),
			ForeignNet: r.float("외국인순매수"),
			InstNet:    r.float("기관순매수"),
		})
	}
	return flows, nil
}

// SectorValuation fetches sector-average multiples (opt20001).
func (c *Client) SectorValuation(ctx context.Context, marketName, sectorCode string) (*market.SectorValuation, error) {
	resp, err := c.request(ctx, wireRequest{
		Type:   msgTR,
		RqName: fmt.Sprintf("%s_%s_%s", TRSectorValuation, marketName, sectorCode),
		TRCode: TRSectorValuation,
		Params: map[string]string{
			"시장구분": marketType(marketName),
			"업종코드": sectorCode,
		},
	})
	if err != nil {
		return nil, err
	}
	rows := decodeRows(resp.Rows)
	if len(rows) == 0 {
		return nil, fmt.Errorf("kiwoom: %s %s: 빈 응답", TRSectorValuation, sectorCode)
	}

	r := rows[0]
	return &market.SectorValuation{
		SectorCode: sectorCode,
		SectorName: r.str("업종명"),
		AvgPER:     r.floatPtr("평균PER"),
		AvgPBR:     r.floatPtr("평균PBR"),
	}, nil
}

// ConditionList fetches the saved condition-search entries.
func (c *Client) ConditionList(ctx context.Context) ([]Condition, error) {
	resp, err := c.request(ctx, wireRequest{Type: msgCondList, RqName: "cond_list"})
	if err != nil {
		return nil, err
	}

	var conds []Condition
	for _, raw := range resp.Rows {
		var cond Condition
		if err := json.Unmarshal(raw, &cond); err != nil {
			continue
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

// ConditionCodes runs one saved condition search and returns matching codes.
func (c *Client) ConditionCodes(ctx context.Context, index int, name string) ([]string, error) {
	resp, err := c.request(ctx, wireRequest{
		Type:      msgCondCodes,
		RqName:    fmt.Sprintf("cond_%d", index),
		CondIndex: index,
		CondName:  name,
	})
	if err != nil {
		return nil, err
	}

	var codes []string
	for _, r := range decodeRows(resp.Rows) {
		if code := r.str("종목코드"); code != "" {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

// MasterInfo fetches the market and terminal sector name for a code.
func (c *Client) MasterInfo(ctx context.Context, code string) (marketName, sectorName string, err error) {
	resp, err := c.request(ctx, wireRequest{
		Type:   msgMasterInfo,
		RqName: "master_" + code,
		Code:   code,
	})
	if err != nil {
		return "", "", err
	}
	rows := decodeRows(resp.Rows)
	if len(rows) == 0 {
		return "", "", fmt.Errorf("kiwoom: master_info %s: 빈 응답", code)
	}

	r := rows[0]
	marketName = market.KOSPI
	if r.str("시장구분") == "10" || r.str("시장명") == market.KOSDAQ {
		marketName = market.KOSDAQ
	}
	return marketName, r.str("업종명"), nil
}
