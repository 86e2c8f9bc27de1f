package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/screener/internal/market"
)

// Intraday snapshots are provisional. They overwrite unconditionally and
// are replaced on the next capture rather than merged.

// UpsertIntradayQuote writes the latest in-session quote for a code.
func (s *Store) UpsertIntradayQuote(ctx context.Context, q market.IntradayQuote) error {
	query := `
		INSERT INTO intraday_quote (code, price, volume, trading_value, captured_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			price         = EXCLUDED.price,
			volume        = EXCLUDED.volume,
			trading_value = EXCLUDED.trading_value,
			captured_at   = EXCLUDED.captured_at
	`
	_, err := s.pool.Exec(ctx, query, q.Code, q.Price, q.Volume, q.TradingValue, q.CapturedAt)
	return err
}

// GetIntradayQuote returns the latest in-session quote, or (nil, nil) when
// none was captured.
func (s *Store) GetIntradayQuote(ctx context.Context, code string) (*market.IntradayQuote, error) {
	query := `
		SELECT code, price, volume, trading_value, captured_at
		FROM intraday_quote
		WHERE code = $1
	`
	var q market.IntradayQuote
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&q.Code, &q.Price, &q.Volume, &q.TradingValue, &q.CapturedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// UpsertIntradayInvestor writes today's provisional per-security flow.
func (s *Store) UpsertIntradayInvestor(ctx context.Context, code string, f market.InvestorFlowDay) error {
	query := `
		INSERT INTO intraday_investor
			(code, trade_date, foreign_net_qty, inst_net_qty, foreign_net_amt, inst_net_amt, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (code, trade_date) DO UPDATE SET
			foreign_net_qty = EXCLUDED.foreign_net_qty,
			inst_net_qty    = EXCLUDED.inst_net_qty,
			foreign_net_amt = EXCLUDED.foreign_net_amt,
			inst_net_amt    = EXCLUDED.inst_net_amt,
			captured_at     = now()
	`
	_, err := s.pool.Exec(ctx, query,
		code, f.Date, f.ForeignNetQty, f.InstNetQty, f.ForeignNetAmt, f.InstNetAmt,
	)
	return err
}

// UpsertIntradaySector writes today's provisional per-sector flow rows.
func (s *Store) UpsertIntradaySector(ctx context.Context, marketName string, date time.Time, flows []market.SectorFlowRow) error {
	query := `
		INSERT INTO intraday_sector (market, sector_code, trade_date, sector_name, foreign_net, inst_net, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (market, sector_code, trade_date) DO UPDATE SET
			sector_name = COALESCE(NULLIF(EXCLUDED.sector_name, ''), intraday_sector.sector_name),
			foreign_net = EXCLUDED.foreign_net,
			inst_net    = EXCLUDED.inst_net,
			captured_at = now()
	`
	for _, f := range flows {
		if _, err := s.pool.Exec(ctx, query,
			marketName, f.SectorCode, date, f.SectorName, f.ForeignNet, f.InstNet,
		); err != nil {
			return err
		}
	}
	return nil
}
