package cache

import (
	"context"
	"time"

	"github.com/wonny/screener/internal/market"
)

// UpsertDailyBars writes confirmed bars. Last write wins, except a positive
// cached market cap survives a non-positive incoming one. Mirrors
// market.MergeBar.
func (s *Store) UpsertDailyBars(ctx context.Context, code string, bars []market.DailyBar) error {
	query := `
		INSERT INTO security_daily_bar (code, trade_date, volume, trading_value, market_cap)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code, trade_date) DO UPDATE SET
			volume        = EXCLUDED.volume,
			trading_value = EXCLUDED.trading_value,
			market_cap    = CASE WHEN EXCLUDED.market_cap > 0
			                     THEN EXCLUDED.market_cap
			                     ELSE security_daily_bar.market_cap END
	`
	for _, b := range bars {
		if _, err := s.pool.Exec(ctx, query,
			code, b.Date, b.Volume, b.TradingValue, b.MarketCap,
		); err != nil {
			return err
		}
	}
	return nil
}

// GetDailyBars returns confirmed bars on or after from, newest first.
func (s *Store) GetDailyBars(ctx context.Context, code string, from time.Time) ([]market.DailyBar, error) {
	query := `
		SELECT trade_date, volume, trading_value, market_cap
		FROM security_daily_bar
		WHERE code = $1 AND trade_date >= $2
		ORDER BY trade_date DESC
	`
	rows, err := s.pool.Query(ctx, query, code, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []market.DailyBar
	for rows.Next() {
		var b market.DailyBar
		if err := rows.Scan(&b.Date, &b.Volume, &b.TradingValue, &b.MarketCap); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// BackfillMarketCap sets the market cap of bars that have none from a
// fundamentals figure. Positive caps already present are untouched.
func (s *Store) BackfillMarketCap(ctx context.Context, code string, cap float64) error {
	if cap <= 0 {
		return nil
	}
	query := `
		UPDATE security_daily_bar
		SET market_cap = $2
		WHERE code = $1 AND market_cap <= 0
	`
	_, err := s.pool.Exec(ctx, query, code, cap)
	return err
}

// LatestBarDate returns the newest confirmed bar date for a code, or the
// zero time when none exist.
func (s *Store) LatestBarDate(ctx context.Context, code string) (time.Time, error) {
	query := `SELECT COALESCE(MAX(trade_date), 'epoch'::date) FROM security_daily_bar WHERE code = $1`
	var d time.Time
	if err := s.pool.QueryRow(ctx, query, code).Scan(&d); err != nil {
		return time.Time{}, err
	}
	if d.Year() <= 1970 {
		return time.Time{}, nil
	}
	return d, nil
}
