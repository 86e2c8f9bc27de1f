package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/screener/internal/market"
)

// UpsertFundamental writes the fundamentals snapshot for a code.
func (s *Store) UpsertFundamental(ctx context.Context, f market.FundamentalSnapshot) error {
	query := `
		INSERT INTO security_fundamental (code, asof, per, pbr, roe, eps, bps, market_cap)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE SET
			asof       = EXCLUDED.asof,
			per        = EXCLUDED.per,
			pbr        = EXCLUDED.pbr,
			roe        = EXCLUDED.roe,
			eps        = EXCLUDED.eps,
			bps        = EXCLUDED.bps,
			market_cap = EXCLUDED.market_cap
	`
	_, err := s.pool.Exec(ctx, query,
		f.Code, f.AsOf, f.PER, f.PBR, f.ROE, f.EPS, f.BPS, f.MarketCap,
	)
	return err
}

// GetLatestFundamental returns the cached snapshot when it is still within
// the freshness window relative to now. Returns (nil, nil) on a miss or a
// stale row.
func (s *Store) GetLatestFundamental(ctx context.Context, code string, now time.Time) (*market.FundamentalSnapshot, error) {
	query := `
		SELECT code, asof, per, pbr, roe, eps, bps, market_cap
		FROM security_fundamental
		WHERE code = $1
	`
	var f market.FundamentalSnapshot
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&f.Code, &f.AsOf, &f.PER, &f.PBR, &f.ROE, &f.EPS, &f.BPS, &f.MarketCap,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if now.Sub(f.AsOf) > market.FundamentalMaxAge {
		return nil, nil
	}
	return &f, nil
}
