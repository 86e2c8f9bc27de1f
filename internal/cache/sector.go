package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/screener/internal/market"
)

// UpsertSectorFlow writes per-sector flow rows for one market and date.
func (s *Store) UpsertSectorFlow(ctx context.Context, marketName string, date time.Time, flows []market.SectorFlowRow) error {
	query := `
		INSERT INTO sector_investor_daily (market, sector_code, trade_date, sector_name, foreign_net, inst_net)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market, sector_code, trade_date) DO UPDATE SET
			sector_name = COALESCE(NULLIF(EXCLUDED.sector_name, ''), sector_investor_daily.sector_name),
			foreign_net = EXCLUDED.foreign_net,
			inst_net    = EXCLUDED.inst_net
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

// GetSectorFlow returns all sector flow rows for one market and date.
func (s *Store) GetSectorFlow(ctx context.Context, marketName string, date time.Time) ([]market.SectorFlowRow, error) {
	query := `
		SELECT sector_code, sector_name, foreign_net, inst_net
		FROM sector_investor_daily
		WHERE market = $1 AND trade_date = $2
	`
	rows, err := s.pool.Query(ctx, query, marketName, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []market.SectorFlowRow
	for rows.Next() {
		var f market.SectorFlowRow
		if err := rows.Scan(&f.SectorCode, &f.SectorName, &f.ForeignNet, &f.InstNet); err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// UpsertSectorValuation writes sector-average multiples for one market and
// date.
func (s *Store) UpsertSectorValuation(ctx context.Context, marketName string, date time.Time, v market.SectorValuation) error {
	query := `
		INSERT INTO sector_valuation_daily (market, sector_code, trade_date, sector_name, avg_per, avg_pbr)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market, sector_code, trade_date) DO UPDATE SET
			sector_name = COALESCE(NULLIF(EXCLUDED.sector_name, ''), sector_valuation_daily.sector_name),
			avg_per     = EXCLUDED.avg_per,
			avg_pbr     = EXCLUDED.avg_pbr
	`
	_, err := s.pool.Exec(ctx, query,
		marketName, v.SectorCode, date, v.SectorName, v.AvgPER, v.AvgPBR,
	)
	return err
}

// GetSectorValuation returns sector multiples for one (market, sector) as
// of a date. Returns (nil, nil) on a miss.
func (s *Store) GetSectorValuation(ctx context.Context, marketName, sectorCode string, date time.Time) (*market.SectorValuation, error) {
	query := `
		SELECT sector_code, sector_name, avg_per, avg_pbr
		FROM sector_valuation_daily
		WHERE market = $1 AND sector_code = $2 AND trade_date = $3
	`
	var v market.SectorValuation
	err := s.pool.QueryRow(ctx, query, marketName, sectorCode, date).Scan(
		&v.SectorCode, &v.SectorName, &v.AvgPER, &v.AvgPBR,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
