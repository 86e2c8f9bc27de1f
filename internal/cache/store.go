package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/screener/internal/market"
	"github.com/wonny/screener/pkg/logger"
)

// Store is the persistent cache over PostgreSQL.
// ⭐ SSOT: 조회 데이터 캐시 접근은 여기서만
type Store struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// New creates a cache store over the given pool.
func New(pool *pgxpool.Pool, log *logger.Logger) *Store {
	return &Store{pool: pool, log: log}
}

// UpsertSecurities writes master rows. Existing fields are kept when the
// incoming value is empty, and current price only moves to a positive value.
func (s *Store) UpsertSecurities(ctx context.Context, secs []market.Security) error {
	query := `
		INSERT INTO security_master
			(code, name, market, sector_code, sector_name, krx_sector_name, current_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (code) DO UPDATE SET
			name            = COALESCE(NULLIF(EXCLUDED.name, ''), security_master.name),
			market          = COALESCE(NULLIF(EXCLUDED.market, ''), security_master.market),
			sector_code     = COALESCE(NULLIF(EXCLUDED.sector_code, ''), security_master.sector_code),
			sector_name     = COALESCE(NULLIF(EXCLUDED.sector_name, ''), security_master.sector_name),
			krx_sector_name = COALESCE(NULLIF(EXCLUDED.krx_sector_name, ''), security_master.krx_sector_name),
			current_price   = CASE WHEN EXCLUDED.current_price > 0
			                       THEN EXCLUDED.current_price
			                       ELSE security_master.current_price END,
			updated_at      = now()
	`
	for _, sec := range secs {
		if _, err := s.pool.Exec(ctx, query,
			sec.Code, sec.Name, sec.Market, sec.SectorCode, sec.SectorName,
			sec.KRXSectorName, sec.CurrentPrice,
		); err != nil {
			return err
		}
	}
	return nil
}

// GetSecurity retrieves one master row. Returns (nil, nil) on a miss.
func (s *Store) GetSecurity(ctx context.Context, code string) (*market.Security, error) {
	query := `
		SELECT code, name, market, COALESCE(sector_code, ''), COALESCE(sector_name, ''),
		       COALESCE(krx_sector_name, ''), current_price
		FROM security_master
		WHERE code = $1
	`
	var sec market.Security
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&sec.Code, &sec.Name, &sec.Market, &sec.SectorCode, &sec.SectorName,
		&sec.KRXSectorName, &sec.CurrentPrice,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

// GetSecurities retrieves master rows for the given codes.
func (s *Store) GetSecurities(ctx context.Context, codes []string) (map[string]market.Security, error) {
	query := `
		SELECT code, name, market, COALESCE(sector_code, ''), COALESCE(sector_name, ''),
		       COALESCE(krx_sector_name, ''), current_price
		FROM security_master
		WHERE code = ANY($1)
	`
	rows, err := s.pool.Query(ctx, query, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]market.Security, len(codes))
	for rows.Next() {
		var sec market.Security
		if err := rows.Scan(
			&sec.Code, &sec.Name, &sec.Market, &sec.SectorCode, &sec.SectorName,
			&sec.KRXSectorName, &sec.CurrentPrice,
		); err != nil {
			return nil, err
		}
		out[sec.Code] = sec
	}
	return out, rows.Err()
}

// UpsertSectorHistory records the terminal sector identity of a security as
// of a date and folds it into the master row.
func (s *Store) UpsertSectorHistory(ctx context.Context, code string, asof time.Time, marketName, sectorCode, sectorName string) error {
	histQuery := `
		INSERT INTO security_sector_history (code, asof, market, sector_code, sector_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code, asof) DO UPDATE SET
			market      = COALESCE(NULLIF(EXCLUDED.market, ''), security_sector_history.market),
			sector_code = COALESCE(NULLIF(EXCLUDED.sector_code, ''), security_sector_history.sector_code),
			sector_name = COALESCE(NULLIF(EXCLUDED.sector_name, ''), security_sector_history.sector_name)
	`
	if _, err := s.pool.Exec(ctx, histQuery, code, asof, marketName, sectorCode, sectorName); err != nil {
		return err
	}

	return s.UpsertSecurities(ctx, []market.Security{{
		Code:       code,
		Market:     marketName,
		SectorCode: sectorCode,
		SectorName: sectorName,
	}})
}

// GetSectorHistory returns the most recent recorded sector identity for a
// security. Returns empty strings on a miss.
func (s *Store) GetSectorHistory(ctx context.Context, code string) (marketName, sectorCode, sectorName string, err error) {
	query := `
		SELECT COALESCE(market, ''), COALESCE(sector_code, ''), COALESCE(sector_name, '')
		FROM security_sector_history
		WHERE code = $1
		ORDER BY asof DESC
		LIMIT 1
	`
	err = s.pool.QueryRow(ctx, query, code).Scan(&marketName, &sectorCode, &sectorName)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", "", nil
	}
	return marketName, sectorCode, sectorName, err
}

// HealthSummary reports row counts per cache table.
func (s *Store) HealthSummary(ctx context.Context) (map[string]int64, error) {
	tables := []string{
		"security_master",
		"security_sector_history",
		"security_investor_daily",
		"security_daily_bar",
		"security_fundamental",
		"sector_investor_daily",
		"sector_valuation_daily",
		"intraday_quote",
		"intraday_investor",
		"intraday_sector",
		"fetch_log",
	}

	out := make(map[string]int64, len(tables))
	for _, tbl := range tables {
		var n int64
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+tbl).Scan(&n); err != nil {
			return nil, err
		}
		out[tbl] = n
	}
	return out, nil
}
