package cache

import "context"

// EnsureSchema creates the cache tables if they do not exist. Safe to run
// on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS security_master (
			code            TEXT PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			market          TEXT NOT NULL DEFAULT '',
			sector_code     TEXT,
			sector_name     TEXT,
			krx_sector_name TEXT,
			current_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS security_sector_history (
			code        TEXT NOT NULL,
			asof        DATE NOT NULL,
			market      TEXT,
			sector_code TEXT,
			sector_name TEXT,
			PRIMARY KEY (code, asof)
		)`,
		`CREATE TABLE IF NOT EXISTS security_investor_daily (
			code            TEXT NOT NULL,
			trade_date      DATE NOT NULL,
			foreign_net_qty BIGINT NOT NULL DEFAULT 0,
			inst_net_qty    BIGINT NOT NULL DEFAULT 0,
			foreign_net_amt BIGINT NOT NULL DEFAULT 0,
			inst_net_amt    BIGINT NOT NULL DEFAULT 0,
			volume          BIGINT NOT NULL DEFAULT 0,
			trading_value   DOUBLE PRECISION NOT NULL DEFAULT 0,
			qty_status      TEXT NOT NULL DEFAULT 'MISSING',
			amt_status      TEXT NOT NULL DEFAULT 'MISSING',
			pair_status     TEXT NOT NULL DEFAULT 'MISSING',
			PRIMARY KEY (code, trade_date)
		)`,
		`CREATE TABLE IF NOT EXISTS security_daily_bar (
			code          TEXT NOT NULL,
			trade_date    DATE NOT NULL,
			volume        BIGINT NOT NULL DEFAULT 0,
			trading_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			market_cap    DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (code, trade_date)
		)`,
		`CREATE TABLE IF NOT EXISTS security_fundamental (
			code       TEXT PRIMARY KEY,
			asof       TIMESTAMPTZ NOT NULL,
			per        DOUBLE PRECISION,
			pbr        DOUBLE PRECISION,
			roe        DOUBLE PRECISION,
			eps        DOUBLE PRECISION,
			bps        DOUBLE PRECISION,
			market_cap DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS sector_investor_daily (
			market      TEXT NOT NULL,
			sector_code TEXT NOT NULL,
			trade_date  DATE NOT NULL,
			sector_name TEXT NOT NULL DEFAULT '',
			foreign_net DOUBLE PRECISION NOT NULL DEFAULT 0,
			inst_net    DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (market, sector_code, trade_date)
		)`,
		`CREATE TABLE IF NOT EXISTS sector_valuation_daily (
			market      TEXT NOT NULL,
			sector_code TEXT NOT NULL,
			trade_date  DATE NOT NULL,
			sector_name TEXT NOT NULL DEFAULT '',
			avg_per     DOUBLE PRECISION,
			avg_pbr     DOUBLE PRECISION,
			PRIMARY KEY (market, sector_code, trade_date)
		)`,
		`CREATE TABLE IF NOT EXISTS intraday_quote (
			code          TEXT PRIMARY KEY,
			price         DOUBLE PRECISION NOT NULL DEFAULT 0,
			volume        BIGINT NOT NULL DEFAULT 0,
			trading_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			captured_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS intraday_investor (
			code            TEXT NOT NULL,
			trade_date      DATE NOT NULL,
			foreign_net_qty BIGINT NOT NULL DEFAULT 0,
			inst_net_qty    BIGINT NOT NULL DEFAULT 0,
			foreign_net_amt BIGINT NOT NULL DEFAULT 0,
			inst_net_amt    BIGINT NOT NULL DEFAULT 0,
			captured_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (code, trade_date)
		)`,
		`CREATE TABLE IF NOT EXISTS intraday_sector (
			market      TEXT NOT NULL,
			sector_code TEXT NOT NULL,
			trade_date  DATE NOT NULL,
			sector_name TEXT NOT NULL DEFAULT '',
			foreign_net DOUBLE PRECISION NOT NULL DEFAULT 0,
			inst_net    DOUBLE PRECISION NOT NULL DEFAULT 0,
			captured_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (market, sector_code, trade_date)
		)`,
		`CREATE TABLE IF NOT EXISTS fetch_log (
			id          BIGSERIAL PRIMARY KEY,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			source      TEXT NOT NULL,
			operation   TEXT NOT NULL,
			target_key  TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			row_count   INT NOT NULL DEFAULT 0,
			error_text  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_investor_daily_date ON security_investor_daily (code, trade_date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_bar_date ON security_daily_bar (code, trade_date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_log_started ON fetch_log (started_at DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
