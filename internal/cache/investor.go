package cache

import (
	"context"
	"time"

	"github.com/wonny/screener/internal/market"
)

// UpsertInvestorDaily writes confirmed flow rows. The conflict clause is
// field-wise: figures land only from a sub-feed whose status is OK, volume
// and value only when non-zero, and statuses are never demoted once OK.
// Mirrors market.MergeFlow.
func (s *Store) UpsertInvestorDaily(ctx context.Context, code string, flows []market.InvestorFlowDay) error {
	query := `
		INSERT INTO security_investor_daily
			(code, trade_date, foreign_net_qty, inst_net_qty, foreign_net_amt, inst_net_amt,
			 volume, trading_value, qty_status, amt_status, pair_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code, trade_date) DO UPDATE SET
			foreign_net_qty = CASE WHEN EXCLUDED.qty_status = 'OK'
			                       THEN EXCLUDED.foreign_net_qty
			                       ELSE security_investor_daily.foreign_net_qty END,
			inst_net_qty    = CASE WHEN EXCLUDED.qty_status = 'OK'
			                       THEN EXCLUDED.inst_net_qty
			                       ELSE security_investor_daily.inst_net_qty END,
			foreign_net_amt = CASE WHEN EXCLUDED.amt_status = 'OK'
			                       THEN EXCLUDED.foreign_net_amt
			                       ELSE security_investor_daily.foreign_net_amt END,
			inst_net_amt    = CASE WHEN EXCLUDED.amt_status = 'OK'
			                       THEN EXCLUDED.inst_net_amt
			                       ELSE security_investor_daily.inst_net_amt END,
			volume          = CASE WHEN EXCLUDED.volume <> 0
			                       THEN EXCLUDED.volume
			                       ELSE security_investor_daily.volume END,
			trading_value   = CASE WHEN EXCLUDED.trading_value <> 0
			                       THEN EXCLUDED.trading_value
			                       ELSE security_investor_daily.trading_value END,
			qty_status      = CASE WHEN EXCLUDED.qty_status = 'OK' OR security_investor_daily.qty_status = 'OK'
			                       THEN 'OK' ELSE security_investor_daily.qty_status END,
			amt_status      = CASE WHEN EXCLUDED.amt_status = 'OK' OR security_investor_daily.amt_status = 'OK'
			                       THEN 'OK' ELSE security_investor_daily.amt_status END,
			pair_status     = CASE
				WHEN (EXCLUDED.qty_status = 'OK' OR security_investor_daily.qty_status = 'OK')
				 AND (EXCLUDED.amt_status = 'OK' OR security_investor_daily.amt_status = 'OK')
					THEN 'COMPLETE'
				WHEN (EXCLUDED.qty_status = 'OK' OR security_investor_daily.qty_status = 'OK')
				  OR (EXCLUDED.amt_status = 'OK' OR security_investor_daily.amt_status = 'OK')
					THEN 'PARTIAL'
				ELSE 'MISSING' END
	`
	for _, f := range flows {
		if _, err := s.pool.Exec(ctx, query,
			code, f.Date,
			f.ForeignNetQty, f.InstNetQty, f.ForeignNetAmt, f.InstNetAmt,
			f.Volume, f.TradingValue,
			string(f.QtyStatus), string(f.AmtStatus), string(f.PairStatus()),
		); err != nil {
			return err
		}
	}
	return nil
}

// GetInvestorDaily returns confirmed flow rows on or after from, newest
// first.
func (s *Store) GetInvestorDaily(ctx context.Context, code string, from time.Time) ([]market.InvestorFlowDay, error) {
	query := `
		SELECT trade_date, foreign_net_qty, inst_net_qty, foreign_net_amt, inst_net_amt,
		       volume, trading_value, qty_status, amt_status
		FROM security_investor_daily
		WHERE code = $1 AND trade_date >= $2
		ORDER BY trade_date DESC
	`
	rows, err := s.pool.Query(ctx, query, code, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []market.InvestorFlowDay
	for rows.Next() {
		var f market.InvestorFlowDay
		var qty, amt string
		if err := rows.Scan(
			&f.Date, &f.ForeignNetQty, &f.InstNetQty, &f.ForeignNetAmt, &f.InstNetAmt,
			&f.Volume, &f.TradingValue, &qty, &amt,
		); err != nil {
			return nil, err
		}
		f.QtyStatus = market.FieldStatus(qty)
		f.AmtStatus = market.FieldStatus(amt)
		flows = append(flows, f)
	}
	return flows, rows.Err()
}
