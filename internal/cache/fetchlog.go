package cache

import (
	"context"
	"time"
)

// Fetch log statuses
const (
	FetchOK    = "OK"
	FetchEmpty = "EMPTY"
	FetchError = "ERROR"
)

// FetchLogEntry records one outbound fetch attempt.
type FetchLogEntry struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Source     string // kiwoom / krx / consensus
	Operation  string // TR or endpoint name
	TargetKey  string // code, market, sector key
	Status     string
	RowCount   int
	ErrorText  string
}

// WriteFetchLog appends an audit row. A write failure is logged and
// swallowed so bookkeeping never fails the fetch itself.
func (s *Store) WriteFetchLog(ctx context.Context, e FetchLogEntry) {
	query := `
		INSERT INTO fetch_log (started_at, finished_at, source, operation, target_key, status, row_count, error_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query,
		e.StartedAt, e.FinishedAt, e.Source, e.Operation, e.TargetKey,
		e.Status, e.RowCount, e.ErrorText,
	)
	if err != nil {
		s.log.WithError(err).Warn("fetch_log 기록 실패")
	}
}
