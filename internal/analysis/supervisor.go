package analysis

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/wonny/screener/pkg/logger"
)

// ErrBusy is returned when a run is requested while one is in flight.
var ErrBusy = errors.New("analysis: 이미 실행 중")

// Supervisor guards the single brokerage session: at most one pipeline run
// at a time, whether user-triggered or scheduled.
type Supervisor struct {
	pipeline *Pipeline
	log      *logger.Logger
	busy     atomic.Bool
	cron     *cron.Cron
}

// NewSupervisor wraps a pipeline in the single-slot gate.
func NewSupervisor(p *Pipeline, log *logger.Logger) *Supervisor {
	return &Supervisor{pipeline: p, log: log}
}

// TryRun executes a run unless one is already in flight.
func (s *Supervisor) TryRun(ctx context.Context, codes []string) (*Outcome, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)
	return s.pipeline.Run(ctx, codes)
}

// Busy reports whether a run is in flight.
func (s *Supervisor) Busy() bool {
	return s.busy.Load()
}

// Watch schedules periodic re-analysis. The schedule is a seconds-first
// cron expression ("0 */10 9-15 * * 1-5"). A tick that lands while a run
// is in flight is skipped silently. onDone receives every completed
// outcome.
func (s *Supervisor) Watch(ctx context.Context, schedule string, codes []string, onDone func(*Outcome)) error {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(schedule, func() {
		outcome, err := s.TryRun(ctx, codes)
		if errors.Is(err, ErrBusy) {
			s.log.Debug("이전 분석 실행 중, 이번 주기 건너뜀")
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				s.log.WithError(err).Error("주기 분석 실패")
			}
			return
		}
		if onDone != nil {
			onDone(outcome)
		}
	})
	if err != nil {
		return err
	}

	s.cron = c
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
