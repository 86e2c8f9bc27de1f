package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/screener/internal/analysis"
)

// watchCmd runs the periodic background re-analysis
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "주기 분석 실행",
	Long: `cron 스케줄에 따라 분석을 반복 실행합니다.

이전 실행이 끝나지 않았으면 해당 주기는 건너뜁니다 (단일 세션 보호).

Example:
  go run ./cmd/screener watch --codes codes.txt
  go run ./cmd/screener watch --codes codes.txt --schedule "*/10 9-15 * * 1-5"`,
	RunE: runWatch,
}

var (
	watchCodesFile string
	watchSchedule  string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchCodesFile, "codes", "", "종목 코드 파일 (한 줄에 하나)")
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "", "cron 스케줄 (기본: WATCH_SCHEDULE)")
	watchCmd.MarkFlagRequired("codes")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.connectTerminal(ctx); err != nil {
		return fmt.Errorf("단말 연결: %w", err)
	}

	codes, err := readCodes(watchCodesFile)
	if err != nil {
		return err
	}

	schedule := watchSchedule
	if schedule == "" {
		schedule = a.cfg.Analysis.WatchSchedule
	}

	pipeline, err := a.newPipeline()
	if err != nil {
		return err
	}
	sup := analysis.NewSupervisor(pipeline, a.log)

	// immediate first pass, then the schedule takes over
	if outcome, err := sup.TryRun(ctx, codes); err == nil {
		printOutcome(outcome)
	} else if ctx.Err() != nil {
		return nil
	} else {
		a.log.WithError(err).Error("최초 분석 실패")
	}

	if err := sup.Watch(ctx, schedule, codes, printOutcome); err != nil {
		return fmt.Errorf("스케줄 등록: %w", err)
	}
	a.log.WithField("schedule", schedule).Info("주기 분석 시작")

	<-ctx.Done()
	fmt.Println("\n감시 종료")
	return nil
}
