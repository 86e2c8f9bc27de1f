package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/screener/internal/analysis"
	"github.com/wonny/screener/internal/market"
	"github.com/wonny/screener/internal/provider/consensus"
)

// analyzeCmd runs one full analysis batch
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "분석 1회 실행",
	Long: `종목 목록을 받아 수급/밸류 분석을 1회 실행합니다.

종목 목록은 파일(--codes) 또는 단말 조건검색(--condition)에서 가져옵니다.
Ctrl-C로 중단하면 진행 중인 배치를 즉시 멈춥니다.

Example:
  go run ./cmd/screener analyze --codes codes.txt
  go run ./cmd/screener analyze --condition 0 --top-consensus 10`,
	RunE: runAnalyze,
}

var (
	analyzeCodesFile string
	analyzeCondition int
	analyzeConsensus int
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeCodesFile, "codes", "", "종목 코드 파일 (한 줄에 하나)")
	analyzeCmd.Flags().IntVar(&analyzeCondition, "condition", -1, "단말 조건검색 인덱스")
	analyzeCmd.Flags().IntVar(&analyzeConsensus, "top-consensus", 0, "상위 N개 종목 컨센서스 조회")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
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

	codes, err := resolveCodes(ctx, a)
	if err != nil {
		return err
	}

	pipeline, err := a.newPipeline()
	if err != nil {
		return err
	}
	sup := analysis.NewSupervisor(pipeline, a.log)

	outcome, err := sup.TryRun(ctx, codes)
	if errors.Is(err, context.Canceled) {
		fmt.Println("\n분석 중단됨")
		return nil
	}
	if err != nil {
		return err
	}

	printOutcome(outcome)

	if analyzeConsensus > 0 {
		enrichConsensus(ctx, a, outcome, analyzeConsensus)
	}
	return nil
}

// resolveCodes picks the batch from the file or the condition search.
func resolveCodes(ctx context.Context, a *app) ([]string, error) {
	switch {
	case analyzeCodesFile != "":
		return readCodes(analyzeCodesFile)
	case analyzeCondition >= 0:
		conds, err := a.terminal.ConditionList(ctx)
		if err != nil {
			return nil, fmt.Errorf("조건검색 목록: %w", err)
		}
		for _, c := range conds {
			if c.Index == analyzeCondition {
				return a.terminal.ConditionCodes(ctx, c.Index, c.Name)
			}
		}
		return nil, fmt.Errorf("조건검색 없음: %d", analyzeCondition)
	default:
		return nil, fmt.Errorf("--codes 또는 --condition 필요")
	}
}

func printOutcome(outcome *analysis.Outcome) {
	fmt.Printf("\n=== 분석 결과 (기준일 %s, %d종목) ===\n",
		outcome.LatestDay.Format("2006-01-02"), len(outcome.Results))
	fmt.Printf("%-8s %-12s %8s %8s %8s %8s  %s\n",
		"코드", "종목명", "총점", "밸류", "수급", "업종", "추세")
	for _, r := range outcome.Results {
		if r.Status == market.StatusError {
			fmt.Printf("%-8s %-12s  실패: %s\n", r.Code, r.Name, r.ErrorMsg)
			continue
		}
		fmt.Printf("%-8s %-12s %8.2f %8.2f %8.2f %8.2f  %s/%s\n",
			r.Code, r.Name, r.TotalScore, r.ValueScore, r.StockSupplyScore,
			r.SectorSupplyScore, r.VolTrend, r.SupplyTrend)
	}

	for _, m := range []string{market.KOSPI, market.KOSDAQ} {
		sums := outcome.SectorSummaries[m]
		if len(sums) == 0 {
			continue
		}
		fmt.Printf("\n--- %s 업종 수급 (5일) ---\n", m)
		for i, s := range sums {
			if i >= 10 {
				break
			}
			fmt.Printf("%-12s 외인 %14.0f  기관 %14.0f  합계 %14.0f\n",
				s.SectorName, s.ForeignNet5D, s.InstNet5D, s.TotalNet5D)
		}
	}
}

// enrichConsensus fetches analyst consensus for the top-ranked results.
func enrichConsensus(ctx context.Context, a *app, outcome *analysis.Outcome, topN int) {
	client := consensus.New(a.cfg.Consensus, a.log)

	fmt.Printf("\n--- 컨센서스 (상위 %d) ---\n", topN)
	count := 0
	for _, r := range outcome.Results {
		if count >= topN {
			break
		}
		if r.Status != market.StatusDone {
			continue
		}
		count++

		snap, err := client.Consensus(ctx, r.Code, r.CurrentPrice)
		if err != nil {
			fmt.Printf("%-8s %-12s  조회 실패: %v\n", r.Code, r.Name, err)
			continue
		}
		line := fmt.Sprintf("%-8s %-12s %s", r.Code, r.Name, snap.Opinion)
		if snap.TargetPrice != nil {
			line += fmt.Sprintf("  목표가 %.0f", *snap.TargetPrice)
		}
		if snap.DeviationPct != nil {
			line += fmt.Sprintf(" (괴리 %+.1f%%)", *snap.DeviationPct)
		}
		if snap.AnalystCount > 0 {
			line += fmt.Sprintf("  [%d개사]", snap.AnalystCount)
		}
		fmt.Println(line)
	}
}
