package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// cacheCmd groups cache store utilities
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "캐시 저장소 도구",
	Long: `로컬 캐시(PostgreSQL) 상태를 점검합니다.

Example:
  go run ./cmd/screener cache health`,
}

// cacheHealthCmd prints per-table row counts
var cacheHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "테이블별 행 수 출력",
	RunE:  runCacheHealth,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheHealthCmd)
}

func runCacheHealth(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	counts, err := a.store.HealthSummary(ctx)
	if err != nil {
		return err
	}

	tables := make([]string, 0, len(counts))
	for tbl := range counts {
		tables = append(tables, tbl)
	}
	sort.Strings(tables)

	fmt.Println("=== 캐시 상태 ===")
	for _, tbl := range tables {
		fmt.Printf("%-28s %12d\n", tbl, counts[tbl])
	}
	return nil
}
