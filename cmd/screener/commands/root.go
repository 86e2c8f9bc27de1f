package commands

import (
	"github.com/spf13/cobra"
)

var verbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "screener",
	Short: "국내주식 수급/밸류 스크리너",
	Long: `Screener CLI

키움 단말 브릿지와 KRX 참조 데이터를 수집/캐시하고
수급·밸류에이션 기반 점수를 산출합니다.

Usage:
  go run ./cmd/screener [command]

Examples:
  go run ./cmd/screener analyze --codes codes.txt
  go run ./cmd/screener watch --codes codes.txt
  go run ./cmd/screener cache health`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
