package commands

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wonny/screener/internal/analysis"
	"github.com/wonny/screener/internal/cache"
	"github.com/wonny/screener/internal/provider/kiwoom"
	"github.com/wonny/screener/internal/provider/krx"
	"github.com/wonny/screener/internal/scoring"
	"github.com/wonny/screener/pkg/config"
	"github.com/wonny/screener/pkg/database"
	"github.com/wonny/screener/pkg/logger"
)

// app bundles the wired dependencies of one CLI invocation.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	store    *cache.Store
	terminal *kiwoom.Client
	krx      *krx.Client
}

// bootstrap loads config and connects the cache store. The terminal is
// connected separately because cache-only commands do not need it.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	store := cache.New(db.Pool, log)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}

	return &app{
		cfg:   cfg,
		log:   log,
		db:    db,
		store: store,
		krx:   krx.New(cfg.KRX, log),
	}, nil
}

// connectTerminal dials the bridge and logs the session in.
func (a *app) connectTerminal(ctx context.Context) error {
	a.terminal = kiwoom.New(a.cfg.Kiwoom, a.log)
	if err := a.terminal.Connect(ctx); err != nil {
		return err
	}
	return a.terminal.Login(ctx)
}

func (a *app) close() {
	if a.terminal != nil {
		a.terminal.Close()
	}
	a.db.Close()
}

// newPipeline wires the analysis pipeline with the configured weights.
func (a *app) newPipeline() (*analysis.Pipeline, error) {
	weights := scoring.DefaultWeights()
	if a.cfg.Analysis.WeightsPath != "" {
		var err error
		if weights, err = scoring.LoadWeights(a.cfg.Analysis.WeightsPath); err != nil {
			return nil, err
		}
	}

	return analysis.New(
		a.store,
		a.terminal,
		a.krx,
		analysis.Config{
			Weights:         weights,
			IntradayRefresh: a.cfg.Analysis.IntradayRefresh,
		},
		analysis.NewLoggerReporter(a.log),
		a.log,
	), nil
}

// readCodes pulls 6-digit security codes out of a code list file. Plain
// one-code-per-line files and broker CSV exports (any column, quoted
// fields, "A005930" 형태 포함) are both accepted; # comments allowed,
// duplicates dropped in order.
func readCodes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.Comment = '#'
	r.TrimLeadingSpace = true

	var codes []string
	seen := make(map[string]bool)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, field := range record {
			code, ok := extractCode(field)
			if !ok || seen[code] {
				continue
			}
			seen[code] = true
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("종목 코드 없음: %s", path)
	}
	return codes, nil
}

// extractCode finds the first digit run of exactly six in one field.
func extractCode(field string) (string, bool) {
	s := strings.TrimSpace(field)
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] >= '0' && s[i] <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start == 6 {
			return s[start:i], true
		}
		start = -1
	}
	return "", false
}
