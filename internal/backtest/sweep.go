package backtest

import (
	"context"
	"fmt"
	"sort"

	"factor-backtest-go/internal/config"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// SweepResult is the outcome of one strategy configuration in a sweep.
type SweepResult struct {
	Index    int
	Strategy config.Strategy
	Report   *PerformanceReport
	Err      error
}

// Sweep runs one independent backtest per strategy configuration, at most
// maxConcurrency at a time. Every run owns its engine, ledger and strategy;
// source is shared and must be safe for concurrent use. A failed run is
// reported in its result and does not stop the others. Results keep the order
// of strategies.
func Sweep(ctx context.Context, logger *zap.Logger, cfg RunConfig, source DataSource, strategies []config.Strategy, maxConcurrency int) ([]SweepResult, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no strategies to sweep")
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	p := pool.NewWithResults[SweepResult]().WithContext(ctx).WithMaxGoroutines(maxConcurrency)
	for i, sc := range strategies {
		p.Go(func(ctx context.Context) (SweepResult, error) {
			res := SweepResult{Index: i, Strategy: sc}
			strategy, err := NewStrategy(sc)
			if err != nil {
				res.Err = err
				return res, nil
			}
			engine := NewEngine(logger.Named("sweep"), cfg, source, strategy)
			res.Report, res.Err = engine.Run(ctx)
			return res, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	logger.Info("Sweep finished", zap.Int("runs", len(results)), zap.Int("failed", failed))
	return results, nil
}
