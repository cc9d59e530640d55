package main

import (
	"factor-backtest-go/internal/backtest"
	"factor-backtest-go/internal/config"
	"factor-backtest-go/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSweepCmd(a *app) *cobra.Command {
	var (
		lookbacks   []int
		ratios      []float64
		concurrency int
		source      string
		save        bool
	)
	cmd := &cobra.Command{
		Use:     "sweep",
		Short:   "Run the momentum strategy over a grid of parameters",
		Example: `  backtest sweep --lookbacks 5,10,20 --ratios 0.1,0.2 --concurrency 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCfg, err := backtest.RunConfigFromConfig(a.cfg.Backtest)
			if err != nil {
				return err
			}
			src, err := a.dataSource(source)
			if err != nil {
				return err
			}

			grid := strategyGrid(a.cfg.Strategy, lookbacks, ratios)
			results, err := backtest.Sweep(cmd.Context(), a.log, runCfg, src, grid, concurrency)
			if err != nil {
				return err
			}
			printSweep(cmd.OutOrStdout(), results)

			if !save {
				return nil
			}
			runs := store.NewRunStore(a.db, a.log)
			for _, r := range results {
				if r.Err != nil {
					continue
				}
				if err := runs.SaveReport(cmd.Context(), r.Report); err != nil {
					a.log.Error("Failed to save sweep run", zap.String("run_id", r.Report.RunID), zap.Error(err))
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&lookbacks, "lookbacks", nil, "lookback periods to try; defaults to strategy.lookback_period")
	cmd.Flags().Float64SliceVar(&ratios, "ratios", nil, "selection ratios to try; defaults to strategy.selection_ratio")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "maximum number of runs at the same time")
	cmd.Flags().StringVar(&source, "source", "", "data source (store, tushare); defaults to backtest.data_source")
	cmd.Flags().BoolVar(&save, "save", false, "store every successful run in the database")
	return cmd
}

// strategyGrid expands base into one momentum configuration per lookback and ratio pair.
func strategyGrid(base config.Strategy, lookbacks []int, ratios []float64) []config.Strategy {
	if len(lookbacks) == 0 {
		lookbacks = []int{base.LookbackPeriod}
	}
	if len(ratios) == 0 {
		ratios = []float64{base.SelectionRatio}
	}

	grid := make([]config.Strategy, 0, len(lookbacks)*len(ratios))
	for _, lb := range lookbacks {
		for _, r := range ratios {
			sc := base
			sc.Name = backtest.StrategyMomentum
			sc.LookbackPeriod = lb
			sc.SelectionRatio = r
			grid = append(grid, sc)
		}
	}
	return grid
}
