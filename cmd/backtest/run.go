package main

import (
	"fmt"

	"factor-backtest-go/internal/backtest"
	"factor-backtest-go/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		strategyName string
		source       string
		noSave       bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backtest with the configured strategy",
		Example: `  backtest run
  backtest run --strategy buy_and_hold --source tushare --no-save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCfg, err := backtest.RunConfigFromConfig(a.cfg.Backtest)
			if err != nil {
				return err
			}
			src, err := a.dataSource(source)
			if err != nil {
				return err
			}
			strategyCfg := a.cfg.Strategy
			if strategyName != "" {
				strategyCfg.Name = strategyName
			}
			strategy, err := backtest.NewStrategy(strategyCfg)
			if err != nil {
				return err
			}

			engine := backtest.NewEngine(a.log, runCfg, src, strategy)
			report, err := engine.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("backtest failed: %w", err)
			}
			printSummary(cmd.OutOrStdout(), report)

			if noSave {
				return nil
			}
			if err := store.NewRunStore(a.db, a.log).SaveReport(cmd.Context(), report); err != nil {
				a.log.Error("Failed to save backtest run", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&strategyName, "strategy", "s", "", "strategy name (momentum, buy_and_hold); defaults to strategy.name")
	cmd.Flags().StringVar(&source, "source", "", "data source (store, tushare); defaults to backtest.data_source")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run in the database")
	return cmd
}
