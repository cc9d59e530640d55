package main

import (
	"fmt"

	"factor-backtest-go/internal/store"
	"github.com/spf13/cobra"
)

func newQualityCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "quality",
		Short: "Check coverage and validity of the stored bars over the backtest range",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := a.cfg.Backtest.StartTime()
			if err != nil {
				return err
			}
			end, err := a.cfg.Backtest.EndTime()
			if err != nil {
				return err
			}

			report, err := store.NewBarStore(a.db, a.log).QualityReport(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			printQuality(cmd.OutOrStdout(), report)

			for _, q := range report.Symbols {
				if !q.Clean() {
					return fmt.Errorf("stored bars of %s contain invalid values", q.Symbol)
				}
			}
			return nil
		},
	}
}
