package main

import (
	"fmt"
	"time"

	"factor-backtest-go/internal/backtest"
	"factor-backtest-go/internal/store"
	"factor-backtest-go/internal/tushare"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSyncCmd(a *app) *cobra.Command {
	var until string
	cmd := &cobra.Command{
		Use:   "sync [symbol...]",
		Short: "Download new daily bars from Tushare into the local store",
		Long: `Sync fetches, for every symbol, only the bars after the last stored date
(everything since 1990-01-01 for a symbol without stored bars) and upserts them.
Without arguments the symbols of backtest.symbols are synced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols := args
			if len(symbols) == 0 {
				symbols = a.cfg.Backtest.Symbols
			}
			if len(symbols) == 0 {
				return fmt.Errorf("no symbols to sync")
			}

			end := time.Now()
			if until != "" {
				t, err := backtest.ParseDate(until)
				if err != nil {
					return err
				}
				end = t
			}

			client := tushare.NewClient(&a.cfg.Tushare, a.log.Named("tushare"))
			bars := store.NewBarStore(a.db, a.log)
			written, err := bars.Sync(cmd.Context(), client, symbols, end)

			out := cmd.OutOrStdout()
			for _, symbol := range symbols {
				if n, ok := written[symbol]; ok {
					fmt.Fprintf(out, "%-12s %6d bars\n", symbol, n)
				} else {
					fmt.Fprintf(out, "%-12s failed\n", symbol)
				}
			}
			a.log.Info("Sync finished", zap.Int64("api_calls", client.Calls()))
			return err
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "last date to fetch (YYYYMMDD); defaults to today")
	return cmd
}
