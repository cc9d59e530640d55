package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"factor-backtest-go/internal/backtest"
	"factor-backtest-go/internal/store"
)

const undefinedMark = "n/a"

// printSummary writes the console summary of a finished run.
func printSummary(w io.Writer, r *backtest.PerformanceReport) {
	fmt.Fprintln(w, "=== Backtest Summary ===")
	fmt.Fprintf(w, "Run:            %s\n", r.RunID)
	fmt.Fprintf(w, "Strategy:       %s\n", r.Strategy)
	fmt.Fprintf(w, "Period:         %s - %s\n", r.StartDate.Format(time.DateOnly), r.EndDate.Format(time.DateOnly))
	fmt.Fprintf(w, "Initial:        %.2f\n", r.InitialCapital)
	fmt.Fprintf(w, "Final:          %.2f\n", r.FinalValue)
	fmt.Fprintf(w, "Total return:   %s\n", percent(r.TotalReturn))
	fmt.Fprintf(w, "Annual return:  %s\n", metric(r, backtest.MetricAnnualReturn, percent(r.AnnualReturn)))
	fmt.Fprintf(w, "Sharpe ratio:   %s\n", metric(r, backtest.MetricSharpeRatio, fmt.Sprintf("%.2f", r.SharpeRatio)))
	fmt.Fprintf(w, "Max drawdown:   %s\n", percent(r.MaxDrawdown))
	fmt.Fprintf(w, "Win rate:       %s\n", metric(r, backtest.MetricWinRate, percent(r.WinRate)))
	fmt.Fprintf(w, "Trades:         %d\n", r.TotalTrades)

	if len(r.PositionsHistory) == 0 {
		return
	}
	symbols := make([]string, 0, len(r.PositionsHistory))
	for s := range r.PositionsHistory {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	fmt.Fprintln(w, "Open positions:")
	for _, s := range symbols {
		fmt.Fprintf(w, "  %-12s %d\n", s, r.PositionsHistory[s])
	}
}

// printSweep writes one line per sweep result.
func printSweep(w io.Writer, results []backtest.SweepResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LOOKBACK\tRATIO\tTOTAL\tSHARPE\tMAX DD\tTRADES\tRUN")
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(tw, "%d\t%.2f\terror: %v\n", res.Strategy.LookbackPeriod, res.Strategy.SelectionRatio, res.Err)
			continue
		}
		r := res.Report
		fmt.Fprintf(tw, "%d\t%.2f\t%s\t%s\t%s\t%d\t%s\n",
			res.Strategy.LookbackPeriod,
			res.Strategy.SelectionRatio,
			percent(r.TotalReturn),
			metric(r, backtest.MetricSharpeRatio, fmt.Sprintf("%.2f", r.SharpeRatio)),
			percent(r.MaxDrawdown),
			r.TotalTrades,
			r.RunID)
	}
	tw.Flush()
}

// printQuality writes the data quality table of the stored bars.
func printQuality(w io.Writer, q *store.QualityReport) {
	fmt.Fprintf(w, "Trading days between %s and %s: %d\n",
		q.Start.Format(time.DateOnly), q.End.Format(time.DateOnly), q.TradingDays)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tDAYS\tCOVERAGE\tBAD OPEN\tBAD CLOSE\tBAD VOLUME")
	for _, s := range q.Symbols {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%d\n",
			s.Symbol, s.Days, percent(s.Coverage), s.InvalidOpen, s.InvalidClose, s.InvalidVolume)
	}
	tw.Flush()
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func metric(r *backtest.PerformanceReport, name, formatted string) string {
	if r.Undefined(name) {
		return undefinedMark
	}
	return formatted
}
