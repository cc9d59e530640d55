package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// CleanSeries prepares one symbol's raw series for simulation: every bar is
// tagged with symbol, dates are normalized, bars without a usable close are
// dropped, and only the first bar of a duplicated date is kept. The result is
// sorted by date ascending.
func CleanSeries(symbol string, raw []Bar, logger *zap.Logger) []Bar {
	series := make([]Bar, 0, len(raw))
	for _, b := range raw {
		b.Symbol = symbol
		b.Date = NormalizeDate(b.Date)
		if !validPrice(b.Close) {
			logger.Debug("Dropping bar without a usable close",
				zap.String("symbol", symbol),
				zap.Time("date", b.Date),
				zap.Float64("close", b.Close))
			continue
		}
		series = append(series, b)
	}

	sort.SliceStable(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })

	out := series[:0]
	for i, b := range series {
		if i > 0 && b.Date.Equal(out[len(out)-1].Date) {
			logger.Warn("Dropping duplicate bar",
				zap.String("symbol", symbol),
				zap.Time("date", b.Date))
			continue
		}
		out = append(out, b)
	}
	return out
}

// PrepareData fetches every symbol's series, merges them and groups the bars by
// date in ascending order. A fetch error aborts preparation; a symbol without
// data is skipped. ErrDataUnavailable is returned when nothing is left.
func PrepareData(ctx context.Context, source DataSource, symbols []string, start, end time.Time, logger *zap.Logger) ([]DayBars, error) {
	var all []Bar
	for _, symbol := range symbols {
		raw, err := source.GetDailyData(ctx, symbol, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch daily data for %s: %w", symbol, err)
		}
		series := CleanSeries(symbol, raw, logger)
		if len(series) == 0 {
			logger.Warn("No data for symbol, skipping", zap.String("symbol", symbol))
			continue
		}
		logger.Debug("Fetched daily data", zap.String("symbol", symbol), zap.Int("bars", len(series)))
		all = append(all, series...)
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("%w: symbols %v between %s and %s", ErrDataUnavailable, symbols,
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.Before(all[j].Date)
		}
		return all[i].Symbol < all[j].Symbol
	})

	var days []DayBars
	for _, b := range all {
		if n := len(days); n > 0 && days[n-1].Date.Equal(b.Date) {
			days[n-1].Bars = append(days[n-1].Bars, b)
			continue
		}
		days = append(days, DayBars{Date: b.Date, Bars: []Bar{b}})
	}

	logger.Info("Prepared backtest data",
		zap.Int("records", len(all)),
		zap.Int("trade_dates", len(days)))
	return days, nil
}
