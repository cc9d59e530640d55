package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrDataUnavailable is returned when none of the requested symbols yields any usable bar.
var ErrDataUnavailable = errors.New("no market data available")

// ErrNoPrice is returned by a PriceSource that has no price for a symbol.
var ErrNoPrice = errors.New("no price available")

// Bar is one daily OHLCV observation for a symbol.
type Bar struct {
	Date   time.Time `json:"date"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Amount float64   `json:"amount"`
}

// PriceSource looks up the most recent known price of a symbol.
type PriceSource interface {
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
}

// DataSource supplies daily bars for a symbol and date range, inclusive on both ends.
// An empty slice means the source has no coverage for the range.
type DataSource interface {
	PriceSource
	GetDailyData(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// dateLayouts are the date representations accepted from data sources.
var dateLayouts = []string{
	"20060102",
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// NormalizeDate reduces t to its calendar date at midnight UTC. The calendar
// date is taken in t's own location, so a bar stamped 2023-01-03 00:00 +08:00
// stays on 2023-01-03.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses any of the supported date layouts into a normalized date.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NormalizeDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// DayBars holds the bars of every symbol trading on one date, sorted by symbol.
type DayBars struct {
	Date time.Time
	Bars []Bar
}

// Get returns the bar of symbol on this date.
func (d DayBars) Get(symbol string) (Bar, bool) {
	i := sort.Search(len(d.Bars), func(i int) bool { return d.Bars[i].Symbol >= symbol })
	if i < len(d.Bars) && d.Bars[i].Symbol == symbol {
		return d.Bars[i], true
	}
	return Bar{}, false
}

// Close returns the closing price of symbol on this date.
func (d DayBars) Close(symbol string) (float64, bool) {
	b, ok := d.Get(symbol)
	return b.Close, ok
}

// Symbols lists the symbols trading on this date.
func (d DayBars) Symbols() []string {
	out := make([]string, len(d.Bars))
	for i, b := range d.Bars {
		out[i] = b.Symbol
	}
	return out
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
