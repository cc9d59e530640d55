package backtest

import (
	"math"
	"sort"
	"time"
)

// Signal is the trading decision for one symbol on one date.
type Signal int

const (
	SignalHold Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "hold"
	}
}

// factorPoint is a factor value observed on a date.
type factorPoint struct {
	Close    float64
	Momentum float64
}

// PctReturns returns the close-to-close percentage change of a series. The
// first element is NaN because it has no previous close.
func PctReturns(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		if i == 0 || closes[i-1] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = closes[i]/closes[i-1] - 1
	}
	return out
}

// RollingSum sums each trailing window of size window, skipping NaN values.
// A window with at least one defined value yields a sum; a window with none
// yields NaN.
func RollingSum(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	out := make([]float64, len(values))
	for i := range values {
		sum, n := 0.0, 0
		for j := max(0, i-window+1); j <= i; j++ {
			if !math.IsNaN(values[j]) {
				sum += values[j]
				n++
			}
		}
		if n == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum
	}
	return out
}

// Momentum is the rolling sum of daily returns over lookback periods.
func Momentum(closes []float64, lookback int) []float64 {
	return RollingSum(PctReturns(closes), lookback)
}

// factorTable computes the momentum series of one cleaned bar series keyed by date.
func factorTable(series []Bar, lookback int) map[time.Time]factorPoint {
	closes := make([]float64, len(series))
	for i, b := range series {
		closes[i] = b.Close
	}
	momentum := Momentum(closes, lookback)

	out := make(map[time.Time]factorPoint, len(series))
	for i, b := range series {
		out[b.Date] = factorPoint{Close: b.Close, Momentum: momentum[i]}
	}
	return out
}

// rankedFactor is a symbol with its factor value on the current date.
type rankedFactor struct {
	Symbol string
	Value  float64
}

// rankDescending orders factors from the strongest to the weakest. Ties are
// broken by symbol so the order is deterministic.
func rankDescending(factors map[string]float64) []rankedFactor {
	ranked := make([]rankedFactor, 0, len(factors))
	for s, v := range factors {
		ranked = append(ranked, rankedFactor{Symbol: s, Value: v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Value != ranked[j].Value {
			return ranked[i].Value > ranked[j].Value
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	return ranked
}

// selectionSize is the number of symbols selected from n ranked candidates.
func selectionSize(n int, ratio float64) int {
	return max(1, int(float64(n)*ratio))
}

// generateSignals walks the ranking from the top: up to selectionSize symbols
// with positive momentum become buys, and any other held symbol whose
// momentum is below stopLoss becomes a sell.
func generateSignals(ranked []rankedFactor, ratio, stopLoss float64, held func(string) bool) []rankedSignal {
	limit := selectionSize(len(ranked), ratio)
	var out []rankedSignal
	buys := 0
	for _, r := range ranked {
		switch {
		case buys < limit && r.Value > 0:
			buys++
			out = append(out, rankedSignal{Symbol: r.Symbol, Momentum: r.Value, Signal: SignalBuy})
		case held(r.Symbol) && r.Value < stopLoss:
			out = append(out, rankedSignal{Symbol: r.Symbol, Momentum: r.Value, Signal: SignalSell})
		}
	}
	return out
}

type rankedSignal struct {
	Symbol   string
	Momentum float64
	Signal   Signal
}
