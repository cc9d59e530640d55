package backtest

import (
	"math"
	"time"
)

const (
	tradingDaysPerYear = 252

	// minStdDev treats float noise around constant returns as zero volatility.
	minStdDev = 1e-12
)

// Names of metrics that can be degenerate; they are reported as 0 and listed
// in PerformanceReport.UndefinedMetrics.
const (
	MetricAnnualReturn = "annual_return"
	MetricSharpeRatio  = "sharpe_ratio"
	MetricWinRate      = "win_rate"
)

// DailySnapshot is the portfolio valuation recorded for one simulated date.
type DailySnapshot struct {
	Date           time.Time `json:"date"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	TotalValue     float64   `json:"total_value"`
}

// PerformanceReport summarizes a finished run.
type PerformanceReport struct {
	RunID            string          `json:"run_id"`
	Strategy         string          `json:"strategy"`
	Symbols          []string        `json:"symbols"`
	StartDate        time.Time       `json:"start_date"`
	EndDate          time.Time       `json:"end_date"`
	InitialCapital   float64         `json:"initial_capital"`
	FinalValue       float64         `json:"final_value"`
	TotalReturn      float64         `json:"total_return"`
	AnnualReturn     float64         `json:"annual_return"`
	SharpeRatio      float64         `json:"sharpe_ratio"`
	MaxDrawdown      float64         `json:"max_drawdown"`
	WinRate          float64         `json:"win_rate"`
	TotalTrades      int             `json:"total_trades"`
	Trades           []Trade         `json:"trades"`
	DailyStats       []DailySnapshot `json:"daily_stats"`
	PositionsHistory map[string]int  `json:"positions_history"`
	UndefinedMetrics []string        `json:"undefined_metrics,omitempty"`
}

// Undefined reports whether metric was degenerate for this run.
func (r *PerformanceReport) Undefined(metric string) bool {
	for _, m := range r.UndefinedMetrics {
		if m == metric {
			return true
		}
	}
	return false
}

// CalculateMetrics reduces the snapshot sequence and trade log of a run.
// riskFreeRate is annual. Degenerate metrics are reported as 0.
func CalculateMetrics(snapshots []DailySnapshot, trades []Trade, initialCapital, riskFreeRate float64) PerformanceReport {
	report := PerformanceReport{
		InitialCapital:   initialCapital,
		FinalValue:       initialCapital,
		TotalTrades:      len(trades),
		Trades:           trades,
		DailyStats:       snapshots,
		PositionsHistory: positionsHistory(trades),
	}

	if len(snapshots) > 0 && initialCapital > 0 {
		report.FinalValue = snapshots[len(snapshots)-1].TotalValue
		report.TotalReturn = finite((report.FinalValue - initialCapital) / initialCapital)
	}

	days := elapsedDays(snapshots)
	if days > 0 && 1+report.TotalReturn > 0 {
		report.AnnualReturn = finite(math.Pow(1+report.TotalReturn, 365/days) - 1)
	} else {
		report.UndefinedMetrics = append(report.UndefinedMetrics, MetricAnnualReturn)
	}

	if sharpe, ok := sharpeRatio(DailyReturns(snapshots), riskFreeRate); ok {
		report.SharpeRatio = sharpe
	} else {
		report.UndefinedMetrics = append(report.UndefinedMetrics, MetricSharpeRatio)
	}

	report.MaxDrawdown = MaxDrawdown(CumulativeReturns(snapshots))

	if winRate, ok := winRate(trades); ok {
		report.WinRate = winRate
	} else {
		report.UndefinedMetrics = append(report.UndefinedMetrics, MetricWinRate)
	}

	return report
}

// DailyReturns is the percentage change of total value between consecutive
// snapshots. The first snapshot has no return, so the result is one shorter.
func DailyReturns(snapshots []DailySnapshot) []float64 {
	if len(snapshots) < 2 {
		return nil
	}
	out := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].TotalValue
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, finite(snapshots[i].TotalValue/prev-1))
	}
	return out
}

// CumulativeReturns is the running product of (1 + daily return), starting at
// 1.0 on the first snapshot.
func CumulativeReturns(snapshots []DailySnapshot) []float64 {
	if len(snapshots) == 0 {
		return nil
	}
	out := make([]float64, 1, len(snapshots))
	out[0] = 1
	for i, r := range DailyReturns(snapshots) {
		out = append(out, out[i]*(1+r))
	}
	return out
}

// MaxDrawdown is the largest peak-to-trough decline of a cumulative return
// series, as a fraction of the peak.
func MaxDrawdown(cumulative []float64) float64 {
	var peak, maxDD float64
	for i, c := range cumulative {
		if i == 0 || c > peak {
			peak = c
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - c) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return finite(maxDD)
}

func elapsedDays(snapshots []DailySnapshot) float64 {
	if len(snapshots) < 2 {
		return 0
	}
	first := NormalizeDate(snapshots[0].Date)
	last := NormalizeDate(snapshots[len(snapshots)-1].Date)
	return math.Round(last.Sub(first).Hours() / 24)
}

func sharpeRatio(returns []float64, riskFreeRate float64) (float64, bool) {
	if len(returns) < 2 {
		return 0, false
	}
	dailyRF := riskFreeRate / tradingDaysPerYear

	var mean float64
	for _, r := range returns {
		mean += r - dailyRF
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - dailyRF - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(returns)-1))
	if math.IsNaN(std) || std < minStdDev {
		return 0, false
	}
	return finite(math.Sqrt(tradingDaysPerYear) * mean / std), true
}

func winRate(trades []Trade) (float64, bool) {
	var sells, wins int
	for _, t := range trades {
		if t.Direction != DirectionSell {
			continue
		}
		sells++
		if t.Profitable() {
			wins++
		}
	}
	if sells == 0 {
		return 0, false
	}
	return float64(wins) / float64(sells), true
}

// positionsHistory nets the traded quantity per symbol, which leaves the
// positions held at the end of the run.
func positionsHistory(trades []Trade) map[string]int {
	out := make(map[string]int)
	for _, t := range trades {
		switch t.Direction {
		case DirectionBuy:
			out[t.Symbol] += t.Quantity
		case DirectionSell:
			out[t.Symbol] -= t.Quantity
		}
	}
	for s, q := range out {
		if q == 0 {
			delete(out, s)
		}
	}
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
