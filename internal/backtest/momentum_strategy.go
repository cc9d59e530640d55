package backtest

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// MomentumParams configures MomentumStrategy.
type MomentumParams struct {
	LookbackPeriod int
	SelectionRatio float64
	PositionSize   float64
	StopLoss       float64
}

// MomentumStrategy buys the symbols with the strongest positive trailing
// returns and liquidates held symbols whose momentum falls below a stop-loss.
type MomentumStrategy struct {
	params  MomentumParams
	factors map[string]map[time.Time]factorPoint
}

// NewMomentumStrategy validates params and creates the strategy.
func NewMomentumStrategy(params MomentumParams) (*MomentumStrategy, error) {
	if params.LookbackPeriod < 1 {
		return nil, fmt.Errorf("lookback period must be positive, got %d", params.LookbackPeriod)
	}
	if params.SelectionRatio < 0 || params.SelectionRatio > 1 {
		return nil, fmt.Errorf("selection ratio must be in [0, 1], got %v", params.SelectionRatio)
	}
	if params.PositionSize <= 0 || params.PositionSize > 1 {
		return nil, fmt.Errorf("position size must be in (0, 1], got %v", params.PositionSize)
	}
	return &MomentumStrategy{params: params}, nil
}

func (s *MomentumStrategy) Name() string {
	return StrategyMomentum
}

// Initialize preloads every symbol's history and computes its momentum series.
func (s *MomentumStrategy) Initialize(ctx StrategyContext) error {
	s.factors = make(map[string]map[time.Time]factorPoint, len(ctx.Symbols))
	for _, symbol := range ctx.Symbols {
		raw, err := ctx.Source.GetDailyData(ctx.Ctx, symbol, ctx.StartDate, ctx.EndDate)
		if err != nil {
			return fmt.Errorf("could not load history for %s: %w", symbol, err)
		}
		series := CleanSeries(symbol, raw, ctx.Logger)
		if len(series) == 0 {
			ctx.Logger.Warn("No history for symbol, it will not be traded", zap.String("symbol", symbol))
			continue
		}
		s.factors[symbol] = factorTable(series, s.params.LookbackPeriod)
	}

	ctx.Logger.Info("MomentumStrategy initialized",
		zap.Int("symbols", len(s.factors)),
		zap.Int("lookback_period", s.params.LookbackPeriod),
		zap.Float64("selection_ratio", s.params.SelectionRatio))
	return nil
}

// OnBar ranks the current momentum values and executes the resulting signals.
func (s *MomentumStrategy) OnBar(ctx StrategyContext, day DayBars) error {
	l := ctx.Logger.With(zap.Time("date", day.Date))

	current := s.currentFactors(day.Date)
	if len(current) == 0 {
		l.Debug("No momentum values for this date")
		return nil
	}

	signals := generateSignals(rankDescending(current), s.params.SelectionRatio, s.params.StopLoss,
		func(symbol string) bool { return ctx.Ledger.Position(symbol) > 0 })

	for _, sig := range signals {
		price := s.factors[sig.Symbol][day.Date].Close
		switch sig.Signal {
		case SignalBuy:
			if ctx.Ledger.Position(sig.Symbol) > 0 {
				continue
			}
			quantity := int(ctx.Ledger.Cash() * s.params.PositionSize / price)
			if quantity <= 0 {
				l.Debug("Position size rounds to zero shares", zap.String("symbol", sig.Symbol))
				continue
			}
			if ctx.Ledger.Buy(sig.Symbol, quantity, price) {
				l.Info("Bought", zap.String("symbol", sig.Symbol), zap.Int("quantity", quantity),
					zap.Float64("price", price), zap.Float64("momentum", sig.Momentum))
			} else {
				l.Info("Buy skipped, insufficient funds", zap.String("symbol", sig.Symbol))
			}
		case SignalSell:
			quantity := ctx.Ledger.Position(sig.Symbol)
			if ctx.Ledger.Sell(sig.Symbol, quantity, price) {
				l.Info("Sold", zap.String("symbol", sig.Symbol), zap.Int("quantity", quantity),
					zap.Float64("price", price), zap.Float64("momentum", sig.Momentum))
			}
		}
	}
	return nil
}

// currentFactors collects the defined momentum values on date.
func (s *MomentumStrategy) currentFactors(date time.Time) map[string]float64 {
	out := make(map[string]float64, len(s.factors))
	for symbol, table := range s.factors {
		p, ok := table[date]
		if !ok || math.IsNaN(p.Momentum) {
			continue
		}
		out[symbol] = p.Momentum
	}
	return out
}
