package backtest

import (
	"go.uber.org/zap"
)

// BuyAndHoldStrategy splits the starting cash equally across the symbols
// trading on the first date and holds them to the end.
type BuyAndHoldStrategy struct {
	invested bool
}

func (s *BuyAndHoldStrategy) Name() string {
	return StrategyBuyAndHold
}

func (s *BuyAndHoldStrategy) Initialize(ctx StrategyContext) error {
	s.invested = false
	ctx.Logger.Info("BuyAndHoldStrategy initialized", zap.Strings("symbols", ctx.Symbols))
	return nil
}

func (s *BuyAndHoldStrategy) OnBar(ctx StrategyContext, day DayBars) error {
	if s.invested || len(day.Bars) == 0 {
		return nil
	}
	s.invested = true

	budget := ctx.Ledger.Cash() / float64(len(day.Bars))
	for _, bar := range day.Bars {
		quantity := int(budget / bar.Close)
		if quantity <= 0 {
			ctx.Logger.Warn("Budget too small for a single share", zap.String("symbol", bar.Symbol),
				zap.Float64("budget", budget), zap.Float64("price", bar.Close))
			continue
		}
		if !ctx.Ledger.Buy(bar.Symbol, quantity, bar.Close) {
			ctx.Logger.Warn("Initial buy rejected", zap.String("symbol", bar.Symbol))
		}
	}
	return nil
}
