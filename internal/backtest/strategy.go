package backtest

import (
	"context"
	"fmt"
	"time"

	"factor-backtest-go/internal/config"
	"go.uber.org/zap"
)

// StrategyContext provides the strategy with access to the core components of a run.
type StrategyContext struct {
	Ctx       context.Context
	Logger    *zap.Logger
	Ledger    *Ledger
	Source    DataSource
	Symbols   []string
	StartDate time.Time
	EndDate   time.Time
	// Now is the simulated date being processed.
	Now time.Time
}

// Strategy defines the interface for a trading strategy.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Initialize gives the strategy a chance to preload data before the first bar.
	Initialize(ctx StrategyContext) error

	// OnBar is called once per simulated date with the bars trading on it.
	OnBar(ctx StrategyContext, day DayBars) error
}

// Strategy names accepted by NewStrategy.
const (
	StrategyMomentum   = "momentum"
	StrategyBuyAndHold = "buy_and_hold"
)

// NewStrategy builds a fresh strategy instance from its configuration.
func NewStrategy(cfg config.Strategy) (Strategy, error) {
	switch cfg.Name {
	case StrategyMomentum, "":
		s, err := NewMomentumStrategy(MomentumParams{
			LookbackPeriod: cfg.LookbackPeriod,
			SelectionRatio: cfg.SelectionRatio,
			PositionSize:   cfg.PositionSize,
			StopLoss:       cfg.StopLoss,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case StrategyBuyAndHold:
		return &BuyAndHoldStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Name)
	}
}
